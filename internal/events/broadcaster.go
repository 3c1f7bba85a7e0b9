package events

import (
	"encoding/json"
	"sync"
)

// Final enrichment states. Once one is published for a URL nothing else
// follows, so its watchers are closed.
const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

const subscriberBuffer = 10

// EnrichmentEvent reports a change in a submission's enrichment state
type EnrichmentEvent struct {
	URL    string `json:"url"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Terminal reports whether the event ends the enrichment for its URL
func (e EnrichmentEvent) Terminal() bool {
	return e.Status == StatusComplete || e.Status == StatusFailed
}

// Subscriber watches one submission URL. Events is closed after the
// terminal event has been delivered or on Unsubscribe.
type Subscriber struct {
	ID     string
	URL    string
	Events <-chan EnrichmentEvent

	events chan EnrichmentEvent
}

// Broadcaster fans enrichment events out to the watchers of each URL
type Broadcaster struct {
	mu    sync.Mutex
	byURL map[string]map[string]*Subscriber
	byID  map[string]*Subscriber
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		byURL: make(map[string]map[string]*Subscriber),
		byID:  make(map[string]*Subscriber),
	}
}

// Subscribe starts watching url under id
func (b *Broadcaster) Subscribe(id string, url string) *Subscriber {
	ch := make(chan EnrichmentEvent, subscriberBuffer)
	sub := &Subscriber{ID: id, URL: url, Events: ch, events: ch}

	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.byID[id]; ok {
		b.remove(old)
	}
	watchers, ok := b.byURL[url]
	if !ok {
		watchers = make(map[string]*Subscriber)
		b.byURL[url] = watchers
	}
	watchers[id] = sub
	b.byID[id] = sub
	return sub
}

// Unsubscribe stops a watch. It is a no-op once the watch has ended.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.byID[id]; ok {
		b.remove(sub)
	}
}

// Subscribers returns the number of open watches
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byID)
}

// Publish delivers event to everyone watching its URL. A full watcher
// misses intermediate events, but a terminal event always lands: it
// displaces the oldest buffered one if needed, then the watch is closed.
func (b *Broadcaster) Publish(event EnrichmentEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.byURL[event.URL] {
		if !event.Terminal() {
			select {
			case sub.events <- event:
			default:
			}
			continue
		}
		deliverFinal(sub.events, event)
		b.remove(sub)
	}
}

// remove closes sub and drops it from both indexes. Callers hold b.mu.
func (b *Broadcaster) remove(sub *Subscriber) {
	close(sub.events)
	delete(b.byID, sub.ID)
	if watchers, ok := b.byURL[sub.URL]; ok {
		delete(watchers, sub.ID)
		if len(watchers) == 0 {
			delete(b.byURL, sub.URL)
		}
	}
}

func deliverFinal(ch chan EnrichmentEvent, event EnrichmentEvent) {
	for {
		select {
		case ch <- event:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

// MarshalEvent formats an event for SSE
func MarshalEvent(event EnrichmentEvent) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return "event: enrichment\ndata: " + string(data) + "\n\n", nil
}
