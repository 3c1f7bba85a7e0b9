package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(sub *Subscriber) ([]EnrichmentEvent, bool) {
	var got []EnrichmentEvent
	for {
		select {
		case event, ok := <-sub.Events:
			if !ok {
				return got, true
			}
			got = append(got, event)
		default:
			return got, false
		}
	}
}

func TestPublishOnlyReachesMatchingURL(t *testing.T) {
	b := NewBroadcaster()
	watching := b.Subscribe("a", "https://youtu.be/abc")
	other := b.Subscribe("b", "https://youtu.be/xyz")

	b.Publish(EnrichmentEvent{URL: "https://youtu.be/abc", Status: "running"})

	require.Len(t, watching.Events, 1)
	assert.Equal(t, "running", (<-watching.Events).Status)
	assert.Empty(t, other.Events)
}

func TestTerminalEventClosesWatch(t *testing.T) {
	tests := []struct {
		name   string
		status string
	}{
		{name: "complete", status: StatusComplete},
		{name: "failed", status: StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBroadcaster()
			first := b.Subscribe("a", "u")
			second := b.Subscribe("b", "u")
			other := b.Subscribe("c", "v")

			b.Publish(EnrichmentEvent{URL: "u", Status: tt.status})

			for _, sub := range []*Subscriber{first, second} {
				got, closed := drain(sub)
				assert.True(t, closed, "watch %s should be closed", sub.ID)
				assert.Equal(t, []EnrichmentEvent{{URL: "u", Status: tt.status}}, got)
			}
			_, closed := drain(other)
			assert.False(t, closed)
			assert.Equal(t, 1, b.Subscribers())

			// Later events for the URL have nobody to reach
			b.Publish(EnrichmentEvent{URL: "u", Status: tt.status})
		})
	}
}

func TestNonTerminalEventKeepsWatchOpen(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe("a", "u")

	b.Publish(EnrichmentEvent{URL: "u", Status: "pending"})

	got, closed := drain(sub)
	assert.False(t, closed)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, b.Subscribers())
}

func TestPublishDropsWhenSubscriberIsFull(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe("a", "u")

	for i := 0; i < cap(sub.Events)+5; i++ {
		b.Publish(EnrichmentEvent{URL: "u", Status: "pending"})
	}

	assert.Len(t, sub.Events, cap(sub.Events))
}

func TestTerminalEventLandsOnFullSubscriber(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe("a", "u")
	for i := 0; i < cap(sub.Events); i++ {
		b.Publish(EnrichmentEvent{URL: "u", Status: "pending"})
	}

	b.Publish(EnrichmentEvent{URL: "u", Status: StatusFailed, Error: "metadata unavailable"})

	got, closed := drain(sub)
	require.True(t, closed)
	require.Len(t, got, cap(sub.Events))
	assert.Equal(t, EnrichmentEvent{URL: "u", Status: StatusFailed, Error: "metadata unavailable"}, got[len(got)-1])
	assert.Zero(t, b.Subscribers())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe("a", "u")
	assert.Equal(t, 1, b.Subscribers())

	b.Unsubscribe("a")
	b.Unsubscribe("a")

	_, open := <-sub.Events
	assert.False(t, open)
	assert.Zero(t, b.Subscribers())
}

func TestUnsubscribeAfterTerminalEvent(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe("a", "u")
	b.Publish(EnrichmentEvent{URL: "u", Status: StatusComplete})

	assert.NotPanics(t, func() { b.Unsubscribe(sub.ID) })
	assert.Zero(t, b.Subscribers())
}

func TestSubscribeReplacesExistingID(t *testing.T) {
	b := NewBroadcaster()
	old := b.Subscribe("a", "u")
	current := b.Subscribe("a", "v")

	_, closed := drain(old)
	assert.True(t, closed)
	assert.Equal(t, 1, b.Subscribers())

	b.Publish(EnrichmentEvent{URL: "v", Status: "pending"})
	assert.Len(t, current.Events, 1)
}

func TestMarshalEvent(t *testing.T) {
	msg, err := MarshalEvent(EnrichmentEvent{URL: "u", Status: "failed", Error: "metadata unavailable"})
	require.NoError(t, err)
	assert.Equal(t, "event: enrichment\ndata: {\"url\":\"u\",\"status\":\"failed\",\"error\":\"metadata unavailable\"}\n\n", msg)
}
