package handlers

import (
	"context"
	"net/http"
	"time"
)

const readinessTimeout = 2 * time.Second

// Pinger is a backing service the readiness check can reach
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueDepth reports how many enrichment tasks are waiting for a worker
type QueueDepth interface {
	Len() int
}

type readinessCheck struct {
	name     string
	pinger   Pinger
	required bool
}

// DependencyHealth is the state of one backing service
type DependencyHealth struct {
	Name     string `json:"name"`
	Ready    bool   `json:"ready"`
	Required bool   `json:"required"`
	Detail   string `json:"detail,omitempty"`
}

// ReadinessResponse is the body of GET /ready
type ReadinessResponse struct {
	Status       string             `json:"status"`
	Dependencies []DependencyHealth `json:"dependencies"`
	QueueDepth   *int               `json:"queue_depth,omitempty"`
	EventStreams *int               `json:"event_streams,omitempty"`
}

// AddReadinessCheck registers a dependency for GET /ready. Only required
// dependencies turn the service unavailable; an optional one that fails
// reports "degraded".
func (h *Handler) AddReadinessCheck(name string, p Pinger, required bool) {
	h.checks = append(h.checks, readinessCheck{name: name, pinger: p, required: required})
}

// SetQueue exposes the enrichment backlog on GET /ready
func (h *Handler) SetQueue(q QueueDepth) {
	h.queue = q
}

// Ready reports whether the service can take submissions
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	resp := ReadinessResponse{Status: "ready", Dependencies: []DependencyHealth{}}
	status := http.StatusOK

	for _, check := range h.checks {
		dep := DependencyHealth{Name: check.name, Ready: true, Required: check.required}
		if err := check.pinger.Ping(ctx); err != nil {
			dep.Ready = false
			dep.Detail = err.Error()
			if check.required {
				resp.Status = "unavailable"
				status = http.StatusServiceUnavailable
			} else if resp.Status == "ready" {
				resp.Status = "degraded"
			}
		}
		resp.Dependencies = append(resp.Dependencies, dep)
	}

	if h.queue != nil {
		depth := h.queue.Len()
		resp.QueueDepth = &depth
	}
	if h.events != nil {
		streams := h.events.Subscribers()
		resp.EventStreams = &streams
	}

	respondJSON(w, resp, status)
}
