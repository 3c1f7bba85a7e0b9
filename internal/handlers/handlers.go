package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/nomnom/receiver/internal/events"
	"github.com/nomnom/receiver/internal/ingest"
	"github.com/nomnom/receiver/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const msgInternalError = "Internal server error"

// Ingester runs the synchronous submission pipeline
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// Dispatcher starts background enrichment after the response is sent
type Dispatcher interface {
	Dispatch(ctx context.Context, req *ingest.EnrichmentRequest)
}

// SubmissionReader loads stored submissions for inspection
type SubmissionReader interface {
	GetSubmission(ctx context.Context, url string) (*storage.Submission, error)
}

// Handler contains all HTTP handlers
type Handler struct {
	ingester    Ingester
	dispatcher  Dispatcher
	submissions SubmissionReader
	events      *events.Broadcaster
	checks      []readinessCheck
	queue       QueueDepth
}

// New creates a new Handler
func New(ingester Ingester, dispatcher Dispatcher, submissions SubmissionReader) *Handler {
	return &Handler{
		ingester:    ingester,
		dispatcher:  dispatcher,
		submissions: submissions,
	}
}

// SetEvents enables the enrichment event stream
func (h *Handler) SetEvents(b *events.Broadcaster) {
	h.events = b
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Routes builds the service router
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))

	r.Post("/", h.Submit)
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Get("/submissions", h.GetSubmission)
	if h.events != nil {
		r.Get("/submissions/events", h.StreamEvents)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, "Not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	return otelhttp.NewHandler(r, "nomnom.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Submit accepts one submission. Any enrichment is dispatched only after the
// response has been written and flushed.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.ingester.Ingest(r.Context(), req)
	if err != nil {
		slog.Error("ingestion failed", "url", req.URL, "error", err)
		respondError(w, msgInternalError, http.StatusInternalServerError)
		return
	}

	respondJSON(w, result, http.StatusOK)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if result.Enrichment != nil && h.dispatcher != nil {
		h.dispatcher.Dispatch(context.WithoutCancel(r.Context()), result.Enrichment)
	}
}

// GetSubmission returns the stored record for ?url=
func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		respondError(w, "url is required", http.StatusBadRequest)
		return
	}

	sub, err := h.submissions.GetSubmission(r.Context(), url)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, "Submission not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to load submission", "url", url, "error", err)
		respondError(w, msgInternalError, http.StatusInternalServerError)
		return
	}

	respondJSON(w, sub, http.StatusOK)
}

// StreamEvents streams enrichment events for ?url= as server-sent events.
// The broadcaster ends the stream after the final state; otherwise it runs
// until the client goes away.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		respondError(w, "url is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := h.events.Subscribe(uuid.NewString(), url)
	defer h.events.Unsubscribe(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			msg, err := events.MarshalEvent(event)
			if err != nil {
				slog.Error("failed to marshal event", "url", url, "error", err)
				return
			}
			fmt.Fprint(w, msg)
			flusher.Flush()
		}
	}
}

// Health check endpoint
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// recoverer turns handler panics into the generic 500 body
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.Error("panic in http handler",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", fmt.Sprint(rec),
					"stack", string(debug.Stack()))
				respondError(w, msgInternalError, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, ErrorResponse{Status: "error", Message: message}, status)
}
