package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nomnom/receiver/internal/ingest"
	"github.com/nomnom/receiver/internal/metrics"
	"github.com/nomnom/receiver/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Task type constants
const (
	TypeEnrichYouTube = "enrich:youtube"
)

// EnrichYouTubePayload represents the payload for a YouTube enrichment task
type EnrichYouTubePayload struct {
	URL     string `json:"url"`
	VideoID string `json:"video_id"`
	// Tracing and timing fields
	TraceID    string `json:"trace_id,omitempty"`
	SpanID     string `json:"span_id,omitempty"`
	EnqueuedAt int64  `json:"enqueued_at"` // Unix timestamp in nanoseconds
}

// Enqueuer accepts tasks for background execution
type Enqueuer interface {
	Enqueue(t *Task) error
}

// JobFailer records a dispatch failure against the submission's job
type JobFailer interface {
	UpdateSubmissionContent(ctx context.Context, url string, update storage.ContentUpdate) error
	UpdateEnrichmentJobStatus(ctx context.Context, url string, status storage.JobStatus, failureReason string) (bool, error)
}

// Client builds task payloads and hands them to the dispatcher
type Client struct {
	enqueuer Enqueuer
	store    JobFailer
}

// NewClient creates a new queue client
func NewClient(enqueuer Enqueuer, store JobFailer) *Client {
	return &Client{enqueuer: enqueuer, store: store}
}

// EnqueueEnrichYouTube enqueues a YouTube enrichment task
func (c *Client) EnqueueEnrichYouTube(ctx context.Context, url, videoID string) error {
	payload := EnrichYouTubePayload{
		URL:        url,
		VideoID:    videoID,
		EnqueuedAt: time.Now().UnixNano(),
	}

	// Add tracing context if available
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		spanCtx := span.SpanContext()
		payload.TraceID = spanCtx.TraceID().String()
		payload.SpanID = spanCtx.SpanID().String()

		span.AddEvent("task_enqueued", trace.WithAttributes(
			attribute.String("task.type", TypeEnrichYouTube),
			attribute.String("url", url),
			attribute.String("video_id", videoID),
			attribute.Int64("enqueued_at", payload.EnqueuedAt),
		))
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	if err := c.enqueuer.Enqueue(NewTask(TypeEnrichYouTube, payloadBytes)); err != nil {
		metrics.IncDispatch(TypeEnrichYouTube, "rejected")
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	metrics.IncDispatch(TypeEnrichYouTube, "enqueued")
	return nil
}

// Dispatch enqueues the enrichment requested by ingestion. When the task
// cannot be enqueued the job and submission are marked failed, so a
// rejected dispatch never leaves a job pending.
func (c *Client) Dispatch(ctx context.Context, req *ingest.EnrichmentRequest) {
	if req == nil {
		return
	}

	err := c.EnqueueEnrichYouTube(ctx, req.URL, req.VideoID)
	if err == nil {
		return
	}

	slog.Error("failed to dispatch enrichment", "url", req.URL, "video_id", req.VideoID, "error", err)
	reason := fmt.Sprintf("dispatch failed: %v", err)
	if err := c.store.UpdateSubmissionContent(ctx, req.URL, storage.ContentUpdate{
		EnrichmentStatus: storage.EnrichmentFailed,
		EnrichmentError:  &reason,
	}); err != nil {
		slog.Error("failed to mark submission failed", "url", req.URL, "error", err)
	}
	if _, err := c.store.UpdateEnrichmentJobStatus(ctx, req.URL, storage.JobFailed, reason); err != nil {
		slog.Error("failed to mark enrichment job failed", "url", req.URL, "error", err)
	}
}
