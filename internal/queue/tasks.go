package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nomnom/receiver/internal/enrich"
	"github.com/nomnom/receiver/internal/events"
	"github.com/nomnom/receiver/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Enricher runs one enrichment attempt
type Enricher interface {
	Enrich(ctx context.Context, url, videoID string) enrich.Outcome
}

// ResultStore persists enrichment results
type ResultStore interface {
	UpdateSubmissionContent(ctx context.Context, url string, update storage.ContentUpdate) error
	UpdateEnrichmentJobStatus(ctx context.Context, url string, status storage.JobStatus, failureReason string) (bool, error)
}

// EventPublisher is notified once an enrichment result is stored
type EventPublisher interface {
	Publish(event events.EnrichmentEvent)
}

// Worker holds the task handlers run by the dispatcher
type Worker struct {
	storage ResultStore
	youtube Enricher
	events  EventPublisher
	logger  *slog.Logger
}

// NewWorker creates a worker and registers its handlers
func NewWorker(d *Dispatcher, store ResultStore, youtube Enricher) *Worker {
	w := &Worker{
		storage: store,
		youtube: youtube,
		logger:  slog.Default(),
	}
	w.registerHandlers(d)
	return w
}

// SetEvents enables completion notifications
func (w *Worker) SetEvents(p EventPublisher) {
	w.events = p
}

// registerHandlers registers all task handlers with the dispatcher
func (w *Worker) registerHandlers(d *Dispatcher) {
	d.HandleFunc(TypeEnrichYouTube, w.handleEnrichYouTube)
}

// startTaskSpan continues the trace recorded in the payload, if any
func startTaskSpan(ctx context.Context, taskType, traceIDHex, spanIDHex string, enqueuedAt int64) (context.Context, trace.Span) {
	var queueWait time.Duration
	if enqueuedAt > 0 {
		queueWait = time.Since(time.Unix(0, enqueuedAt))
	}

	if traceIDHex != "" && spanIDHex != "" {
		traceID, err := trace.TraceIDFromHex(traceIDHex)
		if err == nil {
			spanID, err := trace.SpanIDFromHex(spanIDHex)
			if err == nil {
				remoteSpanCtx := trace.NewSpanContext(trace.SpanContextConfig{
					TraceID:    traceID,
					SpanID:     spanID,
					TraceFlags: trace.FlagsSampled,
					Remote:     true,
				})
				ctx = trace.ContextWithRemoteSpanContext(ctx, remoteSpanCtx)
			}
		}
	}

	ctx, span := otel.Tracer("nomnom").Start(ctx, "task.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("task.type", taskType),
			attribute.Float64("queue.wait_time_seconds", queueWait.Seconds()),
		),
	)
	return ctx, span
}

// handleEnrichYouTube runs the YouTube enricher and writes the outcome back
func (w *Worker) handleEnrichYouTube(ctx context.Context, t *Task) error {
	var payload EnrichYouTubePayload
	if err := json.Unmarshal(t.Payload, &payload); err != nil {
		w.logger.Error("failed to unmarshal task payload", "error", err)
		return fmt.Errorf("invalid task payload: %w", err)
	}

	ctx, span := startTaskSpan(ctx, t.Type, payload.TraceID, payload.SpanID, payload.EnqueuedAt)
	defer span.End()
	span.SetAttributes(
		attribute.String("job.url", payload.URL),
		attribute.String("youtube.video_id", payload.VideoID),
	)

	w.logger.Info("processing enrichment task", "url", payload.URL, "video_id", payload.VideoID)

	outcome := w.runEnricher(ctx, payload.URL, payload.VideoID)
	if err := w.persist(ctx, payload.URL, outcome); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist enrichment result")
		return err
	}
	return nil
}

// runEnricher converts a panicking enricher into a Failure
func (w *Worker) runEnricher(ctx context.Context, url, videoID string) (outcome enrich.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("enricher panicked", "url", url, "video_id", videoID, "panic", r)
			outcome = enrich.Failure{Reason: fmt.Sprintf("enrichment crashed: %v", r)}
		}
	}()

	outcome = w.youtube.Enrich(ctx, url, videoID)
	if outcome == nil {
		outcome = enrich.Failure{Reason: "enricher returned no result"}
	}
	return outcome
}

// persist writes the content first, then moves the job out of pending
func (w *Worker) persist(ctx context.Context, url string, outcome enrich.Outcome) error {
	var (
		update    storage.ContentUpdate
		jobStatus storage.JobStatus
		reason    string
	)

	switch o := outcome.(type) {
	case enrich.Success:
		update = storage.ContentUpdate{
			ContentMarkdown:  &o.ContentMarkdown,
			Metadata:         o.Metadata,
			EnrichmentStatus: storage.EnrichmentComplete,
		}
		if o.Title != "" {
			update.Title = &o.Title
		}
		jobStatus = storage.JobComplete
	case enrich.Failure:
		reason = o.Reason
		update = storage.ContentUpdate{
			EnrichmentStatus: storage.EnrichmentFailed,
			EnrichmentError:  &reason,
		}
		jobStatus = storage.JobFailed
	default:
		return fmt.Errorf("unknown enrichment outcome %T", outcome)
	}

	if err := w.storage.UpdateSubmissionContent(ctx, url, update); err != nil {
		return fmt.Errorf("failed to persist enrichment result for %s: %w", url, err)
	}

	updated, err := w.storage.UpdateEnrichmentJobStatus(ctx, url, jobStatus, reason)
	if err != nil {
		return fmt.Errorf("failed to update enrichment job for %s: %w", url, err)
	}
	if !updated {
		w.logger.Info("no pending enrichment job to update", "url", url, "status", jobStatus)
	}

	w.logger.Info("enrichment finished", "url", url, "status", jobStatus)
	if w.events != nil {
		w.events.Publish(events.EnrichmentEvent{URL: url, Status: string(update.EnrichmentStatus), Error: reason})
	}
	return nil
}
