package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/nomnom/receiver/internal/content"
	"github.com/nomnom/receiver/internal/enrich"
	"github.com/nomnom/receiver/internal/events"
	"github.com/nomnom/receiver/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type fakeEnricher struct {
	outcome enrich.Outcome
	panics  bool
	calls   int
}

func (f *fakeEnricher) Enrich(ctx context.Context, url, videoID string) enrich.Outcome {
	f.calls++
	if f.panics {
		panic("provider exploded")
	}
	return f.outcome
}

const videoURL = "https://www.youtube.com/watch?v=abc123"

// setupPendingSubmission stores a YouTube submission with a pending job
func setupPendingSubmission(t *testing.T) *storage.Storage {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "nomnom.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	placeholder := "Processing on server..."
	_, err = store.Upsert(ctx, &storage.Submission{
		URL:              videoURL,
		Domain:           "www.youtube.com",
		ContentType:      content.TypeYouTubeVideo,
		ContentMarkdown:  &placeholder,
		Metadata:         map[string]interface{}{"type": "youtube_video", "video_id": "abc123"},
		EnrichmentStatus: storage.EnrichmentPending,
	})
	require.NoError(t, err)
	_, err = store.CreateEnrichmentJob(ctx, videoURL)
	require.NoError(t, err)

	return store
}

func enrichTask(t *testing.T, payload EnrichYouTubePayload) *Task {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return NewTask(TypeEnrichYouTube, data)
}

func newTestWorker(store ResultStore, enricher Enricher) *Worker {
	return NewWorker(NewDispatcher(Config{}), store, enricher)
}

func TestHandleEnrichYouTubeSuccess(t *testing.T) {
	store := setupPendingSubmission(t)
	w := newTestWorker(store, &fakeEnricher{outcome: enrich.Success{
		Title:           "Real title",
		ContentMarkdown: "## Description\n\nabout\n\n## Transcript\n\nwords",
		Metadata:        map[string]interface{}{"uploader": "someone", "transcript_unavailable": false},
	}})
	ctx := context.Background()

	err := w.handleEnrichYouTube(ctx, enrichTask(t, EnrichYouTubePayload{URL: videoURL, VideoID: "abc123"}))
	require.NoError(t, err)

	sub, err := store.GetSubmission(ctx, videoURL)
	require.NoError(t, err)
	assert.Equal(t, storage.EnrichmentComplete, sub.EnrichmentStatus)
	assert.Equal(t, "Real title", *sub.Title)
	assert.Contains(t, *sub.ContentMarkdown, "## Transcript")
	assert.Equal(t, "abc123", sub.Metadata["video_id"], "client metadata is preserved")
	assert.Equal(t, "someone", sub.Metadata["uploader"])

	jobs, err := store.ListEnrichmentJobs(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, storage.JobComplete, jobs[0].Status)
}

func TestHandleEnrichYouTubeSoftFailureCompletes(t *testing.T) {
	store := setupPendingSubmission(t)
	w := newTestWorker(store, &fakeEnricher{outcome: enrich.Success{
		Title:           "No captions",
		ContentMarkdown: "## Description\n\nonly description",
		Metadata:        map[string]interface{}{"transcript_unavailable": true},
	}})
	ctx := context.Background()

	require.NoError(t, w.handleEnrichYouTube(ctx, enrichTask(t, EnrichYouTubePayload{URL: videoURL, VideoID: "abc123"})))

	sub, err := store.GetSubmission(ctx, videoURL)
	require.NoError(t, err)
	assert.Equal(t, storage.EnrichmentComplete, sub.EnrichmentStatus)
	assert.Equal(t, true, sub.Metadata["transcript_unavailable"])
	assert.Equal(t, "## Description\n\nonly description", *sub.ContentMarkdown)
}

func TestHandleEnrichYouTubeFailure(t *testing.T) {
	store := setupPendingSubmission(t)
	w := newTestWorker(store, &fakeEnricher{outcome: enrich.Failure{Reason: "metadata unavailable: gone"}})
	ctx := context.Background()

	require.NoError(t, w.handleEnrichYouTube(ctx, enrichTask(t, EnrichYouTubePayload{URL: videoURL, VideoID: "abc123"})))

	sub, err := store.GetSubmission(ctx, videoURL)
	require.NoError(t, err)
	assert.Equal(t, storage.EnrichmentFailed, sub.EnrichmentStatus)
	require.NotNil(t, sub.EnrichmentError)
	assert.Equal(t, "metadata unavailable: gone", *sub.EnrichmentError)
	assert.Equal(t, "Processing on server...", *sub.ContentMarkdown, "content is untouched on failure")

	jobs, err := store.ListEnrichmentJobs(ctx, storage.JobFailed, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "metadata unavailable: gone", jobs[0].FailureReason)
}

func TestHandleEnrichYouTubePanicBecomesFailure(t *testing.T) {
	store := setupPendingSubmission(t)
	w := newTestWorker(store, &fakeEnricher{panics: true})
	ctx := context.Background()

	require.NoError(t, w.handleEnrichYouTube(ctx, enrichTask(t, EnrichYouTubePayload{URL: videoURL, VideoID: "abc123"})))

	sub, err := store.GetSubmission(ctx, videoURL)
	require.NoError(t, err)
	assert.Equal(t, storage.EnrichmentFailed, sub.EnrichmentStatus)
	assert.Contains(t, *sub.EnrichmentError, "provider exploded")
}

func TestHandleEnrichYouTubeDuplicateDispatch(t *testing.T) {
	store := setupPendingSubmission(t)
	enricher := &fakeEnricher{outcome: enrich.Success{ContentMarkdown: "## Description\n\nx"}}
	w := newTestWorker(store, enricher)
	ctx := context.Background()
	task := enrichTask(t, EnrichYouTubePayload{URL: videoURL, VideoID: "abc123"})

	require.NoError(t, w.handleEnrichYouTube(ctx, task))
	enricher.outcome = enrich.Failure{Reason: "late failure"}
	require.NoError(t, w.handleEnrichYouTube(ctx, task))

	jobs, err := store.ListEnrichmentJobs(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, storage.JobComplete, jobs[0].Status, "terminal job must not transition again")
	assert.Equal(t, 2, enricher.calls)
}

func TestHandleEnrichYouTubeInvalidPayload(t *testing.T) {
	w := newTestWorker(nil, &fakeEnricher{})

	err := w.handleEnrichYouTube(context.Background(), NewTask(TypeEnrichYouTube, []byte("{")))
	assert.Error(t, err)
}

func TestHandleEnrichYouTubeStorageFailureIsReturned(t *testing.T) {
	store := setupPendingSubmission(t)
	require.NoError(t, store.Close())
	w := newTestWorker(store, &fakeEnricher{outcome: enrich.Failure{Reason: "x"}})

	err := w.handleEnrichYouTube(context.Background(), enrichTask(t, EnrichYouTubePayload{URL: videoURL, VideoID: "abc123"}))
	assert.Error(t, err, "storage failures reach the dispatcher error handler")
}

func TestHandleEnrichYouTubeContinuesTrace(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	store := setupPendingSubmission(t)
	w := newTestWorker(store, &fakeEnricher{outcome: enrich.Success{ContentMarkdown: "x"}})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	payload := EnrichYouTubePayload{
		URL:        videoURL,
		VideoID:    "abc123",
		TraceID:    traceID.String(),
		SpanID:     spanID.String(),
		EnqueuedAt: time.Now().Add(-time.Second).UnixNano(),
	}

	require.NoError(t, w.handleEnrichYouTube(context.Background(), enrichTask(t, payload)))

	spans := exporter.GetSpans()
	require.NotEmpty(t, spans)
	var found bool
	for _, span := range spans {
		if span.Name == "task.process" {
			found = true
			assert.Equal(t, traceID, span.SpanContext.TraceID())
			assert.Equal(t, spanID, span.Parent.SpanID())
			assert.Equal(t, trace.SpanKindConsumer, span.SpanKind)
		}
	}
	assert.True(t, found, "expected a task.process span")
}

func TestHandleEnrichYouTubePublishesEvent(t *testing.T) {
	store := setupPendingSubmission(t)
	w := newTestWorker(store, &fakeEnricher{outcome: enrich.Failure{Reason: "metadata unavailable: gone"}})
	broadcaster := events.NewBroadcaster()
	w.SetEvents(broadcaster)
	sub := broadcaster.Subscribe("test", videoURL)

	require.NoError(t, w.handleEnrichYouTube(context.Background(), enrichTask(t, EnrichYouTubePayload{URL: videoURL, VideoID: "abc123"})))

	require.Len(t, sub.Events, 1)
	event := <-sub.Events
	assert.Equal(t, events.EnrichmentEvent{URL: videoURL, Status: "failed", Error: "metadata unavailable: gone"}, event)
}
