package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracing(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	return exporter
}

// TestGitHubTracePropagation verifies that trace context reaches the README host
func TestGitHubTracePropagation(t *testing.T) {
	exporter := setupTestTracing(t)

	var receivedTraceParent string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedTraceParent = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("# readme"))
	}))
	defer ts.Close()

	client := NewGitHubClient(ts.URL, time.Second)

	ctx, parentSpan := otel.Tracer("test").Start(context.Background(), "test.parent")
	if got := client.FetchReadme(ctx, "owner", "repo"); got != "# readme" {
		t.Fatalf("FetchReadme = %q", got)
	}
	parentSpan.End()

	if receivedTraceParent == "" {
		t.Error("Trace context was not propagated to the README host")
	}

	spans := exporter.GetSpans()
	if len(spans) < 2 {
		t.Fatalf("Expected at least 2 spans, got %d", len(spans))
	}

	traceID := spans[0].SpanContext.TraceID()
	for i, span := range spans {
		if span.SpanContext.TraceID() != traceID {
			t.Errorf("Span %d (%s) has a different trace ID", i, span.Name)
		}
	}
}

// TestYouTubeTracePropagation verifies that watch page requests carry trace headers
func TestYouTubeTracePropagation(t *testing.T) {
	setupTestTracing(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("traceparent") == "" {
			t.Error("No traceparent header in watch page request")
		}
		w.Write([]byte(`<html><head><meta itemprop="name" content="Traced"></head></html>`))
	}))
	defer ts.Close()

	client := NewYouTubeClient(ts.URL, time.Second)
	ctx, span := otel.Tracer("test").Start(context.Background(), "test.resolve")
	defer span.End()

	if _, err := client.ResolveVideo(ctx, "abc123"); err != nil {
		t.Fatalf("ResolveVideo failed: %v", err)
	}
}

// TestOtelHttpTransport verifies otelhttp.Transport is configured
func TestOtelHttpTransport(t *testing.T) {
	tests := []struct {
		name   string
		client *http.Client
	}{
		{name: "GitHubClient", client: NewGitHubClient("", 0).httpClient},
		{name: "YouTubeClient", client: NewYouTubeClient("", 0).httpClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := tt.client.Transport.(*otelhttp.Transport); !ok {
				t.Errorf("%s transport is %T, want *otelhttp.Transport", tt.name, tt.client.Transport)
			}
			if tt.client.Timeout != 10*time.Second {
				t.Errorf("%s timeout = %v, want 10s", tt.name, tt.client.Timeout)
			}
		})
	}
}
