package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nomnom"

var (
	once sync.Once

	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Ingestion results by status (saved/updated/skipped/error) and content type.",
		},
		[]string{"status", "content_type"},
	)

	enrichmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichments_total",
			Help:      "Enrichment outcomes per provider.",
		},
		[]string{"provider", "outcome"},
	)

	enrichmentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrichment_duration_seconds",
			Help:      "Time spent running an enrichment adapter.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	readmeFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "github_readme_fetches_total",
			Help:      "GitHub README fetches by result (found/missing/error).",
		},
		[]string{"result"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_cache_lookups_total",
			Help:      "Enrichment cache lookups by result (hit/miss/error).",
		},
		[]string{"result"},
	)

	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Background task dispatches by task type and result (enqueued/rejected).",
		},
		[]string{"task_type", "result"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatcher_queue_depth",
			Help:      "Tasks waiting in the background dispatcher queue.",
		},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			submissionsTotal, enrichmentsTotal, enrichmentDuration,
			readmeFetchesTotal, cacheLookupsTotal, dispatchTotal, queueDepth,
		)
	})
}

func norm(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}

func IncSubmission(status, contentType string) {
	submissionsTotal.WithLabelValues(norm(status), norm(contentType)).Inc()
}

// ObserveEnrichment records one adapter run
func ObserveEnrichment(provider, outcome string, elapsed time.Duration) {
	enrichmentsTotal.WithLabelValues(norm(provider), norm(outcome)).Inc()
	enrichmentDuration.WithLabelValues(norm(provider)).Observe(elapsed.Seconds())
}

func IncReadmeFetch(result string) {
	readmeFetchesTotal.WithLabelValues(norm(result)).Inc()
}

func IncCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(norm(result)).Inc()
}

func IncDispatch(taskType, result string) {
	dispatchTotal.WithLabelValues(norm(taskType), norm(result)).Inc()
}

func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
