package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMustRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		MustRegister()
		MustRegister()
	})

	families, err := prometheus.DefaultGatherer.Gather()
	assert.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() == "nomnom_dispatcher_queue_depth" {
			found = true
		}
	}
	assert.True(t, found, "queue depth gauge should be registered")
}

func TestHelpersNormalizeLabels(t *testing.T) {
	IncSubmission(" Saved ", "youtube_video")
	assert.Equal(t, float64(1), testutil.ToFloat64(submissionsTotal.WithLabelValues("saved", "youtube_video")))

	IncSubmission("skipped", "")
	assert.Equal(t, float64(1), testutil.ToFloat64(submissionsTotal.WithLabelValues("skipped", "unknown")))

	ObserveEnrichment("YouTube", "success", 2*time.Second)
	assert.Equal(t, float64(1), testutil.ToFloat64(enrichmentsTotal.WithLabelValues("youtube", "success")))

	SetQueueDepth(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(queueDepth))
}
