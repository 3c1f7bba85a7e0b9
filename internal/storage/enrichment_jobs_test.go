package storage

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/nomnom/receiver/internal/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openRaw(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", path))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedSubmission(t *testing.T, store *Storage, url string) {
	t.Helper()
	_, err := store.Upsert(context.Background(), &Submission{
		URL:              url,
		Domain:           "www.youtube.com",
		ContentType:      content.TypeYouTubeVideo,
		EnrichmentStatus: EnrichmentPending,
	})
	require.NoError(t, err)
}

func TestEnrichmentJobLifecycle(t *testing.T) {
	store := setupTestDB(t)
	store.now = stepClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	url := "https://www.youtube.com/watch?v=abc"
	seedSubmission(t, store, url)

	pending, err := store.HasPendingEnrichmentJob(ctx, url)
	require.NoError(t, err)
	assert.False(t, pending)

	job, err := store.CreateEnrichmentJob(ctx, url)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobPending, job.Status)

	pending, err = store.HasPendingEnrichmentJob(ctx, url)
	require.NoError(t, err)
	assert.True(t, pending)

	updated, err := store.UpdateEnrichmentJobStatus(ctx, url, JobComplete, "")
	require.NoError(t, err)
	assert.True(t, updated)

	jobs, err := store.ListEnrichmentJobs(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, JobComplete, jobs[0].Status)
	assert.Empty(t, jobs[0].FailureReason)
	require.NotNil(t, jobs[0].CompletedAt)
	assert.True(t, jobs[0].CompletedAt.After(jobs[0].CreatedAt))
}

func TestEnrichmentJobSecondCompletionIsNoop(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	url := "https://www.youtube.com/watch?v=dup"
	seedSubmission(t, store, url)

	_, err := store.CreateEnrichmentJob(ctx, url)
	require.NoError(t, err)

	updated, err := store.UpdateEnrichmentJobStatus(ctx, url, JobFailed, "metadata unavailable")
	require.NoError(t, err)
	assert.True(t, updated)

	// Duplicate background dispatch tries to complete the same job
	updated, err = store.UpdateEnrichmentJobStatus(ctx, url, JobComplete, "")
	require.NoError(t, err)
	assert.False(t, updated)

	jobs, err := store.ListEnrichmentJobs(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, JobFailed, jobs[0].Status)
	assert.Equal(t, "metadata unavailable", jobs[0].FailureReason)
}

func TestUpdateEnrichmentJobStatusWithoutJob(t *testing.T) {
	store := setupTestDB(t)

	updated, err := store.UpdateEnrichmentJobStatus(context.Background(), "https://no-job.example", JobComplete, "")
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestUpdateEnrichmentJobStatusRejectsPending(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.UpdateEnrichmentJobStatus(context.Background(), "https://x.example", JobPending, "")
	assert.Error(t, err)
}

func TestCreateEnrichmentJobRequiresSubmission(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.CreateEnrichmentJob(context.Background(), "https://unknown.example")
	assert.Error(t, err, "foreign key must reject jobs for unknown submissions")
}

func TestListEnrichmentJobsFiltersByStatus(t *testing.T) {
	store := setupTestDB(t)
	store.now = stepClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		url := fmt.Sprintf("https://www.youtube.com/watch?v=v%d", i)
		seedSubmission(t, store, url)
		_, err := store.CreateEnrichmentJob(ctx, url)
		require.NoError(t, err)
	}
	_, err := store.UpdateEnrichmentJobStatus(ctx, "https://www.youtube.com/watch?v=v1", JobComplete, "")
	require.NoError(t, err)

	pending, err := store.ListEnrichmentJobs(ctx, JobPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "https://www.youtube.com/watch?v=v2", pending[0].SubmissionURL, "newest first")
	assert.Equal(t, "https://www.youtube.com/watch?v=v0", pending[1].SubmissionURL)

	limited, err := store.ListEnrichmentJobs(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
