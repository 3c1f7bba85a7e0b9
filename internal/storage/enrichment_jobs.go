package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an enrichment job
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobComplete JobStatus = "complete"
	JobFailed   JobStatus = "failed"
)

// Terminal reports whether the status ends the job lifecycle
func (s JobStatus) Terminal() bool {
	return s == JobComplete || s == JobFailed
}

// EnrichmentJob tracks one enrichment attempt for a submission
type EnrichmentJob struct {
	ID            string     `json:"id"`
	SubmissionURL string     `json:"submission_url"`
	Status        JobStatus  `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// CreateEnrichmentJob appends a pending job for the submission. It does not
// check for existing pending jobs; see HasPendingEnrichmentJob.
func (s *Storage) CreateEnrichmentJob(ctx context.Context, url string) (*EnrichmentJob, error) {
	job := &EnrichmentJob{
		ID:            uuid.New().String(),
		SubmissionURL: url,
		Status:        JobPending,
		CreatedAt:     s.now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrichment_jobs (id, submission_url, status, created_at)
		VALUES (?, ?, ?, ?)
	`, job.ID, job.SubmissionURL, string(job.Status), formatTime(job.CreatedAt))
	if err != nil {
		return nil, &Error{Op: "create enrichment job", Err: err}
	}

	return job, nil
}

// HasPendingEnrichmentJob reports whether the submission has an active job
func (s *Storage) HasPendingEnrichmentJob(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM enrichment_jobs WHERE submission_url = ? AND status = ? LIMIT 1",
		url, string(JobPending),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &Error{Op: "check pending enrichment job", Err: err}
	}
	return true, nil
}

// UpdateEnrichmentJobStatus moves the submission's pending jobs to a
// terminal status. Rows that already left pending are never touched, so a
// duplicate completion is a no-op; the returned flag is false in that case.
func (s *Storage) UpdateEnrichmentJobStatus(ctx context.Context, url string, status JobStatus, failureReason string) (bool, error) {
	if !status.Terminal() {
		return false, &Error{Op: "update enrichment job status", Err: fmt.Errorf("status %q is not terminal", status)}
	}

	var reason interface{}
	if failureReason != "" {
		reason = failureReason
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_jobs
		SET status = ?, failure_reason = ?, completed_at = ?
		WHERE submission_url = ? AND status = ?
	`, string(status), reason, formatTime(s.now()), url, string(JobPending))
	if err != nil {
		return false, &Error{Op: "update enrichment job status", Err: err}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, &Error{Op: "update enrichment job status", Err: err}
	}
	return rowsAffected > 0, nil
}

// ListEnrichmentJobs returns jobs newest first, optionally filtered by status
func (s *Storage) ListEnrichmentJobs(ctx context.Context, status JobStatus, limit int) ([]*EnrichmentJob, error) {
	query := sq.Select("id", "submission_url", "status", "failure_reason", "created_at", "completed_at").
		From("enrichment_jobs").
		OrderBy("created_at DESC").
		PlaceholderFormat(sq.Question)
	if status != "" {
		query = query.Where(sq.Eq{"status": string(status)})
	}
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, &Error{Op: "build enrichment job query", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, &Error{Op: "list enrichment jobs", Err: err}
	}
	defer rows.Close()

	var jobs []*EnrichmentJob
	for rows.Next() {
		job, err := scanEnrichmentJob(rows)
		if err != nil {
			return nil, &Error{Op: "scan enrichment job", Err: err}
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "list enrichment jobs", Err: err}
	}

	return jobs, nil
}

func scanEnrichmentJob(row interface {
	Scan(dest ...interface{}) error
}) (*EnrichmentJob, error) {
	job := &EnrichmentJob{}
	var status, createdAt string
	var failureReason, completedAt sql.NullString

	if err := row.Scan(&job.ID, &job.SubmissionURL, &status, &failureReason, &createdAt, &completedAt); err != nil {
		return nil, err
	}

	job.Status = JobStatus(status)
	if failureReason.Valid {
		job.FailureReason = failureReason.String
	}

	var err error
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at: %w", err)
		}
		job.CompletedAt = &t
	}

	return job, nil
}
