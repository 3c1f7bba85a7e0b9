package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nomnom/receiver/internal/content"
	"github.com/nomnom/receiver/internal/metrics"
	"github.com/nomnom/receiver/internal/storage"
)

// Status is the outcome reported to the submitting client
type Status string

const (
	StatusSaved   Status = "saved"
	StatusUpdated Status = "updated"
	StatusSkipped Status = "skipped"
)

const (
	msgRedditFiltered = "Filtered: Reddit non-post URL"
	msgAlreadySaved   = "Already saved"
	msgNotRepository  = "Rejected: not a GitHub repository URL"
	msgMissingVideoID = "missing video id"
	msgEmptyURL       = "Rejected: empty URL"
	msgEmptyDomain    = "Rejected: empty domain"
)

// SkipError reports a submission filtered out before persistence
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "skipped: " + e.Reason
}

// Request is one submission from a client
type Request struct {
	URL             string                 `json:"url"`
	Domain          string                 `json:"domain"`
	Title           *string                `json:"title,omitempty"`
	ContentMarkdown *string                `json:"content_markdown,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// EnrichmentRequest asks the caller to run background enrichment
type EnrichmentRequest struct {
	URL     string
	VideoID string
}

// Result is returned to the client; Enrichment is set when background work
// must be dispatched after the response is sent
type Result struct {
	Status     Status             `json:"status"`
	Message    string             `json:"message"`
	Enrichment *EnrichmentRequest `json:"-"`
}

// Store is the subset of storage used during ingestion
type Store interface {
	Upsert(ctx context.Context, sub *storage.Submission) (bool, error)
	Exists(ctx context.Context, url string) (bool, error)
	InsertGitHubRepo(ctx context.Context, url, owner, repo, readme string) (bool, error)
	HasPendingEnrichmentJob(ctx context.Context, url string) (bool, error)
	CreateEnrichmentJob(ctx context.Context, url string) (*storage.EnrichmentJob, error)
	UpdateEnrichmentJobStatus(ctx context.Context, url string, status storage.JobStatus, failureReason string) (bool, error)
	UpdateSubmissionContent(ctx context.Context, url string, update storage.ContentUpdate) error
}

// ReadmeFetcher returns a repository README, or "" when there is none
type ReadmeFetcher interface {
	FetchReadme(ctx context.Context, owner, repo string) string
}

// Service admits, routes and persists submissions
type Service struct {
	store   Store
	readmes ReadmeFetcher
}

// NewService creates a new ingestion service
func NewService(store Store, readmes ReadmeFetcher) *Service {
	return &Service{store: store, readmes: readmes}
}

// Check applies the pre-admission filters and returns a *SkipError for
// submissions that must not be persisted.
func (s *Service) Check(req Request) error {
	if strings.TrimSpace(req.URL) == "" {
		return &SkipError{Reason: msgEmptyURL}
	}
	if strings.TrimSpace(req.Domain) == "" {
		return &SkipError{Reason: msgEmptyDomain}
	}

	isReddit := content.Classify(req.Metadata) == content.TypeRedditThread || content.IsRedditDomain(req.Domain)
	if isReddit && !content.IsRedditPost(req.URL) {
		return &SkipError{Reason: msgRedditFiltered}
	}
	return nil
}

// Ingest runs the full synchronous pipeline for one submission.
// Enrichment is never performed here.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	if err := s.Check(req); err != nil {
		var skip *SkipError
		if !errors.As(err, &skip) {
			return nil, err
		}
		slog.Info("submission skipped", "url", req.URL, "reason", skip.Reason)
		metrics.IncSubmission(string(StatusSkipped), string(content.Classify(req.Metadata)))
		return &Result{Status: StatusSkipped, Message: skip.Reason}, nil
	}

	if content.IsGitHubDomain(req.Domain) {
		return s.ingestGitHub(ctx, req)
	}
	return s.ingestGeneric(ctx, req)
}

func (s *Service) ingestGitHub(ctx context.Context, req Request) (*Result, error) {
	repo, ok := content.NormalizeGitHubURL(req.URL)
	if !ok {
		slog.Info("github url rejected", "url", req.URL)
		metrics.IncSubmission(string(StatusSkipped), string(content.TypeGitHub))
		return &Result{Status: StatusSkipped, Message: msgNotRepository}, nil
	}

	exists, err := s.store.Exists(ctx, repo.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to check github repo: %w", err)
	}
	if exists {
		slog.Info("github repo already saved", "url", repo.URL)
		metrics.IncSubmission(string(StatusSkipped), string(content.TypeGitHub))
		return &Result{Status: StatusSkipped, Message: msgAlreadySaved}, nil
	}

	readme := s.readmes.FetchReadme(ctx, repo.Owner, repo.Name)

	inserted, err := s.store.InsertGitHubRepo(ctx, repo.URL, repo.Owner, repo.Name, readme)
	if err != nil {
		return nil, fmt.Errorf("failed to save github repo: %w", err)
	}
	if !inserted {
		metrics.IncSubmission(string(StatusSkipped), string(content.TypeGitHub))
		return &Result{Status: StatusSkipped, Message: msgAlreadySaved}, nil
	}

	slog.Info("github repo saved", "url", repo.URL, "readme_bytes", len(readme))
	metrics.IncSubmission(string(StatusSaved), string(content.TypeGitHub))
	return &Result{Status: StatusSaved, Message: "Saved " + repo.FullName()}, nil
}

func (s *Service) ingestGeneric(ctx context.Context, req Request) (*Result, error) {
	contentType := content.Classify(req.Metadata)
	if raw, ok := req.Metadata["type"]; ok && contentType == content.TypePlaceholder && raw != string(content.TypePlaceholder) {
		slog.Info("unknown content type, storing as placeholder", "url", req.URL, "type", raw)
	}

	isYouTube := contentType == content.TypeYouTubeVideo
	status := storage.EnrichmentNone
	if isYouTube {
		status = storage.EnrichmentPending
	}

	isNew, err := s.store.Upsert(ctx, &storage.Submission{
		URL:              req.URL,
		Domain:           req.Domain,
		ContentType:      contentType,
		Title:            req.Title,
		ContentMarkdown:  req.ContentMarkdown,
		Metadata:         req.Metadata,
		EnrichmentStatus: status,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save submission: %w", err)
	}

	result := &Result{Status: StatusUpdated, Message: "Updated"}
	if isNew {
		result = &Result{Status: StatusSaved, Message: "Saved"}
	}
	slog.Info("submission stored", "status", result.Status, "url", req.URL, "type", contentType)
	metrics.IncSubmission(string(result.Status), string(contentType))

	if isYouTube {
		enrichment, err := s.prepareEnrichment(ctx, req)
		if err != nil {
			return nil, err
		}
		result.Enrichment = enrichment
	}
	return result, nil
}

// prepareEnrichment ensures a pending job exists and returns the work the
// caller must dispatch. A video whose ID cannot be resolved is failed here.
func (s *Service) prepareEnrichment(ctx context.Context, req Request) (*EnrichmentRequest, error) {
	pending, err := s.store.HasPendingEnrichmentJob(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to check enrichment job: %w", err)
	}
	if !pending {
		if _, err := s.store.CreateEnrichmentJob(ctx, req.URL); err != nil {
			return nil, fmt.Errorf("failed to create enrichment job: %w", err)
		}
	}

	videoID := content.VideoID(req.URL, req.Metadata)
	if videoID != "" {
		return &EnrichmentRequest{URL: req.URL, VideoID: videoID}, nil
	}

	slog.Warn("youtube submission without video id", "url", req.URL)
	reason := msgMissingVideoID
	if err := s.store.UpdateSubmissionContent(ctx, req.URL, storage.ContentUpdate{
		EnrichmentStatus: storage.EnrichmentFailed,
		EnrichmentError:  &reason,
	}); err != nil {
		return nil, fmt.Errorf("failed to mark submission failed: %w", err)
	}
	if _, err := s.store.UpdateEnrichmentJobStatus(ctx, req.URL, storage.JobFailed, reason); err != nil {
		return nil, fmt.Errorf("failed to mark enrichment job failed: %w", err)
	}
	return nil, nil
}
