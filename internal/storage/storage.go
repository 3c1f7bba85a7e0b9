package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/nomnom/receiver/internal/content"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a keyed lookup matches no row
var ErrNotFound = errors.New("not found")

// Error wraps every failure surfaced by the storage layer
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// EnrichmentStatus tracks server-side enrichment of a submission
type EnrichmentStatus string

const (
	EnrichmentNone     EnrichmentStatus = "none"
	EnrichmentPending  EnrichmentStatus = "pending"
	EnrichmentComplete EnrichmentStatus = "complete"
	EnrichmentFailed   EnrichmentStatus = "failed"
)

// Storage handles all database operations
type Storage struct {
	db  *sql.DB
	now func() time.Time
}

// Submission is one ingested piece of content keyed by canonical URL
type Submission struct {
	URL              string                 `json:"url"`
	Domain           string                 `json:"domain"`
	ContentType      content.Type           `json:"content_type"`
	Title            *string                `json:"title,omitempty"`
	ContentMarkdown  *string                `json:"content_markdown,omitempty"`
	Metadata         map[string]interface{} `json:"metadata"`
	EnrichmentStatus EnrichmentStatus       `json:"enrichment_status"`
	EnrichmentError  *string                `json:"enrichment_error,omitempty"`
	IngestedAt       time.Time              `json:"ingested_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	Revision         int                    `json:"revision"`
}

// ContentUpdate is a partial update applied after enrichment. Nil fields are
// left unchanged; Metadata is merged into the stored object.
type ContentUpdate struct {
	Title            *string
	ContentMarkdown  *string
	Metadata         map[string]interface{}
	EnrichmentStatus EnrichmentStatus
	EnrichmentError  *string
}

// New opens (creating if needed) the SQLite database and runs migrations
func New(databasePath string) (*Storage, error) {
	if dir := filepath.Dir(databasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	slog.Info("opening database", "path", databasePath)
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", databasePath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := RunMigrations(context.Background(), db, databasePath+".migrate.lock"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Storage{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Upsert inserts or overwrites a submission keyed by URL. ingested_at is
// only written on insert. The returned flag comes from the conflict
// resolution itself: revision is 1 only when this statement created the row.
func (s *Storage) Upsert(ctx context.Context, sub *Submission) (bool, error) {
	metadataJSON, err := marshalMetadata(sub.Metadata)
	if err != nil {
		return false, &Error{Op: "upsert submission", Err: err}
	}

	status := sub.EnrichmentStatus
	if status == "" {
		status = EnrichmentNone
	}
	ts := formatTime(s.now())

	var revision int
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO submissions (
			url, domain, content_type, title, content_markdown,
			metadata, enrichment_status, enrichment_error, ingested_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			domain            = excluded.domain,
			content_type      = excluded.content_type,
			title             = excluded.title,
			content_markdown  = excluded.content_markdown,
			metadata          = excluded.metadata,
			enrichment_status = excluded.enrichment_status,
			enrichment_error  = excluded.enrichment_error,
			updated_at        = excluded.updated_at,
			revision          = submissions.revision + 1
		RETURNING revision
	`,
		sub.URL,
		sub.Domain,
		string(sub.ContentType),
		nullString(sub.Title),
		nullString(sub.ContentMarkdown),
		metadataJSON,
		string(status),
		nullString(sub.EnrichmentError),
		ts,
		ts,
	).Scan(&revision)
	if err != nil {
		return false, &Error{Op: "upsert submission", Err: err}
	}

	return revision == 1, nil
}

// Exists reports whether a submission with the URL is stored
func (s *Storage) Exists(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM submissions WHERE url = ?", url).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &Error{Op: "check submission", Err: err}
	}
	return true, nil
}

// InsertGitHubRepo stores a canonical repository URL with its README.
// It returns false when a concurrent request stored the URL first.
func (s *Storage) InsertGitHubRepo(ctx context.Context, url, owner, repo, readme string) (bool, error) {
	metadataJSON, err := marshalMetadata(map[string]interface{}{
		"owner": owner,
		"repo":  repo,
	})
	if err != nil {
		return false, &Error{Op: "insert github repo", Err: err}
	}

	ts := formatTime(s.now())
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (
			url, domain, content_type, title, content_markdown,
			metadata, enrichment_status, ingested_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO NOTHING
	`,
		url,
		content.GitHubDomain,
		string(content.TypeGitHub),
		owner+"/"+repo,
		readme,
		metadataJSON,
		string(EnrichmentNone),
		ts,
		ts,
	)
	if err != nil {
		return false, &Error{Op: "insert github repo", Err: err}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, &Error{Op: "insert github repo", Err: err}
	}
	return rowsAffected == 1, nil
}

// UpdateSubmissionContent applies a post-enrichment partial update.
// updated_at always advances.
func (s *Storage) UpdateSubmissionContent(ctx context.Context, url string, update ContentUpdate) error {
	query := sq.Update("submissions").
		PlaceholderFormat(sq.Question).
		Set("enrichment_status", string(update.EnrichmentStatus)).
		Set("enrichment_error", nullString(update.EnrichmentError)).
		Set("updated_at", formatTime(s.now())).
		Where(sq.Eq{"url": url})

	if update.Title != nil {
		query = query.Set("title", *update.Title)
	}
	if update.ContentMarkdown != nil {
		query = query.Set("content_markdown", *update.ContentMarkdown)
	}
	if update.Metadata != nil {
		patch, err := marshalMetadata(update.Metadata)
		if err != nil {
			return &Error{Op: "update submission content", Err: err}
		}
		query = query.Set("metadata", sq.Expr("json_patch(COALESCE(metadata, '{}'), ?)", patch))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return &Error{Op: "build submission update", Err: err}
	}

	result, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return &Error{Op: "update submission content", Err: err}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return &Error{Op: "update submission content", Err: err}
	}
	if rowsAffected == 0 {
		return &Error{Op: "update submission content", Err: ErrNotFound}
	}
	return nil
}

// GetSubmission retrieves a submission by URL
func (s *Storage) GetSubmission(ctx context.Context, url string) (*Submission, error) {
	var sub Submission
	var contentType, status, ingestedAt, updatedAt string
	var title, contentMarkdown, enrichmentError sql.NullString
	var metadataJSON string

	err := s.db.QueryRowContext(ctx, `
		SELECT url, domain, content_type, title, content_markdown, metadata,
			enrichment_status, enrichment_error, ingested_at, updated_at, revision
		FROM submissions
		WHERE url = ?
	`, url).Scan(
		&sub.URL, &sub.Domain, &contentType, &title, &contentMarkdown, &metadataJSON,
		&status, &enrichmentError, &ingestedAt, &updatedAt, &sub.Revision,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &Error{Op: "get submission", Err: ErrNotFound}
	}
	if err != nil {
		return nil, &Error{Op: "get submission", Err: err}
	}

	sub.ContentType = content.Type(contentType)
	sub.EnrichmentStatus = EnrichmentStatus(status)
	if title.Valid {
		sub.Title = &title.String
	}
	if contentMarkdown.Valid {
		sub.ContentMarkdown = &contentMarkdown.String
	}
	if enrichmentError.Valid {
		sub.EnrichmentError = &enrichmentError.String
	}
	if err := json.Unmarshal([]byte(metadataJSON), &sub.Metadata); err != nil {
		return nil, &Error{Op: "unmarshal metadata", Err: err}
	}
	if sub.IngestedAt, err = parseTime(ingestedAt); err != nil {
		return nil, &Error{Op: "parse ingested_at", Err: err}
	}
	if sub.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, &Error{Op: "parse updated_at", Err: err}
	}

	return &sub, nil
}

// CountSubmissions counts rows, optionally restricted to one URL
func (s *Storage) CountSubmissions(ctx context.Context, url string) (int, error) {
	query := sq.Select("COUNT(*)").From("submissions").PlaceholderFormat(sq.Question)
	if url != "" {
		query = query.Where(sq.Eq{"url": url})
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return 0, &Error{Op: "build submission count", Err: err}
	}

	var count int
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, &Error{Op: "count submissions", Err: err}
	}
	return count, nil
}

func marshalMetadata(metadata map[string]interface{}) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}
