package clients

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nomnom/receiver/internal/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultGitHubRawBaseURL serves raw repository files
const DefaultGitHubRawBaseURL = "https://raw.githubusercontent.com"

// maxReadmeBytes caps how much of a README is stored
const maxReadmeBytes = 2 << 20

// GitHubClient fetches repository READMEs from the raw content host
type GitHubClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGitHubClient creates a new GitHub client
func NewGitHubClient(baseURL string, timeout time.Duration) *GitHubClient {
	if baseURL == "" {
		baseURL = DefaultGitHubRawBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GitHubClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// FetchReadme returns the README.md of the repository's default branch.
// Any failure (network, non-200, unreadable body) yields an empty string.
func (c *GitHubClient) FetchReadme(ctx context.Context, owner, repo string) string {
	tracer := otel.Tracer("nomnom")
	ctx, span := tracer.Start(ctx, "github.FetchReadme")
	defer span.End()

	span.SetAttributes(
		attribute.String("github.owner", owner),
		attribute.String("github.repo", repo),
	)

	readmeURL := fmt.Sprintf("%s/%s/%s/HEAD/README.md", c.baseURL, owner, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, readmeURL, nil)
	if err != nil {
		span.RecordError(err)
		metrics.IncReadmeFetch("error")
		return ""
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch readme")
		slog.Warn("failed to fetch readme", "owner", owner, "repo", repo, "error", err)
		metrics.IncReadmeFetch("error")
		return ""
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		slog.Debug("readme not available", "owner", owner, "repo", repo, "status", resp.StatusCode)
		metrics.IncReadmeFetch("missing")
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReadmeBytes))
	if err != nil {
		span.RecordError(err)
		slog.Warn("failed to read readme body", "owner", owner, "repo", repo, "error", err)
		metrics.IncReadmeFetch("error")
		return ""
	}

	metrics.IncReadmeFetch("found")
	return string(body)
}
