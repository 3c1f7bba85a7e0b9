package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nomnom/receiver/internal/clients"
	"github.com/nomnom/receiver/internal/metrics"
	"golang.org/x/text/unicode/norm"
)

// ErrTranscriptsUnavailable means the video has no caption tracks at all
var ErrTranscriptsUnavailable = errors.New("no transcripts available")

// VideoResolver loads a video's details and its caption track list
type VideoResolver interface {
	ResolveVideo(ctx context.Context, videoID string) (*clients.Video, error)
}

// TrackFetcher downloads a single caption track
type TrackFetcher interface {
	FetchTrack(ctx context.Context, track clients.Track) (string, error)
}

// Cache stores successful results keyed by video ID
type Cache interface {
	Get(ctx context.Context, id string, dest interface{}) (bool, error)
	Set(ctx context.Context, id string, value interface{}) error
}

// YouTube enriches video submissions with metadata and a transcript
type YouTube struct {
	videos    VideoResolver
	tracks    TrackFetcher
	cache     Cache
	languages []string
}

// NewYouTube creates a YouTube enricher. cache may be nil.
func NewYouTube(videos VideoResolver, tracks TrackFetcher, cache Cache) *YouTube {
	return &YouTube{
		videos:    videos,
		tracks:    tracks,
		cache:     cache,
		languages: []string{"en"},
	}
}

// FetchTranscript downloads the track in the first preferred language and
// otherwise falls back to the first track the video offers. An empty
// result is reported as clients.ErrEmptyTranscript.
func (y *YouTube) FetchTranscript(ctx context.Context, video *clients.Video) (string, error) {
	videoID := video.Metadata.VideoID
	if len(video.Tracks) == 0 {
		return "", fmt.Errorf("video %s: %w", videoID, ErrTranscriptsUnavailable)
	}

	track, ok := clients.SelectTrack(video.Tracks, y.languages...)
	if !ok {
		slog.Debug("no preferred-language transcript, using first track", "video_id", videoID, "language", video.Tracks[0].LanguageCode)
		track = video.Tracks[0]
	}

	text, err := y.tracks.FetchTrack(ctx, track)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("video %s %s track: %w", videoID, track.LanguageCode, clients.ErrEmptyTranscript)
	}
	return text, nil
}

// Enrich resolves the video and assembles its content. Only a metadata
// failure produces a Failure; a missing transcript still yields a Success
// flagged with transcript_unavailable.
func (y *YouTube) Enrich(ctx context.Context, url, videoID string) Outcome {
	if videoID == "" {
		return Failure{Reason: "missing video id"}
	}

	if cached, ok := y.lookup(ctx, videoID); ok {
		slog.Info("youtube enrichment served from cache", "url", url, "video_id", videoID)
		return cached
	}

	start := time.Now()
	video, err := y.videos.ResolveVideo(ctx, videoID)
	if err != nil {
		slog.Error("youtube metadata fetch failed", "url", url, "video_id", videoID, "error", err)
		metrics.ObserveEnrichment("youtube", "failure", time.Since(start))
		return Failure{Reason: fmt.Sprintf("metadata unavailable: %v", err)}
	}

	if video.Metadata.VideoID == "" {
		video.Metadata.VideoID = videoID
	}
	meta := video.Metadata
	metadata := map[string]interface{}{
		"title":       nfc(meta.Title),
		"description": nfc(meta.Description),
		"uploader":    meta.Uploader,
		"duration":    meta.DurationSeconds,
		"upload_date": meta.UploadDate,
		"view_count":  meta.ViewCount,
	}

	transcript, err := y.FetchTranscript(ctx, video)
	switch {
	case err == nil:
		transcript = nfc(transcript)
		metadata["transcript_unavailable"] = false
		slog.Info("youtube transcript fetched", "video_id", videoID, "words", len(strings.Fields(transcript)))
	case errors.Is(err, ErrTranscriptsUnavailable), errors.Is(err, clients.ErrEmptyTranscript):
		metadata["transcript_unavailable"] = true
		slog.Info("no transcript available", "video_id", videoID, "reason", err)
	default:
		metadata["transcript_unavailable"] = true
		metadata["transcript_error"] = err.Error()
		slog.Warn("youtube transcript fetch failed", "video_id", videoID, "error", err)
	}

	result := Success{
		Title:           nfc(meta.Title),
		ContentMarkdown: buildContent(nfc(meta.Description), transcript),
		Metadata:        metadata,
	}

	outcome := "success"
	if transcript == "" {
		outcome = "transcript_unavailable"
	}
	metrics.ObserveEnrichment("youtube", outcome, time.Since(start))

	if transcript != "" {
		y.store(ctx, videoID, result)
	}
	return result
}

// buildContent lays out the description section followed by the
// transcript section when one is available
func buildContent(description, transcript string) string {
	if strings.TrimSpace(description) == "" {
		description = "_No description provided._"
	}

	var b strings.Builder
	b.WriteString("## Description\n\n")
	b.WriteString(strings.TrimSpace(description))
	if transcript != "" {
		b.WriteString("\n\n## Transcript\n\n")
		b.WriteString(transcript)
	}
	return b.String()
}

func (y *YouTube) lookup(ctx context.Context, videoID string) (Success, bool) {
	if y.cache == nil {
		return Success{}, false
	}

	var cached Success
	found, err := y.cache.Get(ctx, videoID, &cached)
	if err != nil {
		slog.Warn("enrichment cache lookup failed", "video_id", videoID, "error", err)
		metrics.IncCacheLookup("error")
		return Success{}, false
	}
	if !found {
		metrics.IncCacheLookup("miss")
		return Success{}, false
	}
	metrics.IncCacheLookup("hit")
	return cached, true
}

func (y *YouTube) store(ctx context.Context, videoID string, result Success) {
	if y.cache == nil {
		return
	}
	if err := y.cache.Set(ctx, videoID, result); err != nil {
		slog.Warn("failed to cache enrichment result", "video_id", videoID, "error", err)
	}
}

func nfc(s string) string {
	return norm.NFC.String(s)
}
