package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultYouTubeBaseURL hosts watch pages and caption tracks
const DefaultYouTubeBaseURL = "https://www.youtube.com"

const playerResponseMarker = "ytInitialPlayerResponse"

var (
	// ErrVideoUnavailable is returned when a watch page has no playable video
	ErrVideoUnavailable = errors.New("video unavailable")
	// ErrEmptyTranscript is returned for a caption track with no text in it
	ErrEmptyTranscript = errors.New("caption track is empty")
)

// VideoMetadata holds the fields read from a watch page
type VideoMetadata struct {
	VideoID         string `json:"video_id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Uploader        string `json:"uploader"`
	DurationSeconds int    `json:"duration_seconds"`
	UploadDate      string `json:"upload_date"`
	ViewCount       int64  `json:"view_count"`
}

// Track is one caption track advertised by the player
type Track struct {
	BaseURL      string `json:"base_url"`
	LanguageCode string `json:"language_code"`
	Name         string `json:"name"`
	Generated    bool   `json:"generated"`
}

// YouTubeClient reads video metadata and transcripts from public watch pages
type YouTubeClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewYouTubeClient creates a new YouTube client
func NewYouTubeClient(baseURL string, timeout time.Duration) *YouTubeClient {
	if baseURL == "" {
		baseURL = DefaultYouTubeBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &YouTubeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type watchPage struct {
	doc            *goquery.Document
	playerResponse gjson.Result
}

func (c *YouTubeClient) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; nomnom/1.0)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to youtube: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("youtube returned status %d", resp.StatusCode)
	}
	return resp, nil
}

func (c *YouTubeClient) fetchWatchPage(ctx context.Context, videoID string) (*watchPage, error) {
	watchURL := fmt.Sprintf("%s/watch?v=%s", c.baseURL, url.QueryEscape(videoID))
	resp, err := c.get(ctx, watchURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse watch page: %w", err)
	}

	page := &watchPage{doc: doc}
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw, ok := extractPlayerResponse(s.Text())
		if ok {
			page.playerResponse = gjson.ParseBytes(raw)
		}
		return !ok
	})
	return page, nil
}

// extractPlayerResponse pulls the JSON object assigned to
// ytInitialPlayerResponse out of an inline script body
func extractPlayerResponse(script string) (json.RawMessage, bool) {
	idx := strings.Index(script, playerResponseMarker)
	if idx < 0 {
		return nil, false
	}
	rest := script[idx+len(playerResponseMarker):]
	start := strings.IndexByte(rest, '{')
	if start < 0 {
		return nil, false
	}

	var raw json.RawMessage
	if err := json.NewDecoder(strings.NewReader(rest[start:])).Decode(&raw); err != nil {
		return nil, false
	}
	return raw, true
}

// Video is what a single watch page says about a video
type Video struct {
	Metadata VideoMetadata
	Tracks   []Track
}

// ResolveVideo fetches the watch page once and reads both the video details
// and the caption tracks it advertises. A video without captions has no
// Tracks and no error.
func (c *YouTubeClient) ResolveVideo(ctx context.Context, videoID string) (*Video, error) {
	tracer := otel.Tracer("nomnom")
	ctx, span := tracer.Start(ctx, "youtube.ResolveVideo")
	defer span.End()
	span.SetAttributes(attribute.String("youtube.video_id", videoID))

	page, err := c.fetchWatchPage(ctx, videoID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch watch page")
		return nil, err
	}

	var meta *VideoMetadata
	if page.playerResponse.Exists() {
		meta, err = metadataFromPlayerResponse(page.playerResponse)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("video %s: %w", videoID, err)
		}
	} else {
		meta = metadataFromMetaTags(page.doc)
	}

	if meta.Title == "" {
		span.SetStatus(codes.Error, "no title")
		return nil, fmt.Errorf("video %s: %w", videoID, ErrVideoUnavailable)
	}
	if meta.VideoID == "" {
		meta.VideoID = videoID
	}

	tracks := tracksFromPlayerResponse(page.playerResponse)
	span.SetAttributes(attribute.Int("youtube.track_count", len(tracks)))
	return &Video{Metadata: *meta, Tracks: tracks}, nil
}

func metadataFromPlayerResponse(pr gjson.Result) (*VideoMetadata, error) {
	if status := pr.Get("playabilityStatus.status").String(); status != "" && status != "OK" {
		reason := pr.Get("playabilityStatus.reason").String()
		if reason == "" {
			reason = status
		}
		return nil, fmt.Errorf("%w: %s", ErrVideoUnavailable, reason)
	}

	details := pr.Get("videoDetails")
	micro := pr.Get("microformat.playerMicroformatRenderer")

	uploadDate := micro.Get("uploadDate").String()
	if uploadDate == "" {
		uploadDate = micro.Get("publishDate").String()
	}

	return &VideoMetadata{
		VideoID:         details.Get("videoId").String(),
		Title:           details.Get("title").String(),
		Description:     details.Get("shortDescription").String(),
		Uploader:        details.Get("author").String(),
		DurationSeconds: int(details.Get("lengthSeconds").Int()),
		UploadDate:      uploadDate,
		ViewCount:       details.Get("viewCount").Int(),
	}, nil
}

func metadataFromMetaTags(doc *goquery.Document) *VideoMetadata {
	attr := func(selector string) string {
		v, _ := doc.Find(selector).First().Attr("content")
		return strings.TrimSpace(v)
	}

	meta := &VideoMetadata{
		VideoID:     attr(`meta[itemprop="videoId"], meta[itemprop="identifier"]`),
		Title:       attr(`meta[itemprop="name"]`),
		Description: attr(`meta[itemprop="description"]`),
		UploadDate:  attr(`meta[itemprop="uploadDate"]`),
	}
	if author, ok := doc.Find(`span[itemprop="author"] link[itemprop="name"]`).First().Attr("content"); ok {
		meta.Uploader = strings.TrimSpace(author)
	}
	meta.DurationSeconds = parseISODuration(attr(`meta[itemprop="duration"]`))
	meta.ViewCount, _ = strconv.ParseInt(attr(`meta[itemprop="interactionCount"]`), 10, 64)
	if meta.Title == "" {
		meta.Title = strings.TrimSpace(strings.TrimSuffix(doc.Find("title").First().Text(), "- YouTube"))
	}
	return meta
}

// parseISODuration converts the watch page's PT#H#M#S form into seconds
func parseISODuration(value string) int {
	value = strings.TrimPrefix(strings.ToUpper(value), "PT")
	if value == "" {
		return 0
	}

	total, num := 0, 0
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
			num = num*10 + int(r-'0')
		case r == 'H':
			total += num * 3600
			num = 0
		case r == 'M':
			total += num * 60
			num = 0
		case r == 'S':
			total += num
			num = 0
		default:
			return 0
		}
	}
	return total
}

func tracksFromPlayerResponse(pr gjson.Result) []Track {
	var tracks []Track
	pr.Get("captions.playerCaptionsTracklistRenderer.captionTracks").ForEach(func(_, track gjson.Result) bool {
		name := track.Get("name.simpleText").String()
		if name == "" {
			name = track.Get("name.runs.0.text").String()
		}
		tracks = append(tracks, Track{
			BaseURL:      track.Get("baseUrl").String(),
			LanguageCode: track.Get("languageCode").String(),
			Name:         name,
			Generated:    track.Get("kind").String() == "asr",
		})
		return true
	})
	return tracks
}

// FetchTrack downloads a caption track and joins its segments with single
// spaces. A track without any text returns ErrEmptyTranscript.
func (c *YouTubeClient) FetchTrack(ctx context.Context, track Track) (string, error) {
	tracer := otel.Tracer("nomnom")
	ctx, span := tracer.Start(ctx, "youtube.FetchTrack")
	defer span.End()
	span.SetAttributes(attribute.String("youtube.language", track.LanguageCode))

	target := track.BaseURL
	if strings.HasPrefix(target, "/") {
		target = c.baseURL + target
	}
	if target == "" {
		return "", errors.New("caption track has no url")
	}

	resp, err := c.get(ctx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch caption track")
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read caption track: %w", err)
	}

	segments, err := parseTimedText(body)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	span.SetAttributes(attribute.Int("youtube.segment_count", len(segments)))
	if len(segments) == 0 {
		return "", fmt.Errorf("%s track: %w", track.LanguageCode, ErrEmptyTranscript)
	}
	return strings.Join(segments, " "), nil
}

// parseTimedText reads both the legacy <transcript><text> layout and the
// srv3 <timedtext><body><p> layout
func parseTimedText(body []byte) ([]string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.Strict = false

	var segments []string
	var current strings.Builder
	depth := 0

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse caption track: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth > 0 {
				depth++
			} else if t.Name.Local == "text" || t.Name.Local == "p" {
				depth = 1
				current.Reset()
			}
		case xml.CharData:
			if depth > 0 {
				current.Write(t)
			}
		case xml.EndElement:
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				// Captions arrive double-escaped; xml decoding removes one layer
				text := strings.Join(strings.Fields(html.UnescapeString(current.String())), " ")
				if text != "" {
					segments = append(segments, text)
				}
			}
		}
	}
	return segments, nil
}

// SelectTrack picks the best track for the languages, in priority order
func SelectTrack(tracks []Track, languages ...string) (Track, bool) {
	for _, lang := range languages {
		lang = strings.ToLower(lang)
		for _, generated := range []bool{false, true} {
			for _, track := range tracks {
				if track.Generated != generated {
					continue
				}
				code := strings.ToLower(track.LanguageCode)
				if code == lang || strings.HasPrefix(code, lang+"-") {
					return track, true
				}
			}
		}
	}
	return Track{}, false
}
