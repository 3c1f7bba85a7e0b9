package content

import (
	"net/url"
	"strings"
)

// Type identifies what kind of content a submission holds
type Type string

const (
	TypeRedditThread   Type = "reddit_thread"
	TypeGitHub         Type = "github"
	TypeYouTubeVideo   Type = "youtube_video"
	TypeGenericArticle Type = "generic_article"
	TypePlaceholder    Type = "placeholder"
)

var knownTypes = map[Type]bool{
	TypeRedditThread:   true,
	TypeGitHub:         true,
	TypeYouTubeVideo:   true,
	TypeGenericArticle: true,
	TypePlaceholder:    true,
}

// Valid reports whether t is one of the known content types
func (t Type) Valid() bool {
	return knownTypes[t]
}

// Classify reads the "type" field of client supplied metadata.
// Missing or unknown values map to TypePlaceholder so new client types are
// stored rather than rejected.
func Classify(metadata map[string]interface{}) Type {
	raw, ok := metadata["type"].(string)
	if !ok {
		return TypePlaceholder
	}
	t := Type(raw)
	if !t.Valid() {
		return TypePlaceholder
	}
	return t
}

// IsRedditDomain reports whether domain is reddit.com or one of its subdomains
func IsRedditDomain(domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return domain == "reddit.com" || strings.HasSuffix(domain, ".reddit.com")
}

// IsRedditPost reports whether a Reddit URL points at a post rather than a
// listing or navigation page.
func IsRedditPost(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	for _, segment := range strings.Split(parsed.Path, "/") {
		if segment == "comments" {
			return true
		}
	}
	return false
}

// VideoID resolves the YouTube video ID for a submission. The client's
// metadata.video_id wins; otherwise the ID is taken from the URL.
func VideoID(rawURL string, metadata map[string]interface{}) string {
	if id, ok := metadata["video_id"].(string); ok && strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	segments := pathSegments(parsed.Path)

	switch host {
	case "youtu.be":
		if len(segments) > 0 {
			return segments[0]
		}
	case "youtube.com", "music.youtube.com":
		if len(segments) == 1 && segments[0] == "watch" {
			return parsed.Query().Get("v")
		}
		if len(segments) >= 2 && (segments[0] == "shorts" || segments[0] == "embed" || segments[0] == "live") {
			return segments[1]
		}
	}
	return ""
}

func pathSegments(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
