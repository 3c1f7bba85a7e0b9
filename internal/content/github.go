package content

import (
	"fmt"
	"net/url"
	"strings"
)

// GitHubDomain is the submission domain routed to the GitHub flow
const GitHubDomain = "github.com"

// blockedPrefixes are first path segments that are GitHub navigation pages,
// never owner names.
var blockedPrefixes = map[string]bool{
	"orgs":          true,
	"users":         true,
	"features":      true,
	"marketplace":   true,
	"settings":      true,
	"notifications": true,
	"dashboard":     true,
	"explore":       true,
	"pulls":         true,
	"issues":        true,
	"sponsors":      true,
}

// Repo is a canonicalized GitHub repository reference
type Repo struct {
	URL   string
	Owner string
	Name  string
}

// NormalizeGitHubURL projects any URL inside a repository onto
// https://github.com/{owner}/{repo}. Sub-paths, query strings and fragments
// are dropped. The second return value is false for anything that is not a
// repository.
func NormalizeGitHubURL(rawURL string) (Repo, bool) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Repo{}, false
	}

	host := strings.ToLower(parsed.Hostname())
	if host != GitHubDomain && host != "www."+GitHubDomain {
		return Repo{}, false
	}

	segments := pathSegments(parsed.Path)
	if len(segments) < 2 {
		return Repo{}, false
	}
	if blockedPrefixes[strings.ToLower(segments[0])] {
		return Repo{}, false
	}

	owner, name := segments[0], segments[1]
	return Repo{
		URL:   fmt.Sprintf("https://github.com/%s/%s", owner, name),
		Owner: owner,
		Name:  name,
	}, true
}

// FullName returns "owner/repo"
func (r Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

// IsGitHubDomain reports whether a submission domain belongs to the GitHub flow
func IsGitHubDomain(domain string) bool {
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
	return domain == GitHubDomain
}
