package spec

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RefResolver resolves a repository ref to a commit SHA. Satisfied by
// remote.Client.
type RefResolver interface {
	RefSHA(ctx context.Context, repoOwner, repoName, ref string) (string, bool)
}

// ReachabilityChecker verifies that a spec's declared source can actually
// be fetched.
type ReachabilityChecker struct {
	refs       RefResolver
	httpClient *http.Client
}

// httpCheckTimeout is the hard ceiling on http source probes.
const httpCheckTimeout = 5 * time.Second

// NewReachabilityChecker creates a checker. refs handles GitHub-hosted git
// sources; plain http sources are probed directly.
func NewReachabilityChecker(refs RefResolver) *ReachabilityChecker {
	return &ReachabilityChecker{
		refs: refs,
		httpClient: &http.Client{
			Timeout: httpCheckTimeout,
		},
	}
}

// SourceReachable reports whether the spec's source resolves. A spec with
// no source fields is vacuously reachable; lint is what rejects that.
func (c *ReachabilityChecker) SourceReachable(ctx context.Context, s *Specification) bool {
	switch {
	case s.HTTPSource() != "":
		return c.httpReachable(ctx, s.HTTPSource())
	case s.GitSource() != "":
		return c.gitReachable(ctx, s)
	case s.HgSource() != "":
		// No remote probe for hg; the injection guard is the whole check.
		return safeVCSURL(s.HgSource())
	default:
		return true
	}
}

func (c *ReachabilityChecker) httpReachable(ctx context.Context, rawURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, httpCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

func (c *ReachabilityChecker) gitReachable(ctx context.Context, s *Specification) bool {
	gitURL := s.GitSource()
	if !safeVCSURL(gitURL) {
		return false
	}

	repoOwner, repoName, ok := parseGitHubURL(gitURL)
	if !ok {
		// Non-GitHub git hosting is taken at its word.
		return true
	}

	ref := "HEAD"
	switch {
	case s.GitCommit() != "":
		ref = s.GitCommit()
	case s.GitTag() != "":
		ref = s.GitTag()
	case s.GitBranch() != "":
		ref = s.GitBranch()
	}

	_, found := c.refs.RefSHA(ctx, repoOwner, repoName, ref)
	return found
}

// safeVCSURL rejects URLs that could smuggle flags into a subordinate VCS
// invocation: a leading "--" or one preceded by a space.
func safeVCSURL(rawURL string) bool {
	if strings.HasPrefix(rawURL, "--") {
		return false
	}
	if strings.Contains(rawURL, " --") {
		return false
	}
	return true
}

// parseGitHubURL extracts owner and repo from a github.com git URL.
func parseGitHubURL(rawURL string) (owner, repo string, ok bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", false
	}
	host := strings.ToLower(parsed.Hostname())
	if host != "github.com" && host != "www.github.com" {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}
