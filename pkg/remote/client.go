// Package remote wraps the git-hosting HTTP API that backs the spec
// repository: file create/update/delete commits, blob SHA lookups, and ref
// resolution. Every call is bounded by short timeouts and classified into a
// four-way outcome the push pipeline consumes verbatim.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Outcome classifies the result of one remote call. The taxonomy is
// deliberately not collapsed into a single error: the push pipeline maps
// each arm to a distinct HTTP status for the end client.
type Outcome int

// Outcomes.
const (
	// Success covers 2xx and 3xx responses.
	Success Outcome = iota
	// FailedOnOurSide covers 4xx responses: the request this server
	// constructed was wrong (conflict, bad auth).
	FailedOnOurSide
	// FailedOnTheirSide covers 5xx responses: a remote outage. The write
	// may still have landed; callers must treat the outcome as ambiguous.
	FailedOnTheirSide
	// FailedDueToTimeout means the remote did not answer inside the
	// window. Same ambiguity caveat as FailedOnTheirSide.
	FailedDueToTimeout
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case FailedOnOurSide:
		return "failed_on_our_side"
	case FailedOnTheirSide:
		return "failed_on_their_side"
	case FailedDueToTimeout:
		return "failed_due_to_timeout"
	}
	return "unknown"
}

// CommitResult is the classified result of one remote call.
type CommitResult struct {
	Outcome    Outcome
	StatusCode int
	SHA        string // Commit SHA reported by the remote on success.
	Body       string // Raw response body, kept for the log trail.
}

// Config configures the remote repository client.
type Config struct {
	BaseURL        string        // API base, e.g. "https://api.github.com".
	RepoOwner      string        // Owner of the spec repository.
	RepoName       string        // Name of the spec repository.
	Branch         string        // Branch commits land on. Default "master".
	AuthToken      string        // Bearer token for the API. Optional.
	ConnectTimeout time.Duration // Dial timeout. Default 3s.
	ReadTimeout    time.Duration // Overall request deadline. Default 7s.
}

// DefaultConfig returns the default remote client configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "https://api.github.com",
		Branch:         "master",
		ConnectTimeout: 3 * time.Second,
		ReadTimeout:    7 * time.Second,
	}
}

// ConfigFromEnv loads config from environment variables.
// TRUNK_REMOTE_BASE_URL, TRUNK_REMOTE_REPO_OWNER, TRUNK_REMOTE_REPO_NAME,
// TRUNK_REMOTE_BRANCH, TRUNK_REMOTE_AUTH_TOKEN
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if v := os.Getenv("TRUNK_REMOTE_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("TRUNK_REMOTE_REPO_OWNER"); v != "" {
		cfg.RepoOwner = v
	}
	if v := os.Getenv("TRUNK_REMOTE_REPO_NAME"); v != "" {
		cfg.RepoName = v
	}
	if v := os.Getenv("TRUNK_REMOTE_BRANCH"); v != "" {
		cfg.Branch = v
	}
	if v := os.Getenv("TRUNK_REMOTE_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	return cfg
}

// Client talks to the remote repository API. It is stateless per call and
// safe for concurrent use.
type Client struct {
	cfg    *Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a remote repository client.
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 3 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 7 * time.Second
	}
	if cfg.Branch == "" {
		cfg.Branch = "master"
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.ReadTimeout,
			// A renamed repository answers 301; one hop is followed, no more.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > 1 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		logger: logger,
	}
}

type commitAuthor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type commitRequest struct {
	Message   string       `json:"message"`
	Branch    string       `json:"branch"`
	SHA       string       `json:"sha,omitempty"`
	Content   string       `json:"content,omitempty"`
	Author    commitAuthor `json:"author"`
	Committer commitAuthor `json:"committer"`
}

// CreateFile commits content to path. With update set, the current blob SHA
// at the destination is resolved first (the remote API requires it for an
// update-in-place); an absent prior SHA degrades to create-new.
func (c *Client) CreateFile(ctx context.Context, path, content, message, authorName, authorEmail string, update bool) CommitResult {
	req := commitRequest{
		Message:   message,
		Branch:    c.cfg.Branch,
		Content:   base64.StdEncoding.EncodeToString([]byte(content)),
		Author:    commitAuthor{Name: authorName, Email: authorEmail},
		Committer: commitAuthor{Name: authorName, Email: authorEmail},
	}
	if update {
		if sha, ok := c.FileSHA(ctx, path); ok {
			req.SHA = sha
		}
	}
	return c.commit(ctx, http.MethodPut, path, req)
}

// DeleteFile removes the file at path. The remote API requires the current
// blob SHA of the file being deleted; an absent SHA still goes out and the
// remote answers 4xx, which classifies as FailedOnOurSide.
func (c *Client) DeleteFile(ctx context.Context, path, message, authorName, authorEmail string) CommitResult {
	req := commitRequest{
		Message:   message,
		Branch:    c.cfg.Branch,
		Author:    commitAuthor{Name: authorName, Email: authorEmail},
		Committer: commitAuthor{Name: authorName, Email: authorEmail},
	}
	if sha, ok := c.FileSHA(ctx, path); ok {
		req.SHA = sha
	}
	return c.commit(ctx, http.MethodDelete, path, req)
}

func (c *Client) commit(ctx context.Context, method, path string, body commitRequest) CommitResult {
	payload, err := json.Marshal(body)
	if err != nil {
		return CommitResult{Outcome: FailedOnOurSide, Body: err.Error()}
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		c.cfg.BaseURL, c.cfg.RepoOwner, c.cfg.RepoName, escapePath(path))
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return CommitResult{Outcome: FailedOnOurSide, Body: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			c.logger.Warn("remote commit timed out", "method", method, "path", path)
			return CommitResult{Outcome: FailedDueToTimeout, Body: err.Error()}
		}
		return CommitResult{Outcome: FailedOnTheirSide, Body: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	result := CommitResult{
		Outcome:    classify(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Body:       string(raw),
	}
	if result.Outcome == Success {
		result.SHA = commitSHAFromBody(raw)
	}
	return result
}

// FileSHA resolves the current blob SHA at path. The second return is false
// when the file is absent or the lookup failed.
func (c *Client) FileSHA(ctx context.Context, path string) (string, bool) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s",
		c.cfg.BaseURL, c.cfg.RepoOwner, c.cfg.RepoName, escapePath(path), url.QueryEscape(c.cfg.Branch))
	body, status, err := c.get(ctx, endpoint)
	if err != nil || status < 200 || status >= 300 {
		return "", false
	}
	var parsed struct {
		SHA string `json:"sha"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.SHA == "" {
		return "", false
	}
	return parsed.SHA, true
}

// FileContent fetches the decoded content of path at ref.
func (c *Client) FileContent(ctx context.Context, path, ref string) (string, CommitResult) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s",
		c.cfg.BaseURL, c.cfg.RepoOwner, c.cfg.RepoName, escapePath(path), url.QueryEscape(ref))
	body, status, err := c.get(ctx, endpoint)
	if err != nil {
		if isTimeout(err) {
			return "", CommitResult{Outcome: FailedDueToTimeout, Body: err.Error()}
		}
		return "", CommitResult{Outcome: FailedOnTheirSide, Body: err.Error()}
	}
	result := CommitResult{Outcome: classify(status), StatusCode: status, Body: string(body)}
	if result.Outcome != Success {
		return "", result
	}

	var parsed struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", CommitResult{Outcome: FailedOnOurSide, StatusCode: status, Body: err.Error()}
	}
	if parsed.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(parsed.Content, "\n", ""))
		if err != nil {
			return "", CommitResult{Outcome: FailedOnOurSide, StatusCode: status, Body: err.Error()}
		}
		return string(decoded), result
	}
	return parsed.Content, result
}

// RefSHA resolves a ref (tag, branch, or commit) of an arbitrary repository
// to its commit SHA. A renamed repository's single 301 hop is followed by
// the underlying client. The second return is false when the ref does not
// resolve.
func (c *Client) RefSHA(ctx context.Context, repoOwner, repoName, ref string) (string, bool) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/commits/%s",
		c.cfg.BaseURL, url.PathEscape(repoOwner), url.PathEscape(repoName), url.PathEscape(ref))
	body, status, err := c.get(ctx, endpoint)
	if err != nil || status < 200 || status >= 300 {
		return "", false
	}
	var parsed struct {
		SHA string `json:"sha"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.SHA == "" {
		return "", false
	}
	return parsed.SHA, true
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "token "+c.cfg.AuthToken)
	}
	req.Header.Set("Accept", "application/json")
}

// classify maps an HTTP status into the four-way outcome taxonomy.
func classify(status int) Outcome {
	switch {
	case status >= 200 && status < 400:
		return Success
	case status >= 400 && status < 500:
		return FailedOnOurSide
	default:
		return FailedOnTheirSide
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// http.Client wraps its deadline error in a *url.Error.
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}

// commitSHAFromBody pulls the commit sha out of a contents-API response.
func commitSHAFromBody(body []byte) string {
	var parsed struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.Commit.SHA
}

// escapePath escapes each path segment while keeping the separators.
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
