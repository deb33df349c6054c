package gateways

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ochairo/kiln/internal/domain/interfaces"
	"github.com/ochairo/kiln/internal/domain/interfaces/gateways"
)

const (
	// DefaultGitHubAPIURL is the public GitHub REST endpoint
	DefaultGitHubAPIURL = "https://api.github.com"
	// githubAPIVersion pins the REST API contract
	githubAPIVersion = "2022-11-28"

	initialBackoff = 1 * time.Second
	maxBackoff     = 32 * time.Second
)

// HTTPGitHubGateway implements gateways.ReleaseGateway over the GitHub REST API
type HTTPGitHubGateway struct {
	client     *http.Client
	token      string
	userAgent  string
	baseURL    string
	maxRetries int
	sleep      func(time.Duration)
	logger     interfaces.Logger
}

// GitHubOption configures an HTTPGitHubGateway
type GitHubOption func(*HTTPGitHubGateway)

// WithBaseURL points the gateway at another API root (GitHub Enterprise, tests)
func WithBaseURL(baseURL string) GitHubOption {
	return func(g *HTTPGitHubGateway) {
		if baseURL != "" {
			g.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithRetries enables retrying transient failures with exponential backoff.
// The pipeline runs with zero retries unless asked otherwise.
func WithRetries(n int) GitHubOption {
	return func(g *HTTPGitHubGateway) {
		if n >= 0 {
			g.maxRetries = n
		}
	}
}

// WithGitHubLogger sets the logger used for rate-limit warnings
func WithGitHubLogger(logger interfaces.Logger) GitHubOption {
	return func(g *HTTPGitHubGateway) {
		g.logger = logger
	}
}

// NewHTTPGitHubGateway creates a new GitHub gateway with HTTP client
func NewHTTPGitHubGateway(token string, opts ...GitHubOption) *HTTPGitHubGateway {
	g := &HTTPGitHubGateway{
		client: &http.Client{
			Timeout: 30 * time.Minute, // toolchain archives are large
		},
		token:     token,
		userAgent: "kiln/1.0",
		baseURL:   DefaultGitHubAPIURL,
		sleep:     time.Sleep,
		logger:    &interfaces.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// checkRateLimit returns an error when the API quota is exhausted
func (g *HTTPGitHubGateway) checkRateLimit(resp *http.Response) error {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return nil
	}

	remainingInt, err := strconv.Atoi(remaining)
	if err != nil {
		return nil
	}

	if remainingInt == 0 {
		resetTime := resp.Header.Get("X-RateLimit-Reset")
		if resetTime != "" {
			if resetUnix, err := strconv.ParseInt(resetTime, 10, 64); err == nil {
				resetAt := time.Unix(resetUnix, 0)
				return fmt.Errorf("GitHub API rate limit exceeded (0 remaining), resets at %s", resetAt.Format(time.RFC3339))
			}
		}
		return fmt.Errorf("GitHub API rate limit exceeded (0 remaining)")
	}

	if remainingInt <= 10 {
		g.logger.Warn("GitHub API rate limit low", interfaces.F("remaining", remainingInt))
	}

	return nil
}

// isRetryableError checks if an HTTP status code is retryable
func isRetryableError(statusCode int) bool {
	switch statusCode {
	case http.StatusForbidden, // 403 - secondary rate limit
		http.StatusTooManyRequests,     // 429
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return true
	default:
		return false
	}
}

// calculateBackoff returns the backoff duration for a retry attempt
func calculateBackoff(attempt int) time.Duration {
	backoff := float64(initialBackoff) * math.Pow(2, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

// doWithRetry executes the request built by newReq. newReq is called once per
// attempt so that request bodies can be rewound.
func (g *HTTPGitHubGateway) doWithRetry(ctx context.Context, retries int, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			g.sleep(calculateBackoff(attempt - 1))
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, err
		}

		resp, err := g.client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}

		if rateLimitErr := g.checkRateLimit(resp); rateLimitErr != nil {
			//nolint:errcheck,gosec // G104: Best effort close on rate limit error
			resp.Body.Close()
			return nil, rateLimitErr
		}

		if !isRetryableError(resp.StatusCode) || attempt == retries {
			return resp, nil
		}

		//nolint:errcheck,gosec // G104: Best effort close before retry
		resp.Body.Close()
		lastErr = fmt.Errorf("status %d", resp.StatusCode)
	}

	return nil, lastErr
}

func (g *HTTPGitHubGateway) setHeaders(req *http.Request) {
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	req.Header.Set("User-Agent", g.userAgent)
}

// doJSON sends an optional JSON payload and decodes the response into out
// when the status matches want.
func (g *HTTPGitHubGateway) doJSON(ctx context.Context, method, endpoint string, payload interface{}, want int, out interface{}) (int, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	resp, err := g.doWithRetry(ctx, g.maxRetries, func() (*http.Request, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, g.baseURL+endpoint, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		g.setHeaders(req)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return 0, err
	}
	//nolint:errcheck // Defer close on HTTP response body
	defer resp.Body.Close()

	if resp.StatusCode != want {
		bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return resp.StatusCode, fmt.Errorf("status %d (failed to read response)", resp.StatusCode)
		}
		return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// githubRelease represents the GitHub API release format
type githubRelease struct {
	ID          int64  `json:"id,omitempty"`
	TagName     string `json:"tag_name"`
	Name        string `json:"name"`
	Body        string `json:"body"`
	Draft       bool   `json:"draft"`
	Prerelease  bool   `json:"prerelease"`
	CreatedAt   string `json:"created_at,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
	HTMLURL     string `json:"html_url,omitempty"`
	UploadURL   string `json:"upload_url,omitempty"`
}

func (r githubRelease) toDomain() *gateways.GitHubRelease {
	return &gateways.GitHubRelease{
		ID:          r.ID,
		TagName:     r.TagName,
		Name:        r.Name,
		Body:        r.Body,
		Draft:       r.Draft,
		Prerelease:  r.Prerelease,
		CreatedAt:   r.CreatedAt,
		PublishedAt: r.PublishedAt,
		HTMLURL:     r.HTMLURL,
		UploadURL:   r.UploadURL,
	}
}

func fromDomainRelease(r *gateways.GitHubRelease) githubRelease {
	return githubRelease{
		TagName:    r.TagName,
		Name:       r.Name,
		Body:       r.Body,
		Draft:      r.Draft,
		Prerelease: r.Prerelease,
	}
}

// githubAsset represents a GitHub release asset
type githubAsset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Label              string `json:"label"`
	State              string `json:"state"`
	Size               int64  `json:"size"`
	DownloadCount      int    `json:"download_count"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

func (a githubAsset) toDomain() *gateways.GitHubAsset {
	return &gateways.GitHubAsset{
		ID:                 a.ID,
		Name:               a.Name,
		Label:              a.Label,
		State:              a.State,
		Size:               a.Size,
		DownloadCount:      a.DownloadCount,
		BrowserDownloadURL: a.BrowserDownloadURL,
	}
}

// ListReleases lists the newest releases of a repository
func (g *HTTPGitHubGateway) ListReleases(ctx context.Context, owner, repo string) ([]*gateways.GitHubRelease, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/releases?per_page=100", url.PathEscape(owner), url.PathEscape(repo))

	var apiReleases []githubRelease
	if _, err := g.doJSON(ctx, http.MethodGet, endpoint, nil, http.StatusOK, &apiReleases); err != nil {
		return nil, fmt.Errorf("failed to list releases: %w", err)
	}

	releases := make([]*gateways.GitHubRelease, len(apiReleases))
	for i, r := range apiReleases {
		releases[i] = r.toDomain()
	}
	return releases, nil
}

// GetRelease retrieves a release by tag name
func (g *HTTPGitHubGateway) GetRelease(ctx context.Context, owner, repo, tag string) (*gateways.GitHubRelease, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/releases/tags/%s", url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(tag))

	var result githubRelease
	status, err := g.doJSON(ctx, http.MethodGet, endpoint, nil, http.StatusOK, &result)
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", gateways.ErrReleaseNotFound, tag)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get release: %w", err)
	}
	return result.toDomain(), nil
}

// CreateRelease creates a new GitHub release
func (g *HTTPGitHubGateway) CreateRelease(ctx context.Context, owner, repo string, release *gateways.GitHubRelease) (*gateways.GitHubRelease, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/releases", url.PathEscape(owner), url.PathEscape(repo))

	var result githubRelease
	if _, err := g.doJSON(ctx, http.MethodPost, endpoint, fromDomainRelease(release), http.StatusCreated, &result); err != nil {
		return nil, fmt.Errorf("failed to create release: %w", err)
	}
	return result.toDomain(), nil
}

// UpdateRelease edits an existing release identified by release.ID
func (g *HTTPGitHubGateway) UpdateRelease(ctx context.Context, owner, repo string, release *gateways.GitHubRelease) (*gateways.GitHubRelease, error) {
	if release.ID == 0 {
		return nil, errors.New("failed to update release: missing release ID")
	}
	endpoint := fmt.Sprintf("/repos/%s/%s/releases/%d", url.PathEscape(owner), url.PathEscape(repo), release.ID)

	var result githubRelease
	if _, err := g.doJSON(ctx, http.MethodPatch, endpoint, fromDomainRelease(release), http.StatusOK, &result); err != nil {
		return nil, fmt.Errorf("failed to update release: %w", err)
	}
	return result.toDomain(), nil
}

// ListReleaseAssets lists all assets for a release
func (g *HTTPGitHubGateway) ListReleaseAssets(ctx context.Context, owner, repo string, releaseID int64) ([]*gateways.GitHubAsset, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/releases/%d/assets?per_page=100", url.PathEscape(owner), url.PathEscape(repo), releaseID)

	var results []githubAsset
	if _, err := g.doJSON(ctx, http.MethodGet, endpoint, nil, http.StatusOK, &results); err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}

	assets := make([]*gateways.GitHubAsset, len(results))
	for i, a := range results {
		assets[i] = a.toDomain()
	}
	return assets, nil
}

// DeleteAsset removes a release asset
func (g *HTTPGitHubGateway) DeleteAsset(ctx context.Context, owner, repo string, assetID int64) error {
	endpoint := fmt.Sprintf("/repos/%s/%s/releases/assets/%d", url.PathEscape(owner), url.PathEscape(repo), assetID)

	if _, err := g.doJSON(ctx, http.MethodDelete, endpoint, nil, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("failed to delete asset %d: %w", assetID, err)
	}
	return nil
}

// UploadAsset streams content to a release. Content that can seek is rewound
// between retries; anything else is sent exactly once.
func (g *HTTPGitHubGateway) UploadAsset(ctx context.Context, uploadURL, filename string, content io.Reader) (*gateways.GitHubAsset, error) {
	// GitHub returns URLs like: https://uploads.github.com/.../assets{?name,label}
	baseURL := strings.Split(uploadURL, "{")[0]

	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid upload URL: %q", uploadURL)
	}
	if parsed.Host == "api.github.com" {
		parsed.Host = "uploads.github.com"
	}
	query := parsed.Query()
	query.Set("name", filename)
	parsed.RawQuery = query.Encode()
	target := parsed.String()

	size := int64(-1)
	switch c := content.(type) {
	case *os.File:
		if info, err := c.Stat(); err == nil {
			size = info.Size()
		}
	case interface{ Len() int }:
		size = int64(c.Len())
	}

	seeker, canRewind := content.(io.Seeker)
	retries := g.maxRetries
	if !canRewind {
		retries = 0
	}

	attempt := 0
	resp, err := g.doWithRetry(ctx, retries, func() (*http.Request, error) {
		if attempt > 0 {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return nil, fmt.Errorf("failed to rewind upload: %w", err)
			}
		}
		attempt++

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, io.NopCloser(content))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		g.setHeaders(req)
		req.Header.Set("Content-Type", "application/octet-stream")
		if size >= 0 {
			req.ContentLength = size
			if size == 0 {
				req.Body = http.NoBody
			}
		}
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload asset: %w", err)
	}
	//nolint:errcheck // Defer close on HTTP response body
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return nil, fmt.Errorf("failed to upload asset: status %d (failed to read response)", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to upload asset: status %d: %s (URL: %s)", resp.StatusCode, strings.TrimSpace(string(bodyBytes)), target)
	}

	var result githubAsset
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.toDomain(), nil
}
