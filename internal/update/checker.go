package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds a single feed query.
const DefaultTimeout = 10 * time.Second

const (
	githubAPI        = "https://api.github.com"
	githubAcceptType = "application/vnd.github.v3+json"
	userAgent        = "appshell-update-checker"
)

var (
	ErrNetworkFailure = errors.New("network request failed")
	ErrRateLimited    = errors.New("rate limited by GitHub API")
	ErrInvalidVersion = errors.New("invalid version format")
)

// devVersions are build versions that never check for updates.
var devVersions = map[string]bool{"": true, "dev": true, "development": true}

// Checker asks GitHub for the latest release of one repository.
//
// The last release is kept with its ETag and reused when GitHub answers
// 304 Not Modified.
type Checker struct {
	ref           FeedReference
	httpClient    *http.Client
	detectInstall func() InstallMethod
	now           func() time.Time

	mu      sync.Mutex
	etag    string
	release *ReleaseInfo
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) CheckerOption {
	return func(c *Checker) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout. Apply it after WithHTTPClient.
func WithTimeout(timeout time.Duration) CheckerOption {
	return func(c *Checker) {
		c.httpClient.Timeout = timeout
	}
}

// NewChecker creates a Checker for ref.
func NewChecker(ref FeedReference, opts ...CheckerOption) *Checker {
	c := &Checker{
		ref: ref,
		httpClient: &http.Client{
			Transport: newFeedTransport(),
			Timeout:   DefaultTimeout,
		},
		detectInstall: DetectInstallMethod,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check compares currentVersion with the latest release. It returns
// (nil, nil) for development builds and versions that do not parse,
// which never update.
func (c *Checker) Check(ctx context.Context, currentVersion string) (*UpdateInfo, error) {
	if devVersions[strings.TrimSpace(currentVersion)] {
		return nil, nil
	}
	current, err := ParseVersion(currentVersion)
	if err != nil {
		return nil, nil
	}

	release, err := c.latestRelease(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := ParseVersion(release.TagName)
	if err != nil {
		return nil, fmt.Errorf("parse latest version: %w", err)
	}

	info := &UpdateInfo{
		CurrentVersion:  current,
		LatestVersion:   latest,
		UpdateAvailable: current.LessThan(latest),
		ReleaseURL:      release.HTMLURL,
		ReleaseNotes:    release.Body,
		PublishedAt:     release.PublishedAt,
		IsPrerelease:    release.Prerelease,
		CheckedAt:       c.now(),
		InstallMethod:   c.detectInstall(),
	}
	if asset, ok := findAsset(release.Assets); ok {
		info.AssetName = asset.Name
		info.DownloadURL = asset.BrowserDownloadURL
	}
	if sums, ok := findNamedAsset(release.Assets, checksumAssetName); ok {
		info.ChecksumURL = sums.BrowserDownloadURL
	}
	return info, nil
}

func (c *Checker) latestReleaseURL() string {
	return fmt.Sprintf("%s/repos/%s/%s/releases/latest", githubAPI, c.ref.Owner, c.ref.Repo)
}

// latestRelease fetches the release, reusing the cached copy on 304.
func (c *Checker) latestRelease(ctx context.Context) (*ReleaseInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.latestReleaseURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", githubAcceptType)
	req.Header.Set("User-Agent", userAgent)

	c.mu.Lock()
	etag, cached := c.etag, c.release
	c.mu.Unlock()
	if etag != "" && cached != nil {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		if cached != nil {
			return cached, nil
		}
		return nil, fmt.Errorf("%w: unexpected 304", ErrNetworkFailure)
	case http.StatusForbidden, http.StatusTooManyRequests:
		return nil, rateLimitError(resp.Header)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrNetworkFailure, resp.StatusCode)
	}

	var release ReleaseInfo
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.mu.Lock()
	c.etag = resp.Header.Get("ETag")
	c.release = &release
	c.mu.Unlock()
	return &release, nil
}

// rateLimitError reports when the limit resets if GitHub said so.
func rateLimitError(h http.Header) error {
	reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil || reset <= 0 {
		return ErrRateLimited
	}
	return fmt.Errorf("%w until %s", ErrRateLimited, time.Unix(reset, 0).UTC().Format(time.RFC3339))
}
