package update

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewChecker(t *testing.T) {
	c := NewChecker(testRef)
	if c.ref != testRef {
		t.Errorf("ref = %v, want %v", c.ref, testRef)
	}
	if c.httpClient == nil {
		t.Fatal("httpClient should not be nil")
	}
	if c.httpClient.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, DefaultTimeout)
	}
}

func TestNewCheckerWithOptions(t *testing.T) {
	customClient := &http.Client{Timeout: 10 * time.Second}
	c := NewChecker(testRef, WithHTTPClient(customClient), WithTimeout(time.Second))

	if c.httpClient != customClient {
		t.Error("custom HTTP client not applied")
	}
	if c.httpClient.Timeout != time.Second {
		t.Errorf("Timeout = %v, want 1s", c.httpClient.Timeout)
	}
}

// newTestChecker points a Checker at handler and stubs install detection.
func newTestChecker(t *testing.T, handler http.HandlerFunc) *Checker {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewChecker(testRef)
	c.httpClient = &http.Client{
		Transport: &rewriteTransport{
			base:      http.DefaultTransport,
			targetURL: server.URL,
		},
	}
	c.detectInstall = func() InstallMethod { return InstallDirect }
	return c
}

func serveRelease(t *testing.T, release ReleaseInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/owner/repo/releases/latest" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Accept"); got != "application/vnd.github.v3+json" {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(release)
	}
}

func TestCheckerCheck(t *testing.T) {
	published := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	release := ReleaseInfo{
		TagName:     "v2.0.0",
		Name:        "Release 2.0.0",
		Body:        "## Changes\n- faster startup",
		HTMLURL:     "https://github.com/owner/repo/releases/tag/v2.0.0",
		PublishedAt: published,
	}

	c := newTestChecker(t, serveRelease(t, release))
	info, err := c.Check(context.Background(), "1.0.0")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}

	if !info.UpdateAvailable {
		t.Error("UpdateAvailable should be true when latest > current")
	}
	if info.CurrentVersion.String() != "v1.0.0" {
		t.Errorf("CurrentVersion = %s, want v1.0.0", info.CurrentVersion)
	}
	if info.LatestVersion.String() != "v2.0.0" {
		t.Errorf("LatestVersion = %s, want v2.0.0", info.LatestVersion)
	}
	if info.ReleaseNotes != release.Body {
		t.Errorf("ReleaseNotes = %q, want %q", info.ReleaseNotes, release.Body)
	}
	if !info.PublishedAt.Equal(published) {
		t.Errorf("PublishedAt = %v, want %v", info.PublishedAt, published)
	}
	if info.InstallMethod != InstallDirect {
		t.Errorf("InstallMethod = %v, want direct", info.InstallMethod)
	}
	if info.CheckedAt.IsZero() {
		t.Error("CheckedAt should be set")
	}
}

func TestCheckerCheckNoUpdate(t *testing.T) {
	c := newTestChecker(t, serveRelease(t, ReleaseInfo{TagName: "v1.0.0"}))

	info, err := c.Check(context.Background(), "1.0.0")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if info.UpdateAvailable {
		t.Error("UpdateAvailable should be false when latest == current")
	}
}

func TestCheckerCheckNewerLocal(t *testing.T) {
	c := newTestChecker(t, serveRelease(t, ReleaseInfo{TagName: "v1.2.0"}))

	info, err := c.Check(context.Background(), "v1.3.0-rc.1")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if info.UpdateAvailable {
		t.Error("UpdateAvailable should be false when the running build is newer")
	}
}

func TestCheckerCheckDevVersion(t *testing.T) {
	c := newTestChecker(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("dev build reached the network: %s", r.URL.Path)
	})

	for _, version := range []string{"dev", "development", "", "invalid"} {
		info, err := c.Check(context.Background(), version)
		if err != nil {
			t.Errorf("Check(%q) unexpected error: %v", version, err)
		}
		if info != nil {
			t.Errorf("Check(%q) should return nil for dev version", version)
		}
	}
}

func TestCheckerCheckHTTPErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"forbidden", http.StatusForbidden, ErrRateLimited},
		{"too many requests", http.StatusTooManyRequests, ErrRateLimited},
		{"not found", http.StatusNotFound, ErrNetworkFailure},
		{"server error", http.StatusBadGateway, ErrNetworkFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestChecker(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := c.Check(context.Background(), "1.0.0")
			if !errors.Is(err, tt.want) {
				t.Fatalf("Check() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCheckerCheckBadTag(t *testing.T) {
	c := newTestChecker(t, serveRelease(t, ReleaseInfo{TagName: "nightly"}))

	_, err := c.Check(context.Background(), "1.0.0")
	if !errors.Is(err, ErrInvalidVersion) {
		t.Fatalf("Check() error = %v, want ErrInvalidVersion", err)
	}
}

func TestCheckerCheckCanceled(t *testing.T) {
	c := newTestChecker(t, serveRelease(t, ReleaseInfo{TagName: "v2.0.0"}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Check(ctx, "1.0.0")
	if !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("Check() error = %v, want ErrNetworkFailure", err)
	}
}

func TestInstallMethodString(t *testing.T) {
	tests := []struct {
		method InstallMethod
		want   string
	}{
		{InstallUnknown, "unknown"},
		{InstallHomebrew, "homebrew"},
		{InstallDirect, "direct"},
	}

	for _, tt := range tests {
		if got := tt.method.String(); got != tt.want {
			t.Errorf("InstallMethod(%d).String() = %q, want %q", tt.method, got, tt.want)
		}
	}
}

func platformAssetName() string {
	return "appshell_" + runtime.GOOS + "_" + runtime.GOARCH + ".tar.gz"
}

func TestFindAsset(t *testing.T) {
	assets := []ReleaseAsset{
		{Name: "checksums.txt", BrowserDownloadURL: "https://example.com/checksums"},
		{Name: "appshell_plan9_mips.tar.gz", BrowserDownloadURL: "https://example.com/plan9"},
		{Name: platformAssetName(), BrowserDownloadURL: "https://example.com/native"},
	}

	asset, ok := findAsset(assets)
	if !ok {
		t.Fatal("findAsset() found nothing")
	}
	if asset.BrowserDownloadURL != "https://example.com/native" {
		t.Errorf("findAsset() = %q, want the native asset", asset.BrowserDownloadURL)
	}
}

func TestFindAssetEmpty(t *testing.T) {
	if _, ok := findAsset(nil); ok {
		t.Error("findAsset(nil) should find nothing")
	}
	if _, ok := findAsset([]ReleaseAsset{{Name: "checksums.txt"}}); ok {
		t.Error("findAsset() should never return the checksum file")
	}
}

func TestBuildAssetPatterns(t *testing.T) {
	tests := []struct {
		os, arch string
		want     string
	}{
		{"darwin", "arm64", "darwin_arm64"},
		{"darwin", "arm64", "macos-aarch64"},
		{"linux", "amd64", "linux_x86_64"},
		{"linux", "amd64", "x64-linux"},
	}
	for _, tt := range tests {
		found := false
		for _, p := range buildAssetPatterns(tt.os, tt.arch) {
			if p == tt.want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("buildAssetPatterns(%q, %q) missing %q", tt.os, tt.arch, tt.want)
		}
	}
}

func TestCheckWithAssets(t *testing.T) {
	release := ReleaseInfo{
		TagName: "v2.0.0",
		Assets: []ReleaseAsset{
			{Name: "appshell_plan9_mips.tar.gz", BrowserDownloadURL: "https://example.com/plan9"},
			{Name: platformAssetName(), BrowserDownloadURL: "https://example.com/native"},
			{Name: "checksums.txt", BrowserDownloadURL: "https://example.com/checksums.txt"},
		},
	}

	c := newTestChecker(t, serveRelease(t, release))
	info, err := c.Check(context.Background(), "1.0.0")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if info.DownloadURL != "https://example.com/native" {
		t.Errorf("DownloadURL = %q", info.DownloadURL)
	}
	if info.AssetName != platformAssetName() {
		t.Errorf("AssetName = %q", info.AssetName)
	}
	if info.ChecksumURL != "https://example.com/checksums.txt" {
		t.Errorf("ChecksumURL = %q", info.ChecksumURL)
	}
}

// rewriteTransport rewrites request URLs for testing.
type rewriteTransport struct {
	base      http.RoundTripper
	targetURL string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.targetURL[7:] // strip "http://"
	return t.base.RoundTrip(req)
}

func TestCheckerReusesReleaseOnNotModified(t *testing.T) {
	var requests atomic.Int32
	c := newTestChecker(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("If-None-Match") == `"rel-2"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"rel-2"`)
		_ = json.NewEncoder(w).Encode(ReleaseInfo{TagName: "v2.0.0", Body: "notes"})
	})

	first, err := c.Check(context.Background(), "1.0.0")
	if err != nil {
		t.Fatalf("first Check() error: %v", err)
	}
	second, err := c.Check(context.Background(), "1.0.0")
	if err != nil {
		t.Fatalf("second Check() error: %v", err)
	}
	if n := requests.Load(); n != 2 {
		t.Fatalf("server saw %d requests, want 2", n)
	}
	if !second.UpdateAvailable || second.ReleaseNotes != first.ReleaseNotes {
		t.Fatalf("cached release not reused: %+v", second)
	}
}

func TestCheckerRateLimitReset(t *testing.T) {
	c := newTestChecker(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", "1777626000")
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := c.Check(context.Background(), "1.0.0")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Check() error = %v, want ErrRateLimited", err)
	}
	if want := "until 2026-05-01T09:00:00Z"; !strings.Contains(err.Error(), want) {
		t.Fatalf("Check() error = %q, want it to contain %q", err, want)
	}
}
