package update

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	apperrors "appshell/internal/errors"

	logtest "github.com/sirupsen/logrus/hooks/test"
)

type fakeDownloader struct {
	mu      sync.Mutex
	calls   int
	path    string
	err     error
	release chan struct{}
}

func (d *fakeDownloader) Download(ctx context.Context, info UpdateInfo) (string, error) {
	d.mu.Lock()
	d.calls++
	release := d.release
	d.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return d.path, d.err
}

func (d *fakeDownloader) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// feedRecorder captures every event a feed emits.
type feedRecorder struct {
	mu           sync.Mutex
	available    []UpdateInfo
	notAvailable []UpdateInfo
	downloaded   []UpdateInfo
	errs         []error
}

func (r *feedRecorder) attach(f Feed) {
	f.OnUpdateAvailable(func(info UpdateInfo) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.available = append(r.available, info)
	})
	f.OnUpdateNotAvailable(func(info UpdateInfo) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.notAvailable = append(r.notAvailable, info)
	})
	f.OnUpdateDownloaded(func(info UpdateInfo) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.downloaded = append(r.downloaded, info)
	})
	f.OnError(func(err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.errs = append(r.errs, err)
	})
}

func newTestFeed(t *testing.T, current string, handler http.HandlerFunc, d Downloader, opts ...GitHubFeedOption) (*GitHubFeed, *feedRecorder) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := &http.Client{Transport: &rewriteTransport{base: http.DefaultTransport, targetURL: server.URL}}
	logger, _ := logtest.NewNullLogger()
	base := []GitHubFeedOption{WithCheckerOptions(WithHTTPClient(client)), WithFeedLogger(logger)}
	f := NewGitHubFeed(current, d, append(base, opts...)...)
	t.Cleanup(f.Close)
	if err := f.Configure(testRef); err != nil {
		t.Fatalf("Configure() error: %v", err)
	}

	rec := &feedRecorder{}
	rec.attach(f)
	return f, rec
}

func TestGitHubFeedRequiresConfigure(t *testing.T) {
	f := NewGitHubFeed("1.0.0", nil)
	defer f.Close()

	if err := f.CheckForUpdates(context.Background()); !errors.Is(err, ErrFeedNotConfigured) {
		t.Fatalf("CheckForUpdates() = %v, want ErrFeedNotConfigured", err)
	}
	if err := f.Configure(FeedReference{Provider: ProviderGitHub, Owner: "owner"}); !errors.Is(err, ErrInvalidFeed) {
		t.Fatalf("Configure() = %v, want ErrInvalidFeed", err)
	}
}

func TestGitHubFeedNotAvailable(t *testing.T) {
	d := &fakeDownloader{}
	f, rec := newTestFeed(t, "2.0.0", serveRelease(t, ReleaseInfo{TagName: "v2.0.0"}), d)

	if err := f.CheckForUpdates(context.Background()); err != nil {
		t.Fatalf("CheckForUpdates() error: %v", err)
	}
	f.Wait()

	if len(rec.notAvailable) != 1 || len(rec.available) != 0 {
		t.Fatalf("events: %d not-available, %d available", len(rec.notAvailable), len(rec.available))
	}
	if d.Calls() != 0 {
		t.Error("downloaded without an update")
	}
}

func TestGitHubFeedDevelopmentBuild(t *testing.T) {
	f, rec := newTestFeed(t, "dev", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("development build queried the feed: %s", r.URL.Path)
	}, &fakeDownloader{})

	if err := f.CheckForUpdates(context.Background()); err != nil {
		t.Fatalf("CheckForUpdates() error: %v", err)
	}
	if len(rec.notAvailable) != 1 {
		t.Fatalf("got %d not-available events, want 1", len(rec.notAvailable))
	}
}

func TestGitHubFeedDownloadsOnce(t *testing.T) {
	d := &fakeDownloader{path: "/tmp/appshell-update-1/appshell"}
	f, rec := newTestFeed(t, "1.0.0", serveRelease(t, ReleaseInfo{TagName: "v2.0.0", Body: "notes"}), d)

	if err := f.CheckForUpdates(context.Background()); err != nil {
		t.Fatalf("CheckForUpdates() error: %v", err)
	}
	f.Wait()

	if len(rec.available) != 1 {
		t.Fatalf("got %d available events, want 1", len(rec.available))
	}
	if rec.available[0].ReleaseNotes != "notes" {
		t.Errorf("ReleaseNotes = %q", rec.available[0].ReleaseNotes)
	}
	if len(rec.downloaded) != 1 || rec.downloaded[0].StagedPath != d.path {
		t.Fatalf("downloaded events = %+v", rec.downloaded)
	}

	// A second check for the same release reuses the staged artifact.
	if err := f.CheckForUpdates(context.Background()); err != nil {
		t.Fatalf("CheckForUpdates() error: %v", err)
	}
	f.Wait()

	if d.Calls() != 1 {
		t.Errorf("downloader called %d times, want 1", d.Calls())
	}
	if len(rec.downloaded) != 2 || rec.downloaded[1].StagedPath != d.path {
		t.Fatalf("downloaded events = %+v", rec.downloaded)
	}
}

func TestGitHubFeedSkipsDownloadInFlight(t *testing.T) {
	d := &fakeDownloader{path: "/tmp/staged", release: make(chan struct{})}
	f, rec := newTestFeed(t, "1.0.0", serveRelease(t, ReleaseInfo{TagName: "v2.0.0"}), d)

	for i := 0; i < 3; i++ {
		if err := f.CheckForUpdates(context.Background()); err != nil {
			t.Fatalf("CheckForUpdates() error: %v", err)
		}
	}
	close(d.release)
	f.Wait()

	if d.Calls() != 1 {
		t.Errorf("downloader called %d times, want 1", d.Calls())
	}
	if len(rec.available) != 3 {
		t.Errorf("got %d available events, want 3", len(rec.available))
	}
	if len(rec.downloaded) != 1 {
		t.Errorf("got %d downloaded events, want 1", len(rec.downloaded))
	}
}

func TestGitHubFeedDownloadError(t *testing.T) {
	d := &fakeDownloader{err: ErrChecksumMismatch}
	f, rec := newTestFeed(t, "1.0.0", serveRelease(t, ReleaseInfo{TagName: "v2.0.0"}), d)

	if err := f.CheckForUpdates(context.Background()); err != nil {
		t.Fatalf("CheckForUpdates() error: %v", err)
	}
	f.Wait()

	if len(rec.downloaded) != 0 {
		t.Fatal("downloaded emitted after a failed download")
	}
	if len(rec.errs) != 1 {
		t.Fatalf("got %d error events, want 1", len(rec.errs))
	}
	err := rec.errs[0]
	if !apperrors.IsCode(err, apperrors.CodeDownloadFailed) || !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("error = %v, want DownloadFailed wrapping the checksum mismatch", err)
	}
}

func TestGitHubFeedAutoDownloadDisabled(t *testing.T) {
	d := &fakeDownloader{path: "/tmp/staged"}
	f, rec := newTestFeed(t, "1.0.0", serveRelease(t, ReleaseInfo{TagName: "v2.0.0"}), d, WithAutoDownload(false))

	if err := f.CheckForUpdates(context.Background()); err != nil {
		t.Fatalf("CheckForUpdates() error: %v", err)
	}
	f.Wait()

	if len(rec.available) != 1 {
		t.Fatalf("got %d available events, want 1", len(rec.available))
	}
	if d.Calls() != 0 {
		t.Error("downloaded with auto-download disabled")
	}
}

func TestGitHubFeedCheckError(t *testing.T) {
	f, rec := newTestFeed(t, "1.0.0", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}, &fakeDownloader{})

	err := f.CheckForUpdates(context.Background())
	if !apperrors.IsCode(err, apperrors.CodeUpdateCheckFailed) || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("CheckForUpdates() = %v, want UpdateCheckFailed wrapping ErrRateLimited", err)
	}
	if len(rec.errs) != 0 || len(rec.available) != 0 || len(rec.notAvailable) != 0 {
		t.Error("a returned error should not also be emitted")
	}
}

func TestGitHubFeedCloseCancelsDownload(t *testing.T) {
	d := &fakeDownloader{release: make(chan struct{})}
	f, rec := newTestFeed(t, "1.0.0", serveRelease(t, ReleaseInfo{TagName: "v2.0.0"}), d)

	if err := f.CheckForUpdates(context.Background()); err != nil {
		t.Fatalf("CheckForUpdates() error: %v", err)
	}
	f.Close()

	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], context.Canceled) {
		t.Fatalf("errors after Close = %v, want the canceled download", rec.errs)
	}
}
