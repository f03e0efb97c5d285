package update

import (
	"context"
	"fmt"
	"sync"

	apperrors "appshell/internal/errors"
	"appshell/internal/logging"

	"github.com/sirupsen/logrus"
)

// ErrFeedNotConfigured is returned by CheckForUpdates before Configure.
var ErrFeedNotConfigured = fmt.Errorf("feed not configured")

// Downloader stages the artifact described by an UpdateInfo.
type Downloader interface {
	Download(ctx context.Context, info UpdateInfo) (string, error)
}

// GitHubFeed is the Feed backed by GitHub releases. Available updates
// are downloaded in the background when auto-download is on.
type GitHubFeed struct {
	eventHandlers

	currentVersion string
	downloader     Downloader
	autoDownload   bool
	checkerOpts    []CheckerOption
	log            logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	checker       *Checker
	downloading   string
	stagedVersion string
	stagedPath    string
}

// GitHubFeedOption configures a GitHubFeed.
type GitHubFeedOption func(*GitHubFeed)

// WithAutoDownload toggles background download of available updates.
func WithAutoDownload(enabled bool) GitHubFeedOption {
	return func(f *GitHubFeed) {
		f.autoDownload = enabled
	}
}

// WithCheckerOptions passes options to the Checker created by Configure.
func WithCheckerOptions(opts ...CheckerOption) GitHubFeedOption {
	return func(f *GitHubFeed) {
		f.checkerOpts = append(f.checkerOpts, opts...)
	}
}

// WithFeedLogger sets the logger.
func WithFeedLogger(l logrus.FieldLogger) GitHubFeedOption {
	return func(f *GitHubFeed) {
		f.log = l
	}
}

// NewGitHubFeed creates a feed that compares releases against currentVersion.
func NewGitHubFeed(currentVersion string, downloader Downloader, opts ...GitHubFeedOption) *GitHubFeed {
	ctx, cancel := context.WithCancel(context.Background())
	f := &GitHubFeed{
		currentVersion: currentVersion,
		downloader:     downloader,
		autoDownload:   true,
		log:            logging.For("feed"),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Configure points the feed at ref.
func (f *GitHubFeed) Configure(ref FeedReference) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checker = NewChecker(ref, f.checkerOpts...)
	return nil
}

// CheckForUpdates queries the latest release once and emits the outcome.
func (f *GitHubFeed) CheckForUpdates(ctx context.Context) error {
	f.mu.Lock()
	checker := f.checker
	f.mu.Unlock()
	if checker == nil {
		return ErrFeedNotConfigured
	}

	info, err := checker.Check(ctx, f.currentVersion)
	if err != nil {
		return apperrors.New(apperrors.CodeUpdateCheckFailed, "check for updates", err)
	}
	if info == nil {
		f.log.WithField("version", f.currentVersion).Debug("development build; treating as up to date")
		f.emitNotAvailable(UpdateInfo{})
		return nil
	}
	if !info.UpdateAvailable {
		f.emitNotAvailable(*info)
		return nil
	}

	f.emitAvailable(*info)
	if f.autoDownload && f.downloader != nil {
		f.startDownload(*info)
	}
	return nil
}

// startDownload stages info in the background. A version that is
// already staged is reported again without downloading; a version being
// downloaded is left alone.
func (f *GitHubFeed) startDownload(info UpdateInfo) {
	version := info.LatestVersion.String()

	f.mu.Lock()
	if f.stagedVersion == version {
		info.StagedPath = f.stagedPath
		f.mu.Unlock()
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.emitDownloaded(info)
		}()
		return
	}
	if f.downloading == version {
		f.mu.Unlock()
		return
	}
	f.downloading = version
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.log.WithField("version", version).Info("downloading update")
		path, err := f.downloader.Download(f.ctx, info)

		f.mu.Lock()
		f.downloading = ""
		if err == nil {
			f.stagedVersion = version
			f.stagedPath = path
		}
		f.mu.Unlock()

		if err != nil {
			f.emitError(apperrors.New(apperrors.CodeDownloadFailed, "download "+version, err))
			return
		}
		info.StagedPath = path
		f.emitDownloaded(info)
	}()
}

// Wait blocks until background downloads have finished.
func (f *GitHubFeed) Wait() {
	f.wg.Wait()
}

// Close cancels background downloads and waits for them.
func (f *GitHubFeed) Close() {
	f.cancel()
	f.wg.Wait()
}
