package update

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"appshell/internal/logging"
	"appshell/internal/store"

	"github.com/sirupsen/logrus"
)

// BinaryName is the executable name inside release archives.
const BinaryName = "appshell"

const stagingPrefix = "appshell-update-"

// Install and download failures.
var (
	ErrPermissionDenied    = fmt.Errorf("permission denied")
	ErrUnsupportedOS       = fmt.Errorf("unsupported operating system")
	ErrDownloadFailed      = fmt.Errorf("download failed")
	ErrExtractionFailed    = fmt.Errorf("extraction failed")
	ErrNoBackup            = fmt.Errorf("no backup found")
	ErrWindowsNoAutoUpdate = fmt.Errorf("auto-update not supported on Windows; please download manually")
)

// Ledger records installs so they can be rolled back.
type Ledger interface {
	RecordInstall(ctx context.Context, in store.Install) (store.Install, error)
	LatestInstall(ctx context.Context) (store.Install, error)
}

// Updater stages release artifacts and swaps them in for the running binary.
type Updater struct {
	ref        FeedReference
	httpClient *http.Client
	stagingDir string
	executable func() (string, error)
	ledger     Ledger
	log        logrus.FieldLogger
}

// UpdaterOption configures an Updater.
type UpdaterOption func(*Updater)

// WithUpdaterHTTPClient replaces the download client.
func WithUpdaterHTTPClient(client *http.Client) UpdaterOption {
	return func(u *Updater) {
		u.httpClient = client
	}
}

// WithStagingDir sets the parent directory for downloaded artifacts.
func WithStagingDir(dir string) UpdaterOption {
	return func(u *Updater) {
		u.stagingDir = dir
	}
}

// WithExecutable replaces the running executable as the install target.
func WithExecutable(path string) UpdaterOption {
	return func(u *Updater) {
		u.executable = func() (string, error) { return path, nil }
	}
}

// WithLedger records installs in l.
func WithLedger(l Ledger) UpdaterOption {
	return func(u *Updater) {
		u.ledger = l
	}
}

// WithUpdaterLogger sets the logger.
func WithUpdaterLogger(l logrus.FieldLogger) UpdaterOption {
	return func(u *Updater) {
		u.log = l
	}
}

// NewUpdater creates a new updater for the referenced feed.
func NewUpdater(ref FeedReference, opts ...UpdaterOption) *Updater {
	u := &Updater{
		ref: ref,
		httpClient: &http.Client{
			Transport: newFeedTransport(),
			Timeout:   0, // No timeout for downloads
		},
		executable: currentExecutable,
		log:        logging.For("installer"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Download fetches the release asset described by info, verifies it
// against the release checksums when published, and returns the path of
// the staged binary.
func (u *Updater) Download(ctx context.Context, info UpdateInfo) (string, error) {
	if info.DownloadURL == "" {
		return "", fmt.Errorf("%w: no release asset for %s/%s", ErrUnsupportedOS, runtime.GOOS, runtime.GOARCH)
	}
	assetName := info.AssetName
	if assetName == "" {
		assetName = BinaryName
	}

	tempDir, err := os.MkdirTemp(u.stagingDir, stagingPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(tempDir) }

	assetPath := filepath.Join(tempDir, filepath.Base(assetName))
	if err := u.fetchToFile(ctx, info.DownloadURL, assetPath); err != nil {
		cleanup()
		return "", err
	}

	if info.ChecksumURL != "" {
		if err := u.verifyAsset(ctx, info.ChecksumURL, assetName, assetPath); err != nil {
			cleanup()
			return "", err
		}
	}

	lower := strings.ToLower(assetName)
	if !strings.HasSuffix(lower, ".tar.gz") && !strings.HasSuffix(lower, ".tgz") {
		//nolint:gosec // G302: binary needs to be executable
		if err := os.Chmod(assetPath, 0755); err != nil {
			cleanup()
			return "", fmt.Errorf("chmod: %w", err)
		}
		return assetPath, nil
	}

	//nolint:gosec // G304: reading the archive we just wrote
	archive, err := os.Open(assetPath)
	if err != nil {
		cleanup()
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = archive.Close() }()

	extractDir := filepath.Join(tempDir, "extract")
	//nolint:gosec // G301: temp directory we control
	if err := os.MkdirAll(extractDir, 0755); err != nil {
		cleanup()
		return "", fmt.Errorf("create extract directory: %w", err)
	}
	binaryPath, err := extractTarball(archive, extractDir)
	if err != nil {
		cleanup()
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return binaryPath, nil
}

func (u *Updater) fetchToFile(ctx context.Context, url, dest string) error {
	body, err := u.get(ctx, url, "application/octet-stream")
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	//nolint:gosec // G304: destination is inside our staging directory
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(out, body); err != nil {
		_ = out.Close()
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return out.Close()
}

func (u *Updater) verifyAsset(ctx context.Context, checksumURL, assetName, assetPath string) error {
	body, err := u.get(ctx, checksumURL, "text/plain")
	if err != nil {
		return fmt.Errorf("fetch checksums: %w", err)
	}
	defer func() { _ = body.Close() }()

	sums, err := ParseChecksumFile(body)
	if err != nil {
		return err
	}
	expected, ok := sums[filepath.Base(assetName)]
	if !ok {
		return fmt.Errorf("%w: no checksum published for %s", ErrChecksumMismatch, assetName)
	}
	return VerifyChecksum(assetPath, expected)
}

func (u *Updater) get(ctx context.Context, url, accept string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", "appshell-updater")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}
	return resp.Body, nil
}

// Install atomically replaces the executable with the staged binary,
// keeping the previous one as <exe>.backup. Returns the installed path.
// On Windows it returns ErrWindowsNoAutoUpdate.
func (u *Updater) Install(ctx context.Context, stagedPath, version string) (string, error) {
	// a running .exe cannot be replaced
	if runtime.GOOS == "windows" {
		return "", ErrWindowsNoAutoUpdate
	}

	execPath, err := u.resolveExecutable()
	if err != nil {
		return "", err
	}

	// fail before touching anything if the directory is read-only
	if err := checkWritePermission(execPath); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	// Copy next to the executable so the final rename stays on one filesystem
	next := filepath.Join(filepath.Dir(execPath), "."+filepath.Base(execPath)+".new")
	if err := copyFile(stagedPath, next); err != nil {
		return "", fmt.Errorf("stage new binary: %w", err)
	}

	// keep the current binary as <exe>.backup
	backupPath := execPath + ".backup"
	_ = os.Remove(backupPath)
	if err := os.Rename(execPath, backupPath); err != nil {
		_ = os.Remove(next)
		return "", fmt.Errorf("backup current binary: %w", err)
	}

	// swap in the staged binary
	if err := os.Rename(next, execPath); err != nil {
		// put the old binary back
		_ = os.Rename(backupPath, execPath)
		_ = os.Remove(next)
		return "", fmt.Errorf("install new binary: %w", err)
	}

	if dir := filepath.Dir(stagedPath); strings.HasPrefix(filepath.Base(dir), stagingPrefix) {
		_ = os.RemoveAll(dir)
	} else if parent := filepath.Dir(dir); strings.HasPrefix(filepath.Base(parent), stagingPrefix) {
		_ = os.RemoveAll(parent)
	}

	if u.ledger != nil {
		if _, err := u.ledger.RecordInstall(ctx, store.Install{
			Version:        version,
			ExecutablePath: execPath,
			BackupPath:     backupPath,
		}); err != nil {
			u.log.WithError(err).Warn("install succeeded but was not recorded")
		}
	}

	u.log.WithFields(logrus.Fields{"version": version, "path": execPath}).Info("update installed")
	return execPath, nil
}

// Rollback puts back the binary replaced by the last install.
func (u *Updater) Rollback(ctx context.Context) error {
	execPath, backupPath, err := u.backupTarget(ctx)
	if err != nil {
		return err
	}
	if _, err := os.Stat(backupPath); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w at %s", ErrNoBackup, backupPath)
	}

	if err := os.Rename(backupPath, execPath); err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}

	u.log.WithField("path", execPath).Info("rolled back to previous binary")
	return nil
}

// HasBackup reports whether a backup of the executable exists.
func (u *Updater) HasBackup() bool {
	_, backupPath, err := u.backupTarget(context.Background())
	if err != nil {
		return false
	}
	_, err = os.Stat(backupPath)
	return err == nil
}

// CleanupBackup removes the backup once the new version is known good.
func (u *Updater) CleanupBackup() error {
	_, backupPath, err := u.backupTarget(context.Background())
	if err != nil {
		return err
	}
	if err := os.Remove(backupPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove backup: %w", err)
	}
	return nil
}

// backupTarget prefers the ledger's latest install and falls back to
// <exe>.backup next to the running executable.
func (u *Updater) backupTarget(ctx context.Context) (string, string, error) {
	if u.ledger != nil {
		latest, err := u.ledger.LatestInstall(ctx)
		if err == nil && latest.BackupPath != "" {
			return latest.ExecutablePath, latest.BackupPath, nil
		}
		if err != nil && !errors.Is(err, store.ErrNoInstalls) {
			return "", "", fmt.Errorf("read install ledger: %w", err)
		}
	}
	execPath, err := u.resolveExecutable()
	if err != nil {
		return "", "", err
	}
	return execPath, execPath + ".backup", nil
}

func (u *Updater) resolveExecutable() (string, error) {
	execPath, err := u.executable()
	if err != nil {
		return "", fmt.Errorf("get executable path: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return "", fmt.Errorf("resolve symlinks: %w", err)
	}
	return execPath, nil
}

func currentExecutable() (string, error) {
	return os.Executable()
}

// extractTarball extracts the binary from a .tar.gz archive and returns its path.
func extractTarball(r io.Reader, destDir string) (string, error) {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return "", fmt.Errorf("create gzip reader: %w", err)
	}
	defer func() { _ = gzr.Close() }()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read tar: %w", err)
		}

		// directories carry no binary
		if header.Typeflag == tar.TypeDir {
			continue
		}

		name := filepath.Base(header.Name)
		if name != BinaryName && name != BinaryName+".exe" {
			continue
		}

		destPath := filepath.Join(destDir, name)
		//nolint:gosec // G304: extracting to temp directory we control
		outFile, err := os.Create(destPath)
		if err != nil {
			return "", fmt.Errorf("create file: %w", err)
		}

		//nolint:gosec // G110: decompression bomb unlikely for known release assets
		if _, err := io.Copy(outFile, tr); err != nil {
			_ = outFile.Close()
			return "", fmt.Errorf("extract file: %w", err)
		}
		_ = outFile.Close()

		//nolint:gosec // G302: binary needs to be executable
		if err := os.Chmod(destPath, 0755); err != nil {
			return "", fmt.Errorf("chmod: %w", err)
		}
		return destPath, nil
	}

	return "", fmt.Errorf("binary not found in archive")
}

func copyFile(src, dst string) error {
	//nolint:gosec // G304: src is a staged artifact
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	//nolint:gosec // G302,G304: binary needs to be executable
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}

// checkWritePermission verifies the current process can write to the path.
func checkWritePermission(path string) error {
	dir := filepath.Dir(path)
	testFile := filepath.Join(dir, ".appshell-update-test")

	//nolint:gosec // G304: Path is constructed from known binary directory
	f, err := os.Create(testFile)
	if err != nil {
		return err
	}
	_ = f.Close()
	_ = os.Remove(testFile)
	return nil
}

// DetectInstallMethod determines how the application was installed.
func DetectInstallMethod() InstallMethod {
	execPath, err := os.Executable()
	if err != nil {
		return InstallUnknown
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return InstallUnknown
	}

	// Check for Homebrew installation
	if strings.Contains(execPath, "Cellar") || strings.Contains(execPath, "homebrew") {
		return InstallHomebrew
	}

	// Check if brew command recognizes it
	if isHomebrewInstalled() {
		return InstallHomebrew
	}

	return InstallDirect
}

// isHomebrewInstalled checks if the app is installed via Homebrew.
func isHomebrewInstalled() bool {
	if _, err := exec.LookPath("brew"); err != nil {
		return false
	}
	cmd := exec.Command("brew", "list", BinaryName)
	err := cmd.Run()
	return err == nil
}
