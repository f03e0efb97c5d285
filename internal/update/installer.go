package update

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"appshell/internal/logging"

	"github.com/sirupsen/logrus"
)

// ErrManagedInstall is returned when a package manager owns the binary.
var ErrManagedInstall = fmt.Errorf("installed by a package manager")

// Installer applies a downloaded update. QuitAndInstall terminates the
// running process and launches the new version in its place; it only
// returns when that did not happen.
type Installer interface {
	QuitAndInstall(ctx context.Context, info UpdateInfo) error
}

// RelaunchInstaller swaps the binary with an Updater and re-executes it.
type RelaunchInstaller struct {
	updater    *Updater
	beforeQuit func()
	relaunch   func(path string, argv, env []string) error
	argv       []string
	log        logrus.FieldLogger
}

// RelaunchOption configures a RelaunchInstaller.
type RelaunchOption func(*RelaunchInstaller)

// WithBeforeQuit runs fn after the new binary is in place and before the
// process is replaced. Use it to close windows and restore the terminal.
func WithBeforeQuit(fn func()) RelaunchOption {
	return func(r *RelaunchInstaller) {
		r.beforeQuit = fn
	}
}

// WithArgs sets the argument vector for the relaunched process.
func WithArgs(argv []string) RelaunchOption {
	return func(r *RelaunchInstaller) {
		r.argv = argv
	}
}

// NewRelaunchInstaller creates an installer backed by u.
func NewRelaunchInstaller(u *Updater, opts ...RelaunchOption) *RelaunchInstaller {
	r := &RelaunchInstaller{
		updater:  u,
		relaunch: execSelf,
		argv:     os.Args,
		log:      logging.For("installer"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// QuitAndInstall installs the staged binary and replaces the current
// process with it. If the relaunch fails the previous binary is restored.
func (r *RelaunchInstaller) QuitAndInstall(ctx context.Context, info UpdateInfo) error {
	if runtime.GOOS == "windows" {
		return ErrWindowsNoAutoUpdate
	}
	if info.InstallMethod == InstallHomebrew {
		return fmt.Errorf("%w: run 'brew upgrade %s'", ErrManagedInstall, BinaryName)
	}
	if info.StagedPath == "" {
		return fmt.Errorf("no staged binary for %s", info.LatestVersion)
	}

	path, err := r.updater.Install(ctx, info.StagedPath, info.LatestVersion.String())
	if err != nil {
		return err
	}

	if r.beforeQuit != nil {
		r.beforeQuit()
	}

	r.log.WithField("version", info.LatestVersion.String()).Info("relaunching into new version")
	if err := r.relaunch(path, r.argv, os.Environ()); err != nil {
		if rbErr := r.updater.Rollback(ctx); rbErr != nil {
			r.log.WithError(rbErr).Error("rollback after failed relaunch")
		}
		return fmt.Errorf("relaunch: %w", err)
	}
	return nil
}
