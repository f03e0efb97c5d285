package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"appshell/internal/bridge"
	apperrors "appshell/internal/errors"
	"appshell/internal/logging"
	"appshell/internal/shell"
	"appshell/internal/store"
	"appshell/internal/ui"
	"appshell/internal/update"

	"github.com/sirupsen/logrus"
)

// runDeps are the pieces run swaps out under test.
type runDeps struct {
	newWindow  func(ui.Config) (shell.Window, error)
	openLedger func(ctx context.Context, path string) (*store.Ledger, error)
	updater    []update.UpdaterOption
	feed       []update.GitHubFeedOption
	platform   string
}

func defaultRunDeps() runDeps {
	return runDeps{
		newWindow: func(cfg ui.Config) (shell.Window, error) {
			return ui.NewWindow(cfg)
		},
		openLedger: store.Open,
	}
}

func run(ctx context.Context, opts runtimeOptions) error {
	return runWithDeps(ctx, opts, defaultRunDeps())
}

func runWithDeps(ctx context.Context, opts runtimeOptions, deps runDeps) error {
	log := logging.For("main")
	log.WithFields(logrus.Fields{
		"version":  Version,
		"dev_mode": opts.devMode,
		"feed":     opts.feed.String(),
	}).Info("starting appshell")

	updaterOpts := append([]update.UpdaterOption{}, deps.updater...)
	ledger, err := deps.openLedger(ctx, opts.dbPath)
	if err != nil {
		log.WithError(err).Warn("install ledger unavailable; continuing without it")
	} else {
		defer func() { _ = ledger.Close() }()
		updaterOpts = append(updaterOpts, update.WithLedger(ledger))
	}
	updater := update.NewUpdater(opts.feed, updaterOpts...)

	feedOpts := append([]update.GitHubFeedOption{update.WithAutoDownload(opts.autoDownload)}, deps.feed...)
	feed := update.NewGitHubFeed(Version, updater, feedOpts...)
	defer feed.Close()

	b := bridge.New()
	if err := bridge.RegisterDefaults(b, Version); err != nil {
		return fmt.Errorf("register bridge handlers: %w", err)
	}
	api := bridge.NewAPI(b)

	hub := newStatusHub()
	factory := func() (shell.Window, error) {
		status, cancel := hub.Subscribe()
		w, err := deps.newWindow(ui.Config{
			API:          api,
			Status:       status,
			Initial:      hub.Last(),
			OutputFormat: opts.outputFormat,
			Version:      Version,
			AutoDownload: opts.autoDownload,
		})
		if err != nil {
			cancel()
			return nil, err
		}
		return &subscribedWindow{Window: w, cancel: cancel}, nil
	}
	var shellOpts []shell.Option
	if deps.platform != "" {
		shellOpts = append(shellOpts, shell.WithPlatform(deps.platform))
	}
	app := shell.New(factory, shellOpts...)

	installer := update.NewRelaunchInstaller(updater, update.WithBeforeQuit(app.Suspend))
	coord := update.NewCoordinator(feed, installer, opts.feed,
		update.WithDevelopmentMode(opts.devMode),
		update.WithInitialDelay(opts.initialDelay),
		update.WithInterval(opts.interval),
		update.WithStatusObserver(func(s update.Status) {
			hub.Publish(s)
			if s.Event == update.EventError && apperrors.IsCode(s.Err, apperrors.CodeInstallFailed) {
				go func() {
					if err := app.Resume(); err != nil {
						log.WithError(err).Error("reopen window after failed install")
					}
				}()
			}
		}),
	)
	if err := b.Handle(bridge.ChannelCheckForUpdates, func(context.Context, []any) (any, error) {
		return nil, coord.CheckNow()
	}); err != nil {
		return fmt.Errorf("register bridge handlers: %w", err)
	}

	if err := coord.Start(); err != nil {
		log.WithError(err).Error("auto-update unavailable")
	}
	defer coord.Stop()

	watchActivation(ctx, app.Activate, func(err error) {
		log.WithError(err).Warn("activation ignored")
	})

	return app.Run(ctx)
}

// runRollback restores the binary replaced by the most recent update.
func runRollback(ctx context.Context, w io.Writer, opts runtimeOptions) error {
	var updaterOpts []update.UpdaterOption
	if _, err := os.Stat(opts.dbPath); err == nil {
		ledger, err := store.Open(ctx, opts.dbPath)
		if err != nil {
			return err
		}
		defer func() { _ = ledger.Close() }()
		updaterOpts = append(updaterOpts, update.WithLedger(ledger))
	}
	if err := update.NewUpdater(opts.feed, updaterOpts...).Rollback(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, "Restored the previous version.")
	return nil
}
