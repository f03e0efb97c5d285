package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"appshell/internal/config"
	"appshell/internal/logging"
	"appshell/internal/store"
	"appshell/internal/update"

	"github.com/spf13/pflag"
)

func main() {
	os.Exit(runMain(os.Args[1:], os.Stdout, os.Stderr))
}

func runMain(args []string, stdout, stderr io.Writer) int {
	if err := config.Initialize(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error initializing config: %v\n", err)
		return 1
	}

	fs, flags := newFlagSet()
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		fs.Usage()
		return 2
	}

	if flags.version {
		printVersion(stdout)
		return 0
	}

	if err := config.ApplyOverrides(collectOverrides(fs, flags)); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error applying flags: %v\n", err)
		return 1
	}
	opts, err := computeRuntimeOptions()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := logging.Init(opts.debug); err != nil {
		_, _ = fmt.Fprintf(stderr, "Warning: logging disabled: %v\n", err)
	}
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.rollback {
		if err := runRollback(ctx, stdout, opts); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if err := run(ctx, opts); err != nil {
		logging.Logger().WithError(err).Error("appshell exited with error")
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type cliFlags struct {
	version        bool
	rollback       bool
	debug          bool
	dev            bool
	feedOwner      string
	feedRepo       string
	initialDelay   time.Duration
	interval       time.Duration
	noAutoDownload bool
	outputFormat   string
	dbPath         string
}

func newFlagSet() (*pflag.FlagSet, *cliFlags) {
	fs := pflag.NewFlagSet("appshell", pflag.ContinueOnError)
	fs.Usage = func() {
		_, _ = fmt.Fprintln(fs.Output(), "Usage: appshell [flags]")
		fs.PrintDefaults()
	}
	f := &cliFlags{}
	fs.BoolVar(&f.version, "version", false, "Print version information and exit")
	fs.BoolVar(&f.rollback, "rollback", false, "Restore the binary replaced by the last update and exit")
	fs.BoolVar(&f.debug, "debug", config.GetBool(config.KeyDebug), "Write debug-level entries to the log file")
	fs.BoolVar(&f.dev, "dev", config.DevelopmentMode(), "Run in development mode (disables auto-update)")
	fs.StringVar(&f.feedOwner, "feed-owner", config.GetString(config.KeyFeedOwner), "GitHub owner of the release feed")
	fs.StringVar(&f.feedRepo, "feed-repo", config.GetString(config.KeyFeedRepo), "GitHub repository of the release feed")
	fs.DurationVar(&f.initialDelay, "initial-delay", config.GetDuration(config.KeyUpdateInitialDelay), "Delay before the first update check")
	fs.DurationVar(&f.interval, "interval", config.GetDuration(config.KeyUpdateInterval), "Interval between update checks")
	fs.BoolVar(&f.noAutoDownload, "no-auto-download", !config.GetBool(config.KeyUpdateAutoDownload), "Report updates without downloading them")
	fs.StringVar(&f.outputFormat, "output-format", config.GetString(config.KeyOutputFormat), "Release notes style (rich, light, plain)")
	fs.StringVar(&f.dbPath, "db-path", config.GetString(config.KeyDatabasePath), "Path to the install ledger database")
	return fs, f
}

// collectOverrides maps explicitly set flags onto config keys so flags
// win over config files and the environment.
func collectOverrides(fs *pflag.FlagSet, f *cliFlags) map[string]any {
	overrides := map[string]any{}
	if fs.Changed("debug") {
		overrides[config.KeyDebug] = f.debug
	}
	if fs.Changed("dev") {
		env := config.EnvironmentProduction
		if f.dev {
			env = config.EnvironmentDevelopment
		}
		overrides[config.KeyEnvironment] = env
	}
	if fs.Changed("feed-owner") {
		overrides[config.KeyFeedOwner] = strings.TrimSpace(f.feedOwner)
	}
	if fs.Changed("feed-repo") {
		overrides[config.KeyFeedRepo] = strings.TrimSpace(f.feedRepo)
	}
	if fs.Changed("initial-delay") {
		overrides[config.KeyUpdateInitialDelay] = f.initialDelay
	}
	if fs.Changed("interval") {
		overrides[config.KeyUpdateInterval] = f.interval
	}
	if fs.Changed("no-auto-download") {
		overrides[config.KeyUpdateAutoDownload] = !f.noAutoDownload
	}
	if fs.Changed("output-format") {
		overrides[config.KeyOutputFormat] = strings.TrimSpace(f.outputFormat)
	}
	if fs.Changed("db-path") {
		overrides[config.KeyDatabasePath] = strings.TrimSpace(f.dbPath)
	}
	return overrides
}

type runtimeOptions struct {
	devMode      bool
	debug        bool
	feed         update.FeedReference
	initialDelay time.Duration
	interval     time.Duration
	autoDownload bool
	outputFormat string
	dbPath       string
}

// computeRuntimeOptions reads the merged configuration once. The
// environment is fixed for the life of the process.
func computeRuntimeOptions() (runtimeOptions, error) {
	settings, err := config.Load()
	if err != nil {
		return runtimeOptions{}, err
	}
	dbPath := settings.DatabasePath
	if dbPath == "" {
		dir, err := config.UserDir()
		if err != nil {
			return runtimeOptions{}, err
		}
		dbPath = filepath.Join(dir, store.DatabaseFileName)
	}

	return runtimeOptions{
		devMode: settings.DevelopmentMode(),
		debug:   settings.Debug,
		feed: update.FeedReference{
			Provider: update.Provider(settings.FeedProvider),
			Owner:    settings.FeedOwner,
			Repo:     settings.FeedRepo,
		},
		initialDelay: settings.InitialDelay,
		interval:     settings.Interval,
		autoDownload: settings.AutoDownload,
		outputFormat: settings.OutputFormat,
		dbPath:       dbPath,
	}, nil
}
