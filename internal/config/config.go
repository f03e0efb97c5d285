// Package config layers appshell settings: built-in defaults, the user
// file (~/.appshell/config.yaml), the nearest project file
// (.appshell/config.yaml), APPSHELL_* environment variables, and
// finally command-line overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const (
	KeyEnvironment = "environment"
	KeyDebug       = "debug"

	KeyFeedProvider       = "update.feed.provider"
	KeyFeedOwner          = "update.feed.owner"
	KeyFeedRepo           = "update.feed.repo"
	KeyUpdateInitialDelay = "update.initial-delay"
	KeyUpdateInterval     = "update.interval"
	KeyUpdateAutoDownload = "update.auto-download"

	KeyDatabasePath = "database.path"
	KeyOutputFormat = "output.format"
)

const (
	// EnvironmentDevelopment turns the update schedule off.
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"

	DefaultFeedProvider = "github"
	DefaultFeedOwner    = "appshell"
	DefaultFeedRepo     = "appshell"

	DefaultInitialDelay   = 3 * time.Second
	DefaultUpdateInterval = time.Hour
	DefaultOutputFormat   = "rich"

	envPrefix      = "APPSHELL"
	dirName        = ".appshell"
	configFileName = "config.yaml"
)

// OutputFormats are the accepted values of output.format.
var OutputFormats = []string{"rich", "light", "plain"}

var envKeyReplacer = strings.NewReplacer(".", "_", "-", "_")

var defaults = map[string]any{
	KeyEnvironment:        EnvironmentProduction,
	KeyDebug:              false,
	KeyFeedProvider:       DefaultFeedProvider,
	KeyFeedOwner:          DefaultFeedOwner,
	KeyFeedRepo:           DefaultFeedRepo,
	KeyUpdateInitialDelay: DefaultInitialDelay,
	KeyUpdateInterval:     DefaultUpdateInterval,
	KeyUpdateAutoDownload: true,
	KeyDatabasePath:       "",
	KeyOutputFormat:       DefaultOutputFormat,
}

type sources struct {
	workingDir  string
	projectFile string
	userFile    string
}

// Option adjusts where Initialize looks for config files.
type Option func(*sources)

// WithWorkingDir starts project file discovery at dir instead of the
// process working directory.
func WithWorkingDir(dir string) Option {
	return func(s *sources) { s.workingDir = dir }
}

// WithProjectConfig skips discovery and uses path as the project file.
func WithProjectConfig(path string) Option {
	return func(s *sources) { s.projectFile = path }
}

// WithUserConfig replaces ~/.appshell/config.yaml.
func WithUserConfig(path string) Option {
	return func(s *sources) { s.userFile = path }
}

var state struct {
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
	err  error
}

// Initialize builds the layered configuration once per process. Later
// calls return the first result.
func Initialize(opts ...Option) error {
	state.once.Do(func() {
		var src sources
		for _, opt := range opts {
			opt(&src)
		}
		v, err := build(src)
		state.mu.Lock()
		state.v, state.err = v, err
		state.mu.Unlock()
	})
	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.err
}

// ApplyOverrides sets values on top of every other layer. Flags use it.
func ApplyOverrides(overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}
	if err := Initialize(); err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.v == nil {
		return errors.New("configuration not initialized")
	}
	for key, value := range overrides {
		state.v.Set(key, value)
	}
	return nil
}

// GetString returns key as a string, or "" if configuration failed to load.
func GetString(key string) string {
	return get(key, (*viper.Viper).GetString)
}

// GetBool returns key as a bool, or false if configuration failed to load.
func GetBool(key string) bool {
	return get(key, (*viper.Viper).GetBool)
}

// GetDuration returns key as a duration, or 0 if configuration failed to load.
func GetDuration(key string) time.Duration {
	return get(key, (*viper.Viper).GetDuration)
}

// DevelopmentMode reports whether environment is "development", ignoring case.
func DevelopmentMode() bool {
	return isDevelopment(GetString(KeyEnvironment))
}

func isDevelopment(env string) bool {
	return strings.EqualFold(strings.TrimSpace(env), EnvironmentDevelopment)
}

func get[T any](key string, read func(*viper.Viper, string) T) T {
	if err := Initialize(); err != nil {
		var zero T
		return zero
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	if state.v == nil {
		var zero T
		return zero
	}
	return read(state.v, key)
}

// Settings is a typed snapshot of the merged configuration.
type Settings struct {
	Environment  string
	Debug        bool
	FeedProvider string
	FeedOwner    string
	FeedRepo     string
	InitialDelay time.Duration
	Interval     time.Duration
	AutoDownload bool
	DatabasePath string
	OutputFormat string
}

// DevelopmentMode reports whether s disables the update schedule.
func (s Settings) DevelopmentMode() bool {
	return isDevelopment(s.Environment)
}

// Load returns the current settings. Negative delays become zero and a
// non-positive interval falls back to DefaultUpdateInterval; an unknown
// output format is an error.
func Load() (Settings, error) {
	if err := Initialize(); err != nil {
		return Settings{}, err
	}
	s := Settings{
		Environment:  strings.TrimSpace(GetString(KeyEnvironment)),
		Debug:        GetBool(KeyDebug),
		FeedProvider: strings.ToLower(strings.TrimSpace(GetString(KeyFeedProvider))),
		FeedOwner:    strings.TrimSpace(GetString(KeyFeedOwner)),
		FeedRepo:     strings.TrimSpace(GetString(KeyFeedRepo)),
		InitialDelay: max(GetDuration(KeyUpdateInitialDelay), 0),
		Interval:     GetDuration(KeyUpdateInterval),
		AutoDownload: GetBool(KeyUpdateAutoDownload),
		DatabasePath: strings.TrimSpace(GetString(KeyDatabasePath)),
		OutputFormat: strings.ToLower(strings.TrimSpace(GetString(KeyOutputFormat))),
	}
	if s.Interval <= 0 {
		s.Interval = DefaultUpdateInterval
	}
	if s.OutputFormat == "" {
		s.OutputFormat = DefaultOutputFormat
	}
	if !validOutputFormat(s.OutputFormat) {
		return Settings{}, fmt.Errorf("%s: unknown format %q (want one of %s)",
			KeyOutputFormat, s.OutputFormat, strings.Join(OutputFormats, ", "))
	}
	return s, nil
}

func validOutputFormat(format string) bool {
	for _, f := range OutputFormats {
		if f == format {
			return true
		}
	}
	return false
}

// UserDir returns ~/.appshell, which holds the user config, the log
// file, and the install ledger.
func UserDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, dirName), nil
}

func build(src sources) (*viper.Viper, error) {
	if strings.TrimSpace(src.workingDir) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		src.workingDir = wd
	}
	if strings.TrimSpace(src.userFile) == "" {
		dir, err := UserDir()
		if err != nil {
			return nil, err
		}
		src.userFile = filepath.Join(dir, configFileName)
	}
	if strings.TrimSpace(src.projectFile) == "" {
		path, err := discoverProjectFile(src.workingDir)
		if err != nil {
			return nil, err
		}
		src.projectFile = path
	}

	v := viper.New()
	v.SetConfigType("yaml")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	for _, layer := range []struct{ name, path string }{
		{"user", src.userFile},
		{"project", src.projectFile},
	} {
		if err := mergeFile(v, layer.path); err != nil {
			return nil, fmt.Errorf("load %s config: %w", layer.name, err)
		}
	}
	return v, nil
}

// mergeFile merges the yaml file at path into v. A missing file is not
// an error; a directory is.
func mergeFile(v *viper.Viper, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("stat %s: %w", path, err)
	case info.IsDir():
		return fmt.Errorf("config path %s is a directory", path)
	case info.Size() == 0:
		return nil
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// discoverProjectFile walks up from dir to the nearest
// .appshell/config.yaml. It returns "" when there is none.
func discoverProjectFile(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", nil
	}
	for {
		candidate := filepath.Join(dir, dirName, configFileName)
		info, err := os.Stat(candidate)
		switch {
		case err == nil && info.IsDir():
			return "", fmt.Errorf("config path %s is a directory", candidate)
		case err == nil:
			return candidate, nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// reset clears package state for tests.
func reset() {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.v = nil
	state.err = nil
	state.once = sync.Once{}
}

// ResetForTesting loads an empty configuration rooted in a temp dir and
// returns the cleanup to defer.
func ResetForTesting(t interface{ TempDir() string }) func() {
	reset()
	tmp := t.TempDir()
	_ = Initialize(WithWorkingDir(tmp), WithUserConfig(filepath.Join(tmp, "user.yaml")))
	return reset
}
