// Package logging provides the application log sink.
// The terminal belongs to the UI, so logs are written to ~/.appshell/appshell.log,
// truncated on each launch. Passing --debug raises the level to debug.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// LogFileName is the name of the log file.
	LogFileName = "appshell.log"
	// LogDirName is the name of the directory containing the log file.
	LogDirName = ".appshell"
)

var (
	mu      sync.RWMutex
	logger  = newDiscardLogger()
	logFile *os.File
	debug   bool

	// getLogPath is a function variable to allow overriding in tests.
	getLogPath = defaultGetLogPath
)

// Init opens the log file and routes the shared logger to it.
// When enableDebug is false the logger records info and above.
func Init(enableDebug bool) error {
	mu.Lock()
	defer mu.Unlock()

	logPath, err := getLogPath()
	if err != nil {
		return fmt.Errorf("determine log path: %w", err)
	}

	dir := filepath.Dir(logPath)
	//nolint:gosec // G301: User config directory needs standard permissions
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	//nolint:gosec // G304: Log path is computed from user home, not user input
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	debug = enableDebug

	l := logrus.New()
	l.SetOutput(f)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
	})
	l.SetLevel(logrus.InfoLevel)
	if enableDebug {
		l.SetLevel(logrus.DebugLevel)
	}
	logger = l

	logger.Infof("=== appshell log started at %s ===", time.Now().Format(time.RFC3339))
	return nil
}

// Close closes the log file if open and routes the logger back to a discard sink.
// Safe to call even if Init was never called.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	logger = newDiscardLogger()
	debug = false
}

// Logger returns the shared logger. Before Init it discards everything.
func Logger() logrus.FieldLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// For returns a logger tagged with the component name.
func For(component string) logrus.FieldLogger {
	return Logger().WithField("component", component)
}

// DebugEnabled reports whether debug-level logging was requested.
func DebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debug
}

// GetLogPath returns the path to the log file.
func GetLogPath() (string, error) {
	return getLogPath()
}

func defaultGetLogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, LogDirName, LogFileName), nil
}

func newDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
