// Package shell owns the window lifecycle: it opens the main window,
// decides whether the process quits when the last window closes, and
// tears windows down before an update replaces the process.
package shell

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"appshell/internal/logging"

	"github.com/sirupsen/logrus"
)

// ErrQuitting is returned when a window is requested during shutdown or
// while windows are suspended for an update.
var ErrQuitting = errors.New("application is quitting")

// Window is one top-level surface. Run blocks until the window closes;
// Close asks it to close.
type Window interface {
	Run() error
	Close()
}

// WindowFactory builds a new window.
type WindowFactory func() (Window, error)

// QuitOnAllWindowsClosed reports whether the process should exit once
// its last window closes on goos. macOS apps stay resident until the
// user quits explicitly.
func QuitOnAllWindowsClosed(goos string) bool {
	return goos != "darwin"
}

// App tracks open windows.
type App struct {
	factory WindowFactory
	goos    string
	log     logrus.FieldLogger

	mu        sync.Mutex
	windows   map[Window]struct{}
	quitting  bool
	suspended bool
	firstErr  error
	wg        sync.WaitGroup

	quit     chan struct{}
	quitOnce sync.Once
}

// Option configures an App.
type Option func(*App)

// WithPlatform overrides runtime.GOOS for the quit-on-close rule.
func WithPlatform(goos string) Option {
	return func(a *App) {
		a.goos = goos
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *App) {
		a.log = l
	}
}

// New creates an App that builds windows with factory.
func New(factory WindowFactory, opts ...Option) *App {
	a := &App{
		factory: factory,
		goos:    runtime.GOOS,
		log:     logging.For("shell"),
		windows: make(map[Window]struct{}),
		quit:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run opens the main window and blocks until the app quits or ctx is
// done. It returns the first window error, if any.
func (a *App) Run(ctx context.Context) error {
	if err := a.CreateWindow(); err != nil {
		return err
	}
	select {
	case <-a.quit:
	case <-ctx.Done():
		a.log.Info("shutting down")
		a.Shutdown()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.firstErr
}

// CreateWindow opens a new window and runs it in the background.
func (a *App) CreateWindow() error {
	a.mu.Lock()
	closed := a.quitting || a.suspended
	a.mu.Unlock()
	if closed {
		return ErrQuitting
	}

	w, err := a.factory()
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.quitting || a.suspended {
		a.mu.Unlock()
		return ErrQuitting
	}
	a.windows[w] = struct{}{}
	a.wg.Add(1)
	count := len(a.windows)
	a.mu.Unlock()

	a.log.WithField("windows", count).Debug("window opened")
	go a.runWindow(w)
	return nil
}

func (a *App) runWindow(w Window) {
	defer a.wg.Done()
	err := w.Run()

	a.mu.Lock()
	delete(a.windows, w)
	remaining := len(a.windows)
	quitting := a.quitting || a.suspended
	if err != nil && a.firstErr == nil {
		a.firstErr = err
	}
	a.mu.Unlock()

	if err != nil {
		a.log.WithError(err).Error("window exited with error")
	}
	if remaining > 0 || quitting {
		return
	}
	if QuitOnAllWindowsClosed(a.goos) {
		a.log.Info("all windows closed; quitting")
		a.Quit()
		return
	}
	a.log.Info("all windows closed; staying resident")
}

// Activate recreates the main window when none is open. It is the
// response to the user re-activating a resident app.
func (a *App) Activate() error {
	if a.WindowCount() > 0 {
		return nil
	}
	a.log.Info("activated with no windows; opening main window")
	return a.CreateWindow()
}

// WindowCount returns the number of open windows.
func (a *App) WindowCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.windows)
}

// Quit ends Run without touching open windows.
func (a *App) Quit() {
	a.quitOnce.Do(func() { close(a.quit) })
}

// Done is closed once the app has quit.
func (a *App) Done() <-chan struct{} {
	return a.quit
}

// Suspend closes every window and waits for them without quitting. The
// process keeps running so it can be replaced by an updated binary.
func (a *App) Suspend() {
	a.mu.Lock()
	a.suspended = true
	a.mu.Unlock()

	a.closeAll()
	a.log.Info("windows closed for update")
}

// Resume reopens the main window after Suspend.
func (a *App) Resume() error {
	a.mu.Lock()
	wasSuspended := a.suspended
	a.suspended = false
	a.mu.Unlock()
	if !wasSuspended {
		return nil
	}
	return a.Activate()
}

// Shutdown closes every window, waits for them to finish, and quits.
// No window can be opened afterwards.
func (a *App) Shutdown() {
	a.mu.Lock()
	a.quitting = true
	a.mu.Unlock()

	a.closeAll()
	a.Quit()
}

func (a *App) closeAll() {
	a.mu.Lock()
	open := make([]Window, 0, len(a.windows))
	for w := range a.windows {
		open = append(open, w)
	}
	a.mu.Unlock()

	for _, w := range open {
		w.Close()
	}
	a.wg.Wait()
}
