package update

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"appshell/internal/clock"
	apperrors "appshell/internal/errors"
	"appshell/internal/logging"

	"github.com/sirupsen/logrus"
)

// Default schedule.
const (
	DefaultInitialDelay = 3 * time.Second
	DefaultInterval     = time.Hour
)

var (
	ErrAlreadyStarted  = errors.New("coordinator already started")
	ErrNotStarted      = errors.New("coordinator not started")
	ErrStopped         = errors.New("coordinator stopped")
	ErrDevelopmentMode = errors.New("auto-update disabled in development mode")
)

// State is the coordinator's position in the check lifecycle.
type State int

const (
	// StateIdle means no check is in flight.
	StateIdle State = iota
	// StateChecking means a feed query is outstanding.
	StateChecking
	// StateReadyToInstall means a download was confirmed and the
	// installer has been (or is being) invoked.
	StateReadyToInstall
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateReadyToInstall:
		return "ready-to-install"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event names what caused a Status.
type Event string

const (
	EventDisabled     Event = "disabled"
	EventChecking     Event = "checking"
	EventNotAvailable Event = "not-available"
	EventAvailable    Event = "available"
	EventDownloaded   Event = "downloaded"
	EventError        Event = "error"
	EventCheckDone    Event = "check-done"
)

// Status is delivered to observers on every state change and feed event.
type Status struct {
	State State
	Event Event
	Info  UpdateInfo
	Err   error
	At    time.Time
}

// Coordinator schedules feed checks and reacts to their outcomes.
//
// Overlapping checks are dropped: a tick that arrives while a check is
// in flight is skipped. Once ReadyToInstall is entered every later tick
// and feed event is ignored, so the installer runs at most once per
// successful download.
type Coordinator struct {
	feed      Feed
	installer Installer
	ref       FeedReference

	devMode      bool
	initialDelay time.Duration
	interval     time.Duration
	clock        clock.Clock
	log          logrus.FieldLogger
	observers    []func(Status)

	// dispatch runs a check off the timer goroutine.
	dispatch func(func())

	mu            sync.Mutex
	state         State
	started       bool
	stopped       bool
	checkInFlight bool
	initialTimer  *clock.Timer
	intervalTimer *clock.Timer
	ctx           context.Context
	cancel        context.CancelFunc
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDevelopmentMode disables the schedule entirely when enabled.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Coordinator) {
		c.devMode = enabled
	}
}

// WithInitialDelay sets the delay before the first check.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		c.initialDelay = d
	}
}

// WithInterval sets the fixed interval between checks.
func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.interval = d
	}
}

// WithClock replaces the real clock.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clk
	}
}

// WithLogger sets the log sink for coordinator events.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Coordinator) {
		c.log = l
	}
}

// WithStatusObserver registers fn to receive every Status. fn is called
// without locks held and must not block.
func WithStatusObserver(fn func(Status)) Option {
	return func(c *Coordinator) {
		c.observers = append(c.observers, fn)
	}
}

// NewCoordinator creates a coordinator for the feed at ref.
func NewCoordinator(feed Feed, installer Installer, ref FeedReference, opts ...Option) *Coordinator {
	c := &Coordinator{
		feed:         feed,
		installer:    installer,
		ref:          ref,
		initialDelay: DefaultInitialDelay,
		interval:     DefaultInterval,
		clock:        clock.Real(),
		log:          logging.For("update"),
		dispatch:     func(fn func()) { go fn() },
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.interval <= 0 {
		c.interval = DefaultInterval
	}
	if c.initialDelay < 0 {
		c.initialDelay = 0
	}
	return c
}

// Start configures the feed and, outside development mode, arms the
// initial and recurring checks.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	if err := c.feed.Configure(c.ref); err != nil {
		// nothing is armed yet, so a corrected reference may Start again
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return apperrors.New(apperrors.CodeConfigurationError, "configure update feed", err)
	}

	if c.devMode {
		c.log.Info("auto-update disabled in development mode")
		c.notify(Status{State: StateIdle, Event: EventDisabled})
		return nil
	}

	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	c.feed.OnUpdateAvailable(c.handleAvailable)
	c.feed.OnUpdateNotAvailable(c.handleNotAvailable)
	c.feed.OnUpdateDownloaded(c.handleDownloaded)
	c.feed.OnError(c.handleError)

	c.log.WithFields(logrus.Fields{
		"feed":          c.ref.String(),
		"initial_delay": c.initialDelay.String(),
		"interval":      c.interval.String(),
	}).Info("update schedule armed")

	initial := c.clock.AfterFunc(c.initialDelay, c.tick)
	c.mu.Lock()
	if c.stopped || c.state == StateReadyToInstall {
		initial.Stop()
	} else {
		c.initialTimer = initial
	}
	c.mu.Unlock()
	c.armInterval()
	return nil
}

// Stop cancels the schedule and any in-flight check. Idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	c.stopTimersLocked()
	if c.cancel != nil {
		c.cancel()
	}
}

// CheckNow triggers a check outside the schedule. It follows the same
// rules as a timer tick, so it is dropped while a check is in flight.
func (c *Coordinator) CheckNow() error {
	c.mu.Lock()
	started, stopped := c.started, c.stopped
	c.mu.Unlock()
	switch {
	case stopped:
		return ErrStopped
	case !started:
		return ErrNotStarted
	case c.devMode:
		return ErrDevelopmentMode
	}
	c.tick()
	return nil
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// armInterval schedules the next recurring tick. Each firing re-arms
// before checking so the period is measured from Start, not from the
// end of the previous check.
func (c *Coordinator) armInterval() {
	timer := c.clock.AfterFunc(c.interval, func() {
		c.armInterval()
		c.tick()
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.state == StateReadyToInstall {
		timer.Stop()
		return
	}
	c.intervalTimer = timer
}

func (c *Coordinator) stopTimersLocked() {
	if c.initialTimer != nil {
		c.initialTimer.Stop()
		c.initialTimer = nil
	}
	if c.intervalTimer != nil {
		c.intervalTimer.Stop()
		c.intervalTimer = nil
	}
}

func (c *Coordinator) tick() {
	c.mu.Lock()
	switch {
	case c.stopped:
		c.mu.Unlock()
		return
	case c.state == StateReadyToInstall:
		c.mu.Unlock()
		c.log.Debug("update ready to install; skipping check")
		return
	case c.checkInFlight:
		c.mu.Unlock()
		c.log.Debug("check already in flight; skipping")
		return
	}
	c.checkInFlight = true
	c.state = StateChecking
	ctx := c.ctx
	c.mu.Unlock()

	c.log.Info("checking for updates")
	c.notify(Status{State: StateChecking, Event: EventChecking})
	c.dispatch(func() { c.runCheck(ctx) })
}

func (c *Coordinator) runCheck(ctx context.Context) {
	if err := c.feed.CheckForUpdates(ctx); err != nil {
		c.handleError(err)
	}

	c.mu.Lock()
	c.checkInFlight = false
	settled := c.state == StateChecking
	if settled {
		c.state = StateIdle
	}
	c.mu.Unlock()

	if settled {
		c.notify(Status{State: StateIdle, Event: EventCheckDone})
	}
}

func (c *Coordinator) handleAvailable(info UpdateInfo) {
	c.log.WithField("version", info.LatestVersion.String()).Info("update available")
	if state, ok := c.settle(); ok {
		c.notify(Status{State: state, Event: EventAvailable, Info: info})
	}
}

func (c *Coordinator) handleNotAvailable(info UpdateInfo) {
	c.log.WithField("version", info.CurrentVersion.String()).Info("no update available")
	if state, ok := c.settle(); ok {
		c.notify(Status{State: state, Event: EventNotAvailable, Info: info})
	}
}

func (c *Coordinator) handleError(err error) {
	if !errors.Is(err, apperrors.Kind(apperrors.CodeUpdateCheckFailed)) && !errors.Is(err, apperrors.Kind(apperrors.CodeDownloadFailed)) {
		err = apperrors.New(apperrors.CodeUpdateCheckFailed, "update check failed", err)
	}
	c.log.WithError(err).Error("update error")
	if state, ok := c.settle(); ok {
		c.notify(Status{State: state, Event: EventError, Err: err})
	}
}

// settle returns a Checking coordinator to Idle. It reports false once
// ReadyToInstall has been entered, when events are ignored.
func (c *Coordinator) settle() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateReadyToInstall {
		return c.state, false
	}
	c.state = StateIdle
	return c.state, true
}

func (c *Coordinator) handleDownloaded(info UpdateInfo) {
	version := info.LatestVersion.String()
	c.log.WithField("version", version).Info("update downloaded")

	c.mu.Lock()
	if c.stopped || c.state == StateReadyToInstall {
		c.mu.Unlock()
		c.log.WithField("version", version).Debug("install already triggered; ignoring download")
		return
	}
	c.state = StateReadyToInstall
	c.stopTimersLocked()
	ctx := c.ctx
	c.mu.Unlock()

	c.notify(Status{State: StateReadyToInstall, Event: EventDownloaded, Info: info})

	err := c.installer.QuitAndInstall(ctx, info)
	if err == nil {
		return
	}

	// The process was not replaced; go back to the schedule.
	err = apperrors.New(apperrors.CodeInstallFailed, "install "+version, err)
	c.log.WithError(err).Error("update install failed")

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	c.mu.Unlock()

	c.notify(Status{State: StateIdle, Event: EventError, Info: info, Err: err})
	c.armInterval()
}

func (c *Coordinator) notify(s Status) {
	s.At = c.clock.Now()
	for _, fn := range c.observers {
		fn(s)
	}
}
