package update

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Provider identifies the kind of service hosting the release feed.
type Provider string

// ProviderGitHub is the only supported provider: GitHub releases.
const ProviderGitHub Provider = "github"

// ErrInvalidFeed is returned when a FeedReference cannot locate a feed.
var ErrInvalidFeed = fmt.Errorf("invalid feed reference")

// FeedReference locates a remote release feed. It is fixed when the
// coordinator starts and never mutated afterwards.
type FeedReference struct {
	Provider Provider
	Owner    string
	Repo     string
}

// Validate reports whether the reference is usable.
func (r FeedReference) Validate() error {
	if r.Provider != ProviderGitHub {
		return fmt.Errorf("%w: unsupported provider %q", ErrInvalidFeed, r.Provider)
	}
	if strings.TrimSpace(r.Owner) == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidFeed)
	}
	if strings.TrimSpace(r.Repo) == "" {
		return fmt.Errorf("%w: repo is required", ErrInvalidFeed)
	}
	return nil
}

// String returns provider:owner/repo.
func (r FeedReference) String() string {
	return fmt.Sprintf("%s:%s/%s", r.Provider, r.Owner, r.Repo)
}

// Feed is the capability the coordinator needs from a release feed.
//
// CheckForUpdates performs exactly one outbound query. Its outcome is
// reported through the registered handlers: not-available or available
// while the call is running, downloaded possibly much later. A query
// failure is returned from CheckForUpdates; failures that happen after
// it returns (a background download) are reported through OnError.
type Feed interface {
	Configure(ref FeedReference) error
	CheckForUpdates(ctx context.Context) error
	OnUpdateAvailable(h func(UpdateInfo))
	OnUpdateNotAvailable(h func(UpdateInfo))
	OnUpdateDownloaded(h func(UpdateInfo))
	OnError(h func(error))
}

// eventHandlers is the handler registry shared by Feed implementations.
type eventHandlers struct {
	mu           sync.RWMutex
	available    []func(UpdateInfo)
	notAvailable []func(UpdateInfo)
	downloaded   []func(UpdateInfo)
	errs         []func(error)
}

// OnUpdateAvailable registers h for update-available events.
func (e *eventHandlers) OnUpdateAvailable(h func(UpdateInfo)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.available = append(e.available, h)
}

// OnUpdateNotAvailable registers h for update-not-available events.
func (e *eventHandlers) OnUpdateNotAvailable(h func(UpdateInfo)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notAvailable = append(e.notAvailable, h)
}

// OnUpdateDownloaded registers h for update-downloaded events.
func (e *eventHandlers) OnUpdateDownloaded(h func(UpdateInfo)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.downloaded = append(e.downloaded, h)
}

// OnError registers h for asynchronous feed errors.
func (e *eventHandlers) OnError(h func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, h)
}

func (e *eventHandlers) emitAvailable(info UpdateInfo) {
	e.mu.RLock()
	handlers := append([]func(UpdateInfo){}, e.available...)
	e.mu.RUnlock()
	for _, h := range handlers {
		h(info)
	}
}

func (e *eventHandlers) emitNotAvailable(info UpdateInfo) {
	e.mu.RLock()
	handlers := append([]func(UpdateInfo){}, e.notAvailable...)
	e.mu.RUnlock()
	for _, h := range handlers {
		h(info)
	}
}

func (e *eventHandlers) emitDownloaded(info UpdateInfo) {
	e.mu.RLock()
	handlers := append([]func(UpdateInfo){}, e.downloaded...)
	e.mu.RUnlock()
	for _, h := range handlers {
		h(info)
	}
}

func (e *eventHandlers) emitError(err error) {
	e.mu.RLock()
	handlers := append([]func(error){}, e.errs...)
	e.mu.RUnlock()
	for _, h := range handlers {
		h(err)
	}
}
