package bridge

import (
	"context"
	"runtime"
	"runtime/debug"
)

// EngineModule is the module whose version is reported as the engine.
const EngineModule = "github.com/charmbracelet/bubbletea"

// Versions describes the components the window runs on.
type Versions struct {
	Runtime string `cbor:"runtime"`
	Engine  string `cbor:"engine"`
	Shell   string `cbor:"shell"`
}

// CurrentVersions reports the Go runtime, the TUI engine linked into the
// binary, and shellVersion.
func CurrentVersions(shellVersion string) Versions {
	return Versions{
		Runtime: runtime.Version(),
		Engine:  engineVersion(),
		Shell:   shellVersion,
	}
}

func engineVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, dep := range info.Deps {
		if dep.Path != EngineModule {
			continue
		}
		if dep.Replace != nil && dep.Replace.Version != "" {
			return dep.Replace.Version
		}
		return dep.Version
	}
	// Test binaries carry no dependency list.
	return "unknown"
}

// RegisterDefaults installs the ping and versions channels.
func RegisterDefaults(b *Bridge, shellVersion string) error {
	if err := b.Handle(ChannelPing, func(context.Context, []any) (any, error) {
		b.log.Info("received ping from window")
		return "pong", nil
	}); err != nil {
		return err
	}
	versions := CurrentVersions(shellVersion)
	return b.Handle(ChannelVersions, func(context.Context, []any) (any, error) {
		return versions, nil
	})
}

// API is the window's view of the bridge: a fixed set of calls, not the
// bridge itself.
type API struct {
	bridge *Bridge
}

// NewAPI exposes b to the window.
func NewAPI(b *Bridge) *API {
	return &API{bridge: b}
}

// Ping sends a ping and returns the reply.
func (a *API) Ping(ctx context.Context) (string, error) {
	var reply string
	err := a.bridge.Invoke(ctx, ChannelPing, &reply)
	return reply, err
}

// Versions returns the versions reported by the privileged side.
func (a *API) Versions(ctx context.Context) (Versions, error) {
	var v Versions
	err := a.bridge.Invoke(ctx, ChannelVersions, &v)
	return v, err
}

// CheckForUpdates asks the privileged side for an immediate update check.
func (a *API) CheckForUpdates(ctx context.Context) error {
	return a.bridge.Invoke(ctx, ChannelCheckForUpdates, nil)
}
