package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"appshell/internal/bridge"
	"appshell/internal/update"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
)

func init() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

type fakeAPI struct {
	versions    bridge.Versions
	versionsErr error
	pingErr     error
	checkErr    error
	pings       int
	checks      int
}

func (f *fakeAPI) Ping(context.Context) (string, error) {
	f.pings++
	if f.pingErr != nil {
		return "", f.pingErr
	}
	return "pong", nil
}

func (f *fakeAPI) Versions(context.Context) (bridge.Versions, error) {
	return f.versions, f.versionsErr
}

func (f *fakeAPI) CheckForUpdates(context.Context) error {
	f.checks++
	return f.checkErr
}

var testVersions = bridge.Versions{Runtime: "go1.25.3", Engine: "v1.3.10", Shell: "v1.0.0"}

func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()
	if cfg.API == nil {
		cfg.API = &fakeAPI{versions: testVersions}
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "plain"
	}
	app, err := NewApp(cfg)
	if err != nil {
		t.Fatalf("NewApp() error: %v", err)
	}
	return app
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

// press sends a key and runs the resulting command, feeding its message back.
func press(t *testing.T, app *App, k string) tea.Msg {
	t.Helper()
	_, cmd := app.Update(keyMsg(k))
	if cmd == nil {
		return nil
	}
	msg := cmd()
	app.Update(msg)
	return msg
}

func plainView(app *App) string {
	return ansi.Strip(app.View())
}

func TestNewAppRequiresAPI(t *testing.T) {
	if _, err := NewApp(Config{}); !errors.Is(err, ErrNoAPI) {
		t.Fatalf("NewApp() = %v, want ErrNoAPI", err)
	}
}

func TestVersionsAreShown(t *testing.T) {
	app := newTestApp(t, Config{Version: "v1.0.0"})
	if !strings.Contains(plainView(app), "loading") {
		t.Fatal("expected a loading placeholder before versions arrive")
	}

	app.Update(app.loadVersions()())
	view := plainView(app)
	for _, want := range []string{"appshell v1.0.0", "go1.25.3", "v1.3.10", "Runtime", "Engine", "Shell"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestVersionsUnavailable(t *testing.T) {
	app := newTestApp(t, Config{API: &fakeAPI{versionsErr: bridge.ErrNoHandler}})
	app.Update(app.loadVersions()())

	if !strings.Contains(plainView(app), "unavailable") {
		t.Fatal("expected versions to be marked unavailable")
	}
	if _, cmd := app.Update(keyMsg("c")); cmd != nil {
		t.Fatal("copy should be disabled without versions")
	}
}

func TestPingShowsReply(t *testing.T) {
	api := &fakeAPI{versions: testVersions}
	app := newTestApp(t, Config{API: api})

	_, cmd := app.Update(keyMsg("p"))
	if cmd == nil {
		t.Fatal("ping key produced no command")
	}
	if !strings.Contains(plainView(app), "waiting for reply") {
		t.Fatal("expected a pending ping indicator")
	}
	app.Update(cmd())

	if api.pings != 1 {
		t.Fatalf("pinged %d times, want 1", api.pings)
	}
	if !strings.Contains(plainView(app), "pong") {
		t.Fatalf("view missing pong:\n%s", plainView(app))
	}
}

func TestPingFailure(t *testing.T) {
	app := newTestApp(t, Config{API: &fakeAPI{pingErr: errors.New("closed")}})
	press(t, app, "p")

	if !strings.Contains(plainView(app), "no reply") {
		t.Fatalf("view missing failure text:\n%s", plainView(app))
	}
}

func TestCopyVersions(t *testing.T) {
	var copied string
	orig := writeClipboard
	writeClipboard = func(s string) error {
		copied = s
		return nil
	}
	t.Cleanup(func() { writeClipboard = orig })

	app := newTestApp(t, Config{})
	app.Update(app.loadVersions()())
	press(t, app, "c")

	if copied != "runtime go1.25.3\nengine v1.3.10\nshell v1.0.0" {
		t.Fatalf("clipboard = %q", copied)
	}
	if !strings.Contains(plainView(app), "Copied versions to clipboard.") {
		t.Fatal("expected a copy confirmation")
	}

	writeClipboard = func(string) error { return errors.New("no display") }
	press(t, app, "c")
	if !strings.Contains(plainView(app), "Clipboard unavailable.") {
		t.Fatal("expected a clipboard failure notice")
	}
}

func TestCheckKeyInvokesBridge(t *testing.T) {
	api := &fakeAPI{versions: testVersions, checkErr: errors.New("coordinator stopped")}
	app := newTestApp(t, Config{API: api})
	before := plainView(app)

	press(t, app, "u")

	if api.checks != 1 {
		t.Fatalf("check requested %d times, want 1", api.checks)
	}
	if plainView(app) != before {
		t.Fatal("a failed check request should not change the window")
	}
}

func TestQuitKeys(t *testing.T) {
	for _, k := range []string{"q", "esc", "ctrl+c"} {
		app := newTestApp(t, Config{})
		_, cmd := app.Update(keyMsg(k))
		if cmd == nil {
			t.Fatalf("%s produced no command", k)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Fatalf("%s did not quit", k)
		}
	}
}

func TestUpdateStatusView(t *testing.T) {
	v2, err := update.ParseVersion("2.0.0")
	if err != nil {
		t.Fatalf("ParseVersion() error: %v", err)
	}
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		status update.Status
		want   string
		reject string
	}{
		{"none", update.Status{}, "Waiting for first check", ""},
		{"disabled", update.Status{Event: update.EventDisabled}, "disabled in development mode", ""},
		{"checking", update.Status{State: update.StateChecking, Event: update.EventChecking}, "Checking for updates", ""},
		{"up to date", update.Status{Event: update.EventNotAvailable, At: at}, "Up to date (checked 09:30)", ""},
		{"available", update.Status{Event: update.EventAvailable, Info: update.UpdateInfo{LatestVersion: v2}}, "Update v2.0.0 available", ""},
		{"downloaded", update.Status{State: update.StateReadyToInstall, Event: update.EventDownloaded, Info: update.UpdateInfo{LatestVersion: v2}}, "restarting", ""},
		{"error", update.Status{Event: update.EventError, Err: errors.New("dial tcp: timeout"), At: at}, "Idle (checked 09:30)", "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, Config{})
			app.Update(updateStatusMsg(tt.status))
			view := plainView(app)
			if !strings.Contains(view, tt.want) {
				t.Fatalf("view missing %q:\n%s", tt.want, view)
			}
			if tt.reject != "" && strings.Contains(view, tt.reject) {
				t.Fatalf("view leaks %q:\n%s", tt.reject, view)
			}
		})
	}
}

func TestAvailableStatusFollowsAutoDownload(t *testing.T) {
	v2, err := update.ParseVersion("2.0.0")
	if err != nil {
		t.Fatalf("ParseVersion() error: %v", err)
	}
	available := update.Status{Event: update.EventAvailable, Info: update.UpdateInfo{LatestVersion: v2}}

	for _, auto := range []bool{true, false} {
		app := newTestApp(t, Config{AutoDownload: auto})
		app.Update(updateStatusMsg(available))
		view := plainView(app)
		if !strings.Contains(view, "Update v2.0.0 available") {
			t.Fatalf("auto-download=%v: view missing the update:\n%s", auto, view)
		}
		if got := strings.Contains(view, "downloading"); got != auto {
			t.Fatalf("auto-download=%v: view mentions downloading = %v:\n%s", auto, got, view)
		}
	}
}

func TestStatusStream(t *testing.T) {
	ch := make(chan update.Status, 2)
	app := newTestApp(t, Config{Status: ch, Initial: update.Status{Event: update.EventNotAvailable}})
	if !strings.Contains(plainView(app), "Up to date") {
		t.Fatal("initial status not shown")
	}

	ch <- update.Status{State: update.StateChecking, Event: update.EventChecking}
	_, cmd := app.Update(app.waitForStatus()())
	if cmd == nil {
		t.Fatal("status stream should keep listening")
	}
	if !strings.Contains(plainView(app), "Checking for updates") {
		t.Fatal("streamed status not shown")
	}

	close(ch)
	app.Update(cmd())
	if app.waitForStatus() != nil {
		t.Fatal("closed stream should stop listening")
	}
}

func TestReleaseNotesRendered(t *testing.T) {
	v2, _ := update.ParseVersion("2.0.0")
	status := update.Status{
		Event: update.EventAvailable,
		Info: update.UpdateInfo{
			LatestVersion: v2,
			ReleaseNotes:  "## Highlights\n\nFaster startup and a smaller binary.",
		},
	}

	for _, format := range []string{"plain", "rich"} {
		t.Run(format, func(t *testing.T) {
			app := newTestApp(t, Config{OutputFormat: format})
			app.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
			app.Update(updateStatusMsg(status))
			view := plainView(app)
			if !strings.Contains(view, "Highlights") || !strings.Contains(view, "Faster startup") {
				t.Fatalf("release notes missing:\n%s", view)
			}
		})
	}
}

func TestNotesHiddenWhenUpToDate(t *testing.T) {
	app := newTestApp(t, Config{})
	app.Update(updateStatusMsg(update.Status{
		Event: update.EventNotAvailable,
		Info:  update.UpdateInfo{ReleaseNotes: "old notes"},
	}))
	if strings.Contains(plainView(app), "old notes") {
		t.Fatal("notes should only show for a pending update")
	}
}

func TestLongLinesAreTruncated(t *testing.T) {
	api := &fakeAPI{versions: bridge.Versions{Runtime: "go1.25.3", Engine: strings.Repeat("x", 200), Shell: "v1"}}
	app := newTestApp(t, Config{API: api})
	app.Update(tea.WindowSizeMsg{Width: 40, Height: 20})
	app.Update(app.loadVersions()())

	for _, line := range strings.Split(plainView(app), "\n") {
		if w := ansi.StringWidth(line); w > 40 {
			t.Fatalf("line width %d exceeds window: %q", w, line)
		}
	}
}
