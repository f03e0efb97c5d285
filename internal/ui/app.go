// Package ui renders the main window. It reaches the privileged side only
// through the bridge API and a read-only stream of update status.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"appshell/internal/bridge"
	"appshell/internal/update"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
)

const (
	bridgeTimeout     = 2 * time.Second
	defaultNotesWidth = 76
	timeLayout        = "15:04"
)

// ErrNoAPI is returned when a window is built without a bridge API.
var ErrNoAPI = errors.New("ui: bridge API is required")

// writeClipboard is a variable so tests can avoid the system clipboard.
var writeClipboard = clipboard.WriteAll

// API is the set of calls the window can make to the privileged side.
type API interface {
	Ping(ctx context.Context) (string, error)
	Versions(ctx context.Context) (bridge.Versions, error)
	CheckForUpdates(ctx context.Context) error
}

// Config configures the window.
type Config struct {
	API API
	// Status streams coordinator status. It may be nil.
	Status <-chan update.Status
	// Initial is the last status published before the window opened.
	Initial      update.Status
	OutputFormat string
	Version      string
	// AutoDownload reports whether an available update is fetched
	// without asking.
	AutoDownload bool
}

// App is the bubbletea model of the main window.
type App struct {
	api          API
	status       <-chan update.Status
	outputFormat string
	version      string
	autoDownload bool

	keys    KeyMap
	help    help.Model
	spinner spinner.Model

	versions    bridge.Versions
	versionsErr error
	pingReply   string
	pinging     bool
	last        update.Status
	toast       string

	width  int
	height int

	notes *notesRenderer
}

// NewApp builds the window model.
func NewApp(cfg Config) (*App, error) {
	if cfg.API == nil {
		return nil, ErrNoAPI
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styleSpinner

	return &App{
		api:          cfg.API,
		status:       cfg.Status,
		outputFormat: cfg.OutputFormat,
		version:      cfg.Version,
		autoDownload: cfg.AutoDownload,
		keys:         DefaultKeyMap(),
		help:         help.New(),
		spinner:      s,
		last:         cfg.Initial,
	}, nil
}

// Init implements tea.Model.
func (m *App) Init() tea.Cmd {
	return tea.Batch(
		m.loadVersions(),
		m.waitForStatus(),
		m.spinner.Tick,
	)
}

func (m *App) loadVersions() tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), bridgeTimeout)
		defer cancel()
		v, err := api.Versions(ctx)
		return versionsLoadedMsg{versions: v, err: err}
	}
}

func (m *App) ping() tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), bridgeTimeout)
		defer cancel()
		reply, err := api.Ping(ctx)
		return pingReplyMsg{reply: reply, err: err}
	}
}

func (m *App) requestCheck() tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), bridgeTimeout)
		defer cancel()
		return checkRequestedMsg{err: api.CheckForUpdates(ctx)}
	}
}

func (m *App) copyVersions() tea.Cmd {
	text := formatVersions(m.versions)
	return func() tea.Msg {
		return copiedMsg{err: writeClipboard(text)}
	}
}

func (m *App) waitForStatus() tea.Cmd {
	ch := m.status
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return statusClosedMsg{}
		}
		return updateStatusMsg(s)
	}
}

// Update implements tea.Model.
func (m *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case versionsLoadedMsg:
		m.versions = msg.versions
		m.versionsErr = msg.err
		return m, nil

	case pingReplyMsg:
		m.pinging = false
		if msg.err != nil {
			m.pingReply = "no reply"
			return m, nil
		}
		m.pingReply = msg.reply
		return m, nil

	case updateStatusMsg:
		m.last = update.Status(msg)
		return m, m.waitForStatus()

	case statusClosedMsg:
		m.status = nil
		return m, nil

	case copiedMsg:
		if msg.err != nil {
			m.toast = "Clipboard unavailable."
		} else {
			m.toast = "Copied versions to clipboard."
		}
		return m, nil

	case checkRequestedMsg:
		// Update failures stay in the log; the window only shows progress.
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *App) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit
	case key.Matches(msg, m.keys.Ping):
		m.pinging = true
		m.toast = ""
		return m.ping()
	case key.Matches(msg, m.keys.Copy):
		if m.versionsErr != nil || m.versions == (bridge.Versions{}) {
			return nil
		}
		return m.copyVersions()
	case key.Matches(msg, m.keys.Check):
		m.toast = ""
		return m.requestCheck()
	}
	return nil
}

// View implements tea.Model.
func (m *App) View() string {
	var b strings.Builder

	title := "appshell"
	if m.version != "" {
		title += " " + m.version
	}
	b.WriteString(styleAppHeader.Render(title))
	b.WriteString("\n\n")

	b.WriteString(styleSectionTitle.Render("Versions"))
	b.WriteString("\n")
	b.WriteString(m.versionsView())
	b.WriteString("\n\n")

	b.WriteString(styleSectionTitle.Render("Bridge"))
	b.WriteString("\n")
	b.WriteString(m.pingView())
	b.WriteString("\n\n")

	b.WriteString(styleSectionTitle.Render("Updates"))
	b.WriteString("\n")
	b.WriteString(m.statusView())
	if notes := m.notesView(); notes != "" {
		b.WriteString("\n")
		b.WriteString(notes)
	}

	if m.toast != "" {
		b.WriteString("\n\n")
		b.WriteString(styleToast.Render(m.toast))
	}
	b.WriteString("\n\n")
	b.WriteString(m.help.View(m.keys))

	return styleBody.Render(m.fit(b.String()))
}

func (m *App) versionsView() string {
	if m.versionsErr != nil {
		return styleStatusDim.Render("unavailable")
	}
	if m.versions == (bridge.Versions{}) {
		return styleStatusDim.Render("loading…")
	}
	rows := []struct{ label, value string }{
		{"Runtime", m.versions.Runtime},
		{"Engine", m.versions.Engine},
		{"Shell", m.versions.Shell},
	}
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, styleLabel.Render(r.label)+styleValue.Render(r.value))
	}
	return strings.Join(lines, "\n")
}

func (m *App) pingView() string {
	switch {
	case m.pinging:
		return m.spinner.View() + " " + styleStatusDim.Render("waiting for reply")
	case m.pingReply != "":
		return styleLabel.Render("Reply") + styleReply.Render(m.pingReply)
	default:
		return styleStatusDim.Render("press p to ping the main process")
	}
}

// statusView describes the coordinator's last status. Errors are shown
// as an idle schedule.
func (m *App) statusView() string {
	s := m.last
	at := ""
	if !s.At.IsZero() {
		at = s.At.Format(timeLayout)
	}

	switch s.Event {
	case update.EventDisabled:
		return styleStatusDim.Render("Updates disabled in development mode")
	case update.EventChecking:
		return m.spinner.View() + " " + styleStatus.Render("Checking for updates…")
	case update.EventAvailable:
		line := fmt.Sprintf("Update %s available", s.Info.LatestVersion)
		if m.autoDownload {
			line += ", downloading"
		}
		return styleStatus.Render(line)
	case update.EventDownloaded:
		if s.State == update.StateReadyToInstall {
			return styleStatus.Render(fmt.Sprintf("Update %s downloaded, restarting", s.Info.LatestVersion))
		}
		return styleStatus.Render(fmt.Sprintf("Update %s downloaded", s.Info.LatestVersion))
	case update.EventNotAvailable:
		return styleStatus.Render("Up to date") + styleStatusDim.Render(checkedSuffix(at))
	case update.EventError, update.EventCheckDone:
		return styleStatusDim.Render("Idle" + checkedSuffix(at))
	default:
		return styleStatusDim.Render("Waiting for first check")
	}
}

func checkedSuffix(at string) string {
	if at == "" {
		return ""
	}
	return " (checked " + at + ")"
}

func (m *App) notesView() string {
	s := m.last
	if s.Event != update.EventAvailable && s.Event != update.EventDownloaded {
		return ""
	}
	notes := strings.TrimSpace(s.Info.ReleaseNotes)
	if notes == "" {
		return ""
	}

	width := defaultNotesWidth
	if m.width > 0 {
		width = max(m.width-10, 20)
	}
	if !m.notes.fits(m.outputFormat, width) {
		m.notes = newNotesRenderer(m.outputFormat, width)
	}
	return styleNotes.Render(m.notes.Render(notes))
}

// fit truncates lines to the window width so long values never wrap.
func (m *App) fit(s string) string {
	if m.width <= 0 {
		return s
	}
	limit := max(m.width-styleBody.GetHorizontalPadding(), 1)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if ansi.StringWidth(line) > limit {
			lines[i] = ansi.Truncate(line, limit, "…")
		}
	}
	return strings.Join(lines, "\n")
}

func formatVersions(v bridge.Versions) string {
	return fmt.Sprintf("runtime %s\nengine %s\nshell %s", v.Runtime, v.Engine, v.Shell)
}
