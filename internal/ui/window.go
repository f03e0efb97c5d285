package ui

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Window runs an App as a full-screen bubbletea program.
type Window struct {
	program *tea.Program
}

// NewWindow builds the window. opts are passed to the program after
// the defaults.
func NewWindow(cfg Config, opts ...tea.ProgramOption) (*Window, error) {
	app, err := NewApp(cfg)
	if err != nil {
		return nil, err
	}
	base := []tea.ProgramOption{tea.WithAltScreen(), tea.WithoutSignalHandler()}
	return &Window{program: tea.NewProgram(app, append(base, opts...)...)}, nil
}

// Run blocks until the window closes.
func (w *Window) Run() error {
	if _, err := w.program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run window: %w", err)
	}
	return nil
}

// Close asks the window to close and restore the terminal.
func (w *Window) Close() {
	w.program.Quit()
}
