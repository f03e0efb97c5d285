package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"
)

// glamourStyles maps output.format onto glamour's built-in styles.
// "plain" has no entry and is word-wrapped text.
var glamourStyles = map[string]string{
	"":      "dark",
	"rich":  "dark",
	"light": "light",
}

// notesRenderer turns release notes markdown into terminal text at a
// fixed width. Building a glamour renderer is not free, so one is kept
// per format and width and the last result is cached.
type notesRenderer struct {
	format string
	width  int
	render func(string) string

	lastInput  string
	lastOutput string
}

func newNotesRenderer(format string, width int) *notesRenderer {
	r := &notesRenderer{
		format: strings.ToLower(strings.TrimSpace(format)),
		width:  width,
	}
	r.render = r.wrap

	style, ok := glamourStyles[r.format]
	if !ok {
		return r
	}
	tr, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return r
	}
	r.render = func(input string) string {
		out, err := tr.Render(input)
		if err != nil {
			return r.wrap(input)
		}
		return strings.TrimSpace(out)
	}
	return r
}

func (r *notesRenderer) wrap(input string) string {
	return wordwrap.String(input, r.width)
}

// fits reports whether r was built for format and width.
func (r *notesRenderer) fits(format string, width int) bool {
	return r != nil && r.width == width && r.format == strings.ToLower(strings.TrimSpace(format))
}

// Render returns the rendered notes, reusing the previous result for
// unchanged input.
func (r *notesRenderer) Render(input string) string {
	if input == r.lastInput && r.lastOutput != "" {
		return r.lastOutput
	}
	r.lastInput = input
	r.lastOutput = r.render(input)
	return r.lastOutput
}
