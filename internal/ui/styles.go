package ui

import "github.com/charmbracelet/lipgloss"

// Palette, by role.
var (
	colorBrand   = lipgloss.Color("99")
	colorActive  = lipgloss.Color("39")
	colorOK      = lipgloss.Color("118")
	colorHeading = lipgloss.Color("220")
	colorFrame   = lipgloss.Color("240")
	colorMuted   = lipgloss.Color("246")
	colorText    = lipgloss.Color("255")
)

var (
	styleAppHeader = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorBrand).
			Bold(true).
			Padding(0, 1)

	styleSectionTitle = lipgloss.NewStyle().Foreground(colorHeading).Bold(true)

	// Fixed width so values line up in a column.
	styleLabel = lipgloss.NewStyle().Foreground(colorMuted).Width(9)
	styleValue = lipgloss.NewStyle().Foreground(colorText)
	styleReply = lipgloss.NewStyle().Foreground(colorOK).Bold(true)

	styleSpinner   = lipgloss.NewStyle().Foreground(colorActive)
	styleStatus    = lipgloss.NewStyle().Foreground(colorText)
	styleStatusDim = lipgloss.NewStyle().Foreground(colorMuted)
	styleToast     = lipgloss.NewStyle().Foreground(colorOK).Italic(true)

	styleNotes = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(colorFrame).
			Padding(0, 1)

	styleBody = lipgloss.NewStyle().Padding(1, 2)
)
