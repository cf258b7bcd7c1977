// Package tui renders a live view of a blueprint run in the terminal.
package tui

import "github.com/charmbracelet/lipgloss"

// Step status glyphs.
const (
	GlyphPending   = "○"
	GlyphCurrent   = "▸"
	GlyphCompleted = "✓"
	GlyphFailed    = "✗"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
	colorWhite  = lipgloss.Color("255")
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorCyan).
	Padding(0, 1)

var modeBadgeStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("0")).
	Background(colorYellow).
	Padding(0, 1)

var (
	stepNormal = lipgloss.NewStyle().
			Foreground(colorWhite)

	stepRunning = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorYellow)

	stepCompleted = lipgloss.NewStyle().
			Foreground(colorGreen)

	stepFailed = lipgloss.NewStyle().
			Foreground(colorRed)

	stepSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)
)

var (
	dimStyle = lipgloss.NewStyle().Foreground(colorDim)

	panelBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)

	successBanner = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorGreen)

	failureBanner = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorRed)

	spinnerStyle = lipgloss.NewStyle().Foreground(colorYellow)
)
