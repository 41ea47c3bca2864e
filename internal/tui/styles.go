// Package tui provides the bubbletea + lipgloss watch dashboard: the active
// loops of every session and a tail of the loop journal.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/loop"
)

// defaultAccentColor is the default accent color (indigo).
const defaultAccentColor = "#7D56F4"

var (
	colorWhite  = lipgloss.Color("#FAFAFA")
	colorGray   = lipgloss.Color("#888888")
	colorBlue   = lipgloss.Color("#5B9BD5")
	colorGreen  = lipgloss.Color("#6BCB77")
	colorYellow = lipgloss.Color("#FFD93D")
	colorRed    = lipgloss.Color("#FF6B6B")
	colorOrange = lipgloss.Color("#FFA54F")
)

// Styles shared by every theme. Accent-dependent styles live on Theme.
var (
	footerStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	timestampStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	startStyle = lipgloss.NewStyle().
			Foreground(colorBlue)

	continueStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	completeStyle = lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true)

	stoppedStyle = lipgloss.NewStyle().
			Foreground(colorOrange)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(colorWhite)
)

// kindIcon returns the icon shown in front of a journal line.
func kindIcon(kind loop.LogKind) string {
	switch kind {
	case loop.LogStart:
		return "▶"
	case loop.LogContinue:
		return "↻"
	case loop.LogComplete:
		return "✅"
	case loop.LogExhausted:
		return "⌛"
	case loop.LogStopped, loop.LogAborted:
		return "⏹"
	case loop.LogError:
		return "❌"
	default:
		return "·"
	}
}

// kindStyle returns the lipgloss style for a journal line.
func kindStyle(kind loop.LogKind) lipgloss.Style {
	switch kind {
	case loop.LogStart:
		return startStyle
	case loop.LogContinue:
		return continueStyle
	case loop.LogComplete:
		return completeStyle
	case loop.LogExhausted, loop.LogStopped, loop.LogAborted:
		return stoppedStyle
	case loop.LogError:
		return errorStyle
	default:
		return infoStyle
	}
}
