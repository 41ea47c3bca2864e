package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/loop"
)

// Theme holds accent-color-derived styles.
type Theme struct {
	accentStyle     lipgloss.Style // header bar
	borderFocused   lipgloss.Style
	borderUnfocused lipgloss.Style
	table           table.Styles
}

// NewTheme creates a Theme from a hex accent color string (e.g. "#7D56F4").
// If accentColor is empty, the default accent color is used.
func NewTheme(accentColor string) Theme {
	color := defaultAccentColor
	if accentColor != "" {
		color = accentColor
	}
	c := lipgloss.Color(color)

	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorGray).
		BorderBottom(true).
		Bold(true)
	ts.Selected = ts.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(c).
		Bold(false)

	return Theme{
		accentStyle: lipgloss.NewStyle().
			Background(c).
			Foreground(lipgloss.Color("#FFFFFF")).
			Bold(true),
		borderFocused: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(c),
		borderUnfocused: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorGray),
		table: ts,
	}
}

// AccentHeaderStyle returns the style for the header bar.
func (t Theme) AccentHeaderStyle() lipgloss.Style {
	return t.accentStyle
}

// PanelBorderStyle returns the border style for a panel based on whether it
// holds keyboard focus.
func (t Theme) PanelBorderStyle(focused bool) lipgloss.Style {
	if focused {
		return t.borderFocused
	}
	return t.borderUnfocused
}

// RenderLogLine renders a journal entry as a single terminal line no wider
// than width.
func (t Theme) RenderLogLine(entry loop.LogEntry, width int) string {
	ts := timestampStyle.Render(fmt.Sprintf("[%s]", entry.Timestamp.Local().Format("15:04:05")))
	session := ""
	if entry.SessionID != "" {
		session = timestampStyle.Render(shortID(entry.SessionID)) + " "
	}

	text := singleLine(entry.Message)
	maxText := width - 30
	if maxText < 20 {
		maxText = 20
	}
	if runes := []rune(text); len(runes) > maxText {
		text = string(runes[:maxText-1]) + "…"
	}
	return fmt.Sprintf("%s  %s%s", ts, session, kindStyle(entry.Kind).Render(kindIcon(entry.Kind)+" "+text))
}

// singleLine collapses whitespace runs, including newlines, into one space.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// shortID trims long session IDs for display.
func shortID(id string) string {
	const max = 14
	if runes := []rune(id); len(runes) > max {
		return string(runes[:max-1]) + "…"
	}
	return id
}
