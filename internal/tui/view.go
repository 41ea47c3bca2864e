package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/state"
)

// View renders the header, the loops table, the journal, and the footer.
func (m Model) View() string {
	loops := m.theme.PanelBorderStyle(m.focus == PanelLoops).Render(m.table.View())
	journal := m.theme.PanelBorderStyle(m.focus == PanelJournal).Render(m.log.View())
	return strings.Join([]string{m.renderHeader(), loops, journal, m.renderFooter()}, "\n")
}

func (m Model) renderHeader() string {
	project := m.project
	if project == "" {
		project = "—"
	}
	parts := []string{
		"⟳ ocontinue",
		fmt.Sprintf("project: %s", project),
		fmt.Sprintf("active loops: %d", len(m.loops)),
		m.now.Format("15:04:05"),
	}
	return m.theme.AccentHeaderStyle().Width(m.width).Render(strings.Join(parts, "  │  "))
}

func (m Model) renderFooter() string {
	left := m.status
	if m.err != nil {
		left = errorStyle.Render("error: " + m.err.Error())
	}
	if !m.follow {
		left = strings.TrimSpace(left + "  [paused]")
	}
	right := helpLine()

	gap := m.width - len([]rune(left)) - len(right)
	if gap < 2 {
		gap = 2
	}
	return footerStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

// resize splits the height between the two bordered panels: a third for
// the table, the rest for the journal.
func (m *Model) resize() {
	inner := m.width - 2
	if inner < 20 {
		inner = 20
	}
	body := m.height - 2 - 4 // header, footer, two borders per panel
	if body < 6 {
		body = 6
	}
	tableH := body / 3
	if tableH < 3 {
		tableH = 3
	}

	m.table.SetColumns(columns(inner))
	m.table.SetWidth(inner)
	m.table.SetHeight(tableH)
	m.table.SetRows(rows(m.loops, m.now))

	m.log.Width = inner
	m.log.Height = body - tableH
	m.renderLog()
}

func columns(width int) []table.Column {
	fixed := 16 + 9 + 14 + 8
	prompt := width - fixed - 10 // cell padding
	if prompt < 10 {
		prompt = 10
	}
	return []table.Column{
		{Title: "Session", Width: 16},
		{Title: "Iter", Width: 9},
		{Title: "Promise", Width: 14},
		{Title: "Age", Width: 8},
		{Title: "Prompt", Width: prompt},
	}
}

func rows(loops []state.Loop, now time.Time) []table.Row {
	out := make([]table.Row, len(loops))
	for i, l := range loops {
		out[i] = table.Row{
			shortID(l.SessionID),
			fmt.Sprintf("%d/%d", l.Iteration, l.MaxIterations),
			l.CompletionPromise,
			age(now, l.StartedAt),
			singleLine(l.Prompt),
		}
	}
	return out
}

func age(now, start time.Time) string {
	if start.IsZero() || now.Before(start) {
		return "—"
	}
	return now.Sub(start).Round(time.Second).String()
}
