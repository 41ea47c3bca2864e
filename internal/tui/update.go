package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Update handles incoming messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		return m, tea.Batch(m.fetch(), m.tick())

	case snapshotMsg:
		return m.handleSnapshot(msg), nil

	case stoppedMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("stop %s: %v", msg.sessionID, msg.err)
			return m, nil
		}
		m.status = msg.reply
		return m, m.fetch()
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "tab", "shift+tab":
		if m.focus == PanelLoops {
			m.focus = PanelJournal
			m.table.Blur()
		} else {
			m.focus = PanelLoops
			m.table.Focus()
		}
		return m, nil
	case "r":
		return m, m.fetch()
	case "f":
		m.follow = !m.follow
		if m.follow {
			m.log.GotoBottom()
		}
		return m, nil
	case "x":
		if m.focus != PanelLoops || m.stop == nil {
			return m, nil
		}
		row := m.table.SelectedRow()
		if row == nil {
			return m, nil
		}
		return m, m.stopLoop(m.sessionAt(m.table.Cursor()))
	}

	var cmd tea.Cmd
	if m.focus == PanelLoops {
		m.table, cmd = m.table.Update(msg)
	} else {
		m.log, cmd = m.log.Update(msg)
		m.follow = m.log.AtBottom()
	}
	return m, cmd
}

func (m Model) handleSnapshot(msg snapshotMsg) Model {
	if msg.err != nil {
		m.err = msg.err
		return m
	}
	m.err = nil
	m.loops = msg.loops
	m.lines = msg.entries
	m.table.SetRows(rows(m.loops, m.now))
	if c := m.table.Cursor(); c >= len(m.loops) && len(m.loops) > 0 {
		m.table.SetCursor(len(m.loops) - 1)
	}
	m.renderLog()
	return m
}

// sessionAt maps a table row back to its session. Rows show a shortened ID.
func (m Model) sessionAt(i int) string {
	if i < 0 || i >= len(m.loops) {
		return ""
	}
	return m.loops[i].SessionID
}

func (m *Model) renderLog() {
	lines := make([]string, len(m.lines))
	for i, e := range m.lines {
		lines[i] = m.theme.RenderLogLine(e, m.log.Width)
	}
	m.log.SetContent(strings.Join(lines, "\n"))
	if m.follow {
		m.log.GotoBottom()
	}
}
