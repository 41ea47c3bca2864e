package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/loop"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/state"
)

// Panel identifies which panel holds keyboard focus.
type Panel int

const (
	PanelLoops Panel = iota
	PanelJournal
)

// Options configures a dashboard Model.
type Options struct {
	AccentColor string
	ProjectName string
	Refresh     time.Duration // poll interval; 0 means one second
	Entries     int           // journal lines kept; 0 means 200
	Stop        StopFunc      // nil disables the stop key
}

// Model is the bubbletea model for the watch dashboard.
type Model struct {
	src     Source
	stop    StopFunc
	theme   Theme
	project string
	refresh time.Duration
	entries int

	table  table.Model
	log    viewport.Model
	follow bool
	focus  Panel

	loops  []state.Loop
	lines  []loop.LogEntry
	status string
	err    error

	width  int
	height int
	now    time.Time
}

// New creates a dashboard that polls src.
func New(src Source, opts Options) Model {
	refresh := opts.Refresh
	if refresh <= 0 {
		refresh = time.Second
	}
	entries := opts.Entries
	if entries <= 0 {
		entries = 200
	}
	th := NewTheme(opts.AccentColor)

	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(5),
		table.WithStyles(th.table),
	)

	m := Model{
		src:     src,
		stop:    opts.Stop,
		theme:   th,
		project: opts.ProjectName,
		refresh: refresh,
		entries: entries,
		table:   t,
		log:     viewport.New(78, 10),
		follow:  true,
		focus:   PanelLoops,
		width:   80,
		height:  24,
		now:     time.Now(),
	}
	m.resize()
	return m
}

// Init fetches the first snapshot and starts the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

// Err returns the last error reading the source.
func (m Model) Err() error {
	return m.err
}

// Focus reports the focused panel.
func (m Model) Focus() Panel {
	return m.focus
}

// Loops returns the loops shown in the table.
func (m Model) Loops() []state.Loop {
	return m.loops
}

// Status returns the last stop acknowledgement.
func (m Model) Status() string {
	return m.status
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetch() tea.Cmd {
	src, n := m.src, m.entries
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		loops, err := src.Loops(ctx)
		if err != nil {
			return snapshotMsg{err: err}
		}
		entries, err := src.Entries(n)
		return snapshotMsg{loops: loops, entries: entries, err: err}
	}
}

func (m Model) stopLoop(sessionID string) tea.Cmd {
	stop := m.stop
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		reply, err := stop(ctx, sessionID)
		return stoppedMsg{sessionID: sessionID, reply: reply, err: err}
	}
}
