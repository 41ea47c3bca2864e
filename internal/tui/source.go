package tui

import (
	"context"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/journal"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/loop"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/state"
)

// Source supplies the data the dashboard polls.
type Source interface {
	Loops(ctx context.Context) ([]state.Loop, error)
	Entries(n int) ([]loop.LogEntry, error)
}

// StopFunc ends the loop in sessionID and returns the acknowledgement.
type StopFunc func(ctx context.Context, sessionID string) (string, error)

// StoreSource reads loops from a state store and entries from the journal
// directory. The store may be shared with a running server.
type StoreSource struct {
	Store      state.Store
	JournalDir string
}

// Loops lists the active loops.
func (s StoreSource) Loops(ctx context.Context) ([]state.Loop, error) {
	return s.Store.List(ctx)
}

// Entries returns the newest n journal entries; no journal dir means none.
func (s StoreSource) Entries(n int) ([]loop.LogEntry, error) {
	if s.JournalDir == "" {
		return nil, nil
	}
	return journal.Tail(s.JournalDir, n)
}
