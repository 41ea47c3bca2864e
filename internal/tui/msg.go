package tui

import (
	"time"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/loop"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/state"
)

// tickMsg triggers a periodic refresh.
type tickMsg time.Time

// snapshotMsg carries freshly read loops and journal entries.
type snapshotMsg struct {
	loops   []state.Loop
	entries []loop.LogEntry
	err     error
}

// stoppedMsg carries the result of a stop request.
type stoppedMsg struct {
	sessionID string
	reply     string
	err       error
}
