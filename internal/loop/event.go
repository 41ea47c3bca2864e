package loop

import "time"

// LogKind identifies the type of a loop log event.
type LogKind string

const (
	LogInfo      LogKind = "info"      // General informational message
	LogStart     LogKind = "start"     // Loop started (or restarted) by a start directive
	LogContinue  LogKind = "continue"  // Promise not found, prompt re-injected
	LogComplete  LogKind = "complete"  // Promise found, loop finished
	LogExhausted LogKind = "exhausted" // Iteration budget spent without the promise
	LogStopped   LogKind = "stopped"   // Stop directive or out-of-band stop
	LogAborted   LogKind = "aborted"   // User aborted the assistant turn
	LogError     LogKind = "error"     // Transport or store failure
)

// Terminal reports whether the kind ends a loop.
func (k LogKind) Terminal() bool {
	switch k {
	case LogComplete, LogExhausted, LogStopped, LogAborted:
		return true
	}
	return false
}

// LogEntry is a structured event emitted by the controller. Entries are
// delivered to every registered Hook: the journal, notifiers and the log.
type LogEntry struct {
	Kind      LogKind   `json:"kind"`
	Timestamp time.Time `json:"ts"`
	Message   string    `json:"message"`

	SessionID string `json:"session_id"`
	RunID     string `json:"run_id,omitempty"`

	// Iteration state
	Iteration int    `json:"iteration,omitempty"`
	MaxIter   int    `json:"max_iterations,omitempty"`
	Promise   string `json:"promise,omitempty"`
}

// Hook receives controller events. Hooks must not block; notifiers hand the
// entry off to a goroutine.
type Hook func(LogEntry)
