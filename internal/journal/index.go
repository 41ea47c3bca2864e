package journal

import "github.com/LISSConsulting/LISSTech.OContinue/internal/loop"

// runIndex maintains per-run summaries and the byte offsets of every line
// belonging to each run. Runs from different sessions interleave in one file,
// so lines are tracked individually rather than as one contiguous range.
type runIndex struct {
	summaries []*RunSummary          // ordered by start
	byRun     map[string]*RunSummary // RunID → summary
	lines     map[string][]lineRange // RunID → line byte ranges
}

type lineRange struct {
	start int64
	end   int64
}

func newRunIndex() *runIndex {
	return &runIndex{
		byRun: make(map[string]*RunSummary),
		lines: make(map[string][]lineRange),
	}
}

// onAppend updates the index when a LogEntry line has been written at
// lineOffset with lineLen bytes (including the trailing newline). Entries
// without a RunID (informational replies) are not indexed.
func (idx *runIndex) onAppend(entry loop.LogEntry, lineOffset, lineLen int64) {
	if entry.RunID == "" {
		return
	}
	s, ok := idx.byRun[entry.RunID]
	if !ok {
		s = &RunSummary{
			RunID:     entry.RunID,
			SessionID: entry.SessionID,
			StartAt:   entry.Timestamp,
		}
		idx.byRun[entry.RunID] = s
		idx.summaries = append(idx.summaries, s)
	}
	idx.lines[entry.RunID] = append(idx.lines[entry.RunID], lineRange{start: lineOffset, end: lineOffset + lineLen})

	if entry.Promise != "" {
		s.Promise = entry.Promise
	}
	if entry.MaxIter > 0 {
		s.MaxIter = entry.MaxIter
	}
	if entry.Iteration > s.Iterations {
		s.Iterations = entry.Iteration
	}
	if entry.Kind.Terminal() {
		s.Outcome = entry.Kind
		s.EndAt = entry.Timestamp
	}
}

func (idx *runIndex) snapshot() []RunSummary {
	out := make([]RunSummary, len(idx.summaries))
	for i, s := range idx.summaries {
		out[i] = *s
	}
	return out
}
