// Package journal is the durable log sink for controller events. Each process
// appends timestamped loop.LogEntry lines to its own JSONL file; the history
// and watch commands read the files back.
package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/loop"
)

// RunSummary summarises one loop run. Outcome is empty while the run is
// still active (or was cut off by a process exit).
type RunSummary struct {
	RunID      string
	SessionID  string
	Promise    string
	MaxIter    int
	Iterations int
	Outcome    loop.LogKind
	StartAt    time.Time
	EndAt      time.Time
}

// JSONL is an append-only journal file. The file is synced after every
// Append so entries survive a crash of the host process.
//
// File identity: "<unix-timestamp>-<pid>.jsonl", so names sort
// chronologically.
type JSONL struct {
	file *os.File
	mu   sync.Mutex
	idx  *runIndex
	pos  int64
}

// NewJSONL creates a journal file in dir, creating dir if needed.
func NewJSONL(dir string) (*JSONL, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("journal: mkdir %q: %w", dir, err)
	}
	now := time.Now()
	path := filepath.Join(dir, fmt.Sprintf("%d-%d.jsonl", now.Unix(), os.Getpid()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %q: %w", path, err)
	}
	pos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("journal: seek: %w", err)
	}
	return &JSONL{file: f, idx: newRunIndex(), pos: pos}, nil
}

// Path returns the journal file path.
func (j *JSONL) Path() string { return j.file.Name() }

// Append writes entry as one JSON line and syncs. Safe for concurrent use.
func (j *JSONL) Append(entry loop.LogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	lineOffset := j.pos
	if _, err := j.file.Write(data); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("journal: sync: %w", err)
	}
	lineLen := int64(len(data))
	j.pos += lineLen
	j.idx.onAppend(entry, lineOffset, lineLen)
	return nil
}

// Hook adapts Append to a loop.Hook. Write failures are logged and dropped.
func (j *JSONL) Hook(logger *zap.Logger) loop.Hook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(entry loop.LogEntry) {
		if err := j.Append(entry); err != nil {
			logger.Warn("journal append failed", zap.Error(err))
		}
	}
}

// Close closes the underlying file.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// Runs returns summaries of the runs written by this journal.
func (j *JSONL) Runs() []RunSummary {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.idx.snapshot()
}

// RunLog returns every entry of one run written by this journal, reading the
// lines back through the byte-offset index.
func (j *JSONL) RunLog(runID string) ([]loop.LogEntry, error) {
	j.mu.Lock()
	ranges, ok := j.idx.lines[runID]
	ranges = append([]lineRange(nil), ranges...)
	j.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("journal: run %s not found", runID)
	}
	entries := make([]loop.LogEntry, 0, len(ranges))
	for _, r := range ranges {
		buf := make([]byte, r.end-r.start)
		if _, err := j.file.ReadAt(buf, r.start); err != nil {
			return nil, fmt.Errorf("journal: read run %s: %w", runID, err)
		}
		var e loop.LogEntry
		if err := json.Unmarshal(bytes.TrimSpace(buf), &e); err != nil {
			return nil, fmt.Errorf("journal: decode run %s: %w", runID, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// files lists the journal files in dir, oldest first. A missing dir is empty.
func files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: read dir %q: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // timestamp-prefixed names sort chronologically
	return names, nil
}

// readFile decodes every well-formed line of one journal file. Malformed
// lines (a torn final write) are skipped.
func readFile(path string, fn func(loop.LogEntry, int64, int64)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("journal: open %q: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var offset int64
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			var e loop.LogEntry
			if jsonErr := json.Unmarshal(bytes.TrimSpace(line), &e); jsonErr == nil {
				fn(e, offset, int64(len(line)))
			}
			offset += int64(len(line))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("journal: read %q: %w", path, err)
		}
	}
}

// History returns run summaries from every journal file in dir, oldest first.
func History(dir string) ([]RunSummary, error) {
	names, err := files(dir)
	if err != nil {
		return nil, err
	}
	var out []RunSummary
	for _, name := range names {
		idx := newRunIndex()
		if err := readFile(filepath.Join(dir, name), idx.onAppend); err != nil {
			return nil, err
		}
		out = append(out, idx.snapshot()...)
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].StartAt.Before(out[k].StartAt) })
	return out, nil
}

// Tail returns up to n of the most recent entries across the journal files in
// dir, oldest first.
func Tail(dir string, n int) ([]loop.LogEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	names, err := files(dir)
	if err != nil {
		return nil, err
	}
	var out []loop.LogEntry
	for i := len(names) - 1; i >= 0 && len(out) < n; i-- {
		var fileEntries []loop.LogEntry
		if err := readFile(filepath.Join(dir, names[i]), func(e loop.LogEntry, _, _ int64) {
			fileEntries = append(fileEntries, e)
		}); err != nil {
			return nil, err
		}
		out = append(fileEntries, out...)
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// EnforceRetention removes the oldest journal files in dir, keeping at most
// maxKeep files. If maxKeep is 0, no files are removed.
func EnforceRetention(dir string, maxKeep int) error {
	if maxKeep <= 0 {
		return nil
	}
	names, err := files(dir)
	if err != nil {
		return err
	}
	toDelete := len(names) - maxKeep
	for i := 0; i < toDelete; i++ {
		path := filepath.Join(dir, names[i])
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("journal: remove %q: %w", path, err)
		}
	}
	return nil
}
