package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// fileFormat is the on-disk layout of a FileStore.
type fileFormat struct {
	Loops map[string]Loop `json:"loops"`
}

// FileStore is a Store backed by a single JSON file. Every operation reads
// the file, so a CLI process and a running server see each other's writes.
// Operations hold an exclusive lock on path+".lock" across read, modify and
// write, so read-modify-write is atomic across processes too.
// A missing, unreadable or corrupt file is treated as an empty table.
type FileStore struct {
	path   string
	logger *zap.Logger

	// mu serializes goroutines of this process; lock serializes processes.
	mu   sync.Mutex
	lock *flock.Flock
}

// lockRetry is how often a blocked operation retries the file lock.
const lockRetry = 10 * time.Millisecond

// NewFileStore returns a FileStore persisting to path. The parent directory is
// created on first use.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, logger: logger, lock: flock.New(path + ".lock")}
}

// Path returns the backing file path.
func (f *FileStore) Path() string { return f.path }

// locked runs fn while holding both the process mutex and the file lock.
// Waiting for the file lock stops when ctx ends.
func (f *FileStore) locked(ctx context.Context, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("state: create state dir: %w", err)
	}
	ok, err := f.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("state: lock %s: %w", f.lock.Path(), err)
	}
	if !ok {
		return fmt.Errorf("state: lock %s: not acquired", f.lock.Path())
	}
	defer func() {
		if unlockErr := f.lock.Unlock(); unlockErr != nil {
			f.logger.Warn("state lock release failed", zap.String("path", f.lock.Path()), zap.Error(unlockErr))
		}
	}()
	return fn()
}

func (f *FileStore) Get(ctx context.Context, sessionID string) (Loop, bool, error) {
	var (
		l  Loop
		ok bool
	)
	err := f.locked(ctx, func() error {
		l, ok = f.load()[sessionID]
		return nil
	})
	return l, ok, err
}

func (f *FileStore) Put(ctx context.Context, sessionID string, l Loop) error {
	return f.locked(ctx, func() error {
		loops := f.load()
		l.SessionID = sessionID
		loops[sessionID] = l
		return f.save(loops)
	})
}

func (f *FileStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	var found bool
	err := f.locked(ctx, func() error {
		loops := f.load()
		if _, found = loops[sessionID]; !found {
			return nil
		}
		delete(loops, sessionID)
		return f.save(loops)
	})
	return found, err
}

func (f *FileStore) Update(ctx context.Context, sessionID string, fn func(*Loop) Mutation) (bool, error) {
	var found bool
	err := f.locked(ctx, func() error {
		loops := f.load()
		cur, ok := loops[sessionID]
		if !ok {
			return nil
		}
		found = true
		next, mut := apply(sessionID, cur, fn)
		switch mut {
		case Save:
			loops[sessionID] = next
		case Remove:
			delete(loops, sessionID)
		default:
			return nil
		}
		return f.save(loops)
	})
	return found, err
}

func (f *FileStore) List(ctx context.Context) ([]Loop, error) {
	var loops map[string]Loop
	if err := f.locked(ctx, func() error {
		loops = f.load()
		return nil
	}); err != nil {
		return nil, err
	}
	out := make([]Loop, 0, len(loops))
	for _, l := range loops {
		out = append(out, l)
	}
	sortLoops(out)
	return out, nil
}

func (f *FileStore) Close() error { return f.lock.Close() }

// load reads the table, failing open to an empty map.
func (f *FileStore) load() map[string]Loop {
	empty := make(map[string]Loop)
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			f.logger.Warn("state file unreadable, treating as empty", zap.String("path", f.path), zap.Error(err))
		}
		return empty
	}
	var ff fileFormat
	if jsonErr := json.Unmarshal(data, &ff); jsonErr != nil {
		f.logger.Warn("state file corrupt, treating as empty", zap.String("path", f.path), zap.Error(jsonErr))
		return empty
	}
	if ff.Loops == nil {
		return empty
	}
	return ff.Loops
}

// save writes the table with a write-then-rename so readers never observe a
// partially-written file.
func (f *FileStore) save(loops map[string]Loop) error {
	dir := filepath.Dir(f.path)
	data, err := json.MarshalIndent(fileFormat{Loops: loops}, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ocontinue-state-*.tmp")
	if err != nil {
		return fmt.Errorf("state: create temp: %w", err)
	}
	if _, writeErr := tmp.Write(data); writeErr != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("state: write: %w", writeErr)
	}
	if closeErr := tmp.Close(); closeErr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("state: close: %w", closeErr)
	}
	if renameErr := os.Rename(tmp.Name(), f.path); renameErr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("state: finalize: %w", renameErr)
	}
	return nil
}
