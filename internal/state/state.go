// Package state persists per-session loop state. A Store maps a session ID to
// the loop currently running in that session. An entry exists only while its
// loop is active: stopped, completed, exhausted and aborted loops are deleted,
// never marked inactive.
package state

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Loop is the persisted state of one continuation loop.
type Loop struct {
	SessionID         string    `json:"session_id"`
	RunID             string    `json:"run_id"`
	Active            bool      `json:"active"`
	Iteration         int       `json:"iteration"`
	MaxIterations     int       `json:"max_iterations"`
	CompletionPromise string    `json:"completion_promise"`
	StartedAt         time.Time `json:"started_at"`
	Prompt            string    `json:"prompt"`
}

// Mutation tells Store.Update what to do with an entry once the callback
// has run.
type Mutation int

const (
	Keep   Mutation = iota // leave the stored entry untouched
	Save                   // persist the callback's modified copy
	Remove                 // delete the entry
)

// Store is a durable session ID → Loop table.
//
// Update is the only read-modify-write primitive: it loads the entry for
// sessionID, hands a copy to fn and applies fn's Mutation, all under the
// store's per-key exclusion. If no entry exists fn is not called and found is
// false.
type Store interface {
	Get(ctx context.Context, sessionID string) (l Loop, found bool, err error)
	Put(ctx context.Context, sessionID string, l Loop) error
	Delete(ctx context.Context, sessionID string) (found bool, err error)
	Update(ctx context.Context, sessionID string, fn func(*Loop) Mutation) (found bool, err error)
	List(ctx context.Context) ([]Loop, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open constructs the Store for the named backend. path is ignored by the
// memory backend.
func Open(backend, path string, logger *zap.Logger) (Store, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile, "":
		return NewFileStore(path, logger), nil
	case BackendSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("state: unknown backend %q", backend)
	}
}

// apply runs fn against a copy of cur and reports the resulting entry and
// mutation. Save re-stamps the key so a callback cannot move an entry to
// another session.
func apply(sessionID string, cur Loop, fn func(*Loop) Mutation) (Loop, Mutation) {
	next := cur
	m := fn(&next)
	next.SessionID = sessionID
	return next, m
}
