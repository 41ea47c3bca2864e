package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS loops (
	session_id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	iteration INTEGER NOT NULL,
	max_iterations INTEGER NOT NULL,
	completion_promise TEXT NOT NULL,
	prompt TEXT NOT NULL,
	started_at INTEGER NOT NULL
)`

// SQLiteStore is a Store backed by a SQLite database. The pool is limited to
// one connection, so every transaction is serialized.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path and ensures the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("state: create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("state: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoop(row rowScanner) (Loop, error) {
	var (
		l       Loop
		started int64
	)
	if err := row.Scan(&l.SessionID, &l.RunID, &l.Iteration, &l.MaxIterations, &l.CompletionPromise, &l.Prompt, &started); err != nil {
		return Loop{}, err
	}
	l.Active = true
	l.StartedAt = time.Unix(0, started).UTC()
	return l, nil
}

const selectLoop = `SELECT session_id, run_id, iteration, max_iterations, completion_promise, prompt, started_at FROM loops`

func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (Loop, bool, error) {
	l, err := scanLoop(s.db.QueryRowContext(ctx, selectLoop+` WHERE session_id = ?`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return Loop{}, false, nil
	}
	if err != nil {
		return Loop{}, false, fmt.Errorf("state: get %s: %w", sessionID, err)
	}
	return l, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, sessionID string, l Loop) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO loops (session_id, run_id, iteration, max_iterations, completion_promise, prompt, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			run_id = excluded.run_id,
			iteration = excluded.iteration,
			max_iterations = excluded.max_iterations,
			completion_promise = excluded.completion_promise,
			prompt = excluded.prompt,
			started_at = excluded.started_at`,
		sessionID, l.RunID, l.Iteration, l.MaxIterations, l.CompletionPromise, l.Prompt, l.StartedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("state: put %s: %w", sessionID, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM loops WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("state: delete %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("state: delete %s: %w", sessionID, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Update(ctx context.Context, sessionID string, fn func(*Loop) Mutation) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("state: begin: %w", err)
	}
	defer tx.Rollback()

	cur, err := scanLoop(tx.QueryRowContext(ctx, selectLoop+` WHERE session_id = ?`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("state: update %s: %w", sessionID, err)
	}

	next, mut := apply(sessionID, cur, fn)
	switch mut {
	case Save:
		if _, err := tx.ExecContext(ctx, `UPDATE loops SET iteration = ?, max_iterations = ?, completion_promise = ?, prompt = ?, run_id = ?, started_at = ? WHERE session_id = ?`,
			next.Iteration, next.MaxIterations, next.CompletionPromise, next.Prompt, next.RunID, next.StartedAt.UnixNano(), sessionID); err != nil {
			return true, fmt.Errorf("state: update %s: %w", sessionID, err)
		}
	case Remove:
		if _, err := tx.ExecContext(ctx, `DELETE FROM loops WHERE session_id = ?`, sessionID); err != nil {
			return true, fmt.Errorf("state: update %s: %w", sessionID, err)
		}
	default:
		return true, nil
	}
	if err := tx.Commit(); err != nil {
		return true, fmt.Errorf("state: commit: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Loop, error) {
	rows, err := s.db.QueryContext(ctx, selectLoop+` ORDER BY started_at, session_id`)
	if err != nil {
		return nil, fmt.Errorf("state: list: %w", err)
	}
	defer rows.Close()

	var out []Loop
	for rows.Next() {
		l, err := scanLoop(rows)
		if err != nil {
			return nil, fmt.Errorf("state: list: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
