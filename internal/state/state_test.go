package state

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoop(session string, iter int) Loop {
	return Loop{
		SessionID:         session,
		RunID:             "run-" + session,
		Active:            true,
		Iteration:         iter,
		MaxIterations:     5,
		CompletionPromise: "DONE",
		StartedAt:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Prompt:            "fix the build",
	}
}

// backends returns a fresh instance of every Store implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	sq, err := OpenSQLite(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   NewFileStore(filepath.Join(dir, "state.json"), nil),
		"sqlite": sq,
	}
}

func TestStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, found, err := s.Get(ctx, "ses_1")
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, s.Put(ctx, "ses_1", testLoop("ignored", 1)))

			got, found, err := s.Get(ctx, "ses_1")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "ses_1", got.SessionID, "Put must key the entry by sessionID")
			assert.Equal(t, 1, got.Iteration)
			assert.Equal(t, "DONE", got.CompletionPromise)
			assert.Equal(t, "fix the build", got.Prompt)
			assert.True(t, got.StartedAt.Equal(testLoop("", 1).StartedAt))

			found, err = s.Delete(ctx, "ses_1")
			require.NoError(t, err)
			assert.True(t, found)

			found, err = s.Delete(ctx, "ses_1")
			require.NoError(t, err)
			assert.False(t, found, "second delete reports missing entry")
		})
	}
}

func TestStore_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "ses_1", testLoop("ses_1", 4)))
			fresh := testLoop("ses_1", 1)
			fresh.RunID = "run-2"
			require.NoError(t, s.Put(ctx, "ses_1", fresh))

			got, _, err := s.Get(ctx, "ses_1")
			require.NoError(t, err)
			assert.Equal(t, 1, got.Iteration)
			assert.Equal(t, "run-2", got.RunID)
		})
	}
}

func TestStore_Update(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			called := false
			found, err := s.Update(ctx, "missing", func(*Loop) Mutation {
				called = true
				return Save
			})
			require.NoError(t, err)
			assert.False(t, found)
			assert.False(t, called, "fn must not run for a missing entry")

			require.NoError(t, s.Put(ctx, "ses_1", testLoop("ses_1", 1)))

			found, err = s.Update(ctx, "ses_1", func(l *Loop) Mutation {
				l.Iteration++
				return Save
			})
			require.NoError(t, err)
			assert.True(t, found)
			got, _, _ := s.Get(ctx, "ses_1")
			assert.Equal(t, 2, got.Iteration)

			found, err = s.Update(ctx, "ses_1", func(l *Loop) Mutation {
				l.Iteration = 99
				return Keep
			})
			require.NoError(t, err)
			assert.True(t, found)
			got, _, _ = s.Get(ctx, "ses_1")
			assert.Equal(t, 2, got.Iteration, "Keep must not persist the callback's changes")

			found, err = s.Update(ctx, "ses_1", func(*Loop) Mutation { return Remove })
			require.NoError(t, err)
			assert.True(t, found)
			_, found, _ = s.Get(ctx, "ses_1")
			assert.False(t, found)
		})
	}
}

func TestStore_UpdateIsAtomic(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "ses_1", testLoop("ses_1", 0)))

			const workers = 20
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.Update(ctx, "ses_1", func(l *Loop) Mutation {
						l.Iteration++
						return Save
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			got, _, err := s.Get(ctx, "ses_1")
			require.NoError(t, err)
			assert.Equal(t, workers, got.Iteration, "no increment may be lost")
		})
	}
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			later := testLoop("b", 1)
			later.StartedAt = later.StartedAt.Add(time.Minute)
			require.NoError(t, s.Put(ctx, "b", later))
			require.NoError(t, s.Put(ctx, "a", testLoop("a", 1)))

			loops, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, loops, 2)
			assert.Equal(t, "a", loops[0].SessionID)
			assert.Equal(t, "b", loops[1].SessionID)
		})
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	first := NewFileStore(path, nil)
	require.NoError(t, first.Put(ctx, "ses_1", testLoop("ses_1", 3)))

	second := NewFileStore(path, nil)
	got, found, err := second.Get(ctx, "ses_1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, got.Iteration)
}

func TestFileStore_CorruptFileFailsOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{invalid"), 0644))

	s := NewFileStore(path, nil)
	_, found, err := s.Get(ctx, "ses_1")
	require.NoError(t, err, "a corrupt file must not surface as an error")
	assert.False(t, found)

	loops, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, loops)

	// The next write replaces the corrupt file.
	require.NoError(t, s.Put(ctx, "ses_1", testLoop("ses_1", 1)))
	_, found, err = s.Get(ctx, "ses_1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestFileStore_StopDuringUpdateIsNotLost(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	server := NewFileStore(path, nil)
	cli := NewFileStore(path, nil)
	t.Cleanup(func() { server.Close(); cli.Close() })
	require.NoError(t, server.Put(ctx, "s", testLoop("s", 2)))

	deleted := make(chan bool, 1)
	found, err := server.Update(ctx, "s", func(l *Loop) Mutation {
		go func() {
			ok, delErr := cli.Delete(ctx, "s")
			assert.NoError(t, delErr)
			deleted <- ok
		}()
		select {
		case <-deleted:
			t.Error("a second store must not delete while an update holds the file")
		case <-time.After(100 * time.Millisecond):
		}
		l.Iteration++
		return Save
	})
	require.NoError(t, err)
	require.True(t, found)

	select {
	case ok := <-deleted:
		assert.True(t, ok, "the stop runs after the update and finds the loop")
	case <-time.After(5 * time.Second):
		t.Fatal("second store never acquired the file lock")
	}

	_, found, err = server.Get(ctx, "s")
	require.NoError(t, err)
	assert.False(t, found, "the stopped loop must stay stopped")
}

func TestFileStore_LockWaitHonorsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	holder := NewFileStore(path, nil)
	waiter := NewFileStore(path, nil)
	t.Cleanup(func() { holder.Close(); waiter.Close() })
	require.NoError(t, holder.Put(context.Background(), "s", testLoop("s", 1)))

	_, err := holder.Update(context.Background(), "s", func(*Loop) Mutation {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, _, getErr := waiter.Get(ctx, "s")
		assert.ErrorIs(t, getErr, context.DeadlineExceeded)
		return Keep
	})
	require.NoError(t, err)

	_, found, err := waiter.Get(context.Background(), "s")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(BackendMemory, "", nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open("", filepath.Join(dir, "state.json"), nil)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(BackendSQLite, filepath.Join(dir, "state.db"), nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open("redis", "", nil)
	assert.Error(t, err)
}
