package state

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a non-durable Store for tests and one-off runs.
type MemoryStore struct {
	mu    sync.Mutex
	loops map[string]Loop
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{loops: make(map[string]Loop)}
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (Loop, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loops[sessionID]
	return l, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, sessionID string, l Loop) error {
	l.SessionID = sessionID
	m.mu.Lock()
	m.loops[sessionID] = l
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loops[sessionID]
	delete(m.loops, sessionID)
	return ok, nil
}

func (m *MemoryStore) Update(_ context.Context, sessionID string, fn func(*Loop) Mutation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.loops[sessionID]
	if !ok {
		return false, nil
	}
	next, mut := apply(sessionID, cur, fn)
	switch mut {
	case Save:
		m.loops[sessionID] = next
	case Remove:
		delete(m.loops, sessionID)
	}
	return true, nil
}

// List returns all entries ordered by start time.
func (m *MemoryStore) List(_ context.Context) ([]Loop, error) {
	m.mu.Lock()
	out := make([]Loop, 0, len(m.loops))
	for _, l := range m.loops {
		out = append(out, l)
	}
	m.mu.Unlock()
	sortLoops(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func sortLoops(loops []Loop) {
	sort.Slice(loops, func(i, j int) bool {
		if loops[i].StartedAt.Equal(loops[j].StartedAt) {
			return loops[i].SessionID < loops[j].SessionID
		}
		return loops[i].StartedAt.Before(loops[j].StartedAt)
	})
}
