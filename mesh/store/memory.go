package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and short-lived runs. All
// snapshots are copied in and out, so callers can reuse their buffers.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[snapshotKey][]byte
	latest    map[runRankKey]uint64
	named     map[namedKey][]byte
}

type snapshotKey struct {
	runID string
	date  uint64
	rank  int
}

type runRankKey struct {
	runID string
	rank  int
}

type namedKey struct {
	name string
	rank int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: map[snapshotKey][]byte{},
		latest:    map[runRankKey]uint64{},
		named:     map[namedKey][]byte{},
	}
}

func clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// SaveSnapshot implements Store.
func (m *MemoryStore) SaveSnapshot(_ context.Context, runID string, date uint64, rank int, snapshot []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshotKey{runID, date, rank}] = clone(snapshot)
	key := runRankKey{runID, rank}
	if current, ok := m.latest[key]; !ok || date >= current {
		m.latest[key] = date
	}
	return nil
}

// LoadLatest implements Store.
func (m *MemoryStore) LoadLatest(_ context.Context, runID string, rank int) ([]byte, uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	date, ok := m.latest[runRankKey{runID, rank}]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return clone(m.snapshots[snapshotKey{runID, date, rank}]), date, nil
}

// LoadSnapshot implements Store.
func (m *MemoryStore) LoadSnapshot(_ context.Context, runID string, date uint64, rank int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot, ok := m.snapshots[snapshotKey{runID, date, rank}]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(snapshot), nil
}

// SaveNamed implements Store.
func (m *MemoryStore) SaveNamed(_ context.Context, name string, rank int, snapshot []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.named[namedKey{name, rank}] = clone(snapshot)
	return nil
}

// LoadNamed implements Store.
func (m *MemoryStore) LoadNamed(_ context.Context, name string, rank int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot, ok := m.named[namedKey{name, rank}]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(snapshot), nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
