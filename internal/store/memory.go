package store

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore is an in-process Store used by tests and single-node
// development runs. Contents are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	surfaces map[string][]json.RawMessage
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{surfaces: make(map[string][]json.RawMessage)}
}

// Load returns the records of a surface. Unknown surfaces are empty,
// not an error.
func (m *MemoryStore) Load(_ context.Context, surface string) ([]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.surfaces[surface]
	out := make([]json.RawMessage, len(records))
	copy(out, records)
	return out, nil
}

// AppendOrReplace replaces the surface document wholesale.
func (m *MemoryStore) AppendOrReplace(_ context.Context, surface string, records []json.RawMessage) error {
	copied := make([]json.RawMessage, len(records))
	copy(copied, records)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.surfaces[surface] = copied
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
