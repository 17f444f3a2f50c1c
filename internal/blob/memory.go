package blob

import (
	"context"
	"sync"
)

// MemoryStore keeps blobs in process memory. Used by tests and the CLI.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, data []byte, contentType string) (string, error) {
	ref, err := NewRef(contentType)
	if err != nil {
		return "", &Error{Message: "failed to allocate reference", Cause: err}
	}
	cp := append([]byte(nil), data...)

	m.mu.Lock()
	m.blobs[ref] = cp
	m.mu.Unlock()
	return ref, nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, ref string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}
