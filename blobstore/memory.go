package blobstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store and Catalog. It is intended for
// tests and examples where no durable backend is available.
type MemoryStore struct {
	mu     sync.RWMutex
	blobs  map[string][]byte
	latest string
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Catalog = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put stores a copy of data under name.
func (m *MemoryStore) Put(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)

	m.blobs[name] = buf

	return nil
}

// Get returns a copy of the blob stored under name.
func (m *MemoryStore) Get(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[name]
	if !ok {
		return nil, ErrNotFound
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	return buf, nil
}

// List returns all blob names starting with prefix, sorted.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string

	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	return names, nil
}

// Delete removes the blob stored under name.
func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blobs, name)

	return nil
}

// Latest returns the most recently committed name.
func (m *MemoryStore) Latest(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.latest, nil
}

// Commit records name as the latest blob.
func (m *MemoryStore) Commit(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latest = name

	return nil
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.blobs)
}
