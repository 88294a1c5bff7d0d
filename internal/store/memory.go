// ABOUTME: In-memory Backend for tests and ephemeral sessions
// ABOUTME: Blobs live in a map and vanish when the process exits

package store

import (
	"context"
	"sync"
)

// MemoryStore is a Backend that keeps blobs in memory
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory backend
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Blob returns the blob stored under key
func (m *MemoryStore) Blob(key string) Blob {
	return &memoryBlob{store: m, key: key}
}

// Ping always succeeds
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op
func (m *MemoryStore) Close() error { return nil }

// Put writes raw bytes under key, bypassing the conversation encoding.
// Used to simulate a corrupted blob.
func (m *MemoryStore) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
}

type memoryBlob struct {
	store *MemoryStore
	key   string
}

func (b *memoryBlob) Load(ctx context.Context) ([]byte, error) {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	data, ok := b.store.blobs[b.key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (b *memoryBlob) Save(ctx context.Context, data []byte) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	b.store.blobs[b.key] = append([]byte(nil), data...)
	return nil
}

var _ Backend = (*MemoryStore)(nil)
