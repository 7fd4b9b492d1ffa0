package objectstore

import (
	"context"
	"sort"
	"sync"
)

// Store uploads installed repository files to an object storage backend.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Size returns the stored size of key, or ok == false when it is absent.
	Size(ctx context.Context, key string) (size int64, ok bool, err error)
}

// NullStore discards uploads.
type NullStore struct{}

func (NullStore) Put(_ context.Context, _ string, _ []byte, _ string) error { return nil }

func (NullStore) Size(context.Context, string) (int64, bool, error) { return 0, false, nil }

// MemoryStore keeps uploads in memory. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Object
}

// Object is one upload held by MemoryStore.
type Object struct {
	Data        []byte
	ContentType string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Object)}
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	m.items[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Size(_ context.Context, key string) (int64, bool, error) {
	o, ok := m.Get(key)
	return int64(len(o.Data)), ok, nil
}

// Get returns the object stored under key.
func (m *MemoryStore) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.items[key]
	return o, ok
}

// Keys lists stored keys in sorted order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
