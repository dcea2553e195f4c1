package tokenstore

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is a single-process Store for development and tests.
type MemoryStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: gocache.New(gocache.NoExpiration, time.Minute)}
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := append([]byte(nil), value...)
	m.mu.Lock()
	m.cache.Set(key, buf, ttl)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookup(key)
}

func (m *MemoryStore) Take(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, err := m.lookup(key)
	if err != nil {
		return nil, err
	}
	m.cache.Delete(key)
	return value, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	m.cache.Delete(key)
	m.mu.Unlock()
	return nil
}

// Increment adds one to the counter at key. The ttl applies when the
// counter is created and is not extended afterwards.
func (m *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.cache.Get(key); !found {
		m.cache.Set(key, int64(1), ttl)
		return 1, nil
	}
	return m.cache.IncrementInt64(key, 1)
}

func (m *MemoryStore) lookup(key string) ([]byte, error) {
	v, found := m.cache.Get(key)
	if !found {
		return nil, ErrNotFound
	}
	raw, ok := v.([]byte)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), raw...), nil
}

var _ Store = (*MemoryStore)(nil)
