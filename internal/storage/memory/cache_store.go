package memory

import (
	"context"
	"sync"

	"portfolio-tracker/internal/storage"
)

// CacheStore is an in-memory implementation of storage.CacheStore.
type CacheStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewCacheStore creates a new in-memory cache store.
func NewCacheStore() *CacheStore {
	return &CacheStore{data: make(map[string][]byte)}
}

// Get returns the value stored under key. Returns ErrNotFound if not exists.
func (s *CacheStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put stores value under key, replacing any previous value.
func (s *CacheStore) Put(_ context.Context, key string, value []byte) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = append([]byte(nil), value...)
	return nil
}

var _ storage.CacheStore = (*CacheStore)(nil)
