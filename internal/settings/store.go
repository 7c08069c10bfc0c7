// Package settings persists user preferences as opaque string key/value
// pairs. Backends only move strings; typed access and validation of decoded
// values live in [Voice].
package settings

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by typed accessors when a key has never been set.
var ErrNotFound = errors.New("settings: not found")

// Store is a persisted string key/value store. Implementations must be safe
// for concurrent use.
type Store interface {
	// GetItem returns the value stored under key. ok is false when the key
	// is absent; that is not an error.
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)

	// SetItem stores value under key, replacing any previous value.
	SetItem(ctx context.Context, key, value string) error
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MemStore keeps settings in process memory.
type MemStore struct {
	mu    sync.RWMutex
	items map[string]string
}

var (
	_ Store  = (*MemStore)(nil)
	_ Pinger = (*MemStore)(nil)
)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{items: make(map[string]string)}
}

func (s *MemStore) GetItem(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *MemStore) SetItem(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

// Ping always succeeds.
func (s *MemStore) Ping(context.Context) error { return nil }

// Len returns the number of stored keys.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
