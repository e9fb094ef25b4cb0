package database

import (
	"context"
	"strings"
	"sync"

	"proctordraw/pkg/interfaces"
)

type memoryEntry struct {
	value   []byte
	version int64
	deleted bool
}

// MemoryStore is an in-process BlobStore with the same version semantics as
// Manager. It backs the "memory" driver and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, 0, interfaces.ErrStoreClosed
	}
	entry, ok := s.entries[key]
	if !ok {
		return nil, 0, interfaces.ErrBlobNotFound
	}
	if entry.deleted {
		return nil, entry.version, interfaces.ErrBlobNotFound
	}
	return append([]byte(nil), entry.value...), entry.version, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, interfaces.ErrStoreClosed
	}
	return s.put(key, value), nil
}

func (s *MemoryStore) CompareAndSet(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, interfaces.ErrStoreClosed
	}
	var current int64
	if entry, ok := s.entries[key]; ok {
		current = entry.version
	}
	if current != expected {
		return 0, interfaces.ErrVersionConflict
	}
	return s.put(key, value), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return interfaces.ErrStoreClosed
	}
	s.tombstone(key)
	return nil
}

func (s *MemoryStore) DeletePrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return interfaces.ErrStoreClosed
	}
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			s.tombstone(key)
		}
	}
	return nil
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return interfaces.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. It is idempotent.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// put must be called with mu held.
func (s *MemoryStore) put(key string, value []byte) int64 {
	entry, ok := s.entries[key]
	if !ok {
		entry = &memoryEntry{}
		s.entries[key] = entry
	}
	entry.value = append([]byte{}, value...)
	entry.deleted = false
	entry.version++
	return entry.version
}

// tombstone must be called with mu held.
func (s *MemoryStore) tombstone(key string) {
	entry, ok := s.entries[key]
	if !ok || entry.deleted {
		return
	}
	entry.value = nil
	entry.deleted = true
	entry.version++
}
