package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rickgao/announce-relay/internal/model"
)

// DefaultCacheSize bounds in-memory seen sets.
const DefaultCacheSize = 4096

// MemoryStore is a bounded in-process seen set. The oldest keys are evicted
// first, so a very old announcement may be reported again.
type MemoryStore struct {
	cache *lru.Cache[uuid.UUID, struct{}]
}

// NewMemoryStore creates a store holding up to size keys.
func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[uuid.UUID, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &MemoryStore{cache: cache}, nil
}

// MarkSeen records the key and reports whether it was new.
func (s *MemoryStore) MarkSeen(_ context.Context, a model.Announcement) (bool, error) {
	seen, _ := s.cache.ContainsOrAdd(a.Key, struct{}{})
	return !seen, nil
}

// Len returns the number of keys held.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// CachedStore answers repeat keys from an LRU and forwards the rest.
type CachedStore struct {
	next  SeenStore
	cache *lru.Cache[uuid.UUID, struct{}]
}

// NewCachedStore wraps next with an LRU of the given size.
func NewCachedStore(next SeenStore, size int) (*CachedStore, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[uuid.UUID, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &CachedStore{next: next, cache: cache}, nil
}

// MarkSeen reports cached keys as seen without consulting next. Keys are
// cached only after next accepted them.
func (s *CachedStore) MarkSeen(ctx context.Context, a model.Announcement) (bool, error) {
	if s.cache.Contains(a.Key) {
		return false, nil
	}
	fresh, err := s.next.MarkSeen(ctx, a)
	if err != nil {
		return false, err
	}
	s.cache.Add(a.Key, struct{}{})
	return fresh, nil
}
