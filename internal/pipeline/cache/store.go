package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"fin-analytics/internal/models"
)

// Store persists cache entries. Implementations copy entries on the way in
// and out so no caller ever shares memory with a stored entry.
type Store interface {
	Get(ctx context.Context, fingerprint string) (*models.CacheEntry, bool, error)
	Set(ctx context.Context, entry *models.CacheEntry, ttl time.Duration) error
	Delete(ctx context.Context, fingerprint string) error
	// Purge removes every entry and reports how many were removed.
	Purge(ctx context.Context) (int, error)
	Close() error
}

// MemoryStore is a size bounded in-process store with per-entry TTL.
type MemoryStore struct {
	lru *expirable.LRU[string, *models.CacheEntry]
}

func NewMemoryStore(maxEntries int, ttl time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &MemoryStore{lru: expirable.NewLRU[string, *models.CacheEntry](maxEntries, nil, ttl)}
}

func (s *MemoryStore) Get(_ context.Context, fingerprint string) (*models.CacheEntry, bool, error) {
	entry, ok := s.lru.Get(fingerprint)
	if !ok {
		return nil, false, nil
	}
	return entry.Clone(), true, nil
}

// Set ignores ttl beyond the store wide TTL; Cache checks ExpiresAt itself.
func (s *MemoryStore) Set(_ context.Context, entry *models.CacheEntry, _ time.Duration) error {
	s.lru.Add(entry.Fingerprint, entry.Clone())
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, fingerprint string) error {
	s.lru.Remove(fingerprint)
	return nil
}

func (s *MemoryStore) Purge(_ context.Context) (int, error) {
	n := s.lru.Len()
	s.lru.Purge()
	return n, nil
}

func (s *MemoryStore) Len() int {
	return s.lru.Len()
}

func (s *MemoryStore) Close() error {
	s.lru.Purge()
	return nil
}
