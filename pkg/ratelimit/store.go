package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// UpdateFunc receives the stored entry (found is false when there is none)
// and returns the entry to store with its time to live.
type UpdateFunc func(e Entry, found bool) (Entry, time.Duration)

// Store persists entries. Update must apply fn atomically per key.
type Store interface {
	Update(ctx context.Context, key string, fn UpdateFunc) (Entry, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// MemoryStore keeps entries in process. Idle entries expire and are purged
// in the background.
type MemoryStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, Entry]
	once  sync.Once
}

func NewMemoryStore() *MemoryStore {
	cache := ttlcache.New[string, Entry](
		ttlcache.WithDisableTouchOnHit[string, Entry](),
		ttlcache.WithCapacity[string, Entry](100_000),
	)
	go cache.Start()
	return &MemoryStore{cache: cache}
}

func (s *MemoryStore) Update(_ context.Context, key string, fn UpdateFunc) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		cur   Entry
		found bool
	)
	if item := s.cache.Get(key); item != nil {
		cur, found = item.Value(), true
	}
	next, ttl := fn(cur, found)
	s.cache.Set(key, next, ttl)
	return next, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

// Len is the number of live entries.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Purge drops expired entries now instead of waiting for the janitor.
func (s *MemoryStore) Purge() {
	s.cache.DeleteExpired()
}

func (s *MemoryStore) Close() error {
	s.once.Do(s.cache.Stop)
	return nil
}
