package quoteindex

import (
	"context"
	"sync"
	"time"
)

// memoryStore is the redis-less ephemeral tier: a TTL map pruned
// opportunistically on writes. Used when no redis_url is configured and in
// tests.
type memoryStore struct {
	mu sync.Mutex

	entries map[string]memEntry

	opCount    uint64
	pruneEvery uint64
}

type memEntry struct {
	e     Entry
	until time.Time
}

func NewMemory() Store {
	return &memoryStore{entries: map[string]memEntry{}, pruneEvery: 256}
}

func (s *memoryStore) Put(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{e: e, until: time.Now().Add(ttl)}
	s.opCount++
	if s.opCount%s.pruneEvery == 0 {
		s.pruneLocked(time.Now())
	}
	return nil
}

func (s *memoryStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	me, ok := s.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if time.Now().After(me.until) {
		delete(s.entries, key)
		return Entry{}, false, nil
	}
	return me.e, true, nil
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) pruneLocked(now time.Time) {
	for k, me := range s.entries {
		if now.After(me.until) {
			delete(s.entries, k)
		}
	}
}
