package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	val     []byte
	expires time.Time
}

// MemStore is the in-process fallback Store: the backend used by package
// tests and by any deployment that runs without Redis. It never returns
// an error; expired entries are simply misses.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	stats   Stats
}

// NewMemStore returns an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		entries: make(map[string]memEntry),
		stats:   Stats{Hits: map[string]int64{}, Misses: map[string]int64{}},
	}
}

func (s *MemStore) Get(_ context.Context, namespace, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[redisKey(namespace, key)]
	if !ok || (!e.expires.IsZero() && time.Now().After(e.expires)) {
		if ok {
			delete(s.entries, redisKey(namespace, key))
		}
		s.stats.Misses[namespace]++
		return nil, false, nil
	}
	s.stats.Hits[namespace]++
	out := make([]byte, len(e.val))
	copy(out, e.val)
	return out, true, nil
}

func (s *MemStore) Put(_ context.Context, namespace, key string, val []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	stored := make([]byte, len(val))
	copy(stored, val)
	s.entries[redisKey(namespace, key)] = memEntry{val: stored, expires: expires}
	return nil
}

func (s *MemStore) Invalidate(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, redisKey(namespace, key))
	return nil
}

func (s *MemStore) SetNX(_ context.Context, namespace, key string, val []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := redisKey(namespace, key)
	if e, ok := s.entries[k]; ok {
		if e.expires.IsZero() || time.Now().Before(e.expires) {
			return false, nil
		}
	}
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	stored := make([]byte, len(val))
	copy(stored, val)
	s.entries[k] = memEntry{val: stored, expires: expires}
	return true, nil
}

// Snapshot returns a copy of the current per-namespace hit/miss counters.
func (s *MemStore) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Stats{Hits: map[string]int64{}, Misses: map[string]int64{}}
	for k, v := range s.stats.Hits {
		out.Hits[k] = v
	}
	for k, v := range s.stats.Misses {
		out.Misses[k] = v
	}
	return out
}
