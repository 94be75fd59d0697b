package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the production Cache Layer backend, wrapping go-redis
// behind the Store interface so every caller degrades to miss-mode the
// same way on backend trouble.
type RedisStore struct {
	client *redis.Client
	log    *slog.Logger

	mu     sync.Mutex
	stats  Stats
	failAt time.Time // suppresses repeated error logs while Redis is down
}

// NewRedisStore opens a Store backed by a Redis client. Connectivity is
// not verified here; the first failing call starts the silent
// degradation to miss-mode every other method relies on.
func NewRedisStore(client *redis.Client, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{
		client: client,
		log:    log,
		stats:  Stats{Hits: map[string]int64{}, Misses: map[string]int64{}},
	}
}

func redisKey(namespace, key string) string {
	return fmt.Sprintf("cache:%s:%s", namespace, key)
}

func (s *RedisStore) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, redisKey(namespace, key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			s.record(namespace, false)
			return nil, false, nil
		}
		s.degrade(err)
		return nil, false, nil
	}
	s.record(namespace, true)
	return val, true, nil
}

func (s *RedisStore) Put(ctx context.Context, namespace, key string, val []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, redisKey(namespace, key), val, ttl).Err(); err != nil {
		s.degrade(err)
	}
	// Writes are fire-and-forget; a backend error never propagates.
	return nil
}

func (s *RedisStore) Invalidate(ctx context.Context, namespace, key string) error {
	if err := s.client.Del(ctx, redisKey(namespace, key)).Err(); err != nil {
		s.degrade(err)
	}
	return nil
}

func (s *RedisStore) SetNX(ctx context.Context, namespace, key string, val []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, redisKey(namespace, key), val, ttl).Result()
	if err != nil {
		s.degrade(err)
		return false, nil
	}
	return ok, nil
}

// Snapshot returns a copy of the current per-namespace hit/miss counters.
func (s *RedisStore) Snapshot() Stats {
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

func (s *RedisStore) record(namespace string, hit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hit {
		s.stats.Hits[namespace]++
	} else {
		s.stats.Misses[namespace]++
	}
}

// degrade logs the backend error at most once per 30s window so a sick
// Redis doesn't flood the log while every call quietly falls back to a
// miss.
func (s *RedisStore) degrade(err error) {
	s.mu.Lock()
	shouldLog := time.Since(s.failAt) > 30*time.Second
	if shouldLog {
		s.failAt = time.Now()
	}
	s.mu.Unlock()
	if shouldLog {
		s.log.Warn("cache backend unavailable, degrading to miss-mode", "error", err)
	}
}
