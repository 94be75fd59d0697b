// Package cache implements the keyed, TTL'd blob store shared by every
// other component: LM responses, finished answers, schema DDL, session
// history and result records all live here under their own namespace.
package cache

import (
	"context"
	"time"
)

// Namespaces recognized by the core. Components MUST use one of these
// rather than inventing ad-hoc prefixes, since they double as the
// documented persisted-state layout.
const (
	NamespaceLMResponse = "lm_response"
	NamespaceAnswer     = "answer"
	NamespaceSchema     = "schema"
	NamespaceSuggestion = "suggestion"
	NamespaceSession    = "session"
	NamespaceResult     = "result"
	NamespaceLock       = "lock"
)

// Store is the cache layer contract: get, put, invalidate. Reads are
// best-effort and a miss is never an error; writes are fire-and-forget
// from the caller's perspective.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Put(ctx context.Context, namespace, key string, val []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, namespace, key string) error

	// SetNX acquires an advisory lock with the given TTL, used by the
	// Scheduler for leader election. It reports whether the lock was
	// newly acquired.
	SetNX(ctx context.Context, namespace, key string, val []byte, ttl time.Duration) (bool, error)
}

// Stats is a point-in-time hit/miss snapshot per namespace, read by the
// Scheduler's metrics-flush tick. There is no Prometheus wiring here;
// this is the in-process counter the flush tick logs.
type Stats struct {
	Hits   map[string]int64
	Misses map[string]int64
}
