// Package results implements the Result Store: a thin, namespaced
// façade over the cache layer that lets a job's terminal (or in-flight)
// state be read back by ID while it is still running.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nl2sql/queryengine/internal/cache"
	"github.com/nl2sql/queryengine/internal/connector"
)

// State is one of the Job State Machine's states.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Payload carries a successful run's output.
type Payload struct {
	SQL               string             `json:"sql"`
	Columns           []connector.Column `json:"columns"`
	Rows              [][]any            `json:"rows"`
	Summary           string             `json:"summary"`
	Suggestions       []string           `json:"suggestions"`
	CorrectionApplied bool               `json:"correction_applied"`
}

// Record is the full state of one job as observed through Poll.
type Record struct {
	JobID     string    `json:"job_id"`
	State     State     `json:"state"`
	Payload   *Payload  `json:"payload,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	ErrorMsg  string    `json:"error_message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the façade over cache.Store used by the dispatcher to publish
// job progress and by callers to poll it: TTL'd cache rows rather than
// relational rows, since results here are disposable.
type Store struct {
	store cache.Store
	ttl   time.Duration
}

// New builds a Store backed by store, keeping records for ttl. Every
// write resets a record's TTL, so a terminal record lives for ttl after
// its terminal write (queryengine.Open passes one hour).
func New(store cache.Store, ttl time.Duration) *Store {
	return &Store{store: store, ttl: ttl}
}

func resultKey(jobID string) string {
	return cache.Fingerprint(cache.NamespaceResult, map[string]any{"job_id": jobID})
}

// Put writes or overwrites a job's record.
func (s *Store) Put(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("results: encode %s: %w", rec.JobID, err)
	}
	return s.store.Put(ctx, cache.NamespaceResult, resultKey(rec.JobID), raw, s.ttl)
}

// Get reads a job's current record, returning (nil, false, nil) if it
// does not exist (e.g. an unknown job ID, or one that has expired).
func (s *Store) Get(ctx context.Context, jobID string) (*Record, bool, error) {
	raw, ok, err := s.store.Get(ctx, cache.NamespaceResult, resultKey(jobID))
	if err != nil {
		return nil, false, fmt.Errorf("results: get %s: %w", jobID, err)
	}
	if !ok {
		return nil, false, nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("results: decode %s: %w", jobID, err)
	}
	return &rec, true, nil
}

// MarkPending writes an initial Pending record for a freshly submitted
// job.
func (s *Store) MarkPending(ctx context.Context, jobID string, now time.Time) error {
	return s.Put(ctx, Record{JobID: jobID, State: StatePending, UpdatedAt: now})
}

// MarkRunning transitions a job to Running.
func (s *Store) MarkRunning(ctx context.Context, jobID string, now time.Time) error {
	return s.Put(ctx, Record{JobID: jobID, State: StateRunning, UpdatedAt: now})
}

// MarkSucceeded writes a terminal success record.
func (s *Store) MarkSucceeded(ctx context.Context, jobID string, payload Payload, now time.Time) error {
	return s.Put(ctx, Record{JobID: jobID, State: StateSucceeded, Payload: &payload, UpdatedAt: now})
}

// MarkFailed writes a terminal failure record with a classified error
// kind.
func (s *Store) MarkFailed(ctx context.Context, jobID, errorKind, message string, now time.Time) error {
	return s.Put(ctx, Record{JobID: jobID, State: StateFailed, ErrorKind: errorKind, ErrorMsg: message, UpdatedAt: now})
}

// MarkCancelled writes a terminal cancellation record.
func (s *Store) MarkCancelled(ctx context.Context, jobID string, now time.Time) error {
	return s.Put(ctx, Record{JobID: jobID, State: StateCancelled, UpdatedAt: now})
}
