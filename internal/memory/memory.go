// Package memory implements the bounded per-session conversation
// history: the last N question/sql/summary triples for a session, kept
// in insertion order and capped so history never grows unbounded.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nl2sql/queryengine/internal/cache"
)

// Entry is one turn of a conversation.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Question  string    `json:"question"`
	SQL       string    `json:"sql"`
	Summary   string    `json:"summary"`
}

// Session is the persisted envelope stored under the session namespace:
// metadata plus the bounded entry list.
type Session struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	QueryCount   int       `json:"query_count"`
	Entries      []Entry   `json:"entries"`
}

// Memory is a thin façade over cache.Store, namespacing conversation
// history the same way a CRUD repository namespaces rows, but backed by
// the TTL'd cache rather than a relational table since history here is
// disposable state.
type Memory struct {
	store        cache.Store
	sessionTTL   time.Duration
	historyLimit int
}

// New builds a Memory façade. historyLimit bounds entries kept per
// session (default 10); sessionTTL is refreshed on every write.
func New(store cache.Store, sessionTTL time.Duration, historyLimit int) *Memory {
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return &Memory{store: store, sessionTTL: sessionTTL, historyLimit: historyLimit}
}

func sessionKey(sessionID string) string {
	return cache.Fingerprint(cache.NamespaceSession, map[string]any{"session_id": sessionID})
}

// Create initializes a new, empty session record.
func (m *Memory) Create(ctx context.Context, sessionID string, now time.Time) (*Session, error) {
	sess := &Session{
		ID:           sessionID,
		CreatedAt:    now,
		LastActivity: now,
		Entries:      []Entry{},
	}
	if err := m.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a session, returning (nil, false, nil) if it does not exist
// or has expired — never an error for a routine miss.
func (m *Memory) Get(ctx context.Context, sessionID string) (*Session, bool, error) {
	raw, ok, err := m.store.Get(ctx, cache.NamespaceSession, sessionKey(sessionID))
	if err != nil {
		return nil, false, fmt.Errorf("memory: get session %s: %w", sessionID, err)
	}
	if !ok {
		return nil, false, nil
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, false, fmt.Errorf("memory: decode session %s: %w", sessionID, err)
	}
	return &sess, true, nil
}

// Append records one conversational turn, creating the session if it
// does not already exist, and drops the oldest entry once the history
// limit is exceeded (newest entries are never the ones dropped).
func (m *Memory) Append(ctx context.Context, sessionID string, entry Entry) (*Session, error) {
	sess, ok, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		sess, err = m.Create(ctx, sessionID, entry.Timestamp)
		if err != nil {
			return nil, err
		}
	}

	sess.Entries = append(sess.Entries, entry)
	if len(sess.Entries) > m.historyLimit {
		sess.Entries = sess.Entries[len(sess.Entries)-m.historyLimit:]
	}
	sess.LastActivity = entry.Timestamp
	sess.QueryCount++

	if err := m.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Recent returns the session's history in chronological (oldest-first)
// order, already capped to the history limit.
func (m *Memory) Recent(ctx context.Context, sessionID string) ([]Entry, error) {
	sess, ok, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return sess.Entries, nil
}

// Clear removes a session and its history entirely.
func (m *Memory) Clear(ctx context.Context, sessionID string) error {
	return m.store.Invalidate(ctx, cache.NamespaceSession, sessionKey(sessionID))
}

// Extend refreshes a session's TTL and last-activity timestamp without
// appending a new entry.
func (m *Memory) Extend(ctx context.Context, sessionID string, now time.Time) error {
	sess, ok, err := m.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	sess.LastActivity = now
	return m.save(ctx, sess)
}

func (m *Memory) save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("memory: encode session %s: %w", sess.ID, err)
	}
	return m.store.Put(ctx, cache.NamespaceSession, sessionKey(sess.ID), raw, m.sessionTTL)
}

// HistoryDigest returns a content digest of a session's current history,
// used by internal/cache.AnswerKey so two identical questions asked with
// different conversation context produce distinct cache entries.
func (m *Memory) HistoryDigest(ctx context.Context, sessionID string) (string, error) {
	entries, err := m.Recent(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return cache.Digest(entries), nil
}
