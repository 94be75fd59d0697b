package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nl2sql/queryengine/internal/cache"
)

func TestAppend_CreatesSessionOnFirstCall(t *testing.T) {
	m := New(cache.NewMemStore(), time.Hour, 10)
	ctx := context.Background()

	sess, err := m.Append(ctx, "sess-1", Entry{
		Timestamp: time.Unix(1000, 0),
		Question:  "how many orders",
		SQL:       "SELECT COUNT(*) FROM orders",
		Summary:   "There are 42 orders.",
	})
	require.NoError(t, err)
	require.Len(t, sess.Entries, 1)
	require.Equal(t, 1, sess.QueryCount)
}

func TestAppend_DropsOldestNotNewest(t *testing.T) {
	m := New(cache.NewMemStore(), time.Hour, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := m.Append(ctx, "sess-1", Entry{
			Timestamp: time.Unix(int64(1000+i), 0),
			Question:  questionFor(i),
		})
		require.NoError(t, err)
	}

	entries, err := m.Recent(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Oldest two (q0, q1) must have been dropped; the three most recent
	// survive in chronological order.
	require.Equal(t, "q2", entries[0].Question)
	require.Equal(t, "q3", entries[1].Question)
	require.Equal(t, "q4", entries[2].Question)
}

func questionFor(i int) string {
	return "q" + string(rune('0'+i))
}

func TestGet_MissingSessionIsNotAnError(t *testing.T) {
	m := New(cache.NewMemStore(), time.Hour, 10)
	sess, ok, err := m.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, sess)
}

func TestClear_RemovesSession(t *testing.T) {
	m := New(cache.NewMemStore(), time.Hour, 10)
	ctx := context.Background()

	_, err := m.Append(ctx, "sess-1", Entry{Timestamp: time.Unix(1, 0), Question: "q"})
	require.NoError(t, err)

	require.NoError(t, m.Clear(ctx, "sess-1"))

	_, ok, err := m.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHistoryDigest_ChangesWithHistory(t *testing.T) {
	m := New(cache.NewMemStore(), time.Hour, 10)
	ctx := context.Background()

	before, err := m.HistoryDigest(ctx, "sess-1")
	require.NoError(t, err)

	_, err = m.Append(ctx, "sess-1", Entry{Timestamp: time.Unix(1, 0), Question: "q1", SQL: "SELECT 1"})
	require.NoError(t, err)

	after, err := m.HistoryDigest(ctx, "sess-1")
	require.NoError(t, err)

	require.NotEqual(t, before, after)
}

func TestExtend_UpdatesLastActivityWithoutAddingEntry(t *testing.T) {
	m := New(cache.NewMemStore(), time.Hour, 10)
	ctx := context.Background()

	_, err := m.Append(ctx, "sess-1", Entry{Timestamp: time.Unix(1, 0), Question: "q1"})
	require.NoError(t, err)

	require.NoError(t, m.Extend(ctx, "sess-1", time.Unix(500, 0)))

	sess, ok, err := m.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, sess.Entries, 1)
	require.True(t, time.Unix(500, 0).Equal(sess.LastActivity), "LastActivity = %v", sess.LastActivity)
}
