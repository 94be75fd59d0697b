package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nl2sql/queryengine/internal/cache"
)

func TestTryAcquire_OnlyOneOfTwoInstancesWinsPerTick(t *testing.T) {
	store := cache.NewMemStore()
	a := New(store, "instance-a", nil, DefaultConfig(), zerolog.Nop(), nil, nil)
	b := New(store, "instance-b", nil, DefaultConfig(), zerolog.Nop(), nil, nil)

	gotA := a.tryAcquire(context.Background(), "schema_refresh", time.Hour)
	gotB := b.tryAcquire(context.Background(), "schema_refresh", time.Hour)

	require.True(t, gotA)
	require.False(t, gotB)
}

func TestTryAcquire_ReacquirableAfterLeaseExpires(t *testing.T) {
	store := cache.NewMemStore()
	cfg := DefaultConfig()
	a := New(store, "instance-a", nil, cfg, zerolog.Nop(), nil, nil)

	require.True(t, a.tryAcquire(context.Background(), "t", 5*time.Millisecond))
	require.False(t, a.tryAcquire(context.Background(), "t", 5*time.Millisecond))

	time.Sleep(20 * time.Millisecond)
	require.True(t, a.tryAcquire(context.Background(), "t", 5*time.Millisecond))
}

func TestRun_DrivesRegisteredTasksUntilCancelled(t *testing.T) {
	store := cache.NewMemStore()
	var sweeps, flushes atomic.Int64

	cfg := Config{
		SchemaRefreshInterval: time.Hour, // nil catalog, won't fire meaningfully
		SessionSweepInterval:  3 * time.Millisecond,
		MetricsFlushInterval:  3 * time.Millisecond,
		LockTTLMultiple:       2,
	}
	s := New(store, "instance-a", nil, cfg, zerolog.Nop(),
		func(context.Context) error { sweeps.Add(1); return nil },
		func(context.Context) error { flushes.Add(1); return nil },
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	require.Greater(t, sweeps.Load(), int64(0))
	require.Greater(t, flushes.Load(), int64(0))
}

func TestDefaultMetricsFlush_LogsNamespaceStats(t *testing.T) {
	store := cache.NewMemStore()
	ctx := context.Background()
	_, _, _ = store.Get(ctx, cache.NamespaceAnswer, "missing") // records a miss

	flush := DefaultMetricsFlush(store, zerolog.Nop())
	require.NotNil(t, flush)
	require.NoError(t, flush(ctx))
}
