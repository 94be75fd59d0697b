package scheduler

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/nl2sql/queryengine/internal/cache"
)

// statsSnapshotter is satisfied by both cache backends; the Scheduler
// only depends on it, never a concrete backend, so tests can supply
// either.
type statsSnapshotter interface {
	Snapshot() cache.Stats
}

// DefaultMetricsFlush logs the cache layer's per-namespace hit/miss
// counters, the one metric this repo tracks without a Prometheus
// client in the pack to ground one on.
func DefaultMetricsFlush(store cache.Store, log zerolog.Logger) func(ctx context.Context) error {
	snapshotter, ok := store.(statsSnapshotter)
	if !ok {
		return nil
	}
	return func(_ context.Context) error {
		stats := snapshotter.Snapshot()
		for ns, hits := range stats.Hits {
			log.Info().Str("namespace", ns).Int64("hits", hits).Int64("misses", stats.Misses[ns]).Msg("cache stats")
		}
		for ns, misses := range stats.Misses {
			if _, seen := stats.Hits[ns]; !seen {
				log.Info().Str("namespace", ns).Int64("hits", 0).Int64("misses", misses).Msg("cache stats")
			}
		}
		return nil
	}
}
