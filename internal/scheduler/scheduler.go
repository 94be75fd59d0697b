// Package scheduler runs the periodic coordinator jobs a long-lived
// process needs alongside the request-driven dispatcher: schema
// refresh, session sweep, and metrics flush. Exactly one process in a
// fleet executes these at a time, decided by an advisory lock over the
// cache layer.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nl2sql/queryengine/internal/cache"
	"github.com/nl2sql/queryengine/internal/schema"
)

// Task is one periodic job the Scheduler drives.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Config bundles the intervals a Scheduler is built with.
type Config struct {
	SchemaRefreshInterval time.Duration
	SessionSweepInterval  time.Duration
	MetricsFlushInterval  time.Duration
	LockTTLMultiple       int // lease length as a multiple of each task's own interval
}

// DefaultConfig matches the default periodic cadence: schema refresh
// hourly, an hourly session sweep (a no-op unless the cache backend
// needs one, since TTL'd stores expire sessions natively), and a
// minute-scale metrics flush.
func DefaultConfig() Config {
	return Config{
		SchemaRefreshInterval: time.Hour,
		SessionSweepInterval:  time.Hour,
		MetricsFlushInterval:  time.Minute,
		LockTTLMultiple:       2,
	}
}

// Scheduler owns leader election and runs each Task on its own ticker
// only while it holds the lock, following the same watch-loop shape
// the file watcher uses for its debounce/reconnect cycle: a
// long-running goroutine per concern, coordinated by context
// cancellation rather than a stop channel.
type Scheduler struct {
	store  cache.Store
	lockID string
	cfg    Config
	log    zerolog.Logger

	catalog *schema.Catalog

	sweepSessions  func(ctx context.Context) error
	flushMetrics   func(ctx context.Context) error
}

// New builds a Scheduler. sweepSessions and flushMetrics may be nil,
// in which case that tick does nothing and is logged as a completed task.
func New(store cache.Store, lockID string, catalog *schema.Catalog, cfg Config, log zerolog.Logger, sweepSessions, flushMetrics func(ctx context.Context) error) *Scheduler {
	return &Scheduler{
		store:         store,
		lockID:        lockID,
		catalog:       catalog,
		cfg:           cfg,
		log:           log,
		sweepSessions: sweepSessions,
		flushMetrics:  flushMetrics,
	}
}

func (s *Scheduler) lockLeaseTTL(interval time.Duration) time.Duration {
	mult := s.cfg.LockTTLMultiple
	if mult <= 0 {
		mult = 2
	}
	return time.Duration(mult) * interval
}

// tryAcquire attempts the advisory lock for one tick of name's period.
// Missed ticks (another instance is holding the lock, or this instance
// loses a race) simply do not run — they never queue up, matching the
// no-accumulation guarantee a ticker-driven coordinator needs.
func (s *Scheduler) tryAcquire(ctx context.Context, name string, interval time.Duration) bool {
	key := name
	ok, err := s.store.SetNX(ctx, cache.NamespaceLock, key, []byte(s.lockID), s.lockLeaseTTL(interval))
	if err != nil {
		s.log.Warn().Err(err).Str("task", name).Msg("lock acquisition degraded to skip")
		return false
	}
	return ok
}

// Run blocks, driving all three periodic tasks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	tasks := []Task{
		{Name: "schema_refresh", Interval: s.cfg.SchemaRefreshInterval, Run: s.refreshSchema},
		{Name: "session_sweep", Interval: s.cfg.SessionSweepInterval, Run: s.sweep},
		{Name: "metrics_flush", Interval: s.cfg.MetricsFlushInterval, Run: s.flush},
	}

	done := make(chan struct{})
	for _, task := range tasks {
		go s.driveTask(ctx, task, done)
	}
	for range tasks {
		<-done
	}
}

func (s *Scheduler) driveTask(ctx context.Context, task Task, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.tryAcquire(ctx, task.Name, task.Interval) {
				s.log.Debug().Str("task", task.Name).Msg("not leader, skipping tick")
				continue
			}
			start := time.Now()
			if err := task.Run(ctx); err != nil {
				s.log.Error().Err(err).Str("task", task.Name).Dur("cost", time.Since(start)).Msg("periodic task failed")
				continue
			}
			s.log.Info().Str("task", task.Name).Dur("cost", time.Since(start)).Msg("periodic task completed")
		}
	}
}

func (s *Scheduler) refreshSchema(ctx context.Context) error {
	if s.catalog == nil {
		return nil
	}
	return s.catalog.Refresh(ctx)
}

func (s *Scheduler) sweep(ctx context.Context) error {
	if s.sweepSessions == nil {
		return nil
	}
	return s.sweepSessions(ctx)
}

func (s *Scheduler) flush(ctx context.Context) error {
	if s.flushMetrics == nil {
		return nil
	}
	return s.flushMetrics(ctx)
}
