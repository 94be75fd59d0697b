// Package dispatch implements the Task Dispatcher: the concurrency
// model that takes submitted questions, routes them to one of several
// worker pools, runs them against a Runner (normally the SQL Agent),
// and publishes their state transitions to a Result Store.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/nl2sql/queryengine/internal/agent"
	"github.com/nl2sql/queryengine/internal/results"
)

// ErrOverloaded is returned by Submit when a pool's queue is full.
var ErrOverloaded = errors.New("dispatch: pool overloaded")

// ErrUnknownJob is returned by Poll for a job ID the Result Store has
// never seen or has expired.
var ErrUnknownJob = errors.New("dispatch: unknown job")

// ErrInvalidInput is returned by Submit for a question that fails
// basic preconditions.
var ErrInvalidInput = errors.New("dispatch: invalid input")

// MaxQuestionBytes bounds submitted question length.
const MaxQuestionBytes = 4096

// Runner is the pipeline a Job is handed to. *agent.Agent satisfies
// this without any adapter.
type Runner interface {
	Run(ctx context.Context, sessionID, question string) (*agent.Result, error)
}

// Job is one unit of dispatcher work in flight.
type Job struct {
	ID          string
	SessionID   string
	Question    string
	Pool        string
	Attempt     int
	EnqueuedAt  time.Time
	cancelRequested bool
	mu          sync.Mutex
}

func (j *Job) requestCancel() {
	j.mu.Lock()
	j.cancelRequested = true
	j.mu.Unlock()
}

// Cancelled reports whether cancel(job_id) or the soft limit has fired
// for this job. A cooperative Runner can poll this between stages; the
// Agent pipeline in this repo does not yet check it mid-run, so today
// it only takes effect before a retry attempt starts.
func (j *Job) Cancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelRequested
}

// PoolConfig describes one named worker pool.
type PoolConfig struct {
	Name          string
	Size          int
	QueueCapacity int
	SoftLimit     time.Duration
	HardLimit     time.Duration
}

// DefaultPools returns the three pools named by the classifier
// (simple, standard, complex), differing only in limits and size, with
// "standard" as the pool a disabled classifier routes everything to.
func DefaultPools() []PoolConfig {
	return []PoolConfig{
		{Name: "simple", Size: 4, QueueCapacity: 64, SoftLimit: 20 * time.Second, HardLimit: 30 * time.Second},
		{Name: "standard", Size: 4, QueueCapacity: 64, SoftLimit: 50 * time.Second, HardLimit: 60 * time.Second},
		{Name: "complex", Size: 2, QueueCapacity: 32, SoftLimit: 90 * time.Second, HardLimit: 120 * time.Second},
	}
}

type pool struct {
	cfg   PoolConfig
	queue chan *Job
}

// RetryConfig governs re-enqueue of jobs that fail with a transient
// error kind.
type RetryConfig struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// DefaultRetryConfig matches the default max_retries of 3 with a short
// exponential back-off between attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// Dispatcher owns the worker pools, routes submissions to them, and
// reconciles their outcomes against the Result Store.
type Dispatcher struct {
	runner     Runner
	store      *results.Store
	classifier *Classifier
	retry      RetryConfig
	mirror     Mirror
	log        *slog.Logger

	pools map[string]*pool

	mu     sync.Mutex
	active map[string]*Job

	wg sync.WaitGroup
}

// Mirror optionally publishes job submissions to an external broker
// for fan-out to other worker processes. A nil Mirror is a no-op.
type Mirror interface {
	PublishJob(ctx context.Context, jobID string) error
}

// New builds a Dispatcher. pools must be non-empty; classifier may be
// nil, in which case every job routes to "standard"; if "standard" is
// absent, to a pool picked by map iteration, so which one is not defined.
func New(runner Runner, store *results.Store, pools []PoolConfig, classifier *Classifier, retry RetryConfig, mirror Mirror, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		runner:     runner,
		store:      store,
		classifier: classifier,
		retry:      retry,
		mirror:     mirror,
		log:        log,
		pools:      make(map[string]*pool, len(pools)),
		active:     make(map[string]*Job),
	}
	for _, cfg := range pools {
		d.pools[cfg.Name] = &pool{cfg: cfg, queue: make(chan *Job, cfg.QueueCapacity)}
	}
	return d
}

// Start spawns each pool's worker goroutines. It returns immediately;
// call Wait (or cancel ctx and call Wait) to drain.
func (d *Dispatcher) Start(ctx context.Context) {
	for _, p := range d.pools {
		for i := 0; i < p.cfg.Size; i++ {
			d.wg.Add(1)
			go d.runWorker(ctx, p)
		}
	}
}

// Wait blocks until every worker goroutine has exited. Workers exit
// when the Start context is cancelled (after finishing the job in hand);
// jobs still queued at that point are not run. Wait itself does not
// cancel or close anything.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) runWorker(ctx context.Context, p *pool) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			d.process(ctx, p, job)
		}
	}
}

// Submit enqueues a question as a new Job and returns its ID
// immediately without waiting for it to run.
func (d *Dispatcher) Submit(ctx context.Context, question, sessionID string) (string, error) {
	if len(question) == 0 || len(question) > MaxQuestionBytes {
		return "", fmt.Errorf("%w: question must be 1-%d bytes", ErrInvalidInput, MaxQuestionBytes)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	poolName := d.route(ctx, question)
	p, ok := d.pools[poolName]
	if !ok {
		return "", fmt.Errorf("dispatch: unknown pool %q", poolName)
	}

	job := &Job{
		ID:         ulid.Make().String(),
		SessionID:  sessionID,
		Question:   question,
		Pool:       poolName,
		EnqueuedAt: time.Now(),
	}

	if err := d.store.MarkPending(ctx, job.ID, time.Now()); err != nil {
		return "", fmt.Errorf("dispatch: mark pending: %w", err)
	}
	d.trackActive(job)

	if !d.enqueue(p, job) {
		d.untrackActive(job.ID)
		return "", fmt.Errorf("%w: pool %q is at capacity", ErrOverloaded, poolName)
	}

	if d.mirror != nil {
		if err := d.mirror.PublishJob(ctx, job.ID); err != nil {
			d.log.Warn("mirror publish failed", "job_id", job.ID, "err", err)
		}
	}

	return job.ID, nil
}

func (d *Dispatcher) enqueue(p *pool, job *Job) bool {
	select {
	case p.queue <- job:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) route(ctx context.Context, question string) string {
	if d.classifier == nil {
		if _, ok := d.pools["standard"]; ok {
			return "standard"
		}
		for name := range d.pools {
			return name
		}
		return ""
	}
	return d.classifier.Classify(ctx, question)
}

func (d *Dispatcher) trackActive(job *Job) {
	d.mu.Lock()
	d.active[job.ID] = job
	d.mu.Unlock()
}

func (d *Dispatcher) untrackActive(jobID string) {
	d.mu.Lock()
	delete(d.active, jobID)
	d.mu.Unlock()
}

// Cancel sets the cancellation flag on a job that is queued or
// running. It is a no-op, not an error, if the job is unknown or
// already terminal.
func (d *Dispatcher) Cancel(jobID string) {
	d.mu.Lock()
	job := d.active[jobID]
	d.mu.Unlock()
	if job != nil {
		job.requestCancel()
	}
}

// Poll returns the job's current record from the Result Store.
func (d *Dispatcher) Poll(ctx context.Context, jobID string) (*results.Record, error) {
	rec, ok, err := d.store.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: poll %s: %w", jobID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	return rec, nil
}

func (d *Dispatcher) process(ctx context.Context, p *pool, job *Job) {
	job.Attempt++
	now := time.Now()
	if err := d.store.MarkRunning(ctx, job.ID, now); err != nil {
		d.log.Warn("mark running failed", "job_id", job.ID, "err", err)
	}

	if job.Cancelled() {
		d.finishCancelled(ctx, job)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.HardLimit)
	softTimer := time.AfterFunc(p.cfg.SoftLimit, job.requestCancel)

	start := time.Now()
	result, err := d.runner.Run(runCtx, job.SessionID, job.Question)
	cost := time.Since(start)
	softTimer.Stop()
	hardExceeded := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancel()

	if cost > p.cfg.SoftLimit {
		d.log.Warn("job exceeded soft limit", "job_id", job.ID, "pool", p.cfg.Name, "cost", cost)
	}

	if hardExceeded {
		if err == nil {
			err = context.DeadlineExceeded
		}
		d.finishFailed(ctx, job, string(KindTimeout), err)
		return
	}

	if err == nil {
		d.finishSucceeded(ctx, job, result)
		return
	}

	kind := Classify(err)
	if kind == KindTimeout {
		d.finishFailed(ctx, job, string(kind), err)
		return
	}

	if isRetryable(kind) && job.Attempt <= d.retry.MaxRetries {
		if d.scheduleRetry(ctx, p, job) {
			return
		}
	}
	d.finishFailed(ctx, job, string(kind), err)
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, p *pool, job *Job) bool {
	delay := backoffDelay(d.retry.BaseDelay, d.retry.MaxDelay, job.Attempt)
	time.AfterFunc(delay, func() {
		if !d.enqueue(p, job) {
			d.log.Warn("retry re-enqueue failed, pool overloaded", "job_id", job.ID, "pool", p.cfg.Name)
			d.finishFailed(ctx, job, string(KindInternalError), fmt.Errorf("retry re-enqueue: %w", ErrOverloaded))
		}
	})
	return true
}

func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

func (d *Dispatcher) finishSucceeded(ctx context.Context, job *Job, result *agent.Result) {
	d.untrackActive(job.ID)
	payload := results.Payload{
		SQL:               result.SQL,
		Summary:           result.Summary,
		Suggestions:       result.Suggestions,
		CorrectionApplied: result.CorrectionApplied,
	}
	if result.Table != nil {
		payload.Columns = result.Table.Columns
		payload.Rows = result.Table.Rows
	}
	if err := d.store.MarkSucceeded(ctx, job.ID, payload, time.Now()); err != nil {
		d.log.Error("mark succeeded failed", "job_id", job.ID, "err", err)
	}
}

func (d *Dispatcher) finishFailed(ctx context.Context, job *Job, kind string, cause error) {
	d.untrackActive(job.ID)
	if err := d.store.MarkFailed(ctx, job.ID, kind, cause.Error(), time.Now()); err != nil {
		d.log.Error("mark failed failed", "job_id", job.ID, "err", err)
	}
}

func (d *Dispatcher) finishCancelled(ctx context.Context, job *Job) {
	d.untrackActive(job.ID)
	if err := d.store.MarkCancelled(ctx, job.ID, time.Now()); err != nil {
		d.log.Error("mark cancelled failed", "job_id", job.ID, "err", err)
	}
}

