package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nl2sql/queryengine/internal/agent"
	"github.com/nl2sql/queryengine/internal/cache"
	"github.com/nl2sql/queryengine/internal/llm"
	"github.com/nl2sql/queryengine/internal/results"
)

type scriptedRunner struct {
	mu    sync.Mutex
	calls int
	fn    func(calls int) (*agent.Result, error)
}

func (r *scriptedRunner) Run(ctx context.Context, sessionID, question string) (*agent.Result, error) {
	r.mu.Lock()
	r.calls++
	n := r.calls
	r.mu.Unlock()
	return r.fn(n)
}

func testPools() []PoolConfig {
	return []PoolConfig{
		{Name: "standard", Size: 2, QueueCapacity: 2, SoftLimit: 50 * time.Millisecond, HardLimit: 100 * time.Millisecond},
	}
}

func waitForTerminal(t *testing.T, store *results.Store, jobID string, timeout time.Duration) *results.Record {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		rec, ok, err := store.Get(context.Background(), jobID)
		require.NoError(t, err)
		if ok && (rec.State == results.StateSucceeded || rec.State == results.StateFailed || rec.State == results.StateCancelled) {
			return rec
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state within %s", jobID, timeout)
	return nil
}

func TestSubmit_RoundTripsToSucceeded(t *testing.T) {
	runner := &scriptedRunner{fn: func(int) (*agent.Result, error) {
		return &agent.Result{SQL: "SELECT 1", Summary: "one"}, nil
	}}
	store := results.New(cache.NewMemStore(), time.Hour)
	d := New(runner, store, testPools(), nil, DefaultRetryConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	jobID, err := d.Submit(context.Background(), "how many orders", "sess-1")
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	rec := waitForTerminal(t, store, jobID, time.Second)
	require.Equal(t, results.StateSucceeded, rec.State)
	require.Equal(t, "SELECT 1", rec.Payload.SQL)
}

func TestSubmit_EmptyQuestionRejected(t *testing.T) {
	runner := &scriptedRunner{fn: func(int) (*agent.Result, error) { return &agent.Result{}, nil }}
	store := results.New(cache.NewMemStore(), time.Hour)
	d := New(runner, store, testPools(), nil, DefaultRetryConfig(), nil, nil)

	_, err := d.Submit(context.Background(), "", "sess-1")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSubmit_OverloadedQueueRejectsRatherThanBlocks(t *testing.T) {
	block := make(chan struct{})
	runner := &scriptedRunner{fn: func(int) (*agent.Result, error) {
		<-block
		return &agent.Result{}, nil
	}}
	store := results.New(cache.NewMemStore(), time.Hour)
	pools := []PoolConfig{{Name: "standard", Size: 1, QueueCapacity: 1, SoftLimit: time.Second, HardLimit: 2 * time.Second}}
	d := New(runner, store, pools, nil, DefaultRetryConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() { close(block); cancel() }()
	d.Start(ctx)

	// First job occupies the one worker; second fills the one queue
	// slot; third must be rejected.
	_, err := d.Submit(context.Background(), "q1", "s")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond) // let the worker pick up job 1
	_, err = d.Submit(context.Background(), "q2", "s")
	require.NoError(t, err)
	_, err = d.Submit(context.Background(), "q3", "s")
	require.ErrorIs(t, err, ErrOverloaded)
}

func TestProcess_HardTimeoutFailsWithTimeoutKind(t *testing.T) {
	runner := &scriptedRunner{fn: func(int) (*agent.Result, error) {
		time.Sleep(200 * time.Millisecond)
		return &agent.Result{}, nil
	}}
	store := results.New(cache.NewMemStore(), time.Hour)
	pools := []PoolConfig{{Name: "standard", Size: 1, QueueCapacity: 1, SoftLimit: 10 * time.Millisecond, HardLimit: 30 * time.Millisecond}}
	d := New(runner, store, pools, nil, DefaultRetryConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	jobID, err := d.Submit(context.Background(), "slow question", "sess-1")
	require.NoError(t, err)

	rec := waitForTerminal(t, store, jobID, 2*time.Second)
	require.Equal(t, results.StateFailed, rec.State)
	require.Equal(t, string(KindTimeout), rec.ErrorKind)
}

func TestProcess_LMUnavailableRetriesThenSucceeds(t *testing.T) {
	runner := &scriptedRunner{fn: func(n int) (*agent.Result, error) {
		if n < 2 {
			return nil, llm.ErrUnavailable
		}
		return &agent.Result{SQL: "SELECT 2"}, nil
	}}
	store := results.New(cache.NewMemStore(), time.Hour)
	retry := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	d := New(runner, store, testPools(), nil, retry, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	jobID, err := d.Submit(context.Background(), "question", "sess-1")
	require.NoError(t, err)

	rec := waitForTerminal(t, store, jobID, time.Second)
	require.Equal(t, results.StateSucceeded, rec.State)
}

func TestProcess_ExhaustsRetriesThenFailsWithLMUnavailable(t *testing.T) {
	runner := &scriptedRunner{fn: func(int) (*agent.Result, error) {
		return nil, llm.ErrUnavailable
	}}
	store := results.New(cache.NewMemStore(), time.Hour)
	retry := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 3 * time.Millisecond}
	d := New(runner, store, testPools(), nil, retry, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	jobID, err := d.Submit(context.Background(), "question", "sess-1")
	require.NoError(t, err)

	rec := waitForTerminal(t, store, jobID, time.Second)
	require.Equal(t, results.StateFailed, rec.State)
	require.Equal(t, string(KindLMUnavailable), rec.ErrorKind)
	require.GreaterOrEqual(t, runner.calls, 3) // initial attempt + 2 retries
}

func TestPoll_UnknownJobErrors(t *testing.T) {
	store := results.New(cache.NewMemStore(), time.Hour)
	runner := &scriptedRunner{fn: func(int) (*agent.Result, error) { return &agent.Result{}, nil }}
	d := New(runner, store, testPools(), nil, DefaultRetryConfig(), nil, nil)

	_, err := d.Poll(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownJob)
}

func TestClassify_MapsSentinelsToTaxonomy(t *testing.T) {
	require.Equal(t, KindNoRelevantTables, Classify(agent.ErrNoRelevantTables))
	require.Equal(t, KindSQLSynthesisFailed, Classify(agent.ErrSQLSynthesisFailed))
	require.Equal(t, KindSQLExecutionFailed, Classify(agent.ErrSQLExecutionFailed))
	require.Equal(t, KindLMUnavailable, Classify(llm.ErrUnavailable))
	require.Equal(t, KindInternalError, Classify(errors.New("boom")))
}

func TestHeuristicClassify_RoutesByComplexitySignal(t *testing.T) {
	require.Equal(t, "simple", heuristicClassify("how many orders"))
	require.Equal(t, "complex", heuristicClassify("what is the average order value per region compared to last year's trend, joined against refunds"))
}
