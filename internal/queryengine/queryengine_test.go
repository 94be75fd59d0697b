package queryengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nl2sql/queryengine/internal/cache"
	"github.com/nl2sql/queryengine/internal/config"
	"github.com/nl2sql/queryengine/internal/connector"
	"github.com/nl2sql/queryengine/internal/dispatch"
	"github.com/nl2sql/queryengine/internal/llm"
)

type scriptedProvider struct {
	replies []string
	err     error
	calls   int
}

func (p *scriptedProvider) Complete(_ context.Context, _, _ string, _ float64) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	idx := p.calls
	if idx >= len(p.replies) {
		idx = len(p.replies) - 1
	}
	p.calls++
	return p.replies[idx], nil
}

func testFakeConn() *connector.Fake {
	conn := connector.NewFake()
	conn.Schema["orders"] = connector.TableDef{
		Name: "orders",
		Columns: []connector.ColumnDef{
			{Name: "id", Type: "BIGINT", IsKey: true},
			{Name: "total", Type: "DECIMAL"},
		},
	}
	conn.Results["SELECT total FROM orders LIMIT 100"] = connector.Table{
		Columns: []connector.Column{{Name: "total", Type: "DECIMAL"}},
		Rows:    [][]any{{"10.00"}, {"20.00"}},
	}
	return conn
}

func testEngine(t *testing.T, provider llm.Provider) *Engine {
	t.Helper()
	store := cache.NewMemStore()
	e, err := Open(context.Background(), testConfig(), Dependencies{
		Conn:    testFakeConn(),
		Store:   store,
		LiteLLM: provider,
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

// testConfig returns a Config tuned for fast, deterministic tests: short
// TTLs and time limits so a scripted provider's handful of calls drive
// a job to a terminal state well within the test's Eventually window.
func testConfig() config.Config {
	return config.Config{
		DatabaseDriver:        "mysql",
		LiteLLMModel:          "test-model",
		GenerationTemperature: 0,
		SummaryTemperature:    0.3,
		SuggestionTemperature: 0.5,
		EnableLLMCache:        false,
		LLMCacheTTL:           time.Minute,
		QueryCacheTTL:         time.Minute,
		SchemaCacheTTL:        time.Hour,
		TaskTimeLimit:         500 * time.Millisecond,
		TaskSoftTimeLimit:     200 * time.Millisecond,
		MaxRetries:            1,
		SessionTTL:            time.Minute,
		HistoryLimit:          10,
		APIRateLimit:          600,
	}
}

func TestSubmitPoll_RoundTripsThroughTheEngine(t *testing.T) {
	// The first reply answers the dispatcher's classifier call (it must
	// name one of the pool names to avoid falling back to the
	// heuristic); the rest answer the agent pipeline's own stages in
	// order.
	provider := &scriptedProvider{replies: []string{
		"standard",
		`{"tables": ["orders"]}`,
		"SELECT total FROM orders",
		"Two orders totalling 30.",
		`{"suggestions": ["What was the average order total?"]}`,
	}}
	e := testEngine(t, provider)

	jobID, err := e.Submit(context.Background(), "how many orders are there", "")
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	var res *PollResult
	require.Eventually(t, func() bool {
		res, err = e.Poll(context.Background(), jobID)
		require.NoError(t, err)
		return res.State == "succeeded" || res.State == "failed"
	}, time.Second, time.Millisecond)

	require.Equal(t, "succeeded", res.State)
	require.NotNil(t, res.Payload)
	require.Equal(t, "Two orders totalling 30.", res.Payload.Summary)
}

func TestPoll_UnknownJobReturnsErrUnknownJob(t *testing.T) {
	e := testEngine(t, &scriptedProvider{replies: []string{"{}"}})
	_, err := e.Poll(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrUnknownJob)
}

func TestSubmit_EmptyQuestionReturnsInvalidInput(t *testing.T) {
	e := testEngine(t, &scriptedProvider{replies: []string{"{}"}})
	_, err := e.Submit(context.Background(), "", "")
	require.Error(t, err)
	require.ErrorIs(t, err, dispatch.ErrInvalidInput)
}

func TestRecommendVisualization_ParsesValidKind(t *testing.T) {
	provider := &scriptedProvider{replies: []string{`{"kind": "bar", "reason": "two categories"}`}}
	e := testEngine(t, provider)

	rec := e.RecommendVisualization(context.Background(), "revenue by region", "SELECT region, SUM(total) FROM orders GROUP BY region", Table{
		Columns: []string{"region", "total"},
		Rows:    [][]any{{"west", 10}, {"east", 20}},
	})
	require.Equal(t, VizBar, rec.Kind)
}

func TestRecommendVisualization_DegradesToNoneOnLMFailure(t *testing.T) {
	e := testEngine(t, &scriptedProvider{err: errors.New("boom")})
	rec := e.RecommendVisualization(context.Background(), "q", "SELECT 1", Table{})
	require.Equal(t, VizNone, rec.Kind)
}

func TestRecommendVisualization_DegradesToNoneOnUnrecognizedKind(t *testing.T) {
	provider := &scriptedProvider{replies: []string{`{"kind": "heatmap", "reason": "nah"}`}}
	e := testEngine(t, provider)
	rec := e.RecommendVisualization(context.Background(), "q", "SELECT 1", Table{})
	require.Equal(t, VizNone, rec.Kind)
}
