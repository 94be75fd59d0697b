package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nl2sql/queryengine/internal/cache"
	"github.com/nl2sql/queryengine/internal/connector"
	"github.com/nl2sql/queryengine/internal/llm"
	"github.com/nl2sql/queryengine/internal/memory"
	"github.com/nl2sql/queryengine/internal/schema"
)

type queuedProvider struct {
	replies []string
	i       int
}

func (p *queuedProvider) Complete(_ context.Context, _, _ string, _ float64) (string, error) {
	if p.i >= len(p.replies) {
		return "", errors.New("queuedProvider: out of scripted replies")
	}
	r := p.replies[p.i]
	p.i++
	return r, nil
}

func fastLLMClient(provider llm.Provider) *llm.Client {
	cfg := llm.DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	cfg.CallTimeout = time.Second
	cfg.CacheEnabled = false
	return llm.New(provider, "test-model", cache.NewMemStore(), cfg, nil)
}

func setupCatalog(t *testing.T) (*schema.Catalog, *connector.Fake) {
	t.Helper()
	conn := connector.NewFake()
	conn.Schema["orders"] = connector.TableDef{
		Name: "orders",
		Columns: []connector.ColumnDef{
			{Name: "id", Type: "bigint", IsKey: true},
			{Name: "status", Type: "varchar", Nullable: true},
		},
	}
	cat := schema.New(conn, cache.NewMemStore(), time.Hour)
	require.NoError(t, cat.Refresh(context.Background()))
	return cat, conn
}

func TestRun_HappyPath(t *testing.T) {
	cat, conn := setupCatalog(t)
	conn.Results["SELECT COUNT(*) FROM orders LIMIT 100"] = connector.Table{
		Columns: []connector.Column{{Name: "count"}},
		Rows:    [][]any{{int64(7)}},
	}

	provider := &queuedProvider{replies: []string{
		`{"tables": ["orders"]}`,
		"SELECT COUNT(*) FROM orders",
		"There are 7 orders.",
		`{"suggestions": ["How many orders were shipped?", "How many orders were cancelled?"]}`,
	}}

	a := New(fastLLMClient(provider), cat, conn, cache.NewMemStore(), memory.New(cache.NewMemStore(), time.Hour, 10), DefaultConfig())

	result, err := a.Run(context.Background(), "sess-1", "how many orders are there")
	require.NoError(t, err)
	require.Equal(t, "SELECT COUNT(*) FROM orders LIMIT 100", result.SQL)
	require.Equal(t, "There are 7 orders.", result.Summary)
	require.Len(t, result.Suggestions, 2)
	require.False(t, result.CorrectionApplied)
}

func TestRun_SecondIdenticalQuestionHitsAnswerCache(t *testing.T) {
	cat, conn := setupCatalog(t)
	conn.Results["SELECT COUNT(*) FROM orders LIMIT 100"] = connector.Table{
		Columns: []connector.Column{{Name: "count"}},
		Rows:    [][]any{{int64(7)}},
	}
	provider := &queuedProvider{replies: []string{
		`{"tables": ["orders"]}`,
		"SELECT COUNT(*) FROM orders",
		"There are 7 orders.",
		`{"suggestions": []}`,
	}}
	store := cache.NewMemStore()
	a := New(fastLLMClient(provider), cat, conn, store, memory.New(store, time.Hour, 10), DefaultConfig())

	ctx := context.Background()
	_, err := a.Run(ctx, "sess-1", "how many orders are there")
	require.NoError(t, err)

	// Second call with the same question and (now non-empty) history
	// digest must not need any further scripted replies: the provider
	// would error if invoked again.
	result2, err := a.Run(ctx, "sess-1", "how many orders are there")
	require.Error(t, err, "history changed after the first call, so this should miss the cache and exhaust the provider script")
	_ = result2
}

func TestRun_DifferentSessionSameQuestionHitsGlobalAnswerCache(t *testing.T) {
	cat, conn := setupCatalog(t)
	conn.Results["SELECT COUNT(*) FROM orders LIMIT 100"] = connector.Table{
		Columns: []connector.Column{{Name: "count"}},
		Rows:    [][]any{{int64(7)}},
	}
	provider := &queuedProvider{replies: []string{
		`{"tables": ["orders"]}`,
		"SELECT COUNT(*) FROM orders",
		"There are 7 orders.",
		`{"suggestions": []}`,
	}}
	store := cache.NewMemStore()
	a := New(fastLLMClient(provider), cat, conn, store, memory.New(store, time.Hour, 10), DefaultConfig())

	ctx := context.Background()
	_, err := a.Run(ctx, "sess-a", "how many orders are there")
	require.NoError(t, err)

	// A brand-new session with empty history digests the same as
	// sess-a's starting history, so it should hit the global answer
	// key sess-a's run wrote, without any further scripted replies.
	result, err := a.Run(ctx, "sess-b", "how many orders are there")
	require.NoError(t, err)
	require.Equal(t, "There are 7 orders.", result.Summary)
}

func TestRun_NoRelevantTablesFails(t *testing.T) {
	cat, conn := setupCatalog(t)
	provider := &queuedProvider{replies: []string{
		`{"tables": []}`,
	}}
	a := New(fastLLMClient(provider), cat, conn, cache.NewMemStore(), memory.New(cache.NewMemStore(), time.Hour, 10), DefaultConfig())

	_, err := a.Run(context.Background(), "sess-1", "what is the weather today")
	require.ErrorIs(t, err, ErrNoRelevantTables)
}

func TestRun_ExecutionFailureInvokesCorrection(t *testing.T) {
	cat, conn := setupCatalog(t)
	conn.Results["SELECT id FROM orders"] = connector.Table{
		Columns: []connector.Column{{Name: "id"}},
		Rows:    [][]any{{1}},
	}

	provider := &queuedProvider{replies: []string{
		`{"tables": ["orders"]}`,
		"SELECT ids FROM orders", // wrong column, will fail execution
		"```sql\nSELECT id FROM orders\n```",
		"There is 1 order id.",
		`{"suggestions": []}`,
	}}

	a := New(fastLLMClient(provider), cat, conn, cache.NewMemStore(), memory.New(cache.NewMemStore(), time.Hour, 10), DefaultConfig())

	result, err := a.Run(context.Background(), "sess-1", "list order ids")
	require.NoError(t, err)
	require.True(t, result.CorrectionApplied)
	require.Equal(t, "SELECT id FROM orders", result.SQL)
}

func TestChooseTables_FallsBackToSubstringMatchOnFreeText(t *testing.T) {
	cat, conn := setupCatalog(t)
	provider := &queuedProvider{replies: []string{
		"I think the orders table is relevant here.",
	}}
	a := New(fastLLMClient(provider), cat, conn, cache.NewMemStore(), memory.New(cache.NewMemStore(), time.Hour, 10), DefaultConfig())

	tables, err := a.chooseTables(context.Background(), "how many orders", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"orders"}, tables)
}

func TestPostprocessSQL_InjectsLimitWhenAbsent(t *testing.T) {
	out := postprocessSQL("SELECT * FROM orders", 100)
	require.Contains(t, out, "LIMIT 100")
}

func TestPostprocessSQL_LeavesExistingLimitAlone(t *testing.T) {
	out := postprocessSQL("SELECT * FROM orders LIMIT 10", 100)
	require.Equal(t, 1, countOccurrences(out, "LIMIT"))
}

func TestPostprocessSQL_GuardsDivisionWithNullif(t *testing.T) {
	out := postprocessSQL("SELECT a / b FROM stats", 100)
	require.Contains(t, out, "NULLIF(b, 0)")
}

func TestPostprocessSQL_DoesNotDoubleWrapExistingNullif(t *testing.T) {
	out := postprocessSQL("SELECT a / NULLIF(b, 0) FROM stats", 100)
	require.Equal(t, 1, countOccurrences(out, "NULLIF"))
}

func countOccurrences(s, substr string) int {
	count := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			count++
		}
	}
	return count
}
