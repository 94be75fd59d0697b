// Package queryengine is the single public entry point this repo
// exposes: Submit a question, Poll its result, or ask for a
// visualization recommendation. Everything else (cache, memory,
// schema, LM client, correction, agent, dispatch, scheduler, results,
// connector) is wired together behind it.
package queryengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nl2sql/queryengine/internal/agent"
	"github.com/nl2sql/queryengine/internal/cache"
	"github.com/nl2sql/queryengine/internal/config"
	"github.com/nl2sql/queryengine/internal/connector"
	"github.com/nl2sql/queryengine/internal/dispatch"
	"github.com/nl2sql/queryengine/internal/llm"
	"github.com/nl2sql/queryengine/internal/memory"
	"github.com/nl2sql/queryengine/internal/results"
	"github.com/nl2sql/queryengine/internal/schema"
	"github.com/nl2sql/queryengine/internal/scheduler"
)

// ErrorKind is the taxonomy Poll's error field is drawn from; the same
// set internal/dispatch.Kind names, re-exported here so callers never
// need to import an internal package.
type ErrorKind = dispatch.Kind

const (
	KindNoRelevantTables    = dispatch.KindNoRelevantTables
	KindSQLSynthesisFailed  = dispatch.KindSQLSynthesisFailed
	KindSQLExecutionFailed  = dispatch.KindSQLExecutionFailed
	KindLMUnavailable       = dispatch.KindLMUnavailable
	KindTransientConnection = dispatch.KindTransientConnection
	KindTimeout             = dispatch.KindTimeout
	KindInternalError       = dispatch.KindInternalError
)

// ClassifiedError pairs a taxonomy Kind with a human-readable message,
// the shape a terminal Failed record carries.
type ClassifiedError struct {
	Kind    ErrorKind
	Message string
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Table mirrors AnswerPayload's table shape at this boundary.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// AnswerPayload is a succeeded job's full result.
type AnswerPayload struct {
	SQL               string   `json:"sql"`
	Summary           string   `json:"summary"`
	Table             Table    `json:"table"`
	Suggestions       []string `json:"suggestions"`
	CorrectionApplied bool     `json:"correction_applied"`
}

// PollResult is what Poll returns: Payload is set when State is
// "succeeded", Err when it is "failed"; in every other state, including
// "cancelled", neither is set.
type PollResult struct {
	State   string
	Payload *AnswerPayload
	Err     *ClassifiedError
}

// ErrUnknownJob is returned by Poll for a job ID the Result Store has
// never seen or has expired.
var ErrUnknownJob = dispatch.ErrUnknownJob

// VisualizationKind is one of the chart families RecommendVisualization
// may suggest, or "none" when no chart fits the result shape.
type VisualizationKind string

const (
	VizBar           VisualizationKind = "bar"
	VizHorizontalBar VisualizationKind = "horizontal_bar"
	VizLine          VisualizationKind = "line"
	VizPie           VisualizationKind = "pie"
	VizScatter       VisualizationKind = "scatter"
	VizTable         VisualizationKind = "table"
	VizNone          VisualizationKind = "none"
)

var knownVizKinds = map[VisualizationKind]bool{
	VizBar: true, VizHorizontalBar: true, VizLine: true,
	VizPie: true, VizScatter: true, VizTable: true, VizNone: true,
}

// VisualizationRecommendation is RecommendVisualization's return value.
type VisualizationRecommendation struct {
	Kind   VisualizationKind `json:"kind"`
	Reason string            `json:"reason"`
}

// Engine wires every component together behind Submit/Poll/RecommendVisualization.
type Engine struct {
	dispatcher *dispatch.Dispatcher
	llmClient  *llm.Client
	log        *slog.Logger
	cancel     context.CancelFunc
}

// Dependencies lets a caller (typically cmd/worker or a test) supply
// already-constructed infrastructure instead of Engine dialing its
// own, which keeps Open usable both for production wiring and for
// integration tests against fakes.
type Dependencies struct {
	Conn        connector.Connector
	Store       cache.Store
	LiteLLM     llm.Provider
	Mirror      dispatch.Mirror
	Log         *slog.Logger
	MetricsSink func(ctx context.Context) error
}

// Open constructs a fully wired Engine from cfg and deps, refreshes
// the schema catalog once synchronously (so the first Submit has a
// populated catalog), and starts the dispatcher's worker pools plus
// the scheduler's background coordinator.
func Open(ctx context.Context, cfg config.Config, deps Dependencies) (*Engine, error) {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	catalog := schema.New(deps.Conn, deps.Store, cfg.SchemaCacheTTL)
	if err := catalog.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("queryengine: initial schema refresh: %w", err)
	}

	llmCfg := llm.DefaultConfig()
	llmCfg.CacheEnabled = cfg.EnableLLMCache
	llmCfg.CacheTTL = cfg.LLMCacheTTL
	llmCfg.RateLimitPerMinute = cfg.APIRateLimit
	llmClient := llm.New(deps.LiteLLM, cfg.LiteLLMModel, deps.Store, llmCfg, deps.Log)

	mem := memory.New(deps.Store, cfg.SessionTTL, cfg.HistoryLimit)

	agentCfg := agent.DefaultConfig()
	agentCfg.GenerationTemperature = cfg.GenerationTemperature
	agentCfg.SummaryTemperature = cfg.SummaryTemperature
	agentCfg.SuggestionTemperature = cfg.SuggestionTemperature
	agentCfg.AnswerCacheTTL = cfg.QueryCacheTTL
	sqlAgent := agent.New(llmClient, catalog, deps.Conn, deps.Store, mem, agentCfg)

	resultStore := results.New(deps.Store, time.Hour)

	pools := dispatch.DefaultPools()
	for i := range pools {
		pools[i].SoftLimit = cfg.TaskSoftTimeLimit
		pools[i].HardLimit = cfg.TaskTimeLimit
	}
	poolNames := make([]string, len(pools))
	for i, p := range pools {
		poolNames[i] = p.Name
	}
	classifier := dispatch.NewClassifier(llmClient, poolNames, deps.Log)

	retry := dispatch.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries

	d := dispatch.New(sqlAgent, resultStore, pools, classifier, retry, deps.Mirror, deps.Log)

	runCtx, cancel := context.WithCancel(context.Background())
	d.Start(runCtx)

	zlog := zerolog.New(os.Stderr).With().Timestamp().Logger()
	sched := scheduler.New(deps.Store, "engine-"+cfg.LiteLLMModel, catalog, scheduler.DefaultConfig(), zlog, nil, deps.MetricsSink)
	go sched.Run(runCtx)

	return &Engine{dispatcher: d, llmClient: llmClient, log: deps.Log, cancel: cancel}, nil
}

// Close stops the dispatcher's worker pools and the scheduler.
func (e *Engine) Close() {
	e.cancel()
	e.dispatcher.Wait()
	e.log.Info("engine closed")
}

// Submit enqueues a question and returns its job ID.
func (e *Engine) Submit(ctx context.Context, question, sessionID string) (string, error) {
	jobID, err := e.dispatcher.Submit(ctx, question, sessionID)
	if err != nil {
		if errors.Is(err, dispatch.ErrOverloaded) || errors.Is(err, dispatch.ErrInvalidInput) {
			return "", err
		}
		return "", fmt.Errorf("queryengine: submit: %w", err)
	}
	return jobID, nil
}

// Poll returns a job's current state.
func (e *Engine) Poll(ctx context.Context, jobID string) (*PollResult, error) {
	rec, err := e.dispatcher.Poll(ctx, jobID)
	if err != nil {
		return nil, err
	}

	out := &PollResult{State: string(rec.State)}
	if rec.Payload != nil {
		cols := make([]string, len(rec.Payload.Columns))
		for i, c := range rec.Payload.Columns {
			cols[i] = c.Name
		}
		out.Payload = &AnswerPayload{
			SQL:               rec.Payload.SQL,
			Summary:           rec.Payload.Summary,
			Table:             Table{Columns: cols, Rows: rec.Payload.Rows},
			Suggestions:       rec.Payload.Suggestions,
			CorrectionApplied: rec.Payload.CorrectionApplied,
		}
	}
	if rec.State == results.StateFailed {
		out.Err = &ClassifiedError{Kind: ErrorKind(rec.ErrorKind), Message: rec.ErrorMsg}
	}
	return out, nil
}

// Cancel requests cooperative cancellation of a queued or running job.
func (e *Engine) Cancel(jobID string) {
	e.dispatcher.Cancel(jobID)
}

type vizResponse struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// RecommendVisualization asks the LM for a chart family fitting the
// question, the SQL that answered it, and a small sample of the
// result rows. It is a single call at temperature 0, served from the LM
// response cache when that cache is enabled, like any other call: any LM
// failure (including an open breaker) degrades to VizNone rather than
// propagating, since a missing chart suggestion never blocks an
// otherwise-successful answer.
func (e *Engine) RecommendVisualization(ctx context.Context, question, sql string, resultSample Table) VisualizationRecommendation {
	sampleJSON, err := json.Marshal(resultSample)
	if err != nil {
		return VisualizationRecommendation{Kind: VizNone, Reason: "result sample could not be encoded"}
	}

	system := "You recommend a chart type for visualizing a SQL query result. Respond with JSON: " +
		`{"kind": "bar|horizontal_bar|line|pie|scatter|table|none", "reason": "one short sentence"}` +
		". Use \"none\" when the data has too many columns, too few rows, or no natural chart shape. Use \"table\" for detail-oriented lookups rather than forcing a chart."
	user := fmt.Sprintf("Question: %s\nSQL: %s\nResult sample: %s", question, sql, string(sampleJSON))

	raw, err := e.llmClient.Complete(ctx, system, user, 0)
	if err != nil {
		return VisualizationRecommendation{Kind: VizNone, Reason: "visualization advisor unavailable"}
	}

	var decoded vizResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &decoded); err != nil {
		return VisualizationRecommendation{Kind: VizNone, Reason: "visualization advisor returned an unparseable response"}
	}

	kind := VisualizationKind(strings.ToLower(strings.TrimSpace(decoded.Kind)))
	if !knownVizKinds[kind] {
		return VisualizationRecommendation{Kind: VizNone, Reason: "visualization advisor returned an unrecognized chart kind"}
	}
	return VisualizationRecommendation{Kind: kind, Reason: decoded.Reason}
}

// OpenConnector opens a production connector from cfg, translating the
// driver-agnostic DATABASE_DRIVER configuration into GORM's dialector
// choice.
func OpenConnector(cfg config.Config) (connector.Connector, error) {
	driver := connector.DriverMySQL
	if cfg.DatabaseDriver == string(connector.DriverPostgres) {
		driver = connector.DriverPostgres
	}
	pool := connector.PoolConfig{
		MaxOpenConns:    cfg.DBPoolSize + cfg.DBMaxOverflow,
		MaxIdleConns:    cfg.DBPoolSize,
		ConnMaxIdleTime: cfg.DBPoolTimeout,
		ConnMaxLifetime: cfg.DBPoolRecycle,
	}
	return connector.Open(driver, cfg.DatabaseURL, pool)
}

// OpenCache opens the production Redis-backed cache from cfg.
func OpenCache(cfg config.Config, log *slog.Logger) (cache.Store, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("queryengine: parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	return cache.NewRedisStore(client, log), nil
}

// OpenLLMProvider builds the Registry of both concrete Providers
// (the direct HTTP chat-completions client and the langchaingo-backed
// one) and resolves the one selected by cfg.LLMProvider, so a
// deployment switches LM backends with a config key rather than a
// code change.
func OpenLLMProvider(ctx context.Context, cfg config.Config) (llm.Provider, error) {
	reg := llm.NewRegistry()
	reg.Register("http", func(_ context.Context, model string) (llm.Provider, error) {
		return llm.NewHTTPProvider(cfg.LiteLLMAPIBase, cfg.LiteLLMAuthToken, model), nil
	})
	reg.Register("langchain", func(_ context.Context, model string) (llm.Provider, error) {
		return llm.NewLangchainProvider(cfg.LiteLLMAPIBase, cfg.LiteLLMAuthToken, model)
	})
	return reg.Get(ctx, cfg.LLMProvider, cfg.LiteLLMModel)
}

// OpenMirror opens an AMQP mirror from cfg, or returns (nil, nil) when
// RabbitURL is unset, since mirroring is optional.
func OpenMirror(cfg config.Config) (dispatch.Mirror, error) {
	if cfg.RabbitURL == "" {
		return nil, nil
	}
	return dispatch.NewAMQPMirror(cfg.RabbitURL, cfg.RabbitQueue)
}
