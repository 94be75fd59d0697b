// Package agent implements the SQL Agent: the pipeline that takes a
// natural-language question and a session and produces an executed
// result, an NL summary, and follow-up suggestions, invoking the
// correction loop when the first execution attempt fails.
//
// The pipeline runs as named Go stages: load context, answer-cache
// check, choose tables, get DDLs, generate SQL, execute SQL, format
// results, suggest follow-ups, persist.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nl2sql/queryengine/internal/cache"
	"github.com/nl2sql/queryengine/internal/connector"
	"github.com/nl2sql/queryengine/internal/correction"
	"github.com/nl2sql/queryengine/internal/llm"
	"github.com/nl2sql/queryengine/internal/memory"
	"github.com/nl2sql/queryengine/internal/schema"
)

// Result is what a full pipeline run produces.
type Result struct {
	SQL               string
	Table             *connector.Table
	Summary           string
	Suggestions       []string
	CorrectionApplied bool
	Attempts          int
}

// Config bundles the agent's tunables that are not provided by its
// injected dependencies.
type Config struct {
	GenerationTemperature float64
	SummaryTemperature    float64
	SuggestionTemperature float64
	DefaultRowLimit       int
	MaxSuggestions        int
	StatementTimeout      time.Duration
	MaxCorrectionAttempts int
	AllowWriteSQL         bool
	AnswerCacheTTL        time.Duration
}

// DefaultConfig: generation at temperature 0 (cacheable), summary at
// 0.3, suggestions at 0.5, up to 5 suggestions, 20s per-statement
// timeout, 5 minute answer cache TTL.
func DefaultConfig() Config {
	return Config{
		GenerationTemperature: 0,
		SummaryTemperature:    0.3,
		SuggestionTemperature: 0.5,
		DefaultRowLimit:       100,
		MaxSuggestions:        5,
		StatementTimeout:      20 * time.Second,
		MaxCorrectionAttempts: 3,
		AnswerCacheTTL:        5 * time.Minute,
	}
}

// Agent wires together every dependency the pipeline needs: none of the
// stages hold state themselves, so a single Agent value is safe to
// share across concurrent jobs.
type Agent struct {
	llmClient *llm.Client
	catalog   *schema.Catalog
	conn      connector.Connector
	store     cache.Store
	mem       *memory.Memory
	cfg       Config
}

// New builds an Agent from its component dependencies.
func New(llmClient *llm.Client, catalog *schema.Catalog, conn connector.Connector, store cache.Store, mem *memory.Memory, cfg Config) *Agent {
	return &Agent{llmClient: llmClient, catalog: catalog, conn: conn, store: store, mem: mem, cfg: cfg}
}

// Run executes the full pipeline for one question within sessionID.
func (a *Agent) Run(ctx context.Context, sessionID, question string) (*Result, error) {
	// Stage 1: load context.
	history, err := a.mem.Recent(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("agent: recent history: %w", err)
	}
	historyDigest := cache.Digest(history)

	// Stage 2: answer-cache check.
	normalizedQuestion := normalizeQuestion(question)
	if cached, ok, err := a.lookupAnswerCache(ctx, sessionID, normalizedQuestion, historyDigest); err == nil && ok {
		return cached, nil
	}

	// Stage 3: choose tables.
	tables, err := a.chooseTables(ctx, question, history)
	if err != nil {
		return nil, err
	}

	// Stage 4: get DDLs.
	schemaDDL := a.ddlBundle(tables)

	// Stage 5: generate SQL.
	sql, err := a.synthesizeSQL(ctx, question, schemaDDL, history)
	if err != nil {
		return nil, fmt.Errorf("agent: synthesize sql: %w", err)
	}
	sql = postprocessSQL(sql, a.cfg.DefaultRowLimit)
	if strings.TrimSpace(sql) == "" {
		return nil, ErrSQLSynthesisFailed
	}
	if !a.cfg.AllowWriteSQL && !connector.IsReadOnly(sql) {
		return nil, fmt.Errorf("agent: generated SQL is not read-only: %w", ErrSQLSynthesisFailed)
	}

	// Stage 6: execute SQL, falling back to the Correction Graph.
	execCtx, cancel := context.WithTimeout(ctx, a.cfg.StatementTimeout)
	table, execErr := a.conn.Execute(execCtx, sql)
	cancel()

	correctionApplied := false
	attempts := 0
	if execErr != nil {
		loop := correction.New(a.llmClient, a.conn, a.cfg.MaxCorrectionAttempts, a.cfg.AllowWriteSQL)
		outcome, err := loop.Run(ctx, question, sql, execErr.Error(), schemaDDL)
		if err != nil {
			return nil, fmt.Errorf("agent: correction: %w", err)
		}
		if !outcome.Success {
			return nil, fmt.Errorf("%w: %s", ErrSQLExecutionFailed, outcome.Reason)
		}
		sql = outcome.SQL
		table = outcome.Table
		correctionApplied = true
		attempts = outcome.Attempts
	}

	// Stage 7: format results.
	summary, err := a.summarize(ctx, question, sql, table)
	if err != nil {
		return nil, fmt.Errorf("agent: summarize: %w", err)
	}

	// Stage 8: suggest follow-ups. A failure here degrades to no
	// suggestions rather than failing the whole query, since a good
	// answer with no follow-ups is still a good answer.
	suggestions := a.suggestFollowUps(ctx, question, summary, history)

	result := &Result{
		SQL:               sql,
		Table:             table,
		Summary:           summary,
		Suggestions:       suggestions,
		CorrectionApplied: correctionApplied,
		Attempts:          attempts,
	}

	// Stage 9: persist.
	if _, err := a.mem.Append(ctx, sessionID, memory.Entry{
		Timestamp: time.Now(),
		Question:  question,
		SQL:       sql,
		Summary:   summary,
	}); err != nil {
		return nil, fmt.Errorf("agent: append history: %w", err)
	}
	a.storeAnswerCache(ctx, sessionID, normalizedQuestion, historyDigest, result)

	return result, nil
}

// tableSelection is the JSON shape stage 3 asks the LM for.
type tableSelection struct {
	Tables []string `json:"tables"`
}

// chooseTables asks the LM for relevant table names and parses the
// response defensively: a valid JSON array, or free text from which
// known table names are extracted by substring match. The result is
// always a subset of known tables.
func (a *Agent) chooseTables(ctx context.Context, question string, history []memory.Entry) ([]string, error) {
	known := a.catalog.Tables()

	system := "You choose which database tables are relevant to a question. Respond with a JSON object: {\"tables\": [\"table1\", \"table2\"]}. Only use table names from the provided list."
	user := fmt.Sprintf("Known tables: %s\n\nConversation context: %s\n\nQuestion: %s",
		strings.Join(known, ", "), historySummary(history), question)

	raw, err := a.llmClient.Complete(ctx, system, user, a.cfg.GenerationTemperature)
	if err != nil {
		return nil, fmt.Errorf("agent: choose tables: %w", err)
	}

	parsed := parseJSONOrText[tableSelection](raw)
	var candidates []string
	if parsed.Parsed != nil {
		candidates = parsed.Parsed.Tables
	}

	selected := intersectKnown(candidates, known)
	if len(selected) == 0 {
		// Fall back to substring extraction from the free-text/JSON
		// response, then to matching the raw question itself.
		selected = extractKnownTables(parsed.Textual, known)
	}
	if len(selected) == 0 {
		selected = extractKnownTables(question, known)
	}
	if len(selected) == 0 {
		return nil, ErrNoRelevantTables
	}
	return selected, nil
}

func intersectKnown(candidates, known []string) []string {
	knownSet := make(map[string]bool, len(known))
	for _, t := range known {
		knownSet[strings.ToLower(t)] = true
	}
	var out []string
	seen := make(map[string]bool)
	for _, c := range candidates {
		lc := strings.ToLower(strings.TrimSpace(c))
		if knownSet[lc] && !seen[lc] {
			seen[lc] = true
			out = append(out, lc)
		}
	}
	return out
}

func extractKnownTables(text string, known []string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, t := range known {
		if strings.Contains(lower, strings.ToLower(t)) {
			out = append(out, t)
		}
	}
	return out
}

// ddlBundle produces the mapping stage 4 asks for, in the same
// insertion order as the chosen table list.
func (a *Agent) ddlBundle(tables []string) string {
	var parts []string
	for _, t := range tables {
		if ddl, ok := a.catalog.DDL(t); ok {
			parts = append(parts, ddl)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (a *Agent) synthesizeSQL(ctx context.Context, question, schemaDDL string, history []memory.Entry) (string, error) {
	system := "You are a SQL expert. Translate the user's question into a single read-only SQL query against the given schema. Return only the SQL, no markdown."
	user := fmt.Sprintf("Schema:\n%s\n\nConversation history:\n%s\n\nQuestion: %s\n\nSQL query:",
		schemaDDL, historySummary(history), question)

	raw, err := a.llmClient.Complete(ctx, system, user, a.cfg.GenerationTemperature)
	if err != nil {
		return "", err
	}
	return cleanSQL(raw), nil
}

// formatConstraint is the anti-hallucination instruction every summary
// call carries: it must not invent values absent from the rows.
const formatConstraint = "Only state facts that are directly present in the result rows shown. Do not invent values, counts, or names that are not in the data."

func (a *Agent) summarize(ctx context.Context, question, sql string, table *connector.Table) (string, error) {
	if table == nil || len(table.Rows) == 0 {
		return "No data was found matching the criteria.", nil
	}

	system := "You are an assistant that explains SQL query results in plain language, directly answering the user's question. " + formatConstraint
	preview := previewRows(table, 5)
	user := fmt.Sprintf("Question: %s\nSQL: %s\nResult preview (first %d of %d rows):\n%s\n\nAnswer concisely:",
		question, sql, len(preview), len(table.Rows), formatRows(table.Columns, preview))

	return a.llmClient.Complete(ctx, system, user, a.cfg.SummaryTemperature)
}

type suggestionList struct {
	Suggestions []string `json:"suggestions"`
}

// suggestFollowUps asks the LM for candidate follow-up questions,
// truncates to MaxSuggestions and deduplicates. A failure here is
// swallowed: an answer without suggestions is still a valid answer.
func (a *Agent) suggestFollowUps(ctx context.Context, question, summary string, history []memory.Entry) []string {
	system := "Suggest relevant follow-up questions for a data-analysis conversation. Respond with JSON: {\"suggestions\": [\"question1\", \"question2\"]}. Make each suggestion concise and specific."
	user := fmt.Sprintf("Current question: %s\nAnswer: %s\nRecent context: %s\n\nGenerate up to %d follow-up questions:",
		question, summary, historySummary(history), a.cfg.MaxSuggestions)

	raw, err := a.llmClient.Complete(ctx, system, user, a.cfg.SuggestionTemperature)
	if err != nil {
		return nil
	}

	parsed := parseJSONOrText[suggestionList](raw)
	var candidates []string
	if parsed.Parsed != nil {
		candidates = parsed.Parsed.Suggestions
	} else {
		candidates = splitLines(parsed.Textual)
	}
	return dedupeTruncate(candidates, a.cfg.MaxSuggestions)
}

func splitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func dedupeTruncate(items []string, max int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, item := range items {
		item = strings.TrimSpace(item)
		key := strings.ToLower(item)
		if item == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
		if len(out) >= max {
			break
		}
	}
	return out
}

func historySummary(history []memory.Entry) string {
	if len(history) == 0 {
		return "No previous conversation"
	}
	start := 0
	if len(history) > 3 {
		start = len(history) - 3
	}
	var parts []string
	for _, h := range history[start:] {
		parts = append(parts, fmt.Sprintf("Q: %s\nA: %s", h.Question, h.Summary))
	}
	return strings.Join(parts, "\n\n")
}

// lookupAnswerCache checks the session-scoped key first, when a session
// is present, before falling back to the global key: a session's own
// prior answer should win over a coincidentally-matching cross-session
// one.
func (a *Agent) lookupAnswerCache(ctx context.Context, sessionID, normalizedQuestion, historyDigest string) (*Result, bool, error) {
	if sessionID != "" {
		sessionKey := cache.SessionAnswerKey(sessionID, normalizedQuestion, historyDigest)
		raw, ok, err := a.store.Get(ctx, cache.NamespaceAnswer, sessionKey)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return decodeResult(raw)
		}
	}

	key := cache.AnswerKey(normalizedQuestion, historyDigest)
	raw, ok, err := a.store.Get(ctx, cache.NamespaceAnswer, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return decodeResult(raw)
}

// storeAnswerCache always writes the global key, giving other sessions
// with an identical question/history digest a cross-session cache
// assist, and additionally writes a session-scoped variant when a
// session is present.
func (a *Agent) storeAnswerCache(ctx context.Context, sessionID, normalizedQuestion, historyDigest string, result *Result) {
	raw, err := encodeResult(result)
	if err != nil {
		return
	}
	key := cache.AnswerKey(normalizedQuestion, historyDigest)
	_ = a.store.Put(ctx, cache.NamespaceAnswer, key, raw, a.cfg.AnswerCacheTTL)

	if sessionID != "" {
		sessionKey := cache.SessionAnswerKey(sessionID, normalizedQuestion, historyDigest)
		_ = a.store.Put(ctx, cache.NamespaceAnswer, sessionKey, raw, a.cfg.AnswerCacheTTL)
	}
}

func normalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func previewRows(table *connector.Table, n int) [][]any {
	if len(table.Rows) < n {
		return table.Rows
	}
	return table.Rows[:n]
}

func formatRows(cols []connector.Column, rows [][]any) string {
	var b strings.Builder
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	b.WriteString(strings.Join(names, " | "))
	b.WriteString("\n")
	for _, row := range rows {
		parts := make([]string, len(row))
		for i, v := range row {
			parts[i] = fmt.Sprintf("%v", v)
		}
		b.WriteString(strings.Join(parts, " | "))
		b.WriteString("\n")
	}
	return b.String()
}
