// Package correction implements the bounded SQL-repair loop: Correct ->
// Execute, retrying with a fresh LM completion each attempt until the
// statement runs cleanly or attempts run out.
package correction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nl2sql/queryengine/internal/connector"
	"github.com/nl2sql/queryengine/internal/llm"
)

// Outcome is the terminal result of a correction attempt sequence.
type Outcome struct {
	Success  bool
	SQL      string
	Table    *connector.Table
	Attempts int
	Reason   string
}

// Loop runs the bounded correction state machine for one failing SQL
// statement, given the question that produced it, its schema context,
// and the error it failed with.
type Loop struct {
	llm         *llm.Client
	conn        connector.Connector
	maxAttempts int
	allowWrite  bool
}

// New builds a Loop. maxAttempts defaults to 3 in practice; allowWrite
// gates whether a corrected statement may be a write statement
// (default false).
func New(client *llm.Client, conn connector.Connector, maxAttempts int, allowWrite bool) *Loop {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	return &Loop{llm: client, conn: conn, maxAttempts: maxAttempts, allowWrite: allowWrite}
}

// Run attempts to correct failingSQL until it executes cleanly
// or maxAttempts is exhausted. Each attempt makes one LM call. A
// corrected statement that fails the local heuristics (empty, stray
// semicolons, or a disallowed write verb) is not executed: the rejection
// reason is fed to the next attempt's LM call as the error, or ends the
// loop in failure when no attempts remain.
func (l *Loop) Run(ctx context.Context, question, failingSQL, execErr, schemaDDL string) (Outcome, error) {
	sql := failingSQL
	lastErr := execErr

	if l.maxAttempts == 0 {
		return Outcome{Success: false, SQL: sql, Reason: "correction disabled: max_attempts is 0"}, nil
	}

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		corrected, err := l.correct(ctx, question, sql, lastErr, schemaDDL)
		if err != nil {
			return Outcome{}, fmt.Errorf("correction: correct attempt %d: %w", attempt, err)
		}
		corrected = cleanSQL(corrected)

		if reason := l.validate(corrected); reason != "" {
			if attempt >= l.maxAttempts {
				return Outcome{Success: false, SQL: corrected, Attempts: attempt, Reason: reason}, nil
			}
			sql = corrected
			lastErr = reason
			continue
		}

		table, err := l.conn.Execute(ctx, corrected)
		if err == nil {
			return Outcome{Success: true, SQL: corrected, Table: table, Attempts: attempt}, nil
		}

		if attempt >= l.maxAttempts {
			return Outcome{Success: false, SQL: corrected, Attempts: attempt, Reason: err.Error()}, nil
		}
		sql = corrected
		lastErr = err.Error()
	}

	return Outcome{Success: false, SQL: sql, Attempts: l.maxAttempts, Reason: lastErr}, nil
}

// correct asks the LM to diagnose the failure and return fixed SQL in one
// completion. It does not separately ask for a correction strategy first;
// the diagnosis and the rewrite happen in a single call.
func (l *Loop) correct(ctx context.Context, question, sql, execErr, schemaDDL string) (string, error) {
	system := "You are a SQL expert. Diagnose why the query below failed and return only the corrected SQL, no markdown, no explanation."
	user := fmt.Sprintf(
		"Original question: %s\nFailed SQL: %s\nError: %s\nSchema:\n%s\n\nProvide the corrected SQL query:",
		question, sql, execErr, schemaDDL)
	return l.llm.Complete(ctx, system, user, 0.2)
}

// validate runs cheap local checks before ever re-executing: empty SQL,
// stray semicolons, and (when write statements are disallowed) a write
// verb at the front.
func (l *Loop) validate(sql string) string {
	if strings.TrimSpace(sql) == "" {
		return "empty SQL query"
	}
	if strings.Contains(sql, ";") {
		return "query contains semicolons which should be removed"
	}
	if !l.allowWrite && !connector.IsReadOnly(sql) {
		return "query is not read-only"
	}
	return ""
}

// cleanSQL strips markdown code fences and a trailing semicolon from an
// LM response before it is validated or executed.
func cleanSQL(sql string) string {
	s := strings.TrimSpace(sql)
	s = strings.TrimPrefix(s, "```sql")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ";")
	return strings.TrimSpace(s)
}

// ErrMaxAttemptsExhausted is returned by callers that want to classify a
// failed Outcome as a distinct error rather than inspect Outcome.Success.
var ErrMaxAttemptsExhausted = errors.New("correction: max attempts exhausted")
