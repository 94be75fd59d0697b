package dispatch

import (
	"context"
	"errors"

	"github.com/nl2sql/queryengine/internal/agent"
	"github.com/nl2sql/queryengine/internal/connector"
	"github.com/nl2sql/queryengine/internal/llm"
)

// Kind is the machine-readable error taxonomy a failed Job is filed
// under in the Result Store.
type Kind string

const (
	KindNoRelevantTables      Kind = "NoRelevantTables"
	KindSQLSynthesisFailed    Kind = "SQLSynthesisFailed"
	KindSQLExecutionFailed    Kind = "SQLExecutionFailed"
	KindLMUnavailable         Kind = "LMUnavailable"
	KindTransientConnection   Kind = "TransientConnectionError"
	KindTimeout               Kind = "Timeout"
	KindInternalError         Kind = "InternalError"
)

// Classify maps a pipeline error to its taxonomy kind. Anything
// unrecognized files under InternalError rather than leaking raw Go
// error text as the machine-readable kind.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, agent.ErrNoRelevantTables):
		return KindNoRelevantTables
	case errors.Is(err, agent.ErrSQLSynthesisFailed):
		return KindSQLSynthesisFailed
	case errors.Is(err, connector.ErrTransientConnection):
		return KindTransientConnection
	case errors.Is(err, agent.ErrSQLExecutionFailed):
		return KindSQLExecutionFailed
	case errors.Is(err, llm.ErrUnavailable):
		return KindLMUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindInternalError
	}
}

// isRetryable reports whether a failure is transient enough to
// re-enqueue rather than fail terminally: an LM-unavailable failure
// (whatever the breaker state; it may close again after its cooldown)
// or a dropped database connection.
func isRetryable(kind Kind) bool {
	return kind == KindLMUnavailable || kind == KindTransientConnection
}
