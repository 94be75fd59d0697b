package agent

import "errors"

// Sentinel errors for the SQL Agent's terminal failure modes. The task
// dispatcher classifies these (together with llm.ErrUnavailable and
// context deadline errors) into its own error_kind taxonomy; the agent
// itself only needs to distinguish them, not enumerate every kind a
// caller might want.
var (
	// ErrNoRelevantTables is returned when stage 3's table selection
	// yields an empty subset of known tables.
	ErrNoRelevantTables = errors.New("agent: no relevant tables found for question")

	// ErrSQLSynthesisFailed is returned when stage 5 cannot extract a
	// non-empty SQL statement from the LM response.
	ErrSQLSynthesisFailed = errors.New("agent: sql synthesis produced no usable statement")

	// ErrSQLExecutionFailed is returned when the Correction Graph gives
	// up on a failing statement.
	ErrSQLExecutionFailed = errors.New("agent: sql execution failed after correction attempts")
)
