package agent

import (
	"encoding/json"
	"fmt"

	"github.com/nl2sql/queryengine/internal/connector"
)

// cachedResult is the JSON envelope Result round-trips through for the
// answer cache; kept separate from Result so the wire shape can evolve
// without touching the pipeline's return type.
type cachedResult struct {
	SQL               string             `json:"sql"`
	Columns           []connector.Column `json:"columns"`
	Rows              [][]any            `json:"rows"`
	Summary           string             `json:"summary"`
	Suggestions       []string           `json:"suggestions"`
	CorrectionApplied bool               `json:"correction_applied"`
	Attempts          int                `json:"attempts"`
}

func encodeResult(r *Result) ([]byte, error) {
	c := cachedResult{
		SQL:               r.SQL,
		Summary:           r.Summary,
		Suggestions:       r.Suggestions,
		CorrectionApplied: r.CorrectionApplied,
		Attempts:          r.Attempts,
	}
	if r.Table != nil {
		c.Columns = r.Table.Columns
		c.Rows = r.Table.Rows
	}
	return json.Marshal(c)
}

func decodeResult(raw []byte) (*Result, bool, error) {
	var c cachedResult
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, false, fmt.Errorf("agent: decode cached result: %w", err)
	}
	return &Result{
		SQL:               c.SQL,
		Table:             &connector.Table{Columns: c.Columns, Rows: c.Rows},
		Summary:           c.Summary,
		Suggestions:       c.Suggestions,
		CorrectionApplied: c.CorrectionApplied,
		Attempts:          c.Attempts,
	}, true, nil
}

// parseResult is a tagged-variant holder for LM responses that should be
// structured JSON but sometimes arrive as free text: Parsed is set on a
// successful decode, Textual always holds the raw response so a caller
// can fall back to treating it as plain text. This mirrors the
// defensive parsing every LM call in the pipeline needs since no
// provider contract guarantees well-formed JSON back.
type parseResult[T any] struct {
	Parsed  *T
	Textual string
}

// parseJSONOrText attempts to decode raw as T; on failure it returns a
// parseResult carrying only the raw text, never an error, since a
// free-text LM reply is an expected outcome, not a fault.
func parseJSONOrText[T any](raw string) parseResult[T] {
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return parseResult[T]{Textual: raw}
	}
	return parseResult[T]{Parsed: &v, Textual: raw}
}
