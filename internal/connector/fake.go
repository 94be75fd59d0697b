package connector

import (
	"context"
	"fmt"
	"sort"
)

// Fake is a deterministic in-memory Connector for tests: it answers
// ListTables/DescribeTable from a fixed schema and Execute from a table
// of canned results keyed by exact SQL text.
type Fake struct {
	Schema  map[string]TableDef
	Results map[string]Table

	// ExecErr, when set, is returned by Execute for any SQL not present
	// in Results, so tests can simulate a failing statement.
	ExecErr error

	Queries []string // records every SQL string passed to Execute
}

// NewFake builds an empty Fake; populate Schema/Results before use.
func NewFake() *Fake {
	return &Fake{
		Schema:  map[string]TableDef{},
		Results: map[string]Table{},
	}
}

func (f *Fake) Execute(_ context.Context, sql string) (*Table, error) {
	f.Queries = append(f.Queries, sql)
	if t, ok := f.Results[sql]; ok {
		cp := t
		return &cp, nil
	}
	if f.ExecErr != nil {
		return nil, f.ExecErr
	}
	return nil, fmt.Errorf("connector: fake has no canned result for %q", sql)
}

func (f *Fake) ListTables(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(f.Schema))
	for name := range f.Schema {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *Fake) DescribeTable(_ context.Context, table string) (*TableDef, error) {
	def, ok := f.Schema[table]
	if !ok {
		return nil, fmt.Errorf("connector: fake has no table %q", table)
	}
	cp := def
	return &cp, nil
}
