// Package connector is the read-only SQL execution boundary: it runs
// synthesized SQL against the target database and exposes schema
// introspection for the Schema Catalog. It is the one component a
// deployment swaps per backend (MySQL, Postgres, or a fake for tests).
package connector

import (
	"context"
	"errors"
	"time"
)

// ErrTransientConnection marks a connector failure the dispatcher
// should retry (a dropped connection, a pool checkout timeout) rather
// than surface as terminal on the first attempt.
var ErrTransientConnection = errors.New("connector: transient connection error")

// Column describes one column of a query result or table definition.
type Column struct {
	Name string
	Type string
}

// Table is a flat, driver-agnostic query result: column order is
// significant and rows are positional, matching the shape the agent
// pipeline formats into an NL summary.
type Table struct {
	Columns []Column
	Rows    [][]any
}

// TableDef is a schema snapshot for one table, rendered by the Schema
// Catalog into deterministic DDL text.
type TableDef struct {
	Name    string
	Columns []ColumnDef
}

// ColumnDef describes one column's introspected type and nullability.
type ColumnDef struct {
	Name     string
	Type     string
	Nullable bool
	IsKey    bool
}

// Connector is the execution/introspection contract every pipeline
// stage and the Schema Catalog depend on through this interface, never
// a concrete driver, so tests can substitute a Fake.
type Connector interface {
	// Execute runs sql and returns its result set. Implementations must
	// apply the configured statement timeout themselves via ctx.
	Execute(ctx context.Context, sql string) (*Table, error)

	// ListTables returns the names of tables visible to the configured
	// connection, in stable (typically alphabetical) order.
	ListTables(ctx context.Context) ([]string, error)

	// DescribeTable introspects a single table's column definitions.
	DescribeTable(ctx context.Context, table string) (*TableDef, error)
}

// PoolConfig mirrors the pool knobs a connection pool typically exposes
// (max open, max idle, idle timeout, max lifetime), translated onto
// Go's database/sql pool, which GORM exposes via sql.DB.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig returns conservative defaults for a single-instance
// deployment (5 base connections, 10 overflow, 30s idle timeout, 1h
// max lifetime).
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    15, // pool_size + max_overflow
		MaxIdleConns:    5,  // pool_size
		ConnMaxIdleTime: 30 * time.Second,
		ConnMaxLifetime: time.Hour,
	}
}
