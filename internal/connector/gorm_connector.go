package connector

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"sort"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Driver selects which GORM dialector backs a GormConnector.
type Driver string

const (
	DriverMySQL    Driver = "mysql"
	DriverPostgres Driver = "postgres"
)

// GormConnector is the production Connector, backed by GORM with the
// dialector selected from configuration rather than fixed to one
// database.
type GormConnector struct {
	db *gorm.DB
}

// Open connects to dsn using the given driver and applies pool tuning.
func Open(driver Driver, dsn string, pool PoolConfig) (*GormConnector, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("connector: unsupported driver %q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connector: open %s: %w", driver, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("connector: underlying db handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	return &GormConnector{db: gdb}, nil
}

// isTransient reports whether err looks like a dropped connection or
// checkout timeout rather than a query-shape problem, so the dispatcher
// knows it is safe to retry.
func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *GormConnector) Execute(ctx context.Context, sql string) (*Table, error) {
	rows, err := c.db.WithContext(ctx).Raw(sql).Rows()
	if err != nil {
		if isTransient(err) {
			return nil, fmt.Errorf("connector: execute: %w: %v", ErrTransientConnection, err)
		}
		return nil, fmt.Errorf("connector: execute: %w", err)
	}
	defer rows.Close()

	colNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("connector: read columns: %w", err)
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("connector: read column types: %w", err)
	}

	cols := make([]Column, len(colNames))
	for i, name := range colNames {
		typeName := ""
		if i < len(colTypes) {
			typeName = colTypes[i].DatabaseTypeName()
		}
		cols[i] = Column{Name: name, Type: typeName}
	}

	var out [][]any
	for rows.Next() {
		scanTargets := make([]any, len(cols))
		scanPtrs := make([]any, len(cols))
		for i := range scanTargets {
			scanPtrs[i] = &scanTargets[i]
		}
		if err := rows.Scan(scanPtrs...); err != nil {
			return nil, fmt.Errorf("connector: scan row: %w", err)
		}
		out = append(out, scanTargets)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("connector: row iteration: %w", err)
	}

	return &Table{Columns: cols, Rows: out}, nil
}

func (c *GormConnector) ListTables(ctx context.Context) ([]string, error) {
	names, err := c.db.WithContext(ctx).Migrator().GetTables()
	if err != nil {
		return nil, fmt.Errorf("connector: list tables: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (c *GormConnector) DescribeTable(ctx context.Context, table string) (*TableDef, error) {
	cols, err := c.db.WithContext(ctx).Migrator().ColumnTypes(table)
	if err != nil {
		return nil, fmt.Errorf("connector: describe %s: %w", table, err)
	}

	def := &TableDef{Name: table}
	for _, col := range cols {
		nullable, _ := col.Nullable()
		isKey, _ := col.PrimaryKey()
		def.Columns = append(def.Columns, ColumnDef{
			Name:     col.Name(),
			Type:     col.DatabaseTypeName(),
			Nullable: nullable,
			IsKey:    isKey,
		})
	}
	return def, nil
}
