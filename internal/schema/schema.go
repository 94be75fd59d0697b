// Package schema implements the Schema Catalog: a cached,
// deterministically-rendered view of the connected database's tables,
// refreshed on a monotone version counter so readers never see a
// partially-updated snapshot.
package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nl2sql/queryengine/internal/cache"
	"github.com/nl2sql/queryengine/internal/connector"
)

// snapshot is the atomically-swapped view readers see; Refresh builds a
// new one and swaps it in under the write lock, so Tables/DDL calls
// never block on introspection.
type snapshot struct {
	version int64
	tables  map[string]connector.TableDef
	ddl     map[string]string
	names   []string
}

// Catalog introspects the connected database once, renders and caches
// the DDL, and serves it until a refresh replaces it.
type Catalog struct {
	conn  connector.Connector
	store cache.Store
	ttl   time.Duration

	mu  sync.RWMutex
	cur *snapshot
}

// New builds a Catalog over conn, caching rendered DDL in store under
// the schema namespace with the given TTL (1h is a typical default).
func New(conn connector.Connector, store cache.Store, ttl time.Duration) *Catalog {
	return &Catalog{
		conn:  conn,
		store: store,
		ttl:   ttl,
		cur:   &snapshot{tables: map[string]connector.TableDef{}, ddl: map[string]string{}},
	}
}

// Version returns the monotone counter of the currently served snapshot.
func (c *Catalog) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur.version
}

// Tables returns the names of tables currently known to the catalog, in
// stable case-insensitive alphabetical order.
func (c *Catalog) Tables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.cur.names))
	copy(out, c.cur.names)
	return out
}

// DDL returns the deterministic CREATE TABLE rendering for table, or
// ("", false) if the table is not in the current snapshot.
func (c *Catalog) DDL(table string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.cur.ddl[table]
	return d, ok
}

// FullDDL concatenates every table's DDL in alphabetical order, the form
// the SQL agent's prompt-construction stage embeds directly.
func (c *Catalog) FullDDL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	parts := make([]string, len(c.cur.names))
	for i, name := range c.cur.names {
		parts[i] = c.cur.ddl[name]
	}
	return strings.Join(parts, "\n\n")
}

// Refresh re-introspects the connector and atomically swaps in a new
// snapshot. It is idempotent: introspecting an unchanged database twice
// produces byte-equal DDL both times.
func (c *Catalog) Refresh(ctx context.Context) error {
	tableNames, err := c.conn.ListTables(ctx)
	if err != nil {
		return fmt.Errorf("schema: list tables: %w", err)
	}
	sort.Slice(tableNames, func(i, j int) bool {
		a, b := strings.ToLower(tableNames[i]), strings.ToLower(tableNames[j])
		if a != b {
			return a < b
		}
		return tableNames[i] < tableNames[j]
	})

	next := &snapshot{
		tables: make(map[string]connector.TableDef, len(tableNames)),
		ddl:    make(map[string]string, len(tableNames)),
		names:  tableNames,
	}

	for _, name := range tableNames {
		def, err := c.conn.DescribeTable(ctx, name)
		if err != nil {
			return fmt.Errorf("schema: describe %s: %w", name, err)
		}
		next.tables[name] = *def
		ddl := RenderDDL(*def)
		next.ddl[name] = ddl

		if c.store != nil {
			if err := c.store.Put(ctx, cache.NamespaceSchema, cache.SchemaKey(name), []byte(ddl), c.ttl); err != nil {
				return fmt.Errorf("schema: cache put %s: %w", name, err)
			}
		}
	}

	c.mu.Lock()
	next.version = c.cur.version + 1
	c.cur = next
	c.mu.Unlock()
	return nil
}

// RenderDDL produces a deterministic CREATE TABLE statement from a
// TableDef: columns in their introspected order, types uppercased,
// nullability and key markers appended. Determinism matters because the
// rendering feeds directly into LM prompts and cache keys.
func RenderDDL(def connector.TableDef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", def.Name)
	for i, col := range def.Columns {
		fmt.Fprintf(&b, "  %s %s", col.Name, strings.ToUpper(col.Type))
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
		if col.IsKey {
			b.WriteString(" PRIMARY KEY")
		}
		if i < len(def.Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String()
}
