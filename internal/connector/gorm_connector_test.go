package connector

import (
	"context"
	"testing"

	"github.com/go-gormigrate/gormigrate/v2"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type widget struct {
	ID   int64 `gorm:"primaryKey"`
	Name string
}

func openTestGormConnector(t *testing.T) *GormConnector {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "001_widgets",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&widget{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("widgets")
			},
		},
	})
	require.NoError(t, m.Migrate())
	require.NoError(t, db.Create(&widget{ID: 1, Name: "sprocket"}).Error)

	return &GormConnector{db: db}
}

func TestGormConnector_ListTablesIncludesMigratedTable(t *testing.T) {
	c := openTestGormConnector(t)
	names, err := c.ListTables(context.Background())
	require.NoError(t, err)
	require.Contains(t, names, "widgets")
}

func TestGormConnector_DescribeTableReportsColumns(t *testing.T) {
	c := openTestGormConnector(t)
	def, err := c.DescribeTable(context.Background(), "widgets")
	require.NoError(t, err)
	require.Equal(t, "widgets", def.Name)

	var names []string
	for _, col := range def.Columns {
		names = append(names, col.Name)
	}
	require.Contains(t, names, "id")
	require.Contains(t, names, "name")
}

func TestGormConnector_ExecuteRunsReadOnlyQuery(t *testing.T) {
	c := openTestGormConnector(t)
	table, err := c.Execute(context.Background(), "SELECT id, name FROM widgets WHERE id = 1")
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	require.Equal(t, "sprocket", table.Rows[0][1])
}

func TestGormConnector_ExecuteSyntaxErrorIsNotTransient(t *testing.T) {
	c := openTestGormConnector(t)
	_, err := c.Execute(context.Background(), "SELEKT * FROM widgets")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTransientConnection)
}
