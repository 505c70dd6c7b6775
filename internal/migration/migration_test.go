package migration

import (
	"io/fs"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

func TestRunAutoMigratesOutsidePostgres(t *testing.T) {
	conn := openTestDB(t)

	require.NoError(t, Run(conn))
	// a second run is a no-op
	require.NoError(t, Run(conn))

	for _, table := range []string{
		"clients",
		"products",
		"invoices",
		"invoice_line_items",
		"invoice_delivery_receipts",
		"invoice_counters",
		"audit_logs",
	} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
	assert.True(t, conn.Migrator().HasIndex("invoices", "ux_invoices_scope_number"))
}

func TestRollbackRequiresPostgres(t *testing.T) {
	conn := openTestDB(t)

	err := Rollback(conn, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only supported on postgres")

	assert.Error(t, Rollback(conn, 0))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	source, err := iofs.New(sub, ".")
	require.NoError(t, err)
	defer source.Close()

	version, err := source.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	up, _, err := source.ReadUp(version)
	require.NoError(t, err)
	_ = up.Close()
	down, _, err := source.ReadDown(version)
	require.NoError(t, err)
	_ = down.Close()
}
