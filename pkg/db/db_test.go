package db_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stywzn/vuln-sentinel/internal/config"
	"github.com/stywzn/vuln-sentinel/pkg/db"
)

func TestOpenAndMigrate_SQLite(t *testing.T) {
	gdb, err := db.OpenAndMigrate(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(gdb) })

	for _, table := range []string{"vulnerabilities", "extracted_features", "scan_tasks"} {
		assert.True(t, gdb.Migrator().HasTable(table), table)
	}
	assert.True(t, gdb.Migrator().HasIndex("vulnerabilities", "idx_vulnerabilities_cve_id"))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := db.Open(config.DatabaseConfig{Driver: "oracle", DSN: "x"})
	require.Error(t, err)
}
