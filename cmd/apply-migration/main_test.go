package main

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSqlStatementsKeepsStatementAfterComment(t *testing.T) {
	content := `-- leading comment
CREATE TABLE a (id TEXT PRIMARY KEY);

-- a comment with a semicolon; it must not split anything
-- second comment line.
CREATE TABLE b (id TEXT PRIMARY KEY);
`
	stmts := sqlStatements(content)
	require.Len(t, stmts, 2)
	require.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE a"))
	require.True(t, strings.HasPrefix(stmts[1], "CREATE TABLE b"))
}

func TestSqlStatementsCoversInitialSchema(t *testing.T) {
	content, err := os.ReadFile("../../migrations/001_init.sql")
	require.NoError(t, err)

	stmts := sqlStatements(string(content))
	require.NotEmpty(t, stmts)
	for _, stmt := range stmts {
		require.True(t, strings.HasPrefix(stmt, "CREATE "),
			"unexpected statement shape: %q", stmt)
	}

	wantTables := []string{
		"tenants", "users", "sensors", "hardware_index", "device_index",
		"readings", "daily_agg", "sensor_configs", "acks", "alerts",
		"ai_recommendations", "tenant_stats",
	}
	wantIndexes := []string{
		"idx_sensors_device_id", "idx_sensors_hardware_id",
		"idx_readings_ts", "idx_readings_purge", "idx_daily_agg_day_start",
	}
	require.Len(t, stmts, len(wantTables)+len(wantIndexes))

	for _, table := range wantTables {
		require.True(t, hasStatement(stmts, "CREATE TABLE IF NOT EXISTS "+table+" "),
			"no CREATE TABLE for %s", table)
	}
	for _, index := range wantIndexes {
		require.True(t, hasStatement(stmts, "CREATE INDEX IF NOT EXISTS "+index+" "),
			"no CREATE INDEX for %s", index)
	}
}

func hasStatement(stmts []string, prefix string) bool {
	for _, stmt := range stmts {
		if strings.HasPrefix(stmt, prefix) {
			return true
		}
	}
	return false
}
