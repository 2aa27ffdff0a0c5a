package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectFor(t *testing.T) {
	for _, name := range []string{"postgres", "postgresql", "PGX"} {
		d, err := DialectFor(name)
		require.NoError(t, err)
		assert.Equal(t, "postgres", d.Name())
		assert.Equal(t, "pgx", d.DriverName())
	}

	d, err := DialectFor("mysql")
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name())

	_, err = DialectFor("sqlite")
	assert.Error(t, err)
}

func TestPostgresRebind(t *testing.T) {
	q := Postgres{}.Rebind("INSERT INTO t (a, b) VALUES (?, ?), (?, ?)")
	assert.Equal(t, "INSERT INTO t (a, b) VALUES ($1, $2), ($3, $4)", q)
	assert.Equal(t, "SELECT 1", Postgres{}.Rebind("SELECT 1"))
}

func TestMySQLRebindIsIdentity(t *testing.T) {
	q := "SELECT * FROM sync_log WHERE endpoint = ?"
	assert.Equal(t, q, MySQL{}.Rebind(q))
}

func TestUpsertClause(t *testing.T) {
	assert.Equal(t,
		"ON CONFLICT (day) DO UPDATE SET score = EXCLUDED.score, steps = EXCLUDED.steps, updated_at = now()",
		Postgres{}.UpsertClause("day", []string{"score", "steps"}))
	assert.Equal(t,
		"ON DUPLICATE KEY UPDATE score = VALUES(score), updated_at = CURRENT_TIMESTAMP",
		MySQL{}.UpsertClause("day", []string{"score"}))
}

func TestRefreshView(t *testing.T) {
	assert.Equal(t, "REFRESH MATERIALIZED VIEW CONCURRENTLY sleep_primary", Postgres{}.RefreshView("sleep_primary"))
	assert.Empty(t, MySQL{}.RefreshView("sleep_primary"))
}

func TestEmbeddedMigrations(t *testing.T) {
	for _, dir := range []string{"migrations/postgres", "migrations/mysql"} {
		entries, err := fs.ReadDir(migrationsFS, dir)
		require.NoError(t, err)

		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		assert.Contains(t, names, "000001_init.up.sql", dir)
		assert.Contains(t, names, "000001_init.down.sql", dir)

		up, err := fs.ReadFile(migrationsFS, dir+"/000001_init.up.sql")
		require.NoError(t, err)
		for _, table := range []string{"daily_activity", "sleep", "workout", "sync_log", "sync_history"} {
			assert.True(t, strings.Contains(string(up), "CREATE TABLE IF NOT EXISTS "+table+" ("), "%s: %s", dir, table)
		}
		assert.Contains(t, string(up), "sleep_primary")
	}
}
