package db

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/dblpix/errors"
)

func TestOpenWithMigrations(t *testing.T) {
	t.Run("creates the bibliography schema", func(t *testing.T) {
		db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		for _, table := range []string{
			"schema_migrations", "publication", "publisher", "school", "series", "person",
			"author", "editor", "electronic_edition", "crossref", "cite", "note", "url", "isbn",
			"ingest_runs",
		} {
			var n int
			err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
			require.NoError(t, err)
			assert.Equal(t, 1, n, "table %s should exist", table)
		}
	})

	t.Run("open errors include stack traces", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "test.db")

		first, err := Open(dbPath, nil)
		require.NoError(t, err)
		first.Close()

		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		// Read-only directory makes WAL setup fail
		require.NoError(t, os.Chmod(tmpDir, 0555))
		defer os.Chmod(tmpDir, 0755)

		db, err := OpenWithMigrations(dbPath, nil)
		require.Error(t, err)
		assert.Nil(t, db)
		assert.NotNil(t, errors.GetStack(err))
		assert.Contains(t, fmt.Sprintf("%+v", err), "connection.go")
	})
}

func TestMigrate(t *testing.T) {
	t.Run("is idempotent", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, SQLite, nil))
		require.NoError(t, Migrate(db, SQLite, nil), "running migrations multiple times should be safe")

		var count int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
		assert.Equal(t, 3, count)
	})

	t.Run("fails on a closed database", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		db.Close()

		assert.Error(t, Migrate(db, SQLite, nil))
	})

	t.Run("postgres migrations are embedded", func(t *testing.T) {
		entries, err := migrations.ReadDir(Postgres.migrationsDir())
		require.NoError(t, err)
		assert.Len(t, entries, 3)
	})
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE a = ? AND b = ?", SQLite.Rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", Postgres.Rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
	assert.Equal(t, "SELECT '?' FROM t WHERE a = $1", Postgres.Rebind("SELECT '?' FROM t WHERE a = ?"))

	prefix, suffix := Postgres.InsertIgnore()
	assert.Equal(t, "INSERT INTO", prefix)
	assert.Equal(t, " ON CONFLICT DO NOTHING", suffix)
	prefix, suffix = SQLite.InsertIgnore()
	assert.Equal(t, "INSERT OR IGNORE INTO", prefix)
	assert.Empty(t, suffix)
}
