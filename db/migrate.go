package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/dblpix/errors"
	"github.com/teranos/dblpix/sym"
)

//go:embed sqlite/migrations/*.sql postgres/migrations/*.sql
var migrations embed.FS

// migration is one embedded schema file, identified by its numeric prefix
type migration struct {
	version string
	file    string
}

// Migrate brings the schema for dialect up to date. Each file runs in its own
// transaction together with its schema_migrations row, so a failed file leaves
// earlier ones applied and can be retried. logger may be nil.
func Migrate(conn *sql.DB, dialect Dialect, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	all, err := embeddedMigrations(dialect)
	if err != nil {
		return err
	}
	done, err := appliedVersions(conn)
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range all {
		if done[m.version] {
			logger.Debugw("Skipping migration (already applied)", "migration", m.file)
			continue
		}
		// Only 000 may run before schema_migrations exists
		if len(done) == 0 && applied == 0 && m.version != "000" {
			return errors.Newf("schema_migrations missing and first pending migration is %s", m.file)
		}

		logger.Infow("Applying migration", "migration", m.file, "dialect", string(dialect))
		if err := applyMigration(conn, dialect, m); err != nil {
			return err
		}
		applied++
	}

	logger.Infow("Migrations complete",
		"symbol", sym.DB,
		"total_migrations", len(all),
		"applied", applied,
	)
	return nil
}

func embeddedMigrations(dialect Dialect) ([]migration, error) {
	dir := dialect.migrationsDir()
	entries, err := migrations.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s migrations", dialect)
	}

	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		out = append(out, migration{
			version: strings.SplitN(name, "_", 2)[0],
			file:    path.Join(dir, name),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// appliedVersions returns the recorded versions; an empty set when the
// bookkeeping table does not exist yet.
func appliedVersions(conn *sql.DB) (map[string]bool, error) {
	done := make(map[string]bool)
	rows, err := conn.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return done, nil
	}
	defer rows.Close()

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan schema_migrations")
		}
		done[v] = true
	}
	return done, errors.Wrap(rows.Err(), "read schema_migrations")
}

func applyMigration(conn *sql.DB, dialect Dialect, m migration) (err error) {
	body, err := migrations.ReadFile(m.file)
	if err != nil {
		return errors.Wrapf(err, "read %s", m.file)
	}

	tx, err := conn.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin tx for %s", m.file)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(string(body)); err != nil {
		return errors.Wrapf(err, "execute %s", m.file)
	}
	if _, err = tx.Exec(dialect.Rebind("INSERT INTO schema_migrations (version) VALUES (?)"), m.version); err != nil {
		return errors.Wrapf(err, "record %s", m.file)
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrapf(err, "commit %s", m.file)
	}
	return nil
}
