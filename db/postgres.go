package db

import (
	"database/sql"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/teranos/dblpix/errors"
	"github.com/teranos/dblpix/sym"
)

// OpenPostgres opens a PostgreSQL connection pool and verifies it with a ping.
// maxConns bounds the pool so that committers, not the driver, limit concurrency.
func OpenPostgres(dsn string, maxConns int, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres")
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.WithHint(errors.Wrap(err, "failed to reach postgres"),
			"check database.dsn or DBLPIX_DATABASE_DSN")
	}

	if logger != nil {
		logger.Infow("Database opened successfully", "driver", "postgres", "symbol", sym.DB, "max_conns", maxConns)
	}
	return db, nil
}

// OpenStore opens the database for driver and migrates it.
// path is used for sqlite3, dsn for postgres.
func OpenStore(driver, path, dsn string, maxConns int, logger *zap.SugaredLogger) (*sql.DB, Dialect, error) {
	switch driver {
	case "", string(SQLite):
		db, err := OpenWithMigrations(path, logger)
		return db, SQLite, err
	case string(Postgres):
		db, err := OpenPostgres(dsn, maxConns, logger)
		if err != nil {
			return nil, Postgres, err
		}
		if err := Migrate(db, Postgres, logger); err != nil {
			db.Close()
			return nil, Postgres, errors.Wrap(err, "migrate postgres")
		}
		return db, Postgres, nil
	}
	return nil, "", errors.Newf("unsupported database driver %q", driver)
}
