package db

import (
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/teranos/dblpix/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database.
// This typically occurs when an interrupted run closes the database before
// in-flight committers have finished.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is closed.
// Driver errors are matched by message because database/sql returns its own
// unexported error for a closed pool.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// IsConstraintViolation reports whether err is a uniqueness, foreign key,
// not-null or check violation from either supported driver.
func IsConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 23: integrity constraint violation
		return pqErr.Code.Class() == "23"
	}
	return false
}

// IsBusy reports whether err is a lock-contention error that outlived the busy timeout.
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 40: transaction rollback (serialization failure, deadlock)
		return pqErr.Code.Class() == "40"
	}
	return false
}
