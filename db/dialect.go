package db

import (
	"strconv"
	"strings"
)

// Dialect names the SQL flavour a *sql.DB speaks. Values match database/sql driver names.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// Rebind rewrites ? placeholders into the dialect's bind syntax.
// Queries are written once with ? and rebound for PostgreSQL ($1, $2, …).
// Placeholders inside quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// InsertIgnore returns the statement prefix and suffix that make an insert a
// no-op when the row already exists.
func (d Dialect) InsertIgnore() (prefix, suffix string) {
	if d == Postgres {
		return "INSERT INTO", " ON CONFLICT DO NOTHING"
	}
	return "INSERT OR IGNORE INTO", ""
}

func (d Dialect) migrationsDir() string {
	if d == Postgres {
		return "postgres/migrations"
	}
	return "sqlite/migrations"
}
