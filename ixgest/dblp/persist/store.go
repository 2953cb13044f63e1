// Package persist writes assembled dblp records into SQLite or PostgreSQL.
//
// Every batch is one transaction. Lookup and person rows carry the ids the
// resolver assigned and are inserted idempotently by every batch that
// references them, so the outcome does not depend on which batch commits
// first or whether an earlier batch failed. Each batch writes those rows
// first, once each, in table order then ascending id, so concurrent
// transactions always take row locks in the same order.
package persist

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/dblpix/db"
	"github.com/teranos/dblpix/errors"
	"github.com/teranos/dblpix/ixgest/dblp"
	"github.com/teranos/dblpix/logger"
	"github.com/teranos/dblpix/pulse/async"
)

// Tables lists every table the ingest writes, in dependency order
var Tables = []string{
	"publisher", "school", "series", "person",
	"publication", "author", "editor",
	"electronic_edition", "crossref", "cite", "note", "url", "isbn",
}

// SQLStore implements dblp.Store on a *sql.DB
type SQLStore struct {
	db      *sql.DB
	dialect db.Dialect
	logger  *zap.SugaredLogger
	q       queries
}

type queries struct {
	lookup      map[dblp.LookupKind]string
	person      string
	publication string
	attribution map[dblp.Role]string
	data        map[dblp.DataKind]string
	run         string
}

// NewSQLStore creates a store. The schema must already be migrated.
func NewSQLStore(conn *sql.DB, dialect db.Dialect, log *zap.SugaredLogger) *SQLStore {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SQLStore{
		db:      conn,
		dialect: dialect,
		logger:  logger.AddDBSymbol(log.Named("persist")),
		q:       buildQueries(dialect),
	}
}

func buildQueries(d db.Dialect) queries {
	prefix, suffix := d.InsertIgnore()
	q := queries{
		lookup:      make(map[dblp.LookupKind]string, 3),
		attribution: make(map[dblp.Role]string, 2),
		data:        make(map[dblp.DataKind]string, 6),
	}

	for _, kind := range lookupKinds {
		q.lookup[kind] = d.Rebind(fmt.Sprintf("%s %s (id, name, href) VALUES (?, ?, ?)%s", prefix, kind, suffix))
	}
	q.person = d.Rebind(fmt.Sprintf("%s person (id, full_name, orcid) VALUES (?, ?, ?)%s", prefix, suffix))

	q.publication = d.Rebind(`INSERT INTO publication (
		key, category, publtype, cdate, mdate, title, title_bibtex, booktitle, journal, address,
		year, month, volume, number, chapter, publnr, pages_start, pages_end, cdrom,
		publisher_id, school_id, series_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)

	for _, role := range []dblp.Role{dblp.RoleAuthor, dblp.RoleEditor} {
		q.attribution[role] = d.Rebind(fmt.Sprintf(
			"INSERT INTO %s (publication_id, person_id, position, bibtex, aux) VALUES (?, ?, ?, ?, ?)", role))
	}

	q.data[dblp.DataElectronicEdition] = d.Rebind("INSERT INTO electronic_edition (publication_id, url, type, is_archive, is_oa) VALUES (?, ?, ?, ?, ?)")
	q.data[dblp.DataCrossref] = d.Rebind("INSERT INTO crossref (publication_id, str) VALUES (?, ?)")
	q.data[dblp.DataCite] = d.Rebind("INSERT INTO cite (publication_id, str, label) VALUES (?, ?, ?)")
	q.data[dblp.DataNote] = d.Rebind("INSERT INTO note (publication_id, note, label, type) VALUES (?, ?, ?, ?)")
	q.data[dblp.DataURL] = d.Rebind("INSERT INTO url (publication_id, url, type) VALUES (?, ?, ?)")
	q.data[dblp.DataISBN] = d.Rebind("INSERT INTO isbn (publication_id, isbn, type) VALUES (?, ?, ?)")

	q.run = d.Rebind(`INSERT INTO ingest_runs (
		run_id, input, started_at, finished_at, total, committed, failed, batches, batches_failed, aborted
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	return q
}

// CommitBatch writes every record of the batch in one transaction
func (s *SQLStore) CommitBatch(ctx context.Context, batch *async.Batch[*dblp.LogicalRecord]) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				err = errors.WithSecondaryError(err, rbErr)
			}
		}
	}()

	if err := s.insertIdentities(ctx, tx, batch.Items); err != nil {
		return err
	}
	for _, rec := range batch.Items {
		if err := s.insertRecord(ctx, tx, rec); err != nil {
			return errors.Wrapf(err, "record %s", rec.Key)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	logger.ChildLogger(s.logger, logger.FieldsFromContext(ctx)...).Debugw("Batch written",
		logger.FieldBatchID, batch.ID, "records", len(batch.Items))
	return nil
}

// lookupKinds is the fixed order identity tables are written in
var lookupKinds = []dblp.LookupKind{dblp.LookupPublisher, dblp.LookupSchool, dblp.LookupSeries}

// insertIdentities writes the distinct lookup and person rows the batch
// references: publisher, school, series, then person, each by ascending id.
// PostgreSQL makes ON CONFLICT DO NOTHING wait on a key another open
// transaction inserted, so any other order can deadlock two committers.
func (s *SQLStore) insertIdentities(ctx context.Context, tx *sql.Tx, records []*dblp.LogicalRecord) error {
	lookups := make(map[dblp.LookupKind]map[int64]*dblp.Lookup, len(lookupKinds))
	persons := make(map[int64]*dblp.Person)
	for _, rec := range records {
		for _, l := range rec.Dependencies {
			if lookups[l.Kind] == nil {
				lookups[l.Kind] = make(map[int64]*dblp.Lookup)
			}
			lookups[l.Kind][l.ID] = l
		}
		for _, a := range rec.Attributions {
			persons[a.Person.ID] = a.Person
		}
	}

	for _, kind := range lookupKinds {
		byID := lookups[kind]
		for _, id := range sortedIDs(byID) {
			l := byID[id]
			if _, err := tx.ExecContext(ctx, s.q.lookup[kind], l.ID, l.Name, nullString(l.Href)); err != nil {
				return errors.Wrapf(err, "insert %s %q", kind, l.Name)
			}
		}
	}
	for _, id := range sortedIDs(persons) {
		p := persons[id]
		if _, err := tx.ExecContext(ctx, s.q.person, p.ID, p.FullName, nullString(p.ORCID)); err != nil {
			return errors.Wrapf(err, "insert person %q", p.FullName)
		}
	}
	return nil
}

func sortedIDs[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// insertRecord writes the publication and its dependent rows; the identity
// rows it references are already in place
func (s *SQLStore) insertRecord(ctx context.Context, tx *sql.Tx, rec *dblp.LogicalRecord) error {
	attrs := rec.Attrs
	var pagesStart, pagesEnd interface{}
	if attrs.Pages != nil {
		pagesStart, pagesEnd = attrs.Pages.Start, attrs.Pages.End
	}

	var pubID int64
	err := tx.QueryRowContext(ctx, s.q.publication,
		rec.Key, string(rec.Category),
		nullString(attrs.Publtype), nullString(attrs.CDate), nullString(attrs.MDate),
		nullString(attrs.Title), nullString(attrs.TitleBibtex), nullString(attrs.Booktitle),
		nullString(attrs.Journal), nullString(attrs.Address),
		nullInt(attrs.Year), nullInt(attrs.Month), nullInt(attrs.Volume),
		nullString(attrs.Number), nullInt(attrs.Chapter), nullInt(attrs.Publnr),
		pagesStart, pagesEnd, nullString(attrs.CDROM),
		nullID(rec.LookupID(dblp.LookupPublisher)),
		nullID(rec.LookupID(dblp.LookupSchool)),
		nullID(rec.LookupID(dblp.LookupSeries)),
	).Scan(&pubID)
	if err != nil {
		return errors.Wrap(err, "insert publication")
	}

	for _, a := range rec.Attributions {
		if _, err := tx.ExecContext(ctx, s.q.attribution[a.Role],
			pubID, a.Person.ID, a.Position, nullString(a.Bibtex), nullString(a.Aux)); err != nil {
			return errors.Wrapf(err, "insert %s %d", a.Role, a.Position)
		}
	}

	for _, d := range rec.Data {
		if err := s.insertData(ctx, tx, pubID, d); err != nil {
			return errors.Wrapf(err, "insert %s", d.Kind)
		}
	}
	return nil
}

func (s *SQLStore) insertData(ctx context.Context, tx *sql.Tx, pubID int64, d dblp.GenericData) error {
	query, ok := s.q.data[d.Kind]
	if !ok {
		return errors.AssertionFailedf("no insert for data kind %q", d.Kind)
	}

	var args []interface{}
	switch d.Kind {
	case dblp.DataElectronicEdition:
		args = []interface{}{pubID, d.Value, nullString(d.Type), d.IsArchive, d.IsOA}
	case dblp.DataCrossref:
		args = []interface{}{pubID, d.Value}
	case dblp.DataCite:
		args = []interface{}{pubID, d.Value, nullString(d.Label)}
	case dblp.DataNote:
		args = []interface{}{pubID, d.Value, nullString(d.Label), nullString(d.Type)}
	case dblp.DataURL, dblp.DataISBN:
		args = []interface{}{pubID, d.Value, nullString(d.Type)}
	}

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LoadIdentities seeds ids with the lookup and person rows already stored,
// so a second run into the same database continues their id sequences
func (s *SQLStore) LoadIdentities(ctx context.Context, ids *dblp.IdentityMap) error {
	for _, kind := range lookupKinds {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT id, name FROM %s", kind))
		if err != nil {
			return errors.Wrapf(err, "failed to load %s identities", kind)
		}
		for rows.Next() {
			var id int64
			var name string
			if err := rows.Scan(&id, &name); err != nil {
				rows.Close()
				return errors.Wrapf(err, "failed to scan %s", kind)
			}
			ids.SeedLookup(kind, name, id)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return errors.Wrapf(err, "failed to read %s identities", kind)
		}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, full_name, COALESCE(orcid, '') FROM person")
	if err != nil {
		return errors.Wrap(err, "failed to load person identities")
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var name, orcid string
		if err := rows.Scan(&id, &name, &orcid); err != nil {
			return errors.Wrap(err, "failed to scan person")
		}
		ids.SeedPerson(name, orcid, id)
	}
	return errors.Wrap(rows.Err(), "failed to read person identities")
}

// RecordRun stores the run summary in ingest_runs
func (s *SQLStore) RecordRun(ctx context.Context, sum *dblp.Summary) error {
	_, err := s.db.ExecContext(ctx, s.q.run,
		sum.RunID, sum.Input, sum.StartTime.UTC(), sum.EndTime.UTC(),
		sum.Total, sum.Committed, sum.Failed, sum.Batches, sum.BatchesFailed,
		nullString(sum.Aborted),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record run %s", sum.RunID)
	}
	s.logger.Debugw("Run recorded", logger.FieldRunID, sum.RunID)
	return nil
}

// Run is one row of ingest_runs
type Run struct {
	RunID         string    `json:"run_id"`
	Input         string    `json:"input"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Total         int64     `json:"total"`
	Committed     int64     `json:"committed"`
	Failed        int64     `json:"failed"`
	Batches       int64     `json:"batches"`
	BatchesFailed int64     `json:"batches_failed"`
	Aborted       string    `json:"aborted,omitempty"`
}

// RecentRuns returns up to limit runs, newest first
func (s *SQLStore) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`SELECT
		run_id, input, started_at, finished_at, total, committed, failed, batches, batches_failed, COALESCE(aborted, '')
		FROM ingest_runs ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query ingest runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.Input, &r.StartedAt, &r.FinishedAt,
			&r.Total, &r.Committed, &r.Failed, &r.Batches, &r.BatchesFailed, &r.Aborted); err != nil {
			return nil, errors.Wrap(err, "failed to scan ingest run")
		}
		runs = append(runs, r)
	}
	return runs, errors.Wrap(rows.Err(), "failed to read ingest runs")
}

// TableCounts returns the row count of every ingest table
func (s *SQLStore) TableCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(Tables))
	for _, table := range Tables {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, errors.Wrapf(err, "failed to count %s", table)
		}
		counts[table] = n
	}
	return counts, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n *int) interface{} {
	if n == nil {
		return nil
	}
	return *n
}

func nullID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
