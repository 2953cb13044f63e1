package am

import (
	"strings"

	"github.com/teranos/dblpix/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.GetDriver() {
	case DriverSQLite:
		// Empty path falls back to dblp.db
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.Wrap(errors.ErrInvalidConfig, "database.dsn is required for the postgres driver")
		}
	default:
		return errors.Wrapf(errors.ErrInvalidConfig, "database.driver must be %q or %q, got %q",
			DriverSQLite, DriverPostgres, c.Database.Driver)
	}

	switch strings.ToLower(c.Ingest.Charset) {
	case "", "auto", "utf-8", "utf8", "iso-8859-1", "latin1":
	default:
		return errors.Wrapf(errors.ErrInvalidConfig, "ingest.charset %q is not supported", c.Ingest.Charset)
	}

	// Batch size: 0 would never seal a batch
	if c.Ingest.BatchSize <= 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "ingest.batch_size must be > 0, got %d", c.Ingest.BatchSize)
	}

	// Sizing knobs: 0 = auto, negative = invalid
	if c.Ingest.Workers < 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "ingest.workers must be >= 0, got %d", c.Ingest.Workers)
	}
	if c.Ingest.QueueDepth < 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "ingest.queue_depth must be >= 0, got %d", c.Ingest.QueueDepth)
	}
	if c.Ingest.DrainEvery < 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "ingest.drain_every must be >= 0, got %d", c.Ingest.DrainEvery)
	}

	// Caps: 0 = unlimited, negative = invalid
	if c.Ingest.MaxRecords < 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "ingest.max_records must be >= 0, got %d", c.Ingest.MaxRecords)
	}
	if c.Ingest.ExpectedEvents < 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "ingest.expected_events must be >= 0, got %d", c.Ingest.ExpectedEvents)
	}
	if c.Ingest.CommitsPerSecond < 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "ingest.commits_per_second must be >= 0, got %f", c.Ingest.CommitsPerSecond)
	}

	return nil
}
