package am

// Config represents the dblpix configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// Supported database drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects the store records are committed to
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite3 (default) or postgres
	Path   string `mapstructure:"path"`   // SQLite file path
	DSN    string `mapstructure:"dsn"`    // PostgreSQL connection string
}

// IngestConfig configures the parse/assemble/commit run.
// Zero means "auto" for the sizing knobs and "unlimited" for the caps.
type IngestConfig struct {
	Input          string `mapstructure:"input"`           // dblp.xml or dblp.xml.gz
	Charset        string `mapstructure:"charset"`         // auto, utf-8 or iso-8859-1
	ExpectedEvents int64  `mapstructure:"expected_events"` // progress bar size; 0 hides the bar

	BatchSize  int `mapstructure:"batch_size"`  // records per commit batch
	Workers    int `mapstructure:"workers"`     // committer goroutines (0 = CPU count)
	QueueDepth int `mapstructure:"queue_depth"` // in-flight batch handles (0 = 2×workers)
	DrainEvery int `mapstructure:"drain_every"` // records between drains (0 = 4×workers)

	MaxRecords       int     `mapstructure:"max_records"`        // stop after N records (0 = whole stream)
	Permissive       bool    `mapstructure:"permissive"`         // quarantine records with unknown tags instead of aborting
	QuarantinePath   string  `mapstructure:"quarantine_path"`    // JSONL dump of failed records ("" = memory only)
	CommitsPerSecond float64 `mapstructure:"commits_per_second"` // batch commit throttle (0 = unlimited)
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // e.g. ":9464"; empty disables the endpoint
}

// Ingest defaults
const (
	DefaultBatchSize = 64
	// Node count of the 2020 dblp.xml release, used to size progress output
	DefaultExpectedEvents int64 = 248393285
)

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
