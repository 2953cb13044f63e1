package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "dblp.db")
	v.SetDefault("database.dsn", "")

	// Ingest defaults
	v.SetDefault("ingest.input", "dblp.xml")
	v.SetDefault("ingest.charset", "auto")
	v.SetDefault("ingest.expected_events", DefaultExpectedEvents)
	v.SetDefault("ingest.batch_size", DefaultBatchSize)
	v.SetDefault("ingest.workers", 0)     // auto: CPU count
	v.SetDefault("ingest.queue_depth", 0) // auto: 2×workers
	v.SetDefault("ingest.drain_every", 0) // auto: 4×workers
	v.SetDefault("ingest.max_records", 0)
	v.SetDefault("ingest.permissive", false)
	v.SetDefault("ingest.quarantine_path", "")
	v.SetDefault("ingest.commits_per_second", 0.0)

	v.SetDefault("metrics.listen", "")
}

// BindSensitiveEnvVars explicitly binds connection settings to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("database.dsn", "DBLPIX_DATABASE_DSN", "DATABASE_URL")
	_ = v.BindEnv("database.path", "DBLPIX_DATABASE_PATH")
}

// GetDatabasePath returns the configured SQLite path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "dblp.db"
	}
	return c.Database.Path
}

// GetDriver returns the configured driver, defaulting to SQLite
func (c *Config) GetDriver() string {
	if c.Database.Driver == "" {
		return DriverSQLite
	}
	return c.Database.Driver
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: {Driver: %s, Path: %s}, Ingest: {BatchSize: %d, Workers: %d, QueueDepth: %d}}",
		c.GetDriver(), c.Database.Path, c.Ingest.BatchSize, c.Ingest.Workers, c.Ingest.QueueDepth)
}
