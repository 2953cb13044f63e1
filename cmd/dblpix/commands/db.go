package commands

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/dblpix/am"
	"github.com/teranos/dblpix/db"
	"github.com/teranos/dblpix/display"
	"github.com/teranos/dblpix/errors"
	"github.com/teranos/dblpix/ixgest/dblp/persist"
	"github.com/teranos/dblpix/logger"
	"github.com/teranos/dblpix/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the bibliography database",
	Long: sym.DB + ` db — Manage the bibliography database

Examples:
  dblpix db stats                   # Row counts and the last ingest runs
  dblpix db stats --limit 5         # Only the last 5 runs
  dblpix db migrate                 # Create or upgrade the schema`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show row counts and recent ingest runs",
	RunE:  runDbStats,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the schema",
	RunE:  runDbMigrate,
}

var statsLimitFlag int

func init() {
	DbCmd.PersistentFlags().String("driver", "", "Database driver: sqlite3 or postgres")
	DbCmd.PersistentFlags().String("db", "", "SQLite database path")
	DbCmd.PersistentFlags().String("dsn", "", "PostgreSQL connection string")
	dbStatsCmd.Flags().IntVar(&statsLimitFlag, "limit", 10, "Number of recent runs to show")

	DbCmd.AddCommand(dbStatsCmd)
	DbCmd.AddCommand(dbMigrateCmd)
}

// openDatabase loads configuration, applies connection flags and opens the
// migrated store
func openDatabase(cmd *cobra.Command) (*sql.DB, db.Dialect, *am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, "", nil, errors.Wrap(err, "failed to load configuration")
	}
	for flag, dst := range map[string]*string{
		"driver": &cfg.Database.Driver,
		"db":     &cfg.Database.Path,
		"dsn":    &cfg.Database.DSN,
	} {
		if cmd.Flags().Changed(flag) {
			*dst, _ = cmd.Flags().GetString(flag)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", nil, err
	}

	conn, dialect, err := db.OpenStore(cfg.GetDriver(), cfg.GetDatabasePath(), cfg.Database.DSN, 2, logger.Logger)
	if err != nil {
		return nil, "", nil, errors.Wrap(err, "failed to open database")
	}
	return conn, dialect, cfg, nil
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	conn, dialect, cfg, err := openDatabase(cmd)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.DBInfow("Schema ready", logger.FieldDriver, dialect)
	pterm.Success.Printf("%s schema is up to date (%s)\n", describeStore(cfg), dialect)
	return nil
}

type dbStats struct {
	Database string           `json:"database"`
	Driver   db.Dialect       `json:"driver"`
	Tables   map[string]int64 `json:"tables"`
	Runs     []persist.Run    `json:"runs"`
}

func runDbStats(cmd *cobra.Command, args []string) error {
	conn, dialect, cfg, err := openDatabase(cmd)
	if err != nil {
		return err
	}
	defer conn.Close()

	store := persist.NewSQLStore(conn, dialect, logger.Logger)
	ctx := cmd.Context()

	counts, err := store.TableCounts(ctx)
	if err != nil {
		return err
	}
	runs, err := store.RecentRuns(ctx, statsLimitFlag)
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(dbStats{Database: describeStore(cfg), Driver: dialect, Tables: counts, Runs: runs})
	}

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database: %s (%s)\n\n", describeStore(cfg), dialect)

	tables := pterm.TableData{{"Table", "Rows"}}
	for _, table := range persist.Tables {
		tables = append(tables, []string{table, strconv.FormatInt(counts[table], 10)})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(tables).Render()
	fmt.Println()

	if len(runs) == 0 {
		fmt.Println("No ingest runs recorded yet")
		return nil
	}

	fmt.Printf("Recent ingest runs (last %d):\n", statsLimitFlag)
	history := pterm.TableData{{"Started", "Input", "Total", "Committed", "Failed", "Batches", "Elapsed", "Status"}}
	for _, r := range runs {
		status := "ok"
		if r.Aborted != "" {
			status = "aborted"
		}
		history = append(history, []string{
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Input,
			strconv.FormatInt(r.Total, 10),
			strconv.FormatInt(r.Committed, 10),
			strconv.FormatInt(r.Failed, 10),
			fmt.Sprintf("%d (%d failed)", r.Batches, r.BatchesFailed),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String(),
			status,
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(history).Render()
	return nil
}
