package commands

import (
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/dblpix/am"
	"github.com/teranos/dblpix/db"
	"github.com/teranos/dblpix/display"
	"github.com/teranos/dblpix/errors"
	"github.com/teranos/dblpix/ixgest/dblp"
	"github.com/teranos/dblpix/ixgest/dblp/persist"
	"github.com/teranos/dblpix/logger"
	"github.com/teranos/dblpix/pulse"
	"github.com/teranos/dblpix/pulse/async"
	"github.com/teranos/dblpix/sym"
)

// IxCmd groups ingestion commands
var IxCmd = &cobra.Command{
	Use:   "ix",
	Short: sym.IX + " Ingest external data",
	Long: sym.IX + ` ix — Ingest external data

Examples:
  dblpix ix dblp dblp.xml.gz                     # Full ingest into the configured database
  dblpix ix dblp dblp.xml --workers 8 --batch-size 256
  dblpix ix dblp dblp.xml --permissive --quarantine failed.jsonl
  dblpix ix quarantine failed.jsonl              # Inspect failed records`,
}

var ixDBLPCmd = &cobra.Command{
	Use:   "dblp [dblp.xml]",
	Short: "Stream dblp.xml into the database",
	Long: `Stream dblp.xml (or dblp.xml.gz) into the configured database.

Each top-level element (article, inproceedings, book, …) becomes one
publication row with its authors, editors and links. Publishers, schools,
series and persons are deduplicated by name across the whole run and across
earlier runs into the same database.

Records that cannot be assembled or whose batch fails to commit are
quarantined and counted in the summary; the run continues. Overlapping
records abort the run. Unknown child elements abort unless --permissive.

Flags override the [ingest] and [database] sections of am.toml.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIxDBLP,
}

var ixQuarantineCmd = &cobra.Command{
	Use:   "quarantine <failed.jsonl>",
	Short: "Summarise a quarantine file",
	Args:  cobra.ExactArgs(1),
	RunE:  runIxQuarantine,
}

func init() {
	f := ixDBLPCmd.Flags()
	f.String("driver", "", "Database driver: sqlite3 or postgres")
	f.String("db", "", "SQLite database path")
	f.String("dsn", "", "PostgreSQL connection string")
	f.String("charset", "", "Input charset: auto, utf-8 or iso-8859-1")
	f.Int("batch-size", 0, "Records per commit batch")
	f.Int("workers", 0, "Concurrent committers (0 = auto)")
	f.Int("queue-depth", 0, "Batches in flight before the parser waits (0 = 2×workers)")
	f.Int("drain-every", 0, "Records between non-blocking drains (0 = 4×workers)")
	f.Int("max-records", 0, "Stop after this many records (0 = whole file)")
	f.Int64("expected-events", 0, "Parser events in the input, for the progress bar")
	f.Float64("commits-per-second", 0, "Throttle batch commits (0 = unlimited)")
	f.Bool("permissive", false, "Quarantine records with unknown elements instead of aborting")
	f.String("quarantine", "", "Append failed records to this JSON lines file")
	f.Bool("dry-run", false, "Parse and resolve without writing to the database")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9464")

	IxCmd.AddCommand(ixDBLPCmd)
	IxCmd.AddCommand(ixQuarantineCmd)
}

// applyIngestFlags overlays explicitly set flags on the loaded configuration
func applyIngestFlags(cmd *cobra.Command, cfg *am.Config) {
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}

	str("driver", &cfg.Database.Driver)
	str("db", &cfg.Database.Path)
	str("dsn", &cfg.Database.DSN)
	str("charset", &cfg.Ingest.Charset)
	str("quarantine", &cfg.Ingest.QuarantinePath)
	str("metrics-addr", &cfg.Metrics.Listen)
	num("batch-size", &cfg.Ingest.BatchSize)
	num("workers", &cfg.Ingest.Workers)
	num("queue-depth", &cfg.Ingest.QueueDepth)
	num("drain-every", &cfg.Ingest.DrainEvery)
	num("max-records", &cfg.Ingest.MaxRecords)
	if f.Changed("expected-events") {
		cfg.Ingest.ExpectedEvents, _ = f.GetInt64("expected-events")
	}
	if f.Changed("commits-per-second") {
		cfg.Ingest.CommitsPerSecond, _ = f.GetFloat64("commits-per-second")
	}
	if f.Changed("permissive") {
		cfg.Ingest.Permissive, _ = f.GetBool("permissive")
	}
}

func pipelineConfig(cfg *am.Config) async.PipelineConfig {
	return async.PipelineConfig{
		BatchSize:        cfg.Ingest.BatchSize,
		Workers:          cfg.Ingest.Workers,
		QueueDepth:       cfg.Ingest.QueueDepth,
		DrainEvery:       cfg.Ingest.DrainEvery,
		CommitsPerSecond: cfg.Ingest.CommitsPerSecond,
	}.WithDefaults()
}

func runIxDBLP(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	applyIngestFlags(cmd, cfg)
	if len(args) == 1 {
		cfg.Ingest.Input = args[0]
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	verbosity, _ := cmd.Flags().GetCount("verbose")
	useJSON := display.ShouldOutputJSON(cmd)
	log := logger.ComponentLogger("ix")

	var progress pulse.ProgressEmitter = display.NewCLIEmitter(verbosity)
	if useJSON {
		progress = display.NewJSONEmitter()
	} else {
		pterm.DefaultHeader.WithFullWidth().Printf("%s dblp ingest", sym.IX)
		pterm.Println()
		if dryRun {
			pterm.Warning.Println("DRY RUN MODE: nothing will be written")
		}
		pterm.Info.Printf("Input: %s\n", cfg.Ingest.Input)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Listen != "" {
		shutdown := serveMetrics(cfg.Metrics.Listen, logger.ComponentLogger("metrics"))
		defer shutdown()
	}

	pipe := pipelineConfig(cfg)
	if verbosity > 0 && !useJSON {
		m := async.GetSystemMetrics()
		pterm.Info.Printf("Host: %d CPUs, %.1f of %.1f GB in use; %d workers, %d records per batch, %d batches in flight\n",
			m.LogicalCPUs, m.MemoryUsedGB, m.MemoryTotalGB, pipe.Workers, pipe.BatchSize, pipe.QueueDepth)
	}
	var store dblp.Store = dblp.DiscardStore{}
	if !dryRun {
		// One connection per committer plus one for identity loading and the run row
		conn, dialect, err := db.OpenStore(cfg.GetDriver(), cfg.GetDatabasePath(), cfg.Database.DSN, pipe.Workers+1, log)
		if err != nil {
			return errors.Wrap(err, "failed to open database")
		}
		defer conn.Close()
		store = persist.NewSQLStore(conn, dialect, log)
		if !useJSON {
			pterm.Info.Printf("Database: %s (%s)\n", describeStore(cfg), dialect)
		}
	}

	src, err := dblp.OpenXMLFile(cfg.Ingest.Input, dblp.XMLOptions{Charset: cfg.Ingest.Charset})
	if err != nil {
		return err
	}
	defer src.Close()

	opts := dblp.Options{
		Input:          cfg.Ingest.Input,
		ExpectedEvents: cfg.Ingest.ExpectedEvents,
		QuarantinePath: cfg.Ingest.QuarantinePath,
		Assembler: dblp.AssemblerOptions{
			Permissive: cfg.Ingest.Permissive,
			MaxRecords: cfg.Ingest.MaxRecords,
		},
		Pipeline: pipe,
	}
	summary, runErr := dblp.NewProcessor(store, opts, progress, log).Run(ctx, src)

	if useJSON {
		if err := display.OutputJSON(summary); err != nil {
			return err
		}
		return runErr
	}
	renderSummary(summary, cfg.Ingest.QuarantinePath)
	return runErr
}

func describeStore(cfg *am.Config) string {
	if cfg.GetDriver() == am.DriverPostgres {
		return "postgres"
	}
	return cfg.GetDatabasePath()
}

func renderSummary(s *dblp.Summary, quarantinePath string) {
	pterm.Println()
	data := pterm.TableData{
		{"Records", "Committed", "Failed", "Batches", "Failed batches", "Persons", "Elapsed"},
		{
			strconv.FormatInt(s.Total, 10),
			strconv.FormatInt(s.Committed, 10),
			strconv.FormatInt(s.Failed, 10),
			strconv.FormatInt(s.Batches, 10),
			strconv.FormatInt(s.BatchesFailed, 10),
			strconv.Itoa(s.Persons),
			s.Elapsed.Round(time.Millisecond).String(),
		},
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()

	if s.Failed > 0 {
		shown := s.FailedKeys
		if len(shown) > 10 {
			shown = shown[:10]
		}
		pterm.Warning.Printf("%d records quarantined, e.g. %v\n", s.Failed, shown)
		if quarantinePath != "" {
			pterm.Info.Printf("Details: dblpix ix quarantine %s\n", quarantinePath)
		}
	}
	if !s.Success() {
		pterm.Error.Printf("Run aborted: %s\n", s.Aborted)
	}
}

func runIxQuarantine(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", args[0])
	}
	defer f.Close()

	failures, err := dblp.ReadQuarantine(f)
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(failures)
	}

	type group struct {
		run   string
		stage dblp.Stage
	}
	counts := make(map[group]int)
	for _, fl := range failures {
		counts[group{fl.RunID, fl.Stage}]++
	}
	groups := make([]group, 0, len(counts))
	for g := range counts {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].run != groups[j].run {
			return groups[i].run < groups[j].run
		}
		return groups[i].stage < groups[j].stage
	})

	data := pterm.TableData{{"Run", "Stage", "Records"}}
	for _, g := range groups {
		data = append(data, []string{g.run, string(g.stage), strconv.Itoa(counts[g])})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()

	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity > 0 {
		for _, fl := range failures {
			pterm.Printf("  %s %-12s %s: %s\n", fl.At.Format(time.RFC3339), fl.Stage, fl.Key, fl.Error)
		}
	}
	return nil
}
