package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/dblpix/cmd/dblpix/commands"
	"github.com/teranos/dblpix/errors"
	"github.com/teranos/dblpix/logger"
)

var rootCmd = &cobra.Command{
	Use:   "dblpix",
	Short: "dblpix - stream the dblp bibliography into SQL",
	Long: `dblpix - stream the dblp bibliography into a relational database.

dblpix reads dblp.xml (plain or gzipped) in a single pass, assembles one
publication at a time, deduplicates publishers, schools, series and persons,
and commits records in concurrent batches. Malformed records are quarantined
without stopping the run.

Available commands:
  ix       - Ingest dblp.xml and inspect quarantined records
  db       - Database statistics, migrations and run history
  am       - Show and validate configuration ("I am")
  version  - Show build information

Examples:
  dblpix ix dblp dblp.xml.gz                 # Ingest into ./dblp.db
  dblpix ix dblp dblp.xml --max-records 1000 # Ingest a prefix
  dblpix ix dblp dblp.xml --dry-run          # Parse and resolve only
  dblpix db stats                            # Row counts and recent runs
  dblpix am show                             # Effective configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 'am show' prints config only; keep stderr quiet
		if cmd.Name() == "show" {
			return nil
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		logJSON, _ := cmd.Flags().GetBool("log-json")
		if err := logger.Initialize(logJSON, verbosity); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json", false, "Output results as JSON")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON lines on stderr")

	rootCmd.AddCommand(commands.IxCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintln(os.Stderr, "Hint:", hint)
		}
		os.Exit(1)
	}
}
