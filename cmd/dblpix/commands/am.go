package commands

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/dblpix/am"
	"github.com/teranos/dblpix/display"
	"github.com/teranos/dblpix/errors"
	"github.com/teranos/dblpix/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Show and validate configuration",
	Long: sym.AM + ` am — Show and validate dblpix configuration ("I am")

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/dblpix/am.toml)
3. User config (~/.dblpix/am.toml)
4. Project config (./am.toml, searched upwards)
5. Environment variables (DBLPIX_* prefix, e.g. DBLPIX_INGEST_WORKERS)
6. Command line flags of the command being run

Examples:
  dblpix am show                    # Show current configuration
  dblpix am show --format json      # Show configuration in JSON format
  dblpix am get ingest.batch_size   # Get specific config value
  dblpix am validate                # Validate current configuration
  dblpix am where                   # List the files that were merged`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, ingest.workers)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show which configuration files were merged",
	RunE:  runAmWhere,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	settings := am.GetViper().AllSettings()

	switch configFormat {
	case "json":
		return display.OutputJSON(settings)

	case "yaml":
		data, err := yaml.Marshal(settings)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Printf("# dblpix configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(settings)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Printf("# dblpix configuration\n%s", string(data))

	default:
		return errors.Newf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	key := args[0]
	if !am.GetViper().IsSet(key) {
		return errors.Newf("configuration key %q not found", key)
	}
	fmt.Println(am.Get(key))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	fmt.Println("✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	files := am.LoadedFiles()
	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(files)
	}

	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  1. [DEFAULT]  Built-in defaults")
	fmt.Println("  2. [SYSTEM]   /etc/dblpix/am.toml")
	fmt.Println("  3. [USER]     ~/.dblpix/am.toml")
	fmt.Println("  4. [PROJECT]  ./am.toml (searches up directories)")
	fmt.Println("  5. [ENV]      DBLPIX_* environment variables")
	fmt.Println()

	if len(files) == 0 {
		fmt.Println("No configuration files found; running on defaults and environment")
		return nil
	}
	fmt.Println("Merged files:")
	for _, f := range files {
		fmt.Printf("  %s\n", f)
	}
	return nil
}
