package display

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teranos/dblpix/errors"
)

// OutputEnv forces machine-readable output when set to "json"
const OutputEnv = "DBLPIX_OUTPUT"

// ShouldOutputJSON determines if a command should output JSON based on flags
// and the DBLPIX_OUTPUT environment variable
func ShouldOutputJSON(cmd *cobra.Command) bool {
	// Handle nil command gracefully (e.g., when rendering without command context)
	if cmd == nil {
		return jsonFromEnv()
	}

	// An explicit --json wins either way
	if cmd.Flags().Changed("json") {
		jsonFlag, _ := cmd.Flags().GetBool("json")
		return jsonFlag
	}

	if globalFlag, _ := cmd.Root().PersistentFlags().GetBool("json"); globalFlag {
		return true
	}

	return jsonFromEnv()
}

func jsonFromEnv() bool {
	return strings.EqualFold(os.Getenv(OutputEnv), "json")
}

// OutputJSON marshals and prints JSON using display.MarshalJSON
func OutputJSON(v interface{}) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	fmt.Println(string(data))
	return nil
}
