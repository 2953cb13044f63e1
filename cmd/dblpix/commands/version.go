package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/teranos/dblpix/display"
	"github.com/teranos/dblpix/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show dblpix version information",
	Long:  `Display version, build time, commit hash, platform and the versions of the database and XML decoding modules linked into the binary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()
		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(info)
		}

		fmt.Println(info.String())
		fmt.Printf("Platform: %s\n", info.Platform)
		fmt.Printf("Go: %s\n", info.GoVersion)

		names := make([]string, 0, len(info.Drivers))
		for name := range info.Drivers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%s: %s\n", name, info.Drivers[name])
		}
		return nil
	},
}
