// Package version reports build information for the dblpix binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/teranos/dblpix/version.Version=v0.3.0 -X ..."
var (
	Version    = "dev"
	CommitHash = "dev"
	BuildTime  = "unknown"
)

// drivers are the modules whose versions matter when reading a bug report:
// they decide what SQL the store can speak and how XML is decoded.
var drivers = []string{
	"github.com/mattn/go-sqlite3",
	"github.com/lib/pq",
	"golang.org/x/text",
	"github.com/klauspost/compress",
}

// Info contains version and build information
type Info struct {
	Version    string            `json:"version"`
	CommitHash string            `json:"commit_hash"`
	BuildTime  string            `json:"build_time"`
	GoVersion  string            `json:"go_version"`
	Platform   string            `json:"platform"`
	Drivers    map[string]string `json:"drivers,omitempty"`
}

// Get returns the current version information
func Get() Info {
	info := Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		info.Drivers = driverVersions(bi.Deps)
		// go install'ed binaries carry the module version but no ldflags
		if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
	}
	return info
}

func driverVersions(deps []*debug.Module) map[string]string {
	out := make(map[string]string)
	for _, dep := range deps {
		for _, path := range drivers {
			if dep.Path == path {
				out[path[strings.LastIndex(path, "/")+1:]] = dep.Version
			}
		}
	}
	return out
}

// String returns a human-readable version string
func (i Info) String() string {
	return fmt.Sprintf("dblpix %s (commit %s, built %s)", i.Version, i.Short(), i.BuildTime)
}

// Short returns the abbreviated commit hash
func (i Info) Short() string {
	if len(i.CommitHash) >= 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}
