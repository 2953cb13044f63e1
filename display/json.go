package display

import (
	"flag"

	"github.com/goccy/go-json"
)

// MarshalJSON marshals JSON compactly when output was forced through
// DBLPIX_OUTPUT (pipelines, log shippers), and indented for people.
func MarshalJSON(v interface{}) ([]byte, error) {
	// Tests always get stable, indented output
	if flag.Lookup("test.v") != nil {
		return json.MarshalIndent(v, "", "  ")
	}

	if jsonFromEnv() {
		return json.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}
