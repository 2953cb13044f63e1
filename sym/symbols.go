// Package sym defines the glyphs that tag log lines and CLI output by segment.
package sym

// Segment glyphs.
const (
	AM = "≡" // am: configuration
	IX = "⨳" // ix: ingestion of external data
)

// System infrastructure glyphs.
const (
	Pulse      = "꩜" // commit pipeline, batches and workers
	PulseOpen  = "✿" // pipeline startup
	PulseClose = "❀" // pipeline drain and shutdown
	DB         = "⊔" // database/storage layer
)

// Name returns the command word for a segment glyph, or "" if unknown.
func Name(glyph string) string {
	switch glyph {
	case AM:
		return "am"
	case IX:
		return "ix"
	case Pulse, PulseOpen, PulseClose:
		return "pulse"
	case DB:
		return "db"
	}
	return ""
}
