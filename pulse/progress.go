package pulse

// ProgressEmitter defines the domain-agnostic interface for emitting progress
// updates during a long-running ingest. The ingest calls it from the producer
// goroutine only.
//
// Implementations live in display: a pterm terminal emitter and a JSON
// lines emitter for machine consumption.
type ProgressEmitter interface {
	// EmitStage announces the start of a processing stage
	EmitStage(stage string, message string)

	// EmitProgress reports a running count. Metadata carries domain detail
	// such as parser events consumed or batches committed.
	EmitProgress(count int, metadata map[string]interface{})

	// EmitComplete announces completion with a summary
	EmitComplete(summary map[string]interface{})

	// EmitError announces an error during processing
	EmitError(stage string, err error)

	// EmitInfo emits a general informational message
	EmitInfo(message string)
}

// NopEmitter discards all progress
type NopEmitter struct{}

func (NopEmitter) EmitStage(string, string)                 {}
func (NopEmitter) EmitProgress(int, map[string]interface{}) {}
func (NopEmitter) EmitComplete(map[string]interface{})      {}
func (NopEmitter) EmitError(string, error)                  {}
func (NopEmitter) EmitInfo(string)                          {}
