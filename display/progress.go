package display

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/pterm/pterm"

	"github.com/teranos/dblpix/pulse"
)

// Implementations of pulse.ProgressEmitter:
//   - CLIEmitter: terminal output with a parse progress bar (pterm)
//   - JSONEmitter: one JSON event per line for scripts and dashboards
var (
	_ pulse.ProgressEmitter = (*CLIEmitter)(nil)
	_ pulse.ProgressEmitter = (*JSONEmitter)(nil)
)

// ProgressEvent represents a structured JSON progress event
type ProgressEvent struct {
	Type      string                 `json:"type"` // "stage", "progress", "complete", "error", "info"
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// CLIEmitter outputs progress to the terminal using pterm.
//
// When progress metadata carries both "events" and "expected_events" a
// progress bar tracks the parser position; otherwise record counts are printed.
type CLIEmitter struct {
	verbosity int
	bar       *pterm.ProgressbarPrinter
}

// NewCLIEmitter creates a CLI progress emitter for terminal output
func NewCLIEmitter(verbosity int) *CLIEmitter {
	return &CLIEmitter{verbosity: verbosity}
}

// EmitStage prints a stage announcement
func (e *CLIEmitter) EmitStage(stage string, message string) {
	pterm.Printf("🔄 %s: %s\n", pterm.LightCyan(stage), message)
}

// EmitProgress advances the bar, or prints the running count
func (e *CLIEmitter) EmitProgress(count int, metadata map[string]interface{}) {
	events, _ := metadata["events"].(int64)
	expected, _ := metadata["expected_events"].(int64)
	if expected > 0 {
		e.advance(count, events, expected)
		return
	}

	itemType, ok := metadata["type"].(string)
	if !ok {
		itemType = "items"
	}
	pterm.Printf("✅ Assembled %s %s\n", pterm.Green(fmt.Sprintf("%d", count)), itemType)
}

func (e *CLIEmitter) advance(count int, events, expected int64) {
	pct := int(events * 100 / expected)
	if pct > 100 {
		// The estimate is from an older dump; hold the bar short of done
		pct = 99
	}

	if e.bar == nil {
		bar, err := pterm.DefaultProgressbar.WithTotal(100).WithTitle("Parsing").Start()
		if err != nil {
			return
		}
		e.bar = bar
	}
	if step := pct - e.bar.Current; step > 0 {
		e.bar.Add(step)
	}
	e.bar.UpdateTitle(fmt.Sprintf("%d records", count))
}

func (e *CLIEmitter) stopBar() {
	if e.bar == nil {
		return
	}
	if step := e.bar.Total - e.bar.Current; step > 0 {
		e.bar.Add(step)
	}
	_, _ = e.bar.Stop()
	e.bar = nil
}

// EmitComplete prints the completion summary
func (e *CLIEmitter) EmitComplete(summary map[string]interface{}) {
	e.stopBar()
	pterm.Success.Println("Ingest complete")
	if e.verbosity >= 1 {
		keys := make([]string, 0, len(summary))
		for k := range summary {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			pterm.Printf("  %s: %v\n", k, summary[k])
		}
	}
}

// EmitError prints an error
func (e *CLIEmitter) EmitError(stage string, err error) {
	if e.bar != nil {
		_, _ = e.bar.Stop()
		e.bar = nil
	}
	pterm.Error.Printf("Error in %s: %v\n", stage, err)
}

// EmitInfo prints informational message
func (e *CLIEmitter) EmitInfo(message string) {
	if e.verbosity >= 1 {
		pterm.Info.Println(message)
	}
}

// JSONEmitter writes one ProgressEvent per line
type JSONEmitter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

// NewJSONEmitter creates a JSON progress emitter writing to stdout
func NewJSONEmitter() *JSONEmitter {
	return NewJSONEmitterTo(os.Stdout)
}

// NewJSONEmitterTo creates a JSON progress emitter writing to w
func NewJSONEmitterTo(w io.Writer) *JSONEmitter {
	return &JSONEmitter{encoder: json.NewEncoder(w)}
}

func (e *JSONEmitter) emit(eventType string, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.encoder.Encode(ProgressEvent{Type: eventType, Timestamp: time.Now(), Data: data})
}

// EmitStage emits a stage event
func (e *JSONEmitter) EmitStage(stage string, message string) {
	e.emit("stage", map[string]interface{}{
		"stage":   stage,
		"message": message,
	})
}

// EmitProgress emits a progress event with the metadata merged in
func (e *JSONEmitter) EmitProgress(count int, metadata map[string]interface{}) {
	data := map[string]interface{}{"count": count}
	for k, v := range metadata {
		data[k] = v
	}
	e.emit("progress", data)
}

// EmitComplete emits a completion event
func (e *JSONEmitter) EmitComplete(summary map[string]interface{}) {
	e.emit("complete", summary)
}

// EmitError emits an error event
func (e *JSONEmitter) EmitError(stage string, err error) {
	e.emit("error", map[string]interface{}{
		"stage": stage,
		"error": err.Error(),
	})
}

// EmitInfo emits an info event
func (e *JSONEmitter) EmitInfo(message string) {
	e.emit("info", map[string]interface{}{"message": message})
}
