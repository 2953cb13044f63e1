package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging across dblpix.
// Use these constants instead of raw strings so log queries stay stable.
const (
	// Identity and context
	FieldRunID   = "run_id"
	FieldBatchID = "batch_id"

	// Components
	FieldComponent = "component"

	// Records
	FieldKey      = "key"
	FieldCategory = "category"
	FieldTag      = "tag"
	FieldStage    = "stage"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldElapsed    = "elapsed"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"

	// Counts and sizes
	FieldCount      = "count"
	FieldBatchSize  = "batch_size"
	FieldTotalCount = "total_count"
	FieldWorkers    = "workers"
	FieldQueueDepth = "queue_depth"

	// Files and paths
	FieldFile   = "file"
	FieldDriver = "driver"

	FieldSymbol = "symbol" // glyph of the emitting segment (⨳, ꩜, ⊔, …)
)

type contextKey string

const (
	runIDKey     contextKey = "logger_run_id"
	componentKey contextKey = "logger_component"
)

// WithRunID adds an ingest run ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		fields = append(fields, FieldRunID, runID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	store := persist.NewSQLStore(conn, dialect, logger.ComponentLogger("persist"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
