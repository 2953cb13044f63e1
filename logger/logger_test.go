package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
		verbosity  int
		wantLevel  zapcore.Level
	}{
		{name: "JSON output mode", jsonOutput: true, verbosity: 0, wantLevel: zapcore.WarnLevel},
		{name: "Console output mode", jsonOutput: false, verbosity: 1, wantLevel: zapcore.InfoLevel},
		{name: "Console debug", jsonOutput: false, verbosity: 2, wantLevel: zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Logger = nil
			JSONOutput = false

			if err := Initialize(tt.jsonOutput, tt.verbosity); err != nil {
				t.Fatalf("Initialize() error = %v", err)
			}
			if Logger == nil {
				t.Fatal("Initialize() did not set global Logger")
			}
			if JSONOutput != tt.jsonOutput {
				t.Errorf("Initialize() JSONOutput = %v, want %v", JSONOutput, tt.jsonOutput)
			}
			if !Logger.Desugar().Core().Enabled(tt.wantLevel) {
				t.Errorf("level %v should be enabled", tt.wantLevel)
			}
			if tt.wantLevel > zapcore.DebugLevel && Logger.Desugar().Core().Enabled(tt.wantLevel-1) {
				t.Errorf("level %v should be disabled", tt.wantLevel-1)
			}

			Logger = zap.NewNop().Sugar()
		})
	}
}

func TestVerbosityToLevel(t *testing.T) {
	tests := []struct {
		verbosity int
		want      zapcore.Level
		name      string
	}{
		{-1, zapcore.WarnLevel, "Unknown"},
		{0, zapcore.WarnLevel, "User"},
		{1, zapcore.InfoLevel, "Info (-v)"},
		{2, zapcore.DebugLevel, "Debug (-vv)"},
		{5, zapcore.DebugLevel, "Debug (-vv+)"},
	}
	for _, tt := range tests {
		if got := VerbosityToLevel(tt.verbosity); got != tt.want {
			t.Errorf("VerbosityToLevel(%d) = %v, want %v", tt.verbosity, got, tt.want)
		}
		if got := LevelName(tt.verbosity); got != tt.name {
			t.Errorf("LevelName(%d) = %q, want %q", tt.verbosity, got, tt.name)
		}
	}
}

func TestCleanupWithNilLogger(t *testing.T) {
	Logger = nil
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Cleanup() panicked: %v", r)
		}
		Logger = zap.NewNop().Sugar()
	}()
	Cleanup()
}

func TestComponentAndChildLoggers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Logger = zap.New(core).Sugar()
	defer func() { Logger = zap.NewNop().Sugar() }()

	ctx := WithRunID(context.Background(), "run-2")
	ChildLogger(ComponentLogger("persist"), FieldsFromContext(ctx)...).Debugw("Batch written", FieldBatchID, 4)
	DBInfow("Schema ready", FieldDriver, "sqlite3")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].LoggerName != "persist" {
		t.Errorf("logger name = %q, want persist", entries[0].LoggerName)
	}
	if got := entries[0].ContextMap()[FieldRunID]; got != "run-2" {
		t.Errorf("run id = %v", got)
	}
	if got := entries[1].ContextMap()[FieldSymbol]; got != "⊔" {
		t.Errorf("DB symbol = %v", got)
	}
}

func TestFieldsFromContext(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithComponent(ctx, "assembler")

	fields := FieldsFromContext(ctx)
	want := []interface{}{FieldRunID, "run-1", FieldComponent, "assembler"}
	if len(fields) != len(want) {
		t.Fatalf("FieldsFromContext() = %v, want %v", fields, want)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("field %d = %v, want %v", i, fields[i], want[i])
		}
	}

	if len(FieldsFromContext(context.Background())) != 0 {
		t.Error("empty context should yield no fields")
	}
}

func TestSymbolWrappers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core).Sugar()

	AddIXSymbol(base).Infow("record", FieldKey, "journals/x/1")
	AddDBSymbol(base).Debugw("commit")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if got := entries[0].ContextMap()[FieldSymbol]; got != "⨳" {
		t.Errorf("IX symbol = %v", got)
	}
	if got := entries[1].ContextMap()[FieldSymbol]; got != "⊔" {
		t.Errorf("DB symbol = %v", got)
	}
}
