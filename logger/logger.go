package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the process-wide logger. Components get named children via
	// ComponentLogger and carry them in their structs.
	Logger *zap.SugaredLogger
	// JSONOutput reports whether Initialize selected the JSON encoder
	JSONOutput bool
)

func init() {
	Logger = zap.NewNop().Sugar()
}

// Initialize replaces the global logger. Logs always go to stderr because
// stdout carries results and --json output.
//
// jsonOutput selects zap's production JSON encoder (one object per line, for
// log shippers); otherwise a compact colored console encoder is used.
// verbosity is the -v count, see VerbosityToLevel.
func Initialize(jsonOutput bool, verbosity int) error {
	base, err := build(jsonOutput, VerbosityToLevel(verbosity))
	if err != nil {
		return err
	}
	JSONOutput = jsonOutput
	Logger = base.Named("dblpix").Sugar()
	return nil
}

func build(jsonOutput bool, level zapcore.Level) (*zap.Logger, error) {
	if jsonOutput {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		// A full ingest logs a warning per stray element; sampling keeps that bounded
		cfg.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 1000}
		return cfg.Build()
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleEncoderConfig()),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core), nil
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.CallerKey = zapcore.OmitKey
	cfg.NameKey = zapcore.OmitKey
	cfg.ConsoleSeparator = " "
	return cfg
}

// Cleanup flushes buffered entries; call once before exit
func Cleanup() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
