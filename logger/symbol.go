package logger

import (
	"github.com/teranos/dblpix/sym"
	"go.uber.org/zap"
)

// Symbol-aware logging helpers.
// The symbol goes into a structured field, not the message, so logs stay
// queryable by segment:
//
//	logger.AddIXSymbol(p.logger).Infow("Record quarantined", "key", key)

// AddIXSymbol wraps a logger with the IX symbol (⨳), used by ingestion
func AddIXSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.IX)
}

// AddPulseSymbol wraps a logger with the Pulse symbol (꩜), used by the commit pipeline
func AddPulseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Pulse)
}

// AddPulseOpenSymbol wraps a logger with the PulseOpen symbol (✿)
func AddPulseOpenSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.PulseOpen)
}

// AddPulseCloseSymbol wraps a logger with the PulseClose symbol (❀)
func AddPulseCloseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.PulseClose)
}

// AddDBSymbol wraps a logger with the DB symbol (⊔)
func AddDBSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.DB)
}

// DBInfow logs an info message on the global logger with the DB symbol (⊔)
func DBInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.DB}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}
