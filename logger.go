package docdb

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with docdb-specific helpers so log fields
// stay consistent across the codebase.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. If handler is
// nil, a text handler to stderr at Info level is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}

	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger writing human-readable text to
// stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewJSONLogger creates a Logger writing JSON lines to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards everything.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, nil))
}

// WithCollection tags the logger with a collection name.
func (l *Logger) WithCollection(name string) *Logger {
	return &Logger{Logger: l.Logger.With("collection", name)}
}

// WithTxn tags the logger with a transaction id.
func (l *Logger) WithTxn(id string) *Logger {
	return &Logger{Logger: l.Logger.With("txn", id)}
}
