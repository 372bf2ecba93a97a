package vectra

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with vectra-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// LogCreate logs a database creation.
func (l *Logger) LogCreate(ctx context.Context, name string, dimension int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "create failed",
			"database", name,
			"dimension", dimension,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "database created",
			"database", name,
			"dimension", dimension,
		)
	}
}

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(ctx context.Context, name string, index uint64, total int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed",
			"database", name,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "insert completed",
			"database", name,
			"index", index,
			"total", total,
		)
	}
}

// LogFind logs a query operation.
func (l *Logger) LogFind(ctx context.Context, name, metric string, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "find failed",
			"database", name,
			"metric", metric,
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "find completed",
			"database", name,
			"metric", metric,
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogFlush logs a write-back flush.
func (l *Logger) LogFlush(ctx context.Context, name string, records int, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"database", name,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "flush completed",
			"database", name,
			"records", records,
			"bytes", bytes,
		)
	}
}

// LogEvict logs a cache eviction.
func (l *Logger) LogEvict(ctx context.Context, name, reason string) {
	l.DebugContext(ctx, "database evicted",
		"database", name,
		"reason", reason,
	)
}

// LogImport logs an import run.
func (l *Logger) LogImport(ctx context.Context, name string, rows, shards int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "import failed",
			"database", name,
			"rows_committed", rows,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "import completed",
			"database", name,
			"rows", rows,
			"shards", shards,
			"elapsed", elapsed,
		)
	}
}
