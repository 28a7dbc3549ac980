package cytogo

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with cytogo-specific context.
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
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithCategory adds a category field to the logger.
func (l *Logger) WithCategory(category string) *Logger {
	return &Logger{
		Logger: l.Logger.With("category", category),
	}
}

// WithSamples adds a sample count field to the logger.
func (l *Logger) WithSamples(samples int) *Logger {
	return &Logger{
		Logger: l.Logger.With("samples", samples),
	}
}

// WithDimension adds a dimension field to the logger.
func (l *Logger) WithDimension(dim int) *Logger {
	return &Logger{
		Logger: l.Logger.With("dimension", dim),
	}
}

// LogTrain logs a training run over the reference.
func (l *Logger) LogTrain(ctx context.Context, categories, failed int, err error) {
	switch {
	case failed > 0 && failed < categories:
		l.WarnContext(ctx, "training completed with failures",
			"categories", categories,
			"failed", failed,
			"trained", categories-failed,
		)
	case err != nil:
		l.ErrorContext(ctx, "training failed",
			"categories", categories,
			"error", err,
		)
	default:
		l.InfoContext(ctx, "training completed",
			"categories", categories,
		)
	}
}

// LogRetrain logs a partial retraining run. Failed categories keep their
// previous models, so any trainer failure is a partial outcome.
func (l *Logger) LogRetrain(ctx context.Context, categories, failed int, err error) {
	switch {
	case failed > 0:
		l.WarnContext(ctx, "retraining completed with failures",
			"categories", categories,
			"failed", failed,
			"retrained", categories-failed,
		)
	case err != nil:
		l.ErrorContext(ctx, "retraining failed",
			"categories", categories,
			"error", err,
		)
	default:
		l.InfoContext(ctx, "retraining completed",
			"categories", categories,
		)
	}
}

// LogAlign logs a query alignment.
func (l *Logger) LogAlign(ctx context.Context, samples int, reused bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "alignment failed",
			"samples", samples,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "alignment completed",
			"samples", samples,
			"reused", reused,
		)
	}
}

// LogPredict logs a prediction pass.
func (l *Logger) LogPredict(ctx context.Context, samples, unassigned int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "prediction failed",
			"samples", samples,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "prediction completed",
			"samples", samples,
			"unassigned", unassigned,
		)
	}
}

// LogSave logs a model save.
func (l *Logger) LogSave(ctx context.Context, destination string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "model save failed",
			"destination", destination,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "model saved",
			"destination", destination,
		)
	}
}

// LogLoad logs a model load.
func (l *Logger) LogLoad(ctx context.Context, source string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "model load failed",
			"source", source,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "model loaded",
			"source", source,
		)
	}
}
