// Package logger configures the process-wide slog logger and carries
// request-scoped loggers through context.
package logger

import (
	"log/slog"
	"os"
)

var defaultLogger *slog.Logger

// Init sets up the shared logger. Production emits JSON at info level for
// log shipping; anything else gets human-readable text at debug level.
// Every line carries the service name so aggregated logs stay attributable.
func Init(env string) {
	var handler slog.Handler

	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}

	defaultLogger = slog.New(handler).With("service", "sokocart")
	slog.SetDefault(defaultLogger)
}

// LoggerWrapper returns the shared logger, initializing a development
// logger first if Init was never called.
func LoggerWrapper() *slog.Logger {
	if defaultLogger == nil {
		Init("development")
	}
	return defaultLogger
}
