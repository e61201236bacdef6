package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log
// aggregation; otherwise the human-readable text handler. LOG_LEVEL
// (debug/info/warn/error) overrides the environment default.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	level := slog.LevelDebug
	if env == "production" {
		level = slog.LevelInfo
	}
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	slog.SetDefault(slog.New(handler))
}

// WithExecution returns a logger carrying one execution's identity fields.
// Paths that run outside a request (detached passes, progress streams) log
// through this so the records stay correlatable.
func WithExecution(executionID, workflowID, tenantID string) *slog.Logger {
	return slog.With(
		"execution_id", executionID,
		"workflow_id", workflowID,
		"tenant_id", tenantID,
	)
}
