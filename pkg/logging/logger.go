// Package logging configures structured zerolog logging for the pipeline.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
// Loggers created by NewLogger afterwards inherit its output.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ValidLevel reports whether s names a known level.
func ValidLevel(s string) bool {
	switch strings.ToLower(s) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// parseLevel converts LogLevel to zerolog.Level. Unknown levels map to info.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithRun returns a child logger tagged with the pipeline run id.
func WithRun(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Logger()
}

// Log Level Guidelines:
//
// Debug: Per-request flow
//   - Invoker attempts (operation, attempt number)
//   - Search pages (query, page size, page token)
//   - Analysis requests (url)
//
// Info: Normal progress
//   - Query completed (query, count)
//   - Analysis completed (video_id, topic)
//   - Run started/finished, sink writes
//   - Metrics server startup/shutdown
//
// Warn: Degraded but continuing
//   - Throttled calls and backoff waits
//   - Empty queries skipped
//   - Analysis dispatch stopped by cancellation
//
// Error: Terminal per-item or per-query failures
//   - Fatal or exhausted invoker calls
//   - Queries that yielded no results because of a failure
//   - Sink write failures
//   - Configuration errors
//
// Context Fields:
//   - run_id: Pipeline run identifier
//   - query: Search query text
//   - url: Video watch URL
//   - video_id: Video identifier
//   - operation: Invoker operation (search, analyze)
//   - attempt: Attempt number (1-based)
//   - backoff: Wait before the next attempt
//   - error_class: Error classification (throttled, fatal)
