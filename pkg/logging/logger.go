// Package logging configures zerolog for batchflow processes.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is a textual log level as read from configuration.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level written.
	Level Level

	// Pretty switches from JSON lines to console output.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Setup installs the global logger and returns it.
// Component loggers created afterwards with NewLogger inherit its output.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(string(cfg.Level)))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel maps a level name to zerolog. Unknown names fall back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger returns a logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// NewSourceLogger returns a component logger that also carries the source name.
func NewSourceLogger(component, source string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Str("source", source).
		Logger()
}

// Levels:
//
// Debug: per-batch detail
//   - batch loaded, conflicts, cache hit/miss, worker stop
//
// Info: lifecycle
//   - state resets, prefetch start, end of pagination
//   - session open/close, server start/stop
//
// Warn: degraded but running
//   - failed batch fetches, failed updates, retries
//   - cache errors (fetch goes to the backend), rate limit throttling
//
// Error: needs attention
//   - requests failed after all retries, critical rate limit blocks
//   - configuration errors
//
// Fields:
//   - component, source: emitter and list source
//   - key, reason: batch key and fetch reason
//   - generation: state generation after a reset
//   - operation_id: update operation
//   - session_id, feed: session registry entries
//   - path, status_code, duration, error_class: backend requests
//   - remaining, reset_in: rate limit state
