// Package logging configures zerolog for the Airtable client and its tools.
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

	// LevelDisabled turns logging off.
	LevelDisabled LogLevel = "disabled"
)

// Component names used with NewLogger.
const (
	ComponentTransport = "airtable-transport"
	ComponentFetcher   = "airtable-fetcher"
	ComponentSink      = "sink"
	ComponentSecret    = "secret"
	ComponentExporter  = "exporter"
	ComponentMCP       = "mcp"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	// The MCP server must keep stdout free for the protocol.
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
func Setup(cfg Config) zerolog.Logger {
	level := ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

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

// ParseLevel converts a level name to zerolog.Level. Unknown names fall
// back to info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: per-request detail
//   - Each attempt (endpoint, attempt number)
//   - Each retrieved batch (batch number, records, running total)
//   - Retry backoff durations
//
// Info: normal operation
//   - Fetch completed (batches, records, duration)
//   - Sink writes (sink, rows)
//   - Scheduled runs starting and finishing
//   - Server startup/shutdown
//
// Warn: degraded but continuing
//   - 429 responses and the cooldown they trigger
//   - 4xx/5xx responses before the caller sees them
//   - Exhausted retries
//
// Error: the operation failed
//   - Network failures
//   - Failed export runs
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (see Component constants)
//   - table: Airtable table name
//   - endpoint: request path (never the query, never headers)
//   - status: HTTP status code
//   - error_class: client, server, rate_limit, network
//   - run_id: export run identifier
//   - sink: sink kind (csv, jsonl, sql, mongo, elastic, redis)
//
// The API key is never logged.
