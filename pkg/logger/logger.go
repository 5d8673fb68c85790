package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const serviceName = "crm-bulk-import"

// New creates a zerolog logger writing to stdout. format "pretty" selects
// console output; anything else is JSON.
func New(level, format string) zerolog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter is New with an explicit destination
func NewWithWriter(out io.Writer, level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	logLevel, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}

	if format == "pretty" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			Level(logLevel).
			With().
			Timestamp().
			Caller().
			Str("service", serviceName).
			Logger()
	}

	return zerolog.New(out).
		Level(logLevel).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}
