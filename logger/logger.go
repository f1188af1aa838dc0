/*
Package logger builds the zerolog loggers used across the ledger.

PURPOSE:
  One place decides the output format (console for operators at a
  terminal, JSON for the server) and the level. Components take a
  zerolog.Logger at construction; request-scoped code pulls it from the
  context.

FIELDS:
  Import code logs with "run" (import run ID) and "file". Row warnings add
  "row" and "name".
*/
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type ContextKey string

const LoggerKey ContextKey = "logger"

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type Options struct {
	Level  string // zerolog level name; empty means info
	Format string // console or json
	Out    io.Writer
}

// New creates a logger from opts. An unknown level falls back to info.
func New(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(opts.Format, FormatConsole) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// NewWithWriter creates a JSON logger at debug level writing to w.
func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}

// WithContext adds the logger to the context
func WithContext(ctx context.Context, log zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, log)
}

// FromContext retrieves the logger from the context, or a disabled logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if log, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return log
	}
	return zerolog.Nop()
}

// ForImport tags a logger with the import run it reports on.
func ForImport(log zerolog.Logger, runID, fileName string) zerolog.Logger {
	return log.With().Str("run", runID).Str("file", fileName).Logger()
}
