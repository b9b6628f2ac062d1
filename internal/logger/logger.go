// Package logger wires zerolog for the whole binary and carries the logger
// through context.Context.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type contextKey struct{}

// New returns a console logger on stdout with timestamps and callers.
func New() zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Caller().Logger()
}

// NewWithWriter returns a JSON logger writing to w.
func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Caller().Logger()
}

// Configure builds the process logger from LOG_LEVEL and LOG_FORMAT values.
// Unknown levels fall back to info; format "json" selects raw JSON lines on
// stdout, anything else the console writer.
func Configure(level, format string) zerolog.Logger {
	var l zerolog.Logger
	if strings.EqualFold(format, "json") {
		l = NewWithWriter(os.Stdout)
	} else {
		l = New()
	}
	return l.Level(ParseLevel(level))
}

func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a disabled logger when
// none was attached. The result is a pointer so event methods can be chained
// directly on it.
func FromContext(ctx context.Context) *zerolog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(zerolog.Logger); ok {
		return &logger
	}
	nop := zerolog.Nop()
	return &nop
}

func WithFields(logger zerolog.Logger, fields map[string]interface{}) zerolog.Logger {
	ctx := logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return ctx.Logger()
}
