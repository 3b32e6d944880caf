package logger

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger. Logs always go to stderr because
// stdout carries the record stream.
func Init(verbose bool, format string) {
	var writer io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if format == "json" {
		writer = os.Stderr
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	log.Logger = zerolog.New(writer).With().Timestamp().Logger().Level(level)
	zerolog.DefaultContextLogger = &log.Logger
}

// WithLogger returns a copy of ctx carrying l.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

func from(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return &log.Logger
	}
	return zerolog.Ctx(ctx)
}

func Debug(ctx context.Context) *zerolog.Event {
	return from(ctx).Debug()
}

func Info(ctx context.Context) *zerolog.Event {
	return from(ctx).Info()
}

func Warn(ctx context.Context) *zerolog.Event {
	return from(ctx).Warn()
}

// ErrorWith starts an error-level event with err attached.
func ErrorWith(ctx context.Context, err error) *zerolog.Event {
	return from(ctx).Error().Err(err)
}
