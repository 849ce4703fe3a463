// Package logger provides utilities for working with [zerolog.Logger] and
// [context.Context].
package logger

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

var ctxLoggerKey = ctxKey{}

// InContext returns a copy of ctx carrying l, retrievable with FromContext.
func InContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey, l)
}

// FromContext returns the Logger attached to ctx, or zerolog's global
// logger if none was attached.
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxLoggerKey).(zerolog.Logger); ok {
		return l
	}
	return zerolog.Ctx(ctx).With().Logger()
}

// Fatal logs msg at fatal level using the Logger attached to ctx, then
// exits the process with status 1.
func Fatal(ctx context.Context, msg string) {
	FromContext(ctx).Fatal().Msg(msg)
}

// FatalError logs msg and err at fatal level using zerolog's global
// logger, then exits the process with status 1.
func FatalError(msg string, err error) {
	zerolog.Ctx(context.Background()).Fatal().Err(err).Msg(msg)
}

// FatalErrorContext logs msg and err at fatal level using the Logger
// attached to ctx, then exits the process with status 1.
func FatalErrorContext(ctx context.Context, msg string, err error) {
	FromContext(ctx).Fatal().Err(err).Msg(msg)
}

// init ensures an unconfigured global logger still writes somewhere
// sensible, even before any flags are parsed.
func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log
}
