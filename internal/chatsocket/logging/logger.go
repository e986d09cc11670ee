// Package logging defines the structured logger every chatsocket
// component takes as a dependency. The interface shape is grounded on
// sonirico/libws's logger.go (a WithField-chaining level-method
// interface); the concrete implementation backs it with
// github.com/rs/zerolog instead of the teacher's bare log.Printf, per
// SPEC_FULL.md §9.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the structured logging interface chatsocket components
// depend on. Fields are key-value pairs appended to every subsequent
// call, message text is a short static string; details go in the kv
// pairs so they stay greppable in production logs.
type Logger interface {
	WithField(key string, value any) Logger
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

type zerologLogger struct {
	logger zerolog.Logger
}

// New returns a Logger writing human-readable output to w (os.Stderr for
// the demo binaries).
func New(w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	return &zerologLogger{logger: zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}).With().Timestamp().Logger()}
}

// Noop returns a Logger that discards everything, for tests that don't
// care about log output.
func Noop() Logger {
	return &zerologLogger{logger: zerolog.New(io.Discard)}
}

func (l *zerologLogger) WithField(key string, value any) Logger {
	return &zerologLogger{logger: l.logger.With().Interface(key, value).Logger()}
}

func (l *zerologLogger) Debug(msg string, kv ...any) { l.event(l.logger.Debug(), msg, kv) }
func (l *zerologLogger) Info(msg string, kv ...any)  { l.event(l.logger.Info(), msg, kv) }
func (l *zerologLogger) Warn(msg string, kv ...any)  { l.event(l.logger.Warn(), msg, kv) }
func (l *zerologLogger) Error(msg string, kv ...any) { l.event(l.logger.Error(), msg, kv) }

func (l *zerologLogger) event(e *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}
