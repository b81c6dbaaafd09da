// Package telemetry is the simulator's structured-logging surface: a thin
// wrapper over github.com/rs/zerolog, mirroring the pluggable-Logger shape
// of the teacher's eventloop/logging.go (category-tagged entries, a silent
// no-op default) without reimplementing its generic logiface builder.
package telemetry

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps an optional zerolog.Logger. The zero value is silent,
// matching the teacher's NewNoOpLogger() default: components run fine with
// no logger installed.
type Logger struct {
	zl *zerolog.Logger
}

// New returns a Logger writing structured JSON to w.
func New(w io.Writer) Logger {
	zl := zerolog.New(w).With().Timestamp().Logger()
	return Logger{zl: &zl}
}

// NewConsole returns a Logger writing human-readable output to os.Stderr,
// for CLI use.
func NewConsole() Logger {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	return Logger{zl: &zl}
}

// Nop returns the silent Logger (equivalent to the zero value).
func Nop() Logger { return Logger{} }

func (l Logger) enabled() bool { return l.zl != nil }

// Debug logs at debug level under category, with the given structured
// fields (tick, request, op id, ...).
func (l Logger) Debug(category, message string, fields map[string]any) {
	if !l.enabled() {
		return
	}
	l.zl.Debug().Str("category", category).Fields(fields).Msg(message)
}

// Info logs at info level under category.
func (l Logger) Info(category, message string, fields map[string]any) {
	if !l.enabled() {
		return
	}
	l.zl.Info().Str("category", category).Fields(fields).Msg(message)
}

// Warn logs at warn level under category.
func (l Logger) Warn(category, message string, fields map[string]any) {
	if !l.enabled() {
		return
	}
	l.zl.Warn().Str("category", category).Fields(fields).Msg(message)
}

// Error logs at error level under category, attaching err.
func (l Logger) Error(category, message string, err error, fields map[string]any) {
	if !l.enabled() {
		return
	}
	l.zl.Error().Str("category", category).Err(err).Fields(fields).Msg(message)
}
