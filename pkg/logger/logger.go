// Package logger is the structured logging surface shared by every
// canvassync component. Components take a Logger and log key/value pairs.
package logger

import (
	"io"
	"log/slog"

	slogadapter "github.com/surrealdb/canvassync/pkg/logger/slog"
)

// Logger is implemented by the slog adapter and by the zerolog sink.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// New returns a Logger writing through the given slog handler.
func New(h slog.Handler) Logger {
	return slogadapter.New(h)
}

// Discard returns a Logger that drops everything.
func Discard() Logger {
	return slogadapter.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel maps the configured level name to a slog level, defaulting to Info.
func ParseLevel(name string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return Discard()
	}
	return l
}
