package testenv

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// LogRecorder is a slog.Handler keeping every record as one line of the
// form "LEVEL: message k=v, k=v", without timestamps, so tests can assert
// on what was logged.
type LogRecorder struct {
	state *recorderState
	attrs []slog.Attr
	group string
	level slog.Level
}

type recorderState struct {
	mu    sync.Mutex
	lines []string
}

type LogRecorderOption func(*LogRecorder)

// WithMinLevel drops records below level.
func WithMinLevel(level slog.Level) LogRecorderOption {
	return func(h *LogRecorder) {
		h.level = level
	}
}

func NewLogRecorder(opts ...LogRecorderOption) *LogRecorder {
	h := &LogRecorder{state: &recorderState{}, level: slog.LevelDebug}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *LogRecorder) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

//nolint:gocritic
func (h *LogRecorder) Handle(_ context.Context, r slog.Record) error {
	var parts []string
	for _, a := range h.attrs {
		parts = append(parts, formatAttr(a, ""))
	}
	prefix := ""
	if h.group != "" {
		prefix = h.group + "."
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, formatAttr(a, prefix))
		return true
	})

	line := fmt.Sprintf("%s: %s", r.Level, r.Message)
	if len(parts) > 0 {
		line += " " + strings.Join(parts, ", ")
	}

	h.state.mu.Lock()
	h.state.lines = append(h.state.lines, line)
	h.state.mu.Unlock()
	return nil
}

func formatAttr(a slog.Attr, prefix string) string {
	if a.Value.Kind() == slog.KindGroup {
		var parts []string
		for _, ga := range a.Value.Group() {
			parts = append(parts, formatAttr(ga, prefix+a.Key+"."))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprintf("%s%s=%v", prefix, a.Key, a.Value)
}

func (h *LogRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	prefix := ""
	if h.group != "" {
		prefix = h.group + "."
	}
	out.attrs = h.attrs[:len(h.attrs):len(h.attrs)]
	for _, a := range attrs {
		out.attrs = append(out.attrs, slog.Any(prefix+a.Key, a.Value))
	}
	return &out
}

func (h *LogRecorder) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	out := *h
	if h.group != "" {
		out.group = h.group + "." + name
	} else {
		out.group = name
	}
	return &out
}

// Lines returns a copy of everything recorded so far.
func (h *LogRecorder) Lines() []string {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	return append([]string(nil), h.state.lines...)
}

// Contains reports whether any recorded line contains substr.
func (h *LogRecorder) Contains(substr string) bool {
	for _, line := range h.Lines() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
