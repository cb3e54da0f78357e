package testenv

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogRecorder(t *testing.T) {
	h := NewLogRecorder()
	log := slog.New(h)

	log.Info("plain")
	log.With("conn", 1).Warn("with attrs", "path", "a/b")
	log.WithGroup("req").Error("grouped", "id", "x", slog.Group("sub", "n", 2))

	assert.Equal(t, []string{
		"INFO: plain",
		"WARN: with attrs conn=1, path=a/b",
		"ERROR: grouped req.id=x, req.sub.n=2",
	}, h.Lines())
	assert.True(t, h.Contains("path=a/b"))
	assert.False(t, h.Contains("missing"))
}

func TestLogRecorderMinLevel(t *testing.T) {
	h := NewLogRecorder(WithMinLevel(slog.LevelWarn))
	log := slog.New(h)

	log.Debug("dropped")
	log.Info("dropped")
	log.Warn("kept")

	assert.Equal(t, []string{"WARN: kept"}, h.Lines())
}
