package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/canvassync/internal/config"
)

func TestParse(t *testing.T) {
	cmd, opts, err := Parse([]string{"relay", "--addr=127.0.0.1:9000", "--log-level=debug"})
	require.NoError(t, err)
	assert.Equal(t, &RelayCommand{Addr: "127.0.0.1:9000"}, cmd)
	assert.Equal(t, "debug", opts.LogLevel)
	assert.Equal(t, ".env", opts.EnvFile)

	cmd, _, err = Parse([]string{"dump", "users/u1"})
	require.NoError(t, err)
	assert.Equal(t, &DumpCommand{Path: "users/u1"}, cmd)

	cmd, _, err = Parse([]string{"watch", "--user=u1", "--canvas=c1", "--anonymous"})
	require.NoError(t, err)
	assert.Equal(t, &WatchCommand{UserID: "u1", CanvasID: "c1", Anonymous: true}, cmd)

	cmd, _, err = Parse([]string{"ratelimit-check", "canvas_join", "--identity=abc"})
	require.NoError(t, err)
	assert.Equal(t, &RateLimitCheckCommand{Key: "canvas_join", Identity: "abc"}, cmd)
	assert.Equal(t, "ratelimit-check", cmd.Name())
}

func TestParseHelpAndErrors(t *testing.T) {
	cmd, _, err := Parse([]string{"--help"})
	require.NoError(t, err)
	p, ok := cmd.(*PrintCommand)
	require.True(t, ok)
	assert.Contains(t, p.Text, "Usage:")

	cmd, _, err = Parse([]string{"--version"})
	require.NoError(t, err)
	assert.Equal(t, Version, cmd.(*PrintCommand).Text)

	_, _, err = Parse([]string{"explode"})
	assert.Error(t, err)

	_, _, err = Parse([]string{})
	assert.Error(t, err)
}

func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CANVAS_BACKEND", config.BackendMemory)
	t.Setenv("CANVAS_CACHE_PATH", dir)
	t.Setenv("REDIS_ADDR", "")
	return dir
}

func TestMainDumpAndLogFile(t *testing.T) {
	dir := testEnv(t)
	logFile := filepath.Join(dir, "canvassync.log")

	var out bytes.Buffer
	err := Main(context.Background(), []string{"dump", "/users/u1/", "--log-file=" + logFile, "--env=" + filepath.Join(dir, "missing.env")}, &out)
	require.NoError(t, err)
	assert.Equal(t, "null\n", out.String())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "backend connected")
}

func TestMainRateLimitCheck(t *testing.T) {
	testEnv(t)

	var out bytes.Buffer
	require.NoError(t, Main(context.Background(), []string{"ratelimit-check", "canvas_join", "--identity=tester"}, &out))
	assert.Contains(t, out.String(), "key=canvas_join identity=tester allowed=true remaining=9")

	out.Reset()
	require.NoError(t, Main(context.Background(), []string{"ratelimit-check", "failed_login"}, &out))
	assert.Contains(t, out.String(), "allowed=true")
	assert.NotContains(t, out.String(), "identity= ")

	err := Main(context.Background(), []string{"ratelimit-check", "nope"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canvas_join")
}

func TestMainPrintsHelp(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Main(context.Background(), []string{"-h"}, &out))
	assert.True(t, strings.HasPrefix(out.String(), "canvassync."))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchPrintsEvents(t *testing.T) {
	testEnv(t)
	cfg, err := config.Load("")
	require.NoError(t, err)
	a, err := New(cfg, Options{LogLevel: "error"})
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- a.Execute(ctx, &WatchCommand{UserID: "u1"}, out)
	}()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"kind":"snapshot_applied"`)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), `"mode":"remote"`)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestAppComponents(t *testing.T) {
	testEnv(t)
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.CacheDriver = config.CacheSQLite

	a, err := New(cfg, Options{})
	require.NoError(t, err)
	defer a.Close()

	c, err := a.Cache()
	require.NoError(t, err)
	assert.NotNil(t, c)

	store, err := a.Assets()
	require.NoError(t, err)
	assert.Nil(t, store)

	l, err := a.Limiter(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, "anonymous", l.Identity())

	cfg.Backend = "carrier-pigeon"
	_, err = a.Backend(context.Background())
	assert.Error(t, err)
}
