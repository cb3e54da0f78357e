package ratelimit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/canvassync/internal/testenv"
	"github.com/surrealdb/canvassync/pkg/constants"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testCfg = Config{Key: "test", MaxAttempts: 3, Window: time.Minute}

func newLimiter(t *testing.T) (*Limiter, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(NewMemoryStore(), WithClock(c.Now), WithIdentity("client-a"))
	t.Cleanup(func() { _ = l.Close() })
	return l, c
}

func TestRejectsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	l, _ := newLimiter(t)

	for i := range testCfg.MaxAttempts {
		res, err := l.Check(ctx, testCfg)
		require.NoError(t, err)
		require.True(t, res.Allowed)
		assert.Equal(t, testCfg.MaxAttempts-i-1, res.Remaining)
		assert.NoError(t, res.Err())
	}

	res, err := l.Check(ctx, testCfg)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.Equal(t, testCfg.Window, res.RetryAfter)

	limitErr := res.Err()
	assert.ErrorIs(t, limitErr, constants.ErrRateLimited)
	retry, ok := RetryAfter(limitErr)
	assert.True(t, ok)
	assert.Equal(t, testCfg.Window, retry)
}

func TestSecondViolationDoublesBlock(t *testing.T) {
	ctx := context.Background()
	l, c := newLimiter(t)

	violate := func() time.Duration {
		var last Result
		for range testCfg.MaxAttempts + 1 {
			res, err := l.Check(ctx, testCfg)
			require.NoError(t, err)
			last = res
		}
		require.False(t, last.Allowed)
		return last.RetryAfter
	}

	first := violate()
	c.Advance(first)
	second := violate()

	assert.Equal(t, testCfg.Window, first)
	assert.Equal(t, 2*first, second)
}

func TestBlockedChecksDoNotExtendBlock(t *testing.T) {
	ctx := context.Background()
	l, c := newLimiter(t)

	for range testCfg.MaxAttempts + 1 {
		_, err := l.Check(ctx, testCfg)
		require.NoError(t, err)
	}
	c.Advance(10 * time.Second)
	res, err := l.Check(ctx, testCfg)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 50*time.Second, res.RetryAfter)
}

func TestWindowElapsedResetsCounter(t *testing.T) {
	ctx := context.Background()
	l, c := newLimiter(t)

	for range testCfg.MaxAttempts {
		_, err := l.Check(ctx, testCfg)
		require.NoError(t, err)
	}
	c.Advance(testCfg.Window + time.Second)

	res, err := l.Check(ctx, testCfg)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, testCfg.MaxAttempts-1, res.Remaining)
}

func TestKeysAndIdentitiesAreIndependent(t *testing.T) {
	ctx := context.Background()
	l, _ := newLimiter(t)
	other := Config{Key: "other", MaxAttempts: 1, Window: time.Minute}

	res, err := l.Check(ctx, other)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	res, err = l.Check(ctx, other)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	res, err = l.CheckFor(ctx, other, "client-b")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Check(ctx, testCfg)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	l, _ := newLimiter(t)
	cfg := Config{Key: "login", MaxAttempts: 1, Window: time.Minute}

	_, _ = l.Check(ctx, cfg)
	res, _ := l.Check(ctx, cfg)
	require.False(t, res.Allowed)

	require.NoError(t, l.Reset(ctx, cfg))
	res, err := l.Check(ctx, cfg)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestEntryTTLCoversBlock(t *testing.T) {
	now := time.Now()
	blocked := Entry{Blocked: true, BlockUntil: now.Add(2 * time.Hour)}
	assert.Equal(t, constants.RateLimitIdleTTL+2*time.Hour, ttl(blocked, now))
	assert.Equal(t, constants.RateLimitIdleTTL, ttl(Entry{}, now))
}

func TestPresetsAreDistinct(t *testing.T) {
	seen := map[string]bool{}
	for _, cfg := range Configs {
		assert.False(t, seen[cfg.Key])
		seen[cfg.Key] = true
		assert.Positive(t, cfg.MaxAttempts)
		assert.Positive(t, cfg.Window)
	}
	assert.Len(t, seen, 4)
}

func TestFingerprintIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "device-id")

	a, err := Fingerprint(path)
	require.NoError(t, err)
	b, err := Fingerprint(path)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	require.NoError(t, os.WriteFile(path, []byte("another-device\n"), 0o600))
	c, err := Fingerprint(path)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestRedisStore(t *testing.T) {
	addr := testenv.RedisAddr(t)
	ctx := context.Background()
	store := NewRedisStore(RedisConfig{Addr: addr}, nil)
	defer store.Close()
	require.NoError(t, store.Ping(ctx))

	c := &clock{now: time.Now()}
	l := New(store, WithClock(c.Now), WithIdentity("redis-test-"+time.Now().Format(time.RFC3339Nano)))
	cfg := Config{Key: "redis_test", MaxAttempts: 2, Window: time.Minute}
	defer func() { _ = l.Reset(ctx, cfg) }()

	for range 2 {
		res, err := l.Check(ctx, cfg)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := l.Check(ctx, cfg)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, errors.Is(res.Err(), constants.ErrRateLimited))
}
