package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/canvassync/pkg/backend"
	"github.com/surrealdb/canvassync/pkg/constants"
)

func next(t *testing.T, sub *backend.Subscription) backend.Snapshot {
	t.Helper()
	select {
	case s, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for snapshot")
	}
	return backend.Snapshot{}
}

// waitFor drains the subscription until cond holds on a snapshot.
func waitFor(t *testing.T, sub *backend.Subscription, cond func(backend.Snapshot) bool) backend.Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s, ok := <-sub.C:
			require.True(t, ok, "subscription closed")
			if cond(s) {
				return s
			}
		case <-deadline:
			t.Fatal("condition never met")
		}
	}
}

func TestSubscribeDeliversInitialAndChanges(t *testing.T) {
	ctx := context.Background()
	srv := NewServer()
	a, b := srv.Connect(), srv.Connect()
	defer a.Close()
	defer b.Close()

	sub, err := a.Subscribe(ctx, "canvas/notes")
	require.NoError(t, err)
	defer sub.Close()

	first := next(t, sub)
	assert.False(t, first.Exists())

	require.NoError(t, b.Write(ctx, "canvas/notes/n1", map[string]any{"content": "hi"}))
	s := waitFor(t, sub, func(s backend.Snapshot) bool { return s.Exists() })
	assert.Equal(t, map[string]any{"n1": map[string]any{"content": "hi"}}, s.Value)

	require.NoError(t, b.Write(ctx, "canvas", nil))
	waitFor(t, sub, func(s backend.Snapshot) bool { return !s.Exists() })
}

func TestUnrelatedWritesDoNotNotify(t *testing.T) {
	ctx := context.Background()
	srv := NewServer()
	c := srv.Connect()
	defer c.Close()

	sub, err := c.Subscribe(ctx, "a/notes")
	require.NoError(t, err)
	defer sub.Close()
	next(t, sub)

	require.NoError(t, c.Write(ctx, "a/images/x", 1))
	select {
	case s := <-sub.C:
		t.Fatalf("unexpected snapshot %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMultiPathWriteIsAtomic(t *testing.T) {
	ctx := context.Background()
	srv := NewServer()
	c := srv.Connect()
	defer c.Close()

	require.NoError(t, c.MultiPathWrite(ctx, map[string]any{
		"c/notes/a": map[string]any{"x": 1},
		"c/notes/b": map[string]any{"x": 2},
	}))
	assert.Len(t, srv.Get("c/notes"), 2)

	err := c.MultiPathWrite(ctx, map[string]any{
		"c/notes/a": nil,
		"c/bad#":    1,
	})
	assert.ErrorIs(t, err, constants.ErrInvalidPath)
	assert.Len(t, srv.Get("c/notes"), 2)
}

func TestStubInjectsFailure(t *testing.T) {
	ctx := context.Background()
	srv := NewServer()
	c := srv.Connect()
	defer c.Close()

	boom := errors.New("permission denied by rules")
	srv.Stub(Stub{Matcher: MatchPathPrefix(MethodWrite, "locked"), Err: boom, Times: 1})

	assert.ErrorIs(t, c.Write(ctx, "locked/a", 1), boom)
	assert.Nil(t, srv.Get("locked/a"))
	require.NoError(t, c.Write(ctx, "locked/a", 1))
	require.NoError(t, c.Write(ctx, "open/a", 1))
}

func TestStubDelayHonorsContext(t *testing.T) {
	srv := NewServer()
	c := srv.Connect()
	defer c.Close()
	srv.Stub(Stub{Matcher: MatchMethod(MethodUpdate), Delay: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.MultiPathWrite(ctx, map[string]any{"a": 1, "b": 2})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDropFiresDisconnectHook(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	srv := NewServer(WithClock(func() time.Time { return now }))

	owner := srv.Connect()
	watcher := srv.Connect()
	defer watcher.Close()

	require.NoError(t, owner.Write(ctx, "presence/u1", map[string]any{"isOnline": true}))
	require.NoError(t, owner.OnDisconnect(ctx, "presence/u1", map[string]any{
		"isOnline":     false,
		"lastActiveAt": backend.ServerTimestamp(),
	}))

	sub, err := watcher.Subscribe(ctx, "presence/u1")
	require.NoError(t, err)
	defer sub.Close()
	next(t, sub)

	ownerSub, err := owner.Subscribe(ctx, "presence")
	require.NoError(t, err)

	require.NoError(t, owner.Drop())

	s := waitFor(t, sub, func(s backend.Snapshot) bool {
		return s.Child("isOnline").Value == false
	})
	assert.Equal(t, now.UnixMilli(), s.Child("lastActiveAt").Value)

	for range ownerSub.C {
	}
	assert.ErrorIs(t, owner.Write(ctx, "x", 1), constants.ErrClosed)
	assert.Equal(t, 1, srv.Subscribers())
}

func TestCancelOnDisconnect(t *testing.T) {
	ctx := context.Background()
	srv := NewServer()
	c := srv.Connect()

	require.NoError(t, c.OnDisconnect(ctx, "p/u1", map[string]any{"isOnline": false}))
	c.CancelOnDisconnect("p/u1")
	require.NoError(t, c.Close())
	assert.Nil(t, srv.Get("p/u1"))
}

func TestSubscribeRacingDrop(t *testing.T) {
	srv := NewServer()
	conn := srv.Connect()
	srv.Stub(Stub{Matcher: MatchMethod(MethodSubscribe), Delay: 50 * time.Millisecond, Times: 1})

	done := make(chan error, 1)
	go func() {
		_, err := conn.Subscribe(context.Background(), "users/u1")
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, conn.Drop())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, constants.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not return")
	}
	assert.Zero(t, srv.Subscribers())
}
