package surreal

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/canvassync/internal/testenv"
	"github.com/surrealdb/canvassync/pkg/backend"
	"github.com/surrealdb/canvassync/pkg/constants"
)

func fixedNow() time.Time {
	return time.UnixMilli(1_700_000_000_000)
}

func TestWriteQueryReplacesSubtrees(t *testing.T) {
	query, vars, err := writeQuery(map[string]any{
		"users/u1/notes/n1": map[string]any{"content": "hi", "createdAt": backend.ServerTimestamp()},
		"users/u1/notes/n2": nil,
	}, fixedNow)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(query, "BEGIN TRANSACTION;"))
	assert.True(t, strings.HasSuffix(query, "COMMIT TRANSACTION;"))
	assert.Equal(t, 2, strings.Count(query, "string::starts_with"))
	assert.Contains(t, query, "INSERT INTO canvas_leaf $leaves;")

	assert.Equal(t, "users/u1/notes/n1", vars["p0"])
	assert.Equal(t, "users/u1/notes/n2/", vars["s1"])
	assert.Equal(t, []string{"users", "users/u1", "users/u1/notes"}, vars["ancestors"])

	rows := vars["leaves"].([]map[string]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "users/u1/notes/n1/content", rows[0]["path"])
	assert.Equal(t, "hi", rows[0]["value"])
	assert.Equal(t, "users/u1/notes/n1/createdAt", rows[1]["path"])
	assert.Equal(t, fixedNow().UnixMilli(), rows[1]["value"])
}

func TestWriteQueryDeleteOnly(t *testing.T) {
	query, vars, err := writeQuery(map[string]any{"a": nil}, fixedNow)
	require.NoError(t, err)
	assert.NotContains(t, query, "INSERT")
	assert.NotContains(t, vars, "leaves")
	assert.NotContains(t, vars, "ancestors")
}

func TestWriteQueryRoot(t *testing.T) {
	query, _, err := writeQuery(map[string]any{"": nil}, fixedNow)
	require.NoError(t, err)
	assert.Contains(t, query, "DELETE canvas_leaf;")
}

func TestWriteQueryRejectsInvalidPath(t *testing.T) {
	_, _, err := writeQuery(map[string]any{"a/$b": 1}, fixedNow)
	assert.ErrorIs(t, err, constants.ErrInvalidPath)
}

func TestReadQuery(t *testing.T) {
	q, vars := readQuery("")
	assert.Equal(t, "SELECT path, value FROM canvas_leaf", q)
	assert.Nil(t, vars)

	q, vars = readQuery("canvases/c1")
	assert.Contains(t, q, "WHERE path = $path")
	assert.Equal(t, "canvases/c1/", vars["prefix"])
}

func TestAssemble(t *testing.T) {
	v, err := assemble("canvases/c1", []leaf{
		{Path: "canvases/c1/meta/name", Value: "board"},
		{Path: "canvases/c1/notes/n1/zIndex", Value: uint64(3)},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"meta":  map[string]any{"name": "board"},
		"notes": map[string]any{"n1": map[string]any{"zIndex": int64(3)}},
	}, v)

	v, err = assemble("x", nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestNotificationPath(t *testing.T) {
	p, ok := notificationPath(map[string]any{"path": "a/b", "value": 1})
	assert.True(t, ok)
	assert.Equal(t, "a/b", p)

	p, ok = notificationPath(map[any]any{"path": "c"})
	assert.True(t, ok)
	assert.Equal(t, "c", p)

	_, ok = notificationPath("garbage")
	assert.False(t, ok)
}

func connectTest(t *testing.T) *Backend {
	t.Helper()
	url := testenv.SurrealURL(t)
	user, pass := testenv.SurrealCredentials()

	ctx := context.Background()
	b, err := Connect(ctx, Config{
		URL:       url,
		Namespace: "canvassync_test",
		Database:  t.Name(),
		Username:  user,
		Password:  pass,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, b.Write(ctx, "", nil))
	return b
}

func TestSurrealRoundTrip(t *testing.T) {
	b := connectTest(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "users/u1/notes")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.MultiPathWrite(ctx, map[string]any{
		"users/u1/notes/n1": map[string]any{"content": "hi", "zIndex": 1},
		"users/u1/viewport": map[string]any{"zoom": 1.5},
	}))

	snap, err := b.Read(ctx, "users/u1/notes/n1")
	require.NoError(t, err)
	assert.Equal(t, "hi", snap.Child("content").Value)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case s, ok := <-sub.C:
			require.True(t, ok)
			if s.Child("n1").Exists() {
				require.NoError(t, b.Write(ctx, "users/u1/notes/n1", nil))
				snap, err := b.Read(ctx, "users/u1/notes")
				require.NoError(t, err)
				assert.False(t, snap.Exists())
				return
			}
		case <-deadline:
			t.Fatal("live notification never arrived")
		}
	}
}

func TestSurrealOnDisconnectUnavailable(t *testing.T) {
	b := New(nil)
	assert.ErrorIs(t, b.OnDisconnect(context.Background(), "presence/c1/u1", nil), constants.ErrMethodNotAvailable)
}
