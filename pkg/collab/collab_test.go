package collab

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/canvassync/pkg/backend/memory"
	"github.com/surrealdb/canvassync/pkg/constants"
	"github.com/surrealdb/canvassync/pkg/models"
	"github.com/surrealdb/canvassync/pkg/paths"
	"github.com/surrealdb/canvassync/pkg/ratelimit"
)

var secret = []byte("test-secret")

type fixture struct {
	srv   *memory.Server
	owner *Service
	cid   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	srv := memory.NewServer()
	owner := New(srv.Connect(), models.Identity{UserID: "owner", DisplayName: "Olga"}, secret)

	seed := models.EmptySnapshot().With(models.KindNote, models.Collection{
		"n1": {ID: "n1", Content: "hello", ZIndex: 1},
	})
	cid, err := owner.CreateSharedSession(context.Background(), "board", seed)
	require.NoError(t, err)
	return fixture{srv: srv, owner: owner, cid: cid}
}

func (f fixture) join(t *testing.T, uid string) *Service {
	t.Helper()
	return New(f.srv.Connect(), models.Identity{UserID: uid, DisplayName: uid}, secret)
}

func TestCreateSharedSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	meta, err := f.owner.meta(ctx, f.cid)
	require.NoError(t, err)
	assert.Equal(t, "board", meta.Name)
	assert.Equal(t, "owner", meta.OwnerID)

	parts, err := f.owner.Participants(ctx, f.cid)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, models.RoleOwner, parts["owner"].Role)
	assert.Equal(t, models.Palette[0], parts["owner"].Color)

	note := f.srv.Get(paths.Entity(paths.Canvas(f.cid), models.KindNote, "n1")).(map[string]any)
	assert.Equal(t, "hello", note["content"])
	assert.Equal(t, 240.0, note["width"])

	canvases, err := f.owner.Canvases(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]models.Role{f.cid: models.RoleOwner}, canvases)

	_, err = New(f.srv.Connect(), models.Identity{}, secret).CreateSharedSession(ctx, "x", models.EmptySnapshot())
	assert.ErrorIs(t, err, constants.ErrNoIdentity)
}

func TestJoinSessionConsumesTokenOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tok, err := f.owner.GenerateInviteToken(ctx, f.cid, models.RoleEditor, 0)
	require.NoError(t, err)

	alice := f.join(t, "alice")
	cid, err := alice.JoinSession(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, f.cid, cid)

	_, err = alice.JoinSession(ctx, tok)
	assert.ErrorIs(t, err, constants.ErrTokenUsed, "the redeemer cannot reuse the token either")

	_, err = f.join(t, "bob").JoinSession(ctx, tok)
	assert.ErrorIs(t, err, constants.ErrTokenUsed)

	parts, err := f.owner.Participants(ctx, f.cid)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, models.RoleEditor, parts["alice"].Role)
	assert.Equal(t, models.Palette[1], parts["alice"].Color)

	inv, err := f.owner.ParseInvite(tok)
	require.NoError(t, err)
	assert.Equal(t, true, f.srv.Get(paths.ShareToken(inv.ID)+"/used"))
	assert.Equal(t, "alice", f.srv.Get(paths.ShareToken(inv.ID)+"/usedBy"))

	fresh, err := f.owner.GenerateInviteToken(ctx, f.cid, models.RoleViewer, 0)
	require.NoError(t, err)
	cid, err = alice.JoinSession(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, f.cid, cid)
	freshInv, err := f.owner.ParseInvite(fresh)
	require.NoError(t, err)
	assert.NotEqual(t, true, f.srv.Get(paths.ShareToken(freshInv.ID)+"/used"), "a participant does not consume a fresh token")

	parts, err = f.owner.Participants(ctx, f.cid)
	require.NoError(t, err)
	assert.Len(t, parts, 2)
	assert.Equal(t, models.RoleEditor, parts["alice"].Role)
}

func TestJoinSessionRejectsBadTokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bob := f.join(t, "bob")

	_, err := bob.JoinSession(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, constants.ErrTokenMalformed)

	forged, err := New(f.srv.Connect(), models.Identity{UserID: "owner"}, []byte("other"), WithClock(time.Now)).
		signInvite(Invite{ID: "x", CanvasID: f.cid, Role: models.RoleEditor, ExpiresAt: time.Now().Add(time.Hour)}, time.Now())
	require.NoError(t, err)
	_, err = bob.JoinSession(ctx, forged)
	assert.ErrorIs(t, err, constants.ErrTokenInvalid)

	// signed correctly but never recorded
	unknown, err := f.owner.signInvite(Invite{ID: "ghost", CanvasID: f.cid, Role: models.RoleEditor, ExpiresAt: time.Now().Add(time.Hour)}, time.Now())
	require.NoError(t, err)
	_, err = bob.JoinSession(ctx, unknown)
	assert.ErrorIs(t, err, constants.ErrTokenInvalid)

	tok, err := f.owner.GenerateInviteToken(ctx, f.cid, models.RoleViewer, time.Hour)
	require.NoError(t, err)
	late := New(f.srv.Connect(), models.Identity{UserID: "bob"}, secret, WithClock(func() time.Time {
		return time.Now().Add(2 * time.Hour)
	}))
	_, err = late.JoinSession(ctx, tok)
	assert.ErrorIs(t, err, constants.ErrTokenExpired)

	parts, err := f.owner.Participants(ctx, f.cid)
	require.NoError(t, err)
	assert.Len(t, parts, 1)
}

func TestParseInviteRejectsOtherAlgorithms(t *testing.T) {
	f := newFixture(t)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, inviteClaims{
		CanvasID: f.cid,
		Role:     models.RoleEditor,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "x",
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = f.owner.ParseInvite(raw)
	assert.ErrorIs(t, err, constants.ErrTokenInvalid)
}

func TestOnlyOwnerAdministers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tok, err := f.owner.GenerateInviteToken(ctx, f.cid, models.RoleEditor, 0)
	require.NoError(t, err)
	alice := f.join(t, "alice")
	_, err = alice.JoinSession(ctx, tok)
	require.NoError(t, err)

	_, err = alice.GenerateInviteToken(ctx, f.cid, models.RoleViewer, 0)
	assert.ErrorIs(t, err, constants.ErrPermissionDenied)
	assert.ErrorIs(t, alice.SetParticipantRole(ctx, f.cid, "alice", models.RoleViewer), constants.ErrPermissionDenied)
	assert.ErrorIs(t, alice.RemoveParticipant(ctx, f.cid, "owner"), constants.ErrPermissionDenied)

	_, err = f.owner.GenerateInviteToken(ctx, f.cid, models.RoleOwner, 0)
	assert.ErrorIs(t, err, constants.ErrPermissionDenied)
	assert.ErrorIs(t, f.owner.SetParticipantRole(ctx, f.cid, "owner", models.RoleViewer), constants.ErrPermissionDenied)
	assert.ErrorIs(t, f.owner.RemoveParticipant(ctx, f.cid, "owner"), constants.ErrPermissionDenied)
	assert.ErrorIs(t, f.owner.SetParticipantRole(ctx, f.cid, "nobody", models.RoleViewer), constants.ErrNotFound)

	require.NoError(t, f.owner.SetParticipantRole(ctx, f.cid, "alice", models.RoleViewer))
	parts, err := f.owner.Participants(ctx, f.cid)
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, parts["alice"].Role)

	require.NoError(t, f.owner.RemoveParticipant(ctx, f.cid, "alice"))
	parts, err = f.owner.Participants(ctx, f.cid)
	require.NoError(t, err)
	assert.NotContains(t, parts, "alice")

	canvases, err := alice.Canvases(ctx)
	require.NoError(t, err)
	assert.Empty(t, canvases)
}

func TestInviteGenerationIsRateLimited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	limited := New(f.srv.Connect(), models.Identity{UserID: "owner"}, secret, WithLimiter(ratelimit.New(nil)))

	for i := 0; i < ratelimit.ShareTokenGeneration.MaxAttempts; i++ {
		_, err := limited.GenerateInviteToken(ctx, f.cid, models.RoleViewer, 0)
		require.NoError(t, err)
	}
	_, err := limited.GenerateInviteToken(ctx, f.cid, models.RoleViewer, 0)
	require.ErrorIs(t, err, constants.ErrRateLimited)
	wait, ok := ratelimit.RetryAfter(err)
	assert.True(t, ok)
	assert.Greater(t, wait, time.Duration(0))
}
