// Package collab manages shared canvases: creation, invite tokens, joining
// and participant administration. Role checks here are advisory; the
// backend is expected to enforce the same rules.
package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/surrealdb/canvassync/internal/rand"
	"github.com/surrealdb/canvassync/pkg/backend"
	"github.com/surrealdb/canvassync/pkg/constants"
	"github.com/surrealdb/canvassync/pkg/logger"
	"github.com/surrealdb/canvassync/pkg/models"
	"github.com/surrealdb/canvassync/pkg/paths"
	"github.com/surrealdb/canvassync/pkg/ratelimit"
)

const tokenIDLength = 32

// Service acts on behalf of one identity.
type Service struct {
	b       backend.Backend
	who     models.Identity
	secret  []byte
	limiter *ratelimit.Limiter
	now     func() time.Time
	log     logger.Logger
}

type Option func(*Service)

// WithLimiter rate limits invite generation and joins.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Service) {
		s.limiter = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// New returns a service for who. secret signs invite tokens and must be
// shared by every client that redeems them.
func New(b backend.Backend, who models.Identity, secret []byte, opts ...Option) *Service {
	s := &Service{b: b, who: who, secret: secret, now: time.Now, log: logger.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) identity() (string, error) {
	if s.who.UserID == "" {
		return "", constants.ErrNoIdentity
	}
	return s.who.UserID, nil
}

func (s *Service) limit(ctx context.Context, cfg ratelimit.Config) error {
	if s.limiter == nil {
		return nil
	}
	res, err := s.limiter.Check(ctx, cfg)
	if err != nil {
		return err
	}
	return res.Err()
}

// CreateSharedSession creates a canvas owned by the caller, seeded with
// seed, and returns its id. Everything is written in one atomic update.
func (s *Service) CreateSharedSession(ctx context.Context, name string, seed models.CollectionSnapshot) (string, error) {
	uid, err := s.identity()
	if err != nil {
		return "", err
	}
	cid := uuid.NewString()
	now := models.Millis(s.now())
	root := paths.Canvas(cid)

	updates := map[string]any{
		paths.Meta(cid): models.CanvasMeta{ID: cid, Name: name, OwnerID: uid, CreatedAt: now, UpdatedAt: now},
		paths.Participant(cid, uid): models.Participant{
			UserID:       uid,
			Role:         models.RoleOwner,
			DisplayName:  s.who.DisplayName,
			Color:        models.PaletteColor(0),
			JoinedAt:     now,
			LastActiveAt: now,
		},
		paths.UserCanvas(uid, cid): string(models.RoleOwner),
	}
	for _, kind := range models.Kinds {
		for id, e := range seed.Get(kind) {
			if id == "" {
				id = s.b.NewKey()
			}
			e.ID, e.Kind = id, kind
			if err := e.Validate(); err != nil {
				return "", err
			}
			updates[paths.Entity(root, kind, id)] = e.Normalize()
		}
	}

	if err := s.b.MultiPathWrite(ctx, updates); err != nil {
		return "", fmt.Errorf("create canvas: %w", err)
	}
	s.log.Info("collab: canvas created", "canvas", cid, "owner", uid, "entities", seed.Len())
	return cid, nil
}

func (s *Service) meta(ctx context.Context, cid string) (models.CanvasMeta, error) {
	snap, err := s.b.Read(ctx, paths.Meta(cid))
	if err != nil {
		return models.CanvasMeta{}, err
	}
	if !snap.Exists() {
		return models.CanvasMeta{}, fmt.Errorf("%w: canvas %s", constants.ErrNotFound, cid)
	}
	var meta models.CanvasMeta
	if err := snap.Decode(&meta); err != nil {
		return models.CanvasMeta{}, err
	}
	return meta, nil
}

// requireOwner loads the canvas meta and fails unless the caller owns it.
func (s *Service) requireOwner(ctx context.Context, cid string) (models.CanvasMeta, error) {
	uid, err := s.identity()
	if err != nil {
		return models.CanvasMeta{}, err
	}
	meta, err := s.meta(ctx, cid)
	if err != nil {
		return models.CanvasMeta{}, err
	}
	if meta.OwnerID != uid {
		return models.CanvasMeta{}, fmt.Errorf("%w: only the owner of %s may do this", constants.ErrPermissionDenied, cid)
	}
	return meta, nil
}

// Participants returns the participants of a canvas keyed by user id.
func (s *Service) Participants(ctx context.Context, cid string) (map[string]models.Participant, error) {
	snap, err := s.b.Read(ctx, paths.Participants(cid))
	if err != nil {
		return nil, err
	}
	out := map[string]models.Participant{}
	if err := snap.Decode(&out); err != nil {
		return nil, err
	}
	for id, p := range out {
		if p.UserID == "" {
			p.UserID = id
			out[id] = p
		}
	}
	return out, nil
}

// GenerateInviteToken issues a single use invite granting role on cid.
// A ttl of zero uses constants.DefaultInviteTTL.
func (s *Service) GenerateInviteToken(ctx context.Context, cid string, role models.Role, ttl time.Duration) (string, error) {
	if role != models.RoleEditor && role != models.RoleViewer {
		return "", fmt.Errorf("%w: cannot invite as %q", constants.ErrPermissionDenied, role)
	}
	if _, err := s.requireOwner(ctx, cid); err != nil {
		return "", err
	}
	if err := s.limit(ctx, ratelimit.ShareTokenGeneration); err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = constants.DefaultInviteTTL
	}

	jti, err := rand.NewSecureID(tokenIDLength)
	if err != nil {
		return "", err
	}
	now := s.now()
	inv := Invite{ID: jti, CanvasID: cid, Role: role, CreatedBy: s.who.UserID, ExpiresAt: now.Add(ttl)}
	raw, err := s.signInvite(inv, now)
	if err != nil {
		return "", err
	}

	rec := models.ShareToken{
		Token:     jti,
		CanvasID:  cid,
		Role:      role,
		CreatedBy: s.who.UserID,
		CreatedAt: models.Millis(now),
		ExpiresAt: models.Millis(inv.ExpiresAt),
	}
	if err := s.b.Write(ctx, paths.ShareToken(jti), rec); err != nil {
		return "", fmt.Errorf("store invite: %w", err)
	}
	s.log.Debug("collab: invite issued", "canvas", cid, "role", role, "expires", inv.ExpiresAt)
	return raw, nil
}

// JoinSession redeems an invite and returns the canvas id. Failures leave
// the canvas untouched. A used token fails with constants.ErrTokenUsed,
// whoever redeemed it. A caller who already participates and presents an
// unused token gets the canvas id back and the token stays unused.
//
// Reading the token and marking it used are two steps; two clients
// redeeming the same token at the same instant may both succeed unless the
// backend rules reject the second write.
func (s *Service) JoinSession(ctx context.Context, raw string) (string, error) {
	uid, err := s.identity()
	if err != nil {
		return "", err
	}
	if err := s.limit(ctx, ratelimit.CanvasJoin); err != nil {
		return "", err
	}
	inv, err := s.ParseInvite(raw)
	if err != nil {
		return "", err
	}

	snap, err := s.b.Read(ctx, paths.ShareToken(inv.ID))
	if err != nil {
		return "", err
	}
	if !snap.Exists() {
		return "", fmt.Errorf("%w: unknown token", constants.ErrTokenInvalid)
	}
	var rec models.ShareToken
	if err := snap.Decode(&rec); err != nil {
		return "", fmt.Errorf("%w: %v", constants.ErrTokenInvalid, err)
	}
	if rec.CanvasID != inv.CanvasID || rec.Role != inv.Role {
		return "", fmt.Errorf("%w: token does not match its record", constants.ErrTokenInvalid)
	}
	if rec.ExpiresAt > 0 && models.Millis(s.now()) >= rec.ExpiresAt {
		return "", constants.ErrTokenExpired
	}

	if rec.Used {
		return "", constants.ErrTokenUsed
	}

	parts, err := s.Participants(ctx, inv.CanvasID)
	if err != nil {
		return "", err
	}
	if p, ok := parts[uid]; ok && p.Role.Valid() {
		return inv.CanvasID, nil
	}

	now := models.Millis(s.now())
	tok := paths.ShareToken(inv.ID)
	err = s.b.MultiPathWrite(ctx, map[string]any{
		backend.Join(tok, "used"):   true,
		backend.Join(tok, "usedBy"): uid,
		backend.Join(tok, "usedAt"): now,
		paths.Participant(inv.CanvasID, uid): models.Participant{
			UserID:       uid,
			Role:         inv.Role,
			DisplayName:  s.who.DisplayName,
			Color:        models.PaletteColor(countMembers(parts)),
			JoinedAt:     now,
			LastActiveAt: now,
		},
		paths.UserCanvas(uid, inv.CanvasID): string(inv.Role),
	})
	if err != nil {
		return "", fmt.Errorf("join canvas: %w", err)
	}
	s.log.Info("collab: joined canvas", "canvas", inv.CanvasID, "user", uid, "role", inv.Role)
	return inv.CanvasID, nil
}

// countMembers skips records left behind by presence writes alone.
func countMembers(parts map[string]models.Participant) int {
	n := 0
	for _, p := range parts {
		if p.Role.Valid() {
			n++
		}
	}
	return n
}

// SetParticipantRole changes a participant's role. Owner only; the
// owner's own role cannot change and nobody can be made owner.
func (s *Service) SetParticipantRole(ctx context.Context, cid, participantID string, role models.Role) error {
	if role != models.RoleEditor && role != models.RoleViewer {
		return fmt.Errorf("%w: cannot assign %q", constants.ErrPermissionDenied, role)
	}
	meta, err := s.requireOwner(ctx, cid)
	if err != nil {
		return err
	}
	if participantID == meta.OwnerID {
		return fmt.Errorf("%w: the owner's role is fixed", constants.ErrPermissionDenied)
	}
	parts, err := s.Participants(ctx, cid)
	if err != nil {
		return err
	}
	if p, ok := parts[participantID]; !ok || !p.Role.Valid() {
		return fmt.Errorf("%w: participant %s", constants.ErrNotFound, participantID)
	}
	return s.b.MultiPathWrite(ctx, map[string]any{
		backend.Join(paths.Participant(cid, participantID), "role"): string(role),
		paths.UserCanvas(participantID, cid):                        string(role),
	})
}

// RemoveParticipant drops a participant and their presence. Owner only;
// the owner cannot be removed.
func (s *Service) RemoveParticipant(ctx context.Context, cid, participantID string) error {
	meta, err := s.requireOwner(ctx, cid)
	if err != nil {
		return err
	}
	if participantID == meta.OwnerID {
		return fmt.Errorf("%w: the owner cannot be removed", constants.ErrPermissionDenied)
	}
	return s.b.MultiPathWrite(ctx, map[string]any{
		paths.Participant(cid, participantID): nil,
		paths.PresenceOf(cid, participantID):  nil,
		paths.UserCanvas(participantID, cid):  nil,
	})
}

// Canvases lists the shared canvases the caller belongs to, with the role
// recorded at join time.
func (s *Service) Canvases(ctx context.Context) (map[string]models.Role, error) {
	uid, err := s.identity()
	if err != nil {
		return nil, err
	}
	snap, err := s.b.Read(ctx, backend.Join(paths.User(uid), "sharedCanvases"))
	if err != nil {
		return nil, err
	}
	out := map[string]models.Role{}
	if err := snap.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
