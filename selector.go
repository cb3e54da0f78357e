package canvassync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/surrealdb/canvassync/pkg/assets"
	"github.com/surrealdb/canvassync/pkg/backend"
	"github.com/surrealdb/canvassync/pkg/collab"
	"github.com/surrealdb/canvassync/pkg/constants"
	"github.com/surrealdb/canvassync/pkg/localcache"
	"github.com/surrealdb/canvassync/pkg/logger"
	"github.com/surrealdb/canvassync/pkg/models"
	"github.com/surrealdb/canvassync/pkg/ratelimit"
	"github.com/surrealdb/canvassync/pkg/session"
)

var errNoSession = fmt.Errorf("%w: no active session", constants.ErrClosed)

// Selector is the single entry point of the rendering layer. It holds one
// active session store and forwards every call to it.
type Selector struct {
	b           backend.Backend
	cache       localcache.Cache
	limiter     *ratelimit.Limiter
	// ownsLimiter is set when New created the limiter; Close stops it.
	ownsLimiter bool
	assets      assets.Store
	secret      []byte
	log         logger.Logger
	now         func() time.Time
	sessOpts    []session.Option
	events      chan session.Event

	switching atomic.Bool

	mu            sync.RWMutex
	active        session.Store
	who           models.Identity
	authenticated bool
	sharedID      string
}

type Option func(*Selector)

// WithBackend enables remote and shared sessions.
func WithBackend(b backend.Backend) Option {
	return func(s *Selector) {
		s.b = b
	}
}

// WithCache sets the storage of local sessions and the warm start cache of
// remote ones.
func WithCache(c localcache.Cache) Option {
	return func(s *Selector) {
		s.cache = c
	}
}

// WithLimiter rate limits collaboration calls and backs CheckRateLimit.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Selector) {
		s.limiter = l
	}
}

func WithAssets(a assets.Store) Option {
	return func(s *Selector) {
		s.assets = a
	}
}

// WithInviteSecret sets the key signing invite tokens.
func WithInviteSecret(secret []byte) Option {
	return func(s *Selector) {
		s.secret = secret
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Selector) {
		s.log = logger.OrDiscard(l)
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Selector) {
		s.now = now
	}
}

// WithSessionOptions is applied to every store the selector builds.
func WithSessionOptions(opts ...session.Option) Option {
	return func(s *Selector) {
		s.sessOpts = append(s.sessOpts, opts...)
	}
}

// New returns a selector with no active session. Call Sync to start one.
func New(opts ...Option) *Selector {
	s := &Selector{
		cache:  localcache.Nop{},
		log:    logger.Discard(),
		now:    time.Now,
		events: make(chan session.Event, constants.EventBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = ratelimit.New(nil, ratelimit.WithClock(s.now), ratelimit.WithLogger(s.log))
		s.ownsLimiter = true
	}
	return s
}

// Events carries the outcome of every store the selector ran.
func (s *Selector) Events() <-chan session.Event {
	return s.events
}

// Sync selects the store for the given signals: shared when sharedID is
// set, remote when the caller is authenticated, local otherwise. Nothing
// happens when the selection did not change. Concurrent calls fail with
// constants.ErrSwitchInProgress.
//
// When the chosen store fails to start, the selector falls back to a local
// store and returns the start error.
func (s *Selector) Sync(ctx context.Context, who models.Identity, authenticated bool, sharedID string) error {
	if !s.switching.CompareAndSwap(false, true) {
		return constants.ErrSwitchInProgress
	}
	defer s.switching.Store(false)
	return s.sync(ctx, who, authenticated, sharedID)
}

func (s *Selector) choose(who models.Identity, authenticated bool, sharedID string) session.Mode {
	switch {
	case s.b == nil || who.UserID == "":
		return session.ModeLocal
	case sharedID != "":
		return session.ModeShared
	case authenticated:
		return session.ModeRemote
	default:
		return session.ModeLocal
	}
}

func (s *Selector) sync(ctx context.Context, who models.Identity, authenticated bool, sharedID string) error {
	mode := s.choose(who, authenticated, sharedID)
	if mode != session.ModeShared {
		sharedID = ""
	}

	s.mu.RLock()
	same := s.active != nil &&
		s.active.Mode() == mode &&
		s.who.UserID == who.UserID &&
		s.sharedID == sharedID &&
		(mode != session.ModeLocal || s.authenticated == authenticated)
	s.mu.RUnlock()
	if same {
		s.mu.Lock()
		s.who = who
		s.mu.Unlock()
		return nil
	}

	s.teardown(ctx)

	next := s.build(mode, who.UserID, sharedID)
	if err := next.Start(ctx); err != nil {
		s.log.Error("canvassync: session failed to start, falling back to local", "mode", mode, "error", err)
		_ = next.Close(ctx)
		local := s.build(session.ModeLocal, who.UserID, "")
		if lerr := local.Start(ctx); lerr != nil {
			return errors.Join(err, lerr)
		}
		s.install(local, who, authenticated, "")
		return fmt.Errorf("start %s session: %w", mode, err)
	}

	s.install(next, who, authenticated, sharedID)
	s.log.Info("canvassync: session active", "mode", mode, "user", who.String(), "canvas", sharedID)
	return nil
}

// teardown closes the active store, which ends its subscriptions, before
// anything else may start.
func (s *Selector) teardown(ctx context.Context) {
	s.mu.Lock()
	old := s.active
	s.active = nil
	s.mu.Unlock()

	if old == nil {
		return
	}
	if err := old.Close(ctx); err != nil {
		s.log.Warn("canvassync: previous session closed with error", "mode", old.Mode(), "error", err)
	}
}

func (s *Selector) install(st session.Store, who models.Identity, authenticated bool, sharedID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = st
	s.who = who
	s.authenticated = authenticated
	s.sharedID = sharedID
}

func (s *Selector) build(mode session.Mode, uid, sharedID string) session.Store {
	opts := append([]session.Option{
		session.WithLogger(s.log),
		session.WithClock(s.now),
		session.WithCache(s.cache),
		session.WithEvents(s.events),
	}, s.sessOpts...)

	switch mode {
	case session.ModeShared:
		return session.NewShared(s.b, sharedID, uid, opts...)
	case session.ModeRemote:
		return session.NewRemote(s.b, uid, opts...)
	default:
		return session.NewLocal(localKey(uid), opts...)
	}
}

func localKey(uid string) string {
	if uid == "" {
		return "local:guest"
	}
	return "local:" + uid
}

func (s *Selector) store() (session.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil, errNoSession
	}
	return s.active, nil
}

// Mode is the mode of the active store, empty when there is none.
func (s *Selector) Mode() session.Mode {
	st, err := s.store()
	if err != nil {
		return ""
	}
	return st.Mode()
}

// State returns the active store's state, the zero State when there is none.
func (s *Selector) State() session.State {
	st, err := s.store()
	if err != nil {
		return session.State{}
	}
	return st.State()
}

func (s *Selector) AddEntity(kind models.Kind, init models.Entity) (models.Entity, error) {
	st, err := s.store()
	if err != nil {
		return models.Entity{}, err
	}
	return st.AddEntity(kind, init)
}

func (s *Selector) UpdateEntity(kind models.Kind, id string, patch models.Patch) error {
	st, err := s.store()
	if err != nil {
		return err
	}
	return st.UpdateEntity(kind, id, patch)
}

func (s *Selector) DeleteEntity(kind models.Kind, id string) error {
	st, err := s.store()
	if err != nil {
		return err
	}
	return st.DeleteEntity(kind, id)
}

func (s *Selector) SelectEntity(kind models.Kind, id string) error {
	st, err := s.store()
	if err != nil {
		return err
	}
	return st.SelectEntity(kind, id)
}

func (s *Selector) SetViewport(v models.Viewport) error {
	st, err := s.store()
	if err != nil {
		return err
	}
	return st.SetViewport(v)
}

func (s *Selector) ClearAll() error {
	st, err := s.store()
	if err != nil {
		return err
	}
	return st.Clear()
}

func (s *Selector) Undo() bool {
	st, err := s.store()
	return err == nil && st.Undo()
}

func (s *Selector) Redo() bool {
	st, err := s.store()
	return err == nil && st.Redo()
}

func (s *Selector) CanUndo() bool {
	st, err := s.store()
	return err == nil && st.CanUndo()
}

func (s *Selector) CanRedo() bool {
	st, err := s.store()
	return err == nil && st.CanRedo()
}

// AddAsset uploads an image or file and places its entity at p. Invalid
// assets are rejected before anything is uploaded.
func (s *Selector) AddAsset(ctx context.Context, kind models.Kind, u assets.Upload, p models.Point) (models.Entity, error) {
	if s.assets == nil {
		return models.Entity{}, fmt.Errorf("%w: no asset store configured", constants.ErrMethodNotAvailable)
	}
	if err := assets.Validate(kind, u.Size, u.MimeType); err != nil {
		return models.Entity{}, err
	}
	st, err := s.store()
	if err != nil {
		return models.Entity{}, err
	}
	url, err := s.assets.Upload(ctx, kind, u)
	if err != nil {
		return models.Entity{}, err
	}
	return st.AddEntity(kind, assets.Entity(kind, u, url, p))
}

// UpdateCursor publishes the caller's cursor on the shared canvas.
func (s *Selector) UpdateCursor(ctx context.Context, p *models.Point) error {
	st, err := s.store()
	if err != nil {
		return err
	}
	shared, ok := st.(*session.Shared)
	if !ok {
		return constants.ErrNoSharedSession
	}
	return shared.UpdateCursor(ctx, p)
}

// CheckRateLimit counts one attempt of cfg for this client.
func (s *Selector) CheckRateLimit(ctx context.Context, cfg ratelimit.Config) (ratelimit.Result, error) {
	return s.limiter.Check(ctx, cfg)
}

func (s *Selector) collab() (*collab.Service, models.Identity, error) {
	if s.b == nil {
		return nil, models.Identity{}, fmt.Errorf("%w: collaboration needs a backend", constants.ErrMethodNotAvailable)
	}
	s.mu.RLock()
	who := s.who
	s.mu.RUnlock()
	svc := collab.New(s.b, who, s.secret,
		collab.WithLimiter(s.limiter),
		collab.WithClock(s.now),
		collab.WithLogger(s.log),
	)
	return svc, who, nil
}

// sharedCanvas returns the id of the active shared canvas.
func (s *Selector) sharedCanvas() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil || s.sharedID == "" {
		return "", constants.ErrNoSharedSession
	}
	return s.sharedID, nil
}

// CreateSharedSession creates a canvas seeded with the current canvas and
// switches to it.
func (s *Selector) CreateSharedSession(ctx context.Context, name string) (string, error) {
	if !s.switching.CompareAndSwap(false, true) {
		return "", constants.ErrSwitchInProgress
	}
	defer s.switching.Store(false)

	svc, who, err := s.collab()
	if err != nil {
		return "", err
	}
	seed := s.State().Snapshot()
	cid, err := svc.CreateSharedSession(ctx, name, seed)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	authenticated := s.authenticated
	s.mu.RUnlock()
	if err := s.sync(ctx, who, authenticated, cid); err != nil {
		return cid, err
	}
	return cid, nil
}

// GenerateInviteToken issues an invite to the active shared canvas.
func (s *Selector) GenerateInviteToken(ctx context.Context, role models.Role, ttl time.Duration) (string, error) {
	cid, err := s.sharedCanvas()
	if err != nil {
		return "", err
	}
	svc, _, err := s.collab()
	if err != nil {
		return "", err
	}
	return svc.GenerateInviteToken(ctx, cid, role, ttl)
}

// JoinSession redeems an invite and switches to its canvas. A failed join
// leaves the active session untouched.
func (s *Selector) JoinSession(ctx context.Context, token string) (string, error) {
	if !s.switching.CompareAndSwap(false, true) {
		return "", constants.ErrSwitchInProgress
	}
	defer s.switching.Store(false)

	svc, who, err := s.collab()
	if err != nil {
		return "", err
	}
	cid, err := svc.JoinSession(ctx, token)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	authenticated := s.authenticated
	s.mu.RUnlock()
	if err := s.sync(ctx, who, authenticated, cid); err != nil {
		return cid, err
	}
	return cid, nil
}

// LeaveSession returns to the caller's own canvas.
func (s *Selector) LeaveSession(ctx context.Context) error {
	if _, err := s.sharedCanvas(); err != nil {
		return err
	}
	s.mu.RLock()
	who, authenticated := s.who, s.authenticated
	s.mu.RUnlock()
	return s.Sync(ctx, who, authenticated, "")
}

func (s *Selector) SetParticipantRole(ctx context.Context, participantID string, role models.Role) error {
	cid, err := s.sharedCanvas()
	if err != nil {
		return err
	}
	svc, _, err := s.collab()
	if err != nil {
		return err
	}
	return svc.SetParticipantRole(ctx, cid, participantID, role)
}

func (s *Selector) RemoveParticipant(ctx context.Context, participantID string) error {
	cid, err := s.sharedCanvas()
	if err != nil {
		return err
	}
	svc, _, err := s.collab()
	if err != nil {
		return err
	}
	return svc.RemoveParticipant(ctx, cid, participantID)
}

// Close closes the active store. The selector can be started again with Sync.
func (s *Selector) Close(ctx context.Context) error {
	if !s.switching.CompareAndSwap(false, true) {
		return constants.ErrSwitchInProgress
	}
	defer s.switching.Store(false)

	s.mu.Lock()
	old := s.active
	s.active = nil
	s.sharedID = ""
	s.mu.Unlock()

	var errs []error
	if old != nil {
		errs = append(errs, old.Close(ctx))
	}
	if s.ownsLimiter {
		errs = append(errs, s.limiter.Close())
	}
	return errors.Join(errs...)
}
