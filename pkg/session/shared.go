package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/surrealdb/canvassync/pkg/backend"
	"github.com/surrealdb/canvassync/pkg/constants"
	"github.com/surrealdb/canvassync/pkg/models"
	"github.com/surrealdb/canvassync/pkg/paths"
	"github.com/surrealdb/canvassync/pkg/presence"
)

// Shared is a collaborative canvas under sharedCanvases/{cid}. Structural
// mutations are honored only for participants whose role can edit; the
// viewport stays on this client.
type Shared struct {
	*replica
	cid     string
	uid     string
	tracker *presence.Tracker
}

var _ Store = (*Shared)(nil)

func NewShared(b backend.Backend, canvasID, uid string, opts ...Option) *Shared {
	o := buildOptions(opts)
	s := &Shared{
		replica: newReplica(ModeShared, b, paths.Canvas(canvasID), o),
		cid:     canvasID,
		uid:     uid,
	}
	popts := []presence.Option{presence.WithLogger(o.log), presence.WithClock(o.now)}
	if o.heartbeat > 0 {
		popts = append(popts, presence.WithHeartbeat(o.heartbeat))
	}
	s.tracker = presence.NewTracker(b, canvasID, uid, popts...)
	s.sink = s
	s.gate = s.canEditNow
	s.state.CanvasID = canvasID
	s.state.Participants = map[string]models.Participant{}
	s.state.Presence = map[string]models.PresenceRecord{}
	return s
}

func (s *Shared) CanvasID() string {
	return s.cid
}

func (s *Shared) canEditNow() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Meta.OwnerID == s.uid {
		return true
	}
	p, ok := s.state.Participants[s.uid]
	return ok && p.CanEdit(s.state.Meta)
}

// roleOf derives the caller's effective role. It is empty when the caller
// is not a participant.
func roleOf(st State, uid string) models.Role {
	if st.Meta.OwnerID != "" && st.Meta.OwnerID == uid {
		return models.RoleOwner
	}
	return st.Participants[uid].Role
}

// Start loads the canvas meta and participants, opens the canvas
// subscriptions and announces presence. The caller's role is known when
// Start returns, so edits issued right after it are gated correctly.
func (s *Shared) Start(ctx context.Context) error {
	for _, load := range []struct {
		path  string
		apply func(backend.Snapshot)
	}{
		{paths.Meta(s.cid), s.applyMeta},
		{paths.Participants(s.cid), s.applyParticipants},
	} {
		snap, err := s.b.Read(ctx, load.path)
		if err != nil {
			return fmt.Errorf("load %s: %w", load.path, err)
		}
		load.apply(snap)
	}

	for _, sub := range []struct {
		path  string
		apply func(backend.Snapshot)
	}{
		{paths.Meta(s.cid), s.applyMeta},
		{paths.Participants(s.cid), s.applyParticipants},
		{paths.Presence(s.cid), s.applyPresence},
	} {
		if err := s.follow(ctx, sub.path, sub.apply); err != nil {
			s.abort()
			return err
		}
	}

	if err := s.followCollections(ctx, nil); err != nil {
		s.abort()
		return err
	}

	if err := s.tracker.Join(ctx); err != nil {
		s.syncFailed(Event{Kind: EventSyncFailed, Paths: []string{paths.PresenceOf(s.cid, s.uid)}, Err: err})
	}
	return nil
}

func (s *Shared) applyMeta(snap backend.Snapshot) {
	var meta models.CanvasMeta
	if err := snap.Decode(&meta); err != nil {
		s.syncFailed(Event{Kind: EventSyncFailed, Paths: []string{snap.Path}, Err: err})
		return
	}
	s.update(func(st *State) { st.Meta = meta })
}

func (s *Shared) applyParticipants(snap backend.Snapshot) {
	parts := map[string]models.Participant{}
	if err := snap.Decode(&parts); err != nil {
		s.syncFailed(Event{Kind: EventSyncFailed, Paths: []string{snap.Path}, Err: err})
		return
	}
	for uid, p := range parts {
		if p.UserID == "" {
			p.UserID = uid
			parts[uid] = p
		}
	}
	s.update(func(st *State) { st.Participants = parts })
}

func (s *Shared) applyPresence(snap backend.Snapshot) {
	recs, err := presence.Decode(snap)
	if err != nil {
		s.syncFailed(Event{Kind: EventSyncFailed, Paths: []string{snap.Path}, Err: err})
		return
	}
	s.update(func(st *State) { st.Presence = recs })
}

// update applies fn to the state and publishes a role change it caused.
func (s *Shared) update(fn func(*State)) {
	s.mu.Lock()
	before := s.state.Role
	fn(&s.state)
	s.state.Role = roleOf(s.state, s.uid)
	after := s.state.Role
	s.mu.Unlock()

	if before != after {
		s.opts.log.Info("session: role changed", "canvas", s.cid, "from", before, "to", after)
		s.emit(Event{Kind: EventRoleChanged, Role: after})
	}
}

// SelectEntity also publishes the selection to the other participants.
func (s *Shared) SelectEntity(kind models.Kind, id string) error {
	if err := s.core.SelectEntity(kind, id); err != nil {
		return err
	}
	s.opMu.Lock()
	if s.isClosed() {
		s.opMu.Unlock()
		return nil
	}
	s.wg.Add(1)
	s.opMu.Unlock()
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
		defer cancel()
		if err := s.tracker.UpdateSelection(ctx, id); err != nil && !errors.Is(err, constants.ErrClosed) {
			s.opts.log.Debug("session: selection broadcast failed", "canvas", s.cid, "error", err)
		}
	}()
	return nil
}

// UpdateCursor publishes the caller's cursor, nil to hide it.
func (s *Shared) UpdateCursor(ctx context.Context, p *models.Point) error {
	return s.tracker.UpdateCursor(ctx, p)
}

// Online lists the participants considered online now.
func (s *Shared) Online() []string {
	return presence.Online(s.State().Presence, s.opts.now())
}

// Close marks the caller offline, then tears the store down.
func (s *Shared) Close(ctx context.Context) error {
	if s.isClosed() {
		return nil
	}
	if err := s.tracker.Leave(ctx); err != nil {
		s.opts.log.Warn("session: leave failed", "canvas", s.cid, "error", err)
	}
	_, err := s.shutdown(ctx)
	return err
}

func (s *Shared) commitViewport(models.Viewport) {}
