package session

import (
	"fmt"
	"strings"
	"sync"

	"github.com/surrealdb/canvassync/pkg/backend"
	"github.com/surrealdb/canvassync/pkg/constants"
	"github.com/surrealdb/canvassync/pkg/history"
	"github.com/surrealdb/canvassync/pkg/models"
)

const forbiddenIDChars = ".#$[]"

// committer persists what a mutation changed. It runs with opMu held, after
// the projection was updated, and must not block on the network.
type committer interface {
	commitEntities(op history.Op, changes []models.Change)
	commitViewport(v models.Viewport)
}

// core is the projection and mutation logic shared by every store.
type core struct {
	mode  Mode
	opts  options
	hist  *history.Store
	icept *history.Interceptor
	sink  committer

	// gate reports whether structural mutations are honored. Nil allows all.
	gate func() bool

	// opMu orders mutations with their commit, so that writes reach the
	// batch buffer in the order the projection saw them.
	opMu sync.Mutex

	mu     sync.RWMutex
	state  State
	loaded map[models.Kind]bool
	closed bool
}

func newCore(mode Mode, opts options) *core {
	h := history.New(opts.historyDepth)
	c := &core{
		mode:   mode,
		opts:   opts,
		hist:   h,
		icept:  history.NewInterceptor(h, opts.deny...),
		loaded: map[models.Kind]bool{},
	}
	snap := models.EmptySnapshot()
	c.state = State{
		Mode:     mode,
		Notes:    snap.Notes,
		Images:   snap.Images,
		Files:    snap.Files,
		Viewport: models.DefaultViewport(),
	}
	if c.opts.newID == nil {
		c.opts.newID = backend.NewKey
	}
	return c
}

func (c *core) Mode() Mode {
	return c.mode
}

// State returns a copy of the current projection.
func (c *core) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *core) snapshot() models.CollectionSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Snapshot()
}

func (c *core) canEdit() bool {
	return c.gate == nil || c.gate()
}

func (c *core) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// mutate runs fn against the projection under the interceptor. fn returns
// the next state and the entity changes to persist. Nothing is committed
// when fn fails.
func (c *core) mutate(op history.Op, fn func(s State) (State, []models.Change, error)) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.isClosed() {
		return constants.ErrClosed
	}

	var (
		changes []models.Change
		err     error
	)
	c.icept.Wrap(op, c.snapshot, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		var next State
		next, changes, err = fn(c.state)
		if err == nil {
			c.state = next
		}
	})
	if err != nil {
		return err
	}
	if len(changes) > 0 {
		c.sink.commitEntities(op, changes)
	}
	return nil
}

// AddEntity creates an entity of kind on top of every other entity. The id
// is fabricated locally unless init carries one. Viewers get a zero entity
// and no error.
func (c *core) AddEntity(kind models.Kind, init models.Entity) (models.Entity, error) {
	if !kind.Valid() {
		return models.Entity{}, fmt.Errorf("%w: %q", constants.ErrInvalidKind, kind)
	}
	if !c.canEdit() {
		c.opts.log.Debug("session: add ignored, read-only role", "mode", c.mode)
		return models.Entity{}, nil
	}

	e := init
	e.Kind = kind
	if strings.ContainsAny(e.ID, "/"+forbiddenIDChars) {
		return models.Entity{}, fmt.Errorf("%w: id %q", constants.ErrInvalidEntity, e.ID)
	}
	if err := e.Validate(); err != nil {
		return models.Entity{}, err
	}
	e = e.Normalize()

	var created models.Entity
	err := c.mutate(history.OpAdd, func(s State) (State, []models.Change, error) {
		snap := s.Snapshot()
		if e.ID == "" {
			e.ID = c.opts.newID()
		}
		if _, taken := snap.Lookup(e.ID); taken {
			return s, nil, fmt.Errorf("%w: %s", constants.ErrIDInUse, e.ID)
		}
		now := models.Millis(c.opts.now())
		e.ZIndex = snap.NextZIndex()
		e.CreatedAt, e.UpdatedAt = now, now
		created = e
		s = withCollection(s, kind, s.Snapshot().Get(kind).With(e))
		return s, []models.Change{{Kind: kind, ID: e.ID, Entity: &e}}, nil
	})
	if err != nil {
		return models.Entity{}, err
	}
	return created, nil
}

// UpdateEntity applies patch to an existing entity.
func (c *core) UpdateEntity(kind models.Kind, id string, patch models.Patch) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", constants.ErrInvalidKind, kind)
	}
	if !c.canEdit() || patch.Empty() {
		return nil
	}
	return c.mutate(history.OpUpdate, func(s State) (State, []models.Change, error) {
		coll := s.Snapshot().Get(kind)
		e, ok := coll[id]
		if !ok {
			return s, nil, fmt.Errorf("%w: %s %s", constants.ErrNotFound, kind, id)
		}
		next := patch.Apply(e)
		if err := next.Validate(); err != nil {
			return s, nil, err
		}
		if next == e {
			return s, nil, nil
		}
		next.UpdatedAt = models.Millis(c.opts.now())
		s = withCollection(s, kind, coll.With(next))
		return s, []models.Change{{Kind: kind, ID: id, Entity: &next}}, nil
	})
}

// DeleteEntity removes an entity. Deleting a missing entity does nothing.
func (c *core) DeleteEntity(kind models.Kind, id string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", constants.ErrInvalidKind, kind)
	}
	if !c.canEdit() {
		return nil
	}
	return c.mutate(history.OpDelete, func(s State) (State, []models.Change, error) {
		coll := s.Snapshot().Get(kind)
		if _, ok := coll[id]; !ok {
			return s, nil, nil
		}
		s = withCollection(s, kind, coll.Without(id))
		if s.Selected.ID == id {
			s.Selected = Selection{}
		}
		return s, []models.Change{{Kind: kind, ID: id}}, nil
	})
}

// SelectEntity focuses an entity and raises it above all others. Read-only
// participants only move their local focus.
func (c *core) SelectEntity(kind models.Kind, id string) error {
	if id == "" {
		return c.mutate(history.OpSelect, func(s State) (State, []models.Change, error) {
			s.Selected = Selection{}
			return s, nil, nil
		})
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", constants.ErrInvalidKind, kind)
	}
	raise := c.canEdit()
	return c.mutate(history.OpSelect, func(s State) (State, []models.Change, error) {
		snap := s.Snapshot()
		coll := snap.Get(kind)
		e, ok := coll[id]
		if !ok {
			return s, nil, fmt.Errorf("%w: %s %s", constants.ErrNotFound, kind, id)
		}
		s.Selected = Selection{Kind: kind, ID: id}
		if !raise {
			return s, nil, nil
		}
		e.ZIndex = snap.NextZIndex()
		e.UpdatedAt = models.Millis(c.opts.now())
		s = withCollection(s, kind, coll.With(e))
		return s, []models.Change{{Kind: kind, ID: id, Entity: &e}}, nil
	})
}

// SetViewport clamps and stores the viewport. Viewports never enter history.
func (c *core) SetViewport(v models.Viewport) error {
	v = v.Clamp()
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.isClosed() {
		return constants.ErrClosed
	}
	c.mu.Lock()
	c.state.Viewport = v
	c.mu.Unlock()
	c.sink.commitViewport(v)
	return nil
}

// Clear deletes every entity of every kind.
func (c *core) Clear() error {
	if !c.canEdit() {
		return nil
	}
	return c.mutate(history.OpClear, func(s State) (State, []models.Change, error) {
		changes := s.Snapshot().Diff(models.EmptySnapshot())
		if len(changes) == 0 {
			return s, nil, nil
		}
		empty := models.EmptySnapshot()
		s.Notes, s.Images, s.Files = empty.Notes, empty.Images, empty.Files
		s.Selected = Selection{}
		return s, changes, nil
	})
}

func (c *core) Undo() bool {
	return c.travel(history.OpUndo, c.hist.Undo)
}

func (c *core) Redo() bool {
	return c.travel(history.OpRedo, c.hist.Redo)
}

// travel replaces the collections wholesale with a history entry and
// commits the difference entity by entity.
func (c *core) travel(op history.Op, step func(models.CollectionSnapshot) (models.CollectionSnapshot, bool)) bool {
	if !c.canEdit() {
		return false
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.isClosed() {
		return false
	}

	c.mu.Lock()
	current := c.state.Snapshot()
	target, ok := step(current)
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.state.Notes, c.state.Images, c.state.Files = target.Notes, target.Images, target.Files
	if _, still := target.Lookup(c.state.Selected.ID); !still {
		c.state.Selected = Selection{}
	}
	c.mu.Unlock()

	if changes := current.Diff(target); len(changes) > 0 {
		c.sink.commitEntities(op, changes)
	}
	return true
}

func (c *core) CanUndo() bool {
	return c.canEdit() && c.hist.CanUndo()
}

func (c *core) CanRedo() bool {
	return c.canEdit() && c.hist.CanRedo()
}

// replaceCollection installs a snapshot delivered by the backend.
func (c *core) replaceCollection(kind models.Kind, coll models.Collection) {
	c.mu.Lock()
	c.state = withCollection(c.state, kind, coll)
	c.loaded[kind] = true
	c.state.Loaded = len(c.loaded) == len(models.Kinds)
	if c.state.Selected.Kind == kind {
		if _, ok := coll[c.state.Selected.ID]; !ok {
			c.state.Selected = Selection{}
		}
	}
	c.mu.Unlock()
	c.emit(Event{Kind: EventSnapshotApplied, Collection: kind.Collection()})
}

// seed installs a starting projection, e.g. from the local cache, and
// starts history over from it.
func (c *core) seed(snap models.CollectionSnapshot, vp models.Viewport) {
	c.mu.Lock()
	c.state.Notes, c.state.Images, c.state.Files = snap.Notes, snap.Images, snap.Files
	c.state.Viewport = vp.Clamp()
	c.mu.Unlock()
	c.hist.Reset(snap)
}

// syncResult records the outcome of a backend commit.
func (c *core) syncResult(op history.Op, paths []string, err error) {
	c.mu.Lock()
	c.state.LastSyncError = err
	c.mu.Unlock()
	if err != nil {
		c.opts.log.Warn("session: sync failed", "mode", c.mode, "paths", len(paths), "error", err)
		c.emit(Event{Kind: EventSyncFailed, Op: op, Paths: paths, Err: err})
		return
	}
	c.emit(Event{Kind: EventSyncOK, Op: op, Paths: paths})
}

// syncFailed records a failure that did not come from a commit.
func (c *core) syncFailed(ev Event) {
	c.mu.Lock()
	c.state.LastSyncError = ev.Err
	c.mu.Unlock()
	c.emit(ev)
}

func (c *core) emit(ev Event) {
	if c.opts.events == nil {
		return
	}
	ev.Mode = c.mode
	if ev.At.IsZero() {
		ev.At = c.opts.now()
	}
	select {
	case c.opts.events <- ev:
	default:
		c.opts.log.Debug("session: event dropped", "kind", ev.Kind, "mode", c.mode)
	}
}

func (c *core) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

func withCollection(s State, kind models.Kind, coll models.Collection) State {
	snap := s.Snapshot().With(kind, coll)
	s.Notes, s.Images, s.Files = snap.Notes, snap.Images, snap.Files
	return s
}
