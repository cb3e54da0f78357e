// Package session implements the canvas session stores. All three variants
// expose the same mutation and read surface:
//
//   - Local keeps the canvas in memory and persists it to the local cache
//     on every change.
//   - Remote applies mutations optimistically and writes them to the
//     backend under users/{uid}. The projection is replaced wholesale by
//     every collection snapshot the backend pushes.
//   - Shared does the same under sharedCanvases/{cid}, gates structural
//     mutations on the caller's role and tracks presence.
//
// Backend failures never surface from a mutation call. They are recorded
// in State.LastSyncError and published as events.
package session

import (
	"context"
	"time"

	"github.com/surrealdb/canvassync/pkg/history"
	"github.com/surrealdb/canvassync/pkg/localcache"
	"github.com/surrealdb/canvassync/pkg/logger"
	"github.com/surrealdb/canvassync/pkg/models"
)

type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
	ModeShared Mode = "shared"
)

// Store is the surface the rendering layer talks to.
type Store interface {
	Mode() Mode

	// Start loads initial state and opens subscriptions.
	Start(ctx context.Context) error
	// Close tears down subscriptions and flushes pending writes.
	Close(ctx context.Context) error

	AddEntity(kind models.Kind, init models.Entity) (models.Entity, error)
	UpdateEntity(kind models.Kind, id string, patch models.Patch) error
	DeleteEntity(kind models.Kind, id string) error
	// SelectEntity focuses an entity and brings it to the front. An empty
	// id clears the selection.
	SelectEntity(kind models.Kind, id string) error
	SetViewport(v models.Viewport) error
	Clear() error

	Undo() bool
	Redo() bool
	CanUndo() bool
	CanRedo() bool

	State() State
}

// Selection identifies the focused entity.
type Selection struct {
	Kind models.Kind
	ID   string
}

// State is a read-only view of a store. Collections must not be modified.
type State struct {
	Mode     Mode
	Notes    models.Collection
	Images   models.Collection
	Files    models.Collection
	Viewport models.Viewport
	Selected Selection

	// Loaded turns true once every collection was delivered by the backend.
	Loaded        bool
	LastSyncError error

	// Shared sessions only.
	CanvasID     string
	Meta         models.CanvasMeta
	Role         models.Role
	Participants map[string]models.Participant
	Presence     map[string]models.PresenceRecord
}

// Snapshot returns the three tracked collections.
func (s State) Snapshot() models.CollectionSnapshot {
	return models.CollectionSnapshot{Notes: s.Notes, Images: s.Images, Files: s.Files}
}

type EventKind string

const (
	// EventSyncOK follows a successful backend commit.
	EventSyncOK EventKind = "sync_ok"
	// EventSyncFailed follows a rejected commit or an undecodable snapshot.
	EventSyncFailed EventKind = "sync_failed"
	// EventSnapshotApplied follows a backend delivery replacing the projection.
	EventSnapshotApplied EventKind = "snapshot_applied"
	// EventSubscriptionLost is emitted when a subscription ends unexpectedly.
	EventSubscriptionLost EventKind = "subscription_lost"
	// EventRoleChanged is emitted when the caller's role on a shared canvas changes.
	EventRoleChanged EventKind = "role_changed"
)

// Event is the outcome channel of a store.
type Event struct {
	Kind EventKind
	Mode Mode
	// Op is the mutation that caused the event, when known.
	Op    history.Op
	Paths []string
	// Collection is set for snapshot events.
	Collection string
	Role       models.Role
	Err        error
	At         time.Time
}

type options struct {
	log          logger.Logger
	now          func() time.Time
	historyDepth int
	deny         []history.Op
	events       chan<- Event
	cache        localcache.Cache
	batchWindow  time.Duration
	heartbeat    time.Duration
	newID        func() string
}

type Option func(*options)

func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithHistoryDepth bounds the undo stack.
func WithHistoryDepth(n int) Option {
	return func(o *options) {
		o.historyDepth = n
	}
}

// WithDenyList replaces the mutations excluded from history.
func WithDenyList(ops ...history.Op) Option {
	return func(o *options) {
		o.deny = ops
	}
}

// WithEvents publishes store events to ch. Sends never block; events that
// do not fit are dropped.
func WithEvents(ch chan<- Event) Option {
	return func(o *options) {
		o.events = ch
	}
}

// WithCache sets the local cache: the storage of Local stores and the warm
// start source of Remote stores.
func WithCache(c localcache.Cache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithBatchWindow sets the debounce window of backend writes.
func WithBatchWindow(d time.Duration) Option {
	return func(o *options) {
		o.batchWindow = d
	}
}

// WithHeartbeat sets the presence heartbeat of shared stores.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) {
		o.heartbeat = d
	}
}

// WithIDGenerator overrides how local ids are fabricated.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		o.newID = fn
	}
}

func buildOptions(opts []Option) options {
	o := options{
		log:   logger.Discard(),
		now:   time.Now,
		cache: localcache.Nop{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Discard()
	}
	if o.cache == nil {
		o.cache = localcache.Nop{}
	}
	return o
}
