// Package presence tracks participant liveness, cursor and selection on a
// shared canvas.
//
// Join writes an online record and registers a backend disconnect hook that
// flips it offline when the connection drops. Readers combine that flag with
// a staleness check on lastActiveAt, see IsOnline, which also covers
// transports that hang without ever firing the hook.
package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/surrealdb/canvassync/pkg/backend"
	"github.com/surrealdb/canvassync/pkg/constants"
	"github.com/surrealdb/canvassync/pkg/logger"
	"github.com/surrealdb/canvassync/pkg/models"
	"github.com/surrealdb/canvassync/pkg/paths"
)

type Tracker struct {
	b         backend.Backend
	canvasID  string
	userID    string
	now       func() time.Time
	heartbeat time.Duration
	throttle  time.Duration
	log       logger.Logger

	mu         sync.Mutex
	joined     bool
	hooked     bool
	lastCursor time.Time
	stop       chan struct{}
	wg         sync.WaitGroup
}

type Option func(*Tracker)

// WithHeartbeat sets how often lastActiveAt is refreshed. Zero disables it.
func WithHeartbeat(d time.Duration) Option {
	return func(t *Tracker) {
		t.heartbeat = d
	}
}

// WithCursorThrottle drops cursor updates closer together than d.
func WithCursorThrottle(d time.Duration) Option {
	return func(t *Tracker) {
		t.throttle = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		t.log = l
	}
}

func NewTracker(b backend.Backend, canvasID, userID string, opts ...Option) *Tracker {
	t := &Tracker{
		b:         b,
		canvasID:  canvasID,
		userID:    userID,
		now:       time.Now,
		heartbeat: constants.HeartbeatInterval,
		log:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Join marks the user online and arms the disconnect hooks. Backends without
// disconnect hooks are tolerated; liveness then relies on staleness alone.
func (t *Tracker) Join(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.joined {
		return nil
	}

	offline := map[string]any{
		"isOnline":     false,
		"lastActiveAt": backend.ServerTimestamp(),
	}
	t.hooked = true
	for _, p := range []string{paths.PresenceOf(t.canvasID, t.userID), paths.Participant(t.canvasID, t.userID)} {
		err := t.b.OnDisconnect(ctx, p, offline)
		if errors.Is(err, constants.ErrMethodNotAvailable) {
			t.hooked = false
			t.log.Warn("presence: backend has no disconnect hooks, relying on staleness", "canvas", t.canvasID)
			break
		}
		if err != nil {
			return err
		}
	}

	presence := paths.PresenceOf(t.canvasID, t.userID)
	participant := paths.Participant(t.canvasID, t.userID)
	err := t.b.MultiPathWrite(ctx, map[string]any{
		backend.Join(presence, "userId"):          t.userID,
		backend.Join(presence, "isOnline"):        true,
		backend.Join(presence, "lastActiveAt"):    backend.ServerTimestamp(),
		backend.Join(participant, "isOnline"):     true,
		backend.Join(participant, "lastActiveAt"): backend.ServerTimestamp(),
	})
	if err != nil {
		return err
	}

	t.joined = true
	if t.heartbeat > 0 {
		t.stop = make(chan struct{})
		t.wg.Add(1)
		go t.beat(t.stop)
	}
	return nil
}

// Hooked reports whether the backend accepted the disconnect hooks.
func (t *Tracker) Hooked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hooked
}

func (t *Tracker) beat(stop <-chan struct{}) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
			if err := t.touch(ctx, nil); err != nil {
				t.log.Warn("presence: heartbeat failed", "canvas", t.canvasID, "error", err)
			}
			cancel()
		}
	}
}

func (t *Tracker) touch(ctx context.Context, extra map[string]any) error {
	presence := paths.PresenceOf(t.canvasID, t.userID)
	updates := map[string]any{
		backend.Join(presence, "isOnline"):     true,
		backend.Join(presence, "lastActiveAt"): backend.ServerTimestamp(),
		backend.Join(paths.Participant(t.canvasID, t.userID), "lastActiveAt"): backend.ServerTimestamp(),
	}
	for k, v := range extra {
		updates[backend.Join(presence, k)] = v
	}
	return t.b.MultiPathWrite(ctx, updates)
}

// UpdateCursor publishes the cursor position, nil to hide it. Calls within
// the throttle interval of the previous published one are dropped.
func (t *Tracker) UpdateCursor(ctx context.Context, p *models.Point) error {
	t.mu.Lock()
	if !t.joined {
		t.mu.Unlock()
		return constants.ErrClosed
	}
	now := t.now()
	if t.throttle > 0 && !t.lastCursor.IsZero() && now.Sub(t.lastCursor) < t.throttle {
		t.mu.Unlock()
		return nil
	}
	t.lastCursor = now
	t.mu.Unlock()

	var v any
	if p != nil {
		v = *p
	}
	return t.touch(ctx, map[string]any{"cursorPosition": v})
}

// UpdateSelection publishes the selected entity id, "" for none.
func (t *Tracker) UpdateSelection(ctx context.Context, id string) error {
	t.mu.Lock()
	joined := t.joined
	t.mu.Unlock()
	if !joined {
		return constants.ErrClosed
	}

	var v any
	if id != "" {
		v = id
	}
	return t.touch(ctx, map[string]any{"selectedItemId": v})
}

// Leave stops the heartbeat and marks the user offline.
func (t *Tracker) Leave(ctx context.Context) error {
	t.mu.Lock()
	if !t.joined {
		t.mu.Unlock()
		return nil
	}
	t.joined = false
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.mu.Unlock()
	t.wg.Wait()

	presence := paths.PresenceOf(t.canvasID, t.userID)
	participant := paths.Participant(t.canvasID, t.userID)
	return t.b.MultiPathWrite(ctx, map[string]any{
		backend.Join(presence, "isOnline"):        false,
		backend.Join(presence, "lastActiveAt"):    backend.ServerTimestamp(),
		backend.Join(presence, "cursorPosition"):  nil,
		backend.Join(participant, "isOnline"):     false,
		backend.Join(participant, "lastActiveAt"): backend.ServerTimestamp(),
	})
}

// IsOnline is true when the record is flagged online and was active within
// constants.OnlineThreshold of now.
func IsOnline(rec models.PresenceRecord, now time.Time) bool {
	return rec.IsOnline && now.Sub(time.UnixMilli(rec.LastActiveAt)) < constants.OnlineThreshold
}

// Decode reads the presence collection of a canvas keyed by user id.
func Decode(s backend.Snapshot) (map[string]models.PresenceRecord, error) {
	out := map[string]models.PresenceRecord{}
	if err := s.Decode(&out); err != nil {
		return nil, err
	}
	for uid, rec := range out {
		if rec.UserID == "" {
			rec.UserID = uid
			out[uid] = rec
		}
	}
	return out, nil
}

// Online returns the sorted ids of the users online at now.
func Online(records map[string]models.PresenceRecord, now time.Time) []string {
	var ids []string
	for uid, rec := range records {
		if IsOnline(rec, now) {
			ids = append(ids, uid)
		}
	}
	sort.Strings(ids)
	return ids
}
