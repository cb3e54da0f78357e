package session

import (
	"context"

	"github.com/surrealdb/canvassync/pkg/backend"
	"github.com/surrealdb/canvassync/pkg/localcache"
	"github.com/surrealdb/canvassync/pkg/models"
	"github.com/surrealdb/canvassync/pkg/paths"
)

// Remote is a user's own canvas stored under users/{uid}. The local cache
// gives an instant first paint until the backend delivers.
type Remote struct {
	*replica
	uid   string
	cache localcache.Cache
}

var _ Store = (*Remote)(nil)

func NewRemote(b backend.Backend, uid string, opts ...Option) *Remote {
	o := buildOptions(opts)
	r := &Remote{replica: newReplica(ModeRemote, b, paths.User(uid), o), uid: uid, cache: o.cache}
	r.sink = r
	return r
}

func (r *Remote) cacheKey() string {
	return "remote:" + r.uid
}

func (r *Remote) Start(ctx context.Context) error {
	if rec, ok, err := r.cache.Load(ctx, r.cacheKey()); err != nil {
		r.opts.log.Warn("session: warm start cache unreadable", "user", r.uid, "error", err)
	} else if ok {
		r.seed(rec.Snapshot(), rec.ViewportSettings)
		r.opts.log.Debug("session: warm start", "user", r.uid, "entities", rec.Snapshot().Len())
	}

	snap, err := r.b.Read(ctx, paths.Viewport(r.root))
	switch {
	case err != nil:
		r.syncFailed(Event{Kind: EventSyncFailed, Paths: []string{paths.Viewport(r.root)}, Err: err})
	case snap.Exists():
		var vp models.Viewport
		if err := snap.Decode(&vp); err == nil {
			r.mu.Lock()
			r.state.Viewport = vp.Clamp()
			r.mu.Unlock()
		}
	}

	if err := r.followCollections(ctx, func(models.Kind) { r.saveCache(ctx) }); err != nil {
		r.abort()
		return err
	}
	return nil
}

// saveCache refreshes the warm start record once every collection arrived.
func (r *Remote) saveCache(ctx context.Context) {
	s := r.State()
	if !s.Loaded {
		return
	}
	if err := r.cache.Save(context.WithoutCancel(ctx), r.cacheKey(), localcache.NewRecord(s.Snapshot(), s.Viewport, r.opts.now())); err != nil {
		r.opts.log.Warn("session: cache save failed", "user", r.uid, "error", err)
	}
}

func (r *Remote) Close(ctx context.Context) error {
	first, err := r.shutdown(ctx)
	if first {
		r.saveCache(ctx)
	}
	return err
}

func (r *Remote) commitViewport(v models.Viewport) {
	p := paths.Viewport(r.root)
	if err := r.batch.EnqueueWrite(p, v); err != nil {
		r.syncFailed(Event{Kind: EventSyncFailed, Paths: []string{p}, Err: err})
	}
}
