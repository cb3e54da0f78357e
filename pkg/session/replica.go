package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/surrealdb/canvassync/pkg/backend"
	"github.com/surrealdb/canvassync/pkg/batch"
	"github.com/surrealdb/canvassync/pkg/constants"
	"github.com/surrealdb/canvassync/pkg/history"
	"github.com/surrealdb/canvassync/pkg/models"
	"github.com/surrealdb/canvassync/pkg/paths"
)

// replica is the backend side shared by Remote and Shared: batched entity
// writes below root and one standing subscription per collection.
type replica struct {
	*core
	b     backend.Backend
	root  string
	batch *batch.Manager

	subs    []*backend.Subscription
	wg      sync.WaitGroup
	closing atomic.Bool
}

func newReplica(mode Mode, b backend.Backend, root string, o options) *replica {
	if o.newID == nil {
		o.newID = b.NewKey
	}
	r := &replica{core: newCore(mode, o), b: b, root: root}
	bopts := []batch.Option{
		batch.WithLogger(o.log),
		batch.OnFlush(func(res batch.Result) {
			r.syncResult("", res.Paths, res.Err)
		}),
	}
	if o.batchWindow > 0 {
		bopts = append(bopts, batch.WithWindow(o.batchWindow))
	}
	r.batch = batch.New(b, bopts...)
	return r
}

func (r *replica) commitEntities(op history.Op, changes []models.Change) {
	for _, ch := range changes {
		p := paths.Entity(r.root, ch.Kind, ch.ID)
		var err error
		if ch.Entity == nil {
			err = r.batch.EnqueueDelete(p)
		} else {
			err = r.batch.EnqueueWrite(p, *ch.Entity)
		}
		if err != nil {
			r.syncFailed(Event{Kind: EventSyncFailed, Op: op, Paths: []string{p}, Err: err})
		}
	}
}

// follow subscribes to path and hands every delivery to fn on a dedicated
// goroutine until the subscription ends.
func (r *replica) follow(ctx context.Context, path string, fn func(backend.Snapshot)) error {
	sub, err := r.b.Subscribe(ctx, path)
	if err != nil {
		return err
	}
	r.subs = append(r.subs, sub)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for snap := range sub.C {
			fn(snap)
		}
		if !r.closing.Load() {
			r.opts.log.Warn("session: subscription lost", "path", path)
			r.syncFailed(Event{
				Kind:  EventSubscriptionLost,
				Paths: []string{path},
				Err:   constants.ErrSubscriptionClosed,
			})
		}
	}()
	return nil
}

// followCollections opens the three collection subscriptions. applied runs
// after each delivery replaced the projection.
func (r *replica) followCollections(ctx context.Context, applied func(models.Kind)) error {
	for _, kind := range models.Kinds {
		kind := kind
		err := r.follow(ctx, paths.Collection(r.root, kind), func(snap backend.Snapshot) {
			r.replaceCollection(kind, r.decodeCollection(kind, snap))
			if applied != nil {
				applied(kind)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// decodeCollection keys entities by their path segment. Children that do
// not decode are skipped and reported.
func (r *replica) decodeCollection(kind models.Kind, snap backend.Snapshot) models.Collection {
	coll := make(models.Collection, len(snap.Keys()))
	var bad []string
	for _, id := range snap.Keys() {
		var e models.Entity
		if err := snap.Child(id).Decode(&e); err != nil {
			r.opts.log.Warn("session: undecodable entity", "path", snap.Path, "id", id, "error", err)
			bad = append(bad, backend.Join(snap.Path, id))
			continue
		}
		e.ID = id
		e.Kind = kind
		coll[id] = e
	}
	if len(bad) > 0 {
		r.syncFailed(Event{Kind: EventSyncFailed, Paths: bad, Err: constants.ErrInvalidEntity})
	}
	return coll
}

// shutdown ends the subscriptions and flushes pending writes. Mutations
// issued afterwards fail with constants.ErrClosed.
func (r *replica) shutdown(ctx context.Context) (bool, error) {
	r.opMu.Lock()
	first := r.markClosed()
	r.opMu.Unlock()
	if !first {
		return false, nil
	}

	r.closing.Store(true)
	for _, sub := range r.subs {
		sub.Close()
	}
	r.wg.Wait()

	err := r.batch.Close(ctx)
	if err != nil && !errors.Is(err, constants.ErrClosed) {
		r.opts.log.Warn("session: teardown flush failed", "mode", r.mode, "error", err)
		return true, err
	}
	return true, nil
}

// abort releases what a failed Start opened.
func (r *replica) abort() {
	r.closing.Store(true)
	for _, sub := range r.subs {
		sub.Close()
	}
	r.wg.Wait()
	r.subs = nil
	r.closing.Store(false)
}
