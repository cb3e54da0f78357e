package session

import (
	"context"
	"time"

	"github.com/surrealdb/canvassync/pkg/constants"
	"github.com/surrealdb/canvassync/pkg/history"
	"github.com/surrealdb/canvassync/pkg/localcache"
	"github.com/surrealdb/canvassync/pkg/models"
)

// Local keeps the canvas in memory and saves it to the local cache after
// every change. It has no remote authority.
type Local struct {
	*core
	key   string
	cache localcache.Cache
}

var _ Store = (*Local)(nil)

// NewLocal returns a local store saving under key.
func NewLocal(key string, opts ...Option) *Local {
	o := buildOptions(opts)
	l := &Local{core: newCore(ModeLocal, o), key: key, cache: o.cache}
	l.sink = l
	return l
}

// Start restores the last saved canvas, if any.
func (l *Local) Start(ctx context.Context) error {
	rec, ok, err := l.cache.Load(ctx, l.key)
	if err != nil {
		l.opts.log.Warn("session: local cache unreadable, starting empty", "key", l.key, "error", err)
	}
	if ok {
		l.seed(rec.Snapshot(), rec.ViewportSettings)
	}
	l.mu.Lock()
	l.state.Loaded = true
	l.mu.Unlock()
	return nil
}

func (l *Local) Close(ctx context.Context) error {
	if !l.markClosed() {
		return nil
	}
	return l.save(ctx)
}

func (l *Local) save(ctx context.Context) error {
	s := l.State()
	return l.cache.Save(ctx, l.key, localcache.NewRecord(s.Snapshot(), s.Viewport, l.opts.now()))
}

func (l *Local) persist(op history.Op) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()
	start := time.Now()
	err := l.save(ctx)
	l.syncResult(op, []string{l.key}, err)
	l.opts.log.Debug("session: local save", "key", l.key, "took", time.Since(start))
}

func (l *Local) commitEntities(op history.Op, _ []models.Change) {
	l.persist(op)
}

func (l *Local) commitViewport(models.Viewport) {
	l.persist(history.OpViewport)
}
