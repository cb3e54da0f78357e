// Package batch coalesces backend writes into atomic multi-path commits.
//
// The first write after a quiet period is flushed at once. Writes that
// follow within the debounce window are merged into one buffer and flushed
// together when the window elapses. A failed flush puts its entries back
// into the buffer; the next enqueue, or an explicit Flush, retries them.
package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/exp/maps"

	"github.com/surrealdb/canvassync/pkg/backend"
	"github.com/surrealdb/canvassync/pkg/constants"
	"github.com/surrealdb/canvassync/pkg/logger"
)

// Writer is the backend primitive the manager commits through.
type Writer interface {
	MultiPathWrite(ctx context.Context, updates map[string]any) error
}

// Result describes one flush. Paths are sorted.
type Result struct {
	Paths []string
	Err   error
}

type Manager struct {
	w       Writer
	window  time.Duration
	timeout time.Duration
	now     func() time.Time
	log     logger.Logger
	onFlush func(Result)
	ctx     context.Context

	mu          sync.Mutex
	buffer      map[string]any
	timer       *time.Timer
	lastEnqueue time.Time
	closed      bool
	inflight    sync.WaitGroup

	flushMu sync.Mutex
}

type Option func(*Manager)

// WithWindow sets the debounce window.
func WithWindow(d time.Duration) Option {
	return func(m *Manager) {
		m.window = d
	}
}

// WithTimeout bounds each background flush.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.timeout = d
	}
}

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// OnFlush is called after every flush that had something to write.
func OnFlush(fn func(Result)) Option {
	return func(m *Manager) {
		m.onFlush = fn
	}
}

// WithContext sets the parent context of background flushes.
func WithContext(ctx context.Context) Option {
	return func(m *Manager) {
		m.ctx = ctx
	}
}

func New(w Writer, opts ...Option) *Manager {
	m := &Manager{
		w:       w,
		window:  constants.DebounceWindow,
		timeout: constants.DefaultTimeout,
		now:     time.Now,
		log:     logger.Discard(),
		ctx:     context.Background(),
		buffer:  map[string]any{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnqueueWrite buffers value for path. A nil value deletes the path.
func (m *Manager) EnqueueWrite(path string, value any) error {
	if err := backend.ValidatePath(path); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return constants.ErrClosed
	}

	now := m.now()
	quiet := m.timer == nil && (m.lastEnqueue.IsZero() || now.Sub(m.lastEnqueue) >= m.window)
	m.lastEnqueue = now
	m.buffer[path] = value

	if quiet {
		m.inflight.Add(1)
		go func() {
			defer m.inflight.Done()
			m.background()
		}()
		return nil
	}

	if m.timer != nil {
		m.timer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(m.window, func() {
		m.mu.Lock()
		if m.timer == t {
			m.timer = nil
		}
		m.mu.Unlock()
		m.background()
	})
	m.timer = t
	return nil
}

// EnqueueDelete buffers a delete of path.
func (m *Manager) EnqueueDelete(path string) error {
	return m.EnqueueWrite(path, nil)
}

// Pending is the number of buffered paths.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffer)
}

func (m *Manager) background() {
	ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
	defer cancel()
	if err := m.Flush(ctx); err != nil {
		m.log.Warn("batch: flush failed, entries kept for retry", "error", err)
	}
}

// Flush commits the whole buffer in one multi-path write. On failure the
// entries go back into the buffer unless a newer value for the same path
// was enqueued meanwhile. Either every path is committed or every path is
// kept for retry.
func (m *Manager) Flush(ctx context.Context) error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.Lock()
	if len(m.buffer) == 0 {
		m.mu.Unlock()
		return nil
	}
	batch := m.buffer
	m.buffer = map[string]any{}
	m.mu.Unlock()

	err := m.w.MultiPathWrite(ctx, batch)

	paths := maps.Keys(batch)
	sort.Strings(paths)

	if err != nil {
		m.mu.Lock()
		for p, v := range batch {
			if _, newer := m.buffer[p]; !newer {
				m.buffer[p] = v
			}
		}
		m.mu.Unlock()
		m.log.Debug("batch: restored entries", "paths", len(paths))
	} else {
		m.log.Debug("batch: committed", "paths", len(paths))
	}

	if m.onFlush != nil {
		m.onFlush(Result{Paths: paths, Err: err})
	}
	return err
}

// Close stops the debounce timer and flushes what is left. Later enqueues
// fail with constants.ErrClosed.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	m.inflight.Wait()
	return m.Flush(ctx)
}
