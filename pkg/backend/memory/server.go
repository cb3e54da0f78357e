// Package memory is an in-process implementation of the backend contract.
// A Server holds the data; each Conn is one client connection with its own
// subscriptions and disconnect hooks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/surrealdb/canvassync/pkg/backend"
	"github.com/surrealdb/canvassync/pkg/logger"
)

type Server struct {
	mu     sync.Mutex
	tree   *backend.Tree
	subs   map[uint64]*subscriber
	nextID uint64
	stubs  []*Stub
	now    func() time.Time
	log    logger.Logger
}

type subscriber struct {
	path string
	feed *backend.Feed
}

type Option func(*Server)

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		subs: map[uint64]*subscriber{},
		now:  time.Now,
		log:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tree = backend.NewTree(s.now)
	return s
}

// Stub registers failure injection for matching requests.
func (s *Server) Stub(stub Stub) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := stub
	s.stubs = append(s.stubs, &st)
}

// ClearStubs removes every registered stub.
func (s *Server) ClearStubs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs = nil
}

// Get returns the stored value at path, bypassing stubs.
func (s *Server) Get(path string) any {
	return s.tree.Get(path)
}

// Connect opens a new client connection.
func (s *Server) Connect() *Conn {
	return &Conn{
		server: s,
		hooks:  map[string]map[string]any{},
		subs:   map[uint64]*backend.Feed{},
	}
}

func (s *Server) intercept(ctx context.Context, req Request) error {
	s.mu.Lock()
	var hit *Stub
	for _, st := range s.stubs {
		if st.Times > 0 && st.used >= st.Times {
			continue
		}
		if st.Matcher.matches(req) {
			st.used++
			hit = st
			break
		}
	}
	s.mu.Unlock()

	if hit == nil {
		return nil
	}
	if hit.Delay > 0 {
		t := time.NewTimer(hit.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if hit.Err != nil {
		s.log.Debug("memory: injected failure", "method", req.Method, "paths", req.Paths, "error", hit.Err)
	}
	return hit.Err
}

// apply writes updates atomically and notifies related subscribers while
// still holding the lock, so every subscriber sees writes in commit order.
func (s *Server) apply(updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.tree.Apply(updates); err != nil {
		return err
	}
	for _, sub := range s.subs {
		for p := range updates {
			if backend.Related(p, sub.path) {
				sub.feed.Push(backend.Snapshot{Path: sub.path, Value: s.tree.Get(sub.path)})
				break
			}
		}
	}
	return nil
}

func (s *Server) subscribe(path string) (uint64, *backend.Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	feed := backend.NewFeed()
	s.subs[id] = &subscriber{path: path, feed: feed}
	feed.Push(backend.Snapshot{Path: path, Value: s.tree.Get(path)})
	return id, feed
}

func (s *Server) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// Subscribers is the number of open subscriptions.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func paths(updates map[string]any) []string {
	out := make([]string, 0, len(updates))
	for p := range updates {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
