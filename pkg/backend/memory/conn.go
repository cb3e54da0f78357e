package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/surrealdb/canvassync/pkg/backend"
	"github.com/surrealdb/canvassync/pkg/constants"
)

// Conn implements backend.Backend for one client of a Server.
type Conn struct {
	server *Server

	mu     sync.Mutex
	hooks  map[string]map[string]any
	subs   map[uint64]*backend.Feed
	closed bool
}

var _ backend.Backend = (*Conn)(nil)

func (c *Conn) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return constants.ErrClosed
	}
	return nil
}

func (c *Conn) Write(ctx context.Context, path string, value any) error {
	return c.MultiPathWrite(ctx, map[string]any{path: value})
}

func (c *Conn) MultiPathWrite(ctx context.Context, updates map[string]any) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	method := MethodUpdate
	if len(updates) == 1 {
		method = MethodWrite
	}
	if err := c.server.intercept(ctx, Request{Method: method, Paths: paths(updates)}); err != nil {
		return err
	}
	return c.server.apply(updates)
}

func (c *Conn) Read(ctx context.Context, path string) (backend.Snapshot, error) {
	if err := c.checkOpen(); err != nil {
		return backend.Snapshot{}, err
	}
	if err := backend.ValidatePath(path); err != nil {
		return backend.Snapshot{}, err
	}
	if err := c.server.intercept(ctx, Request{Method: MethodRead, Paths: []string{path}}); err != nil {
		return backend.Snapshot{}, err
	}
	return backend.Snapshot{Path: path, Value: c.server.tree.Get(path)}, nil
}

func (c *Conn) Subscribe(ctx context.Context, path string) (*backend.Subscription, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := backend.ValidatePath(path); err != nil {
		return nil, err
	}
	if err := c.server.intercept(ctx, Request{Method: MethodSubscribe, Paths: []string{path}}); err != nil {
		return nil, err
	}

	id, feed := c.server.subscribe(path)
	c.mu.Lock()
	if c.closed {
		// dropped while the request was in flight
		c.mu.Unlock()
		c.server.unsubscribe(id)
		feed.Close()
		return nil, constants.ErrClosed
	}
	c.subs[id] = feed
	c.mu.Unlock()

	return backend.NewSubscription(feed, func() {
		c.server.unsubscribe(id)
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}), nil
}

// OnDisconnect merges update into the hook registered for path.
func (c *Conn) OnDisconnect(ctx context.Context, path string, update map[string]any) error {
	if err := backend.ValidatePath(path); err != nil {
		return err
	}
	if err := c.server.intercept(ctx, Request{Method: MethodOnDisconnect, Paths: []string{path}}); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return constants.ErrClosed
	}
	hook, ok := c.hooks[path]
	if !ok {
		hook = map[string]any{}
		c.hooks[path] = hook
	}
	for k, v := range update {
		hook[k] = v
	}
	return nil
}

// CancelOnDisconnect drops the hook registered for path.
func (c *Conn) CancelOnDisconnect(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.hooks, path)
}

func (c *Conn) NewKey() string {
	return backend.NewKey()
}

// Close fires the disconnect hooks and ends every subscription of this connection.
func (c *Conn) Close() error {
	return c.disconnect("close")
}

// Drop simulates the connection vanishing without a goodbye. The server
// side effects are the same as Close.
func (c *Conn) Drop() error {
	return c.disconnect("drop")
}

func (c *Conn) disconnect(reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	hooks := c.hooks
	c.hooks = nil
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for id, feed := range subs {
		c.server.unsubscribe(id)
		feed.Close()
	}

	updates := map[string]any{}
	for path, hook := range hooks {
		for k, v := range hook {
			updates[backend.Join(path, k)] = v
		}
	}
	if len(updates) == 0 {
		return nil
	}
	c.server.log.Debug("memory: firing disconnect hooks", "reason", reason, "paths", paths(updates))
	if err := c.server.apply(updates); err != nil {
		return fmt.Errorf("disconnect hooks: %w", err)
	}
	return nil
}
