// Package surreal stores the backend tree in SurrealDB.
//
// Every leaf of the tree is one record of the canvas_leaf table holding its
// path and scalar value. Writes replace whole subtrees inside a single
// transaction; subscriptions ride on one LIVE SELECT over the table and
// re-read the subscribed path whenever a related leaf changes.
//
// SurrealDB has no notion of a per-connection disconnect hook, so
// OnDisconnect reports constants.ErrMethodNotAvailable.
package surreal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	surrealdb "github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/surrealdb/canvassync/pkg/backend"
	"github.com/surrealdb/canvassync/pkg/constants"
	"github.com/surrealdb/canvassync/pkg/logger"
)

// Table holds the leaves.
const Table = "canvas_leaf"

type Config struct {
	// URL must use ws or wss: live queries need a websocket.
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
}

type leaf struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Backend implements backend.Backend on a SurrealDB connection.
type Backend struct {
	db  *surrealdb.DB
	log logger.Logger
	now func() time.Time

	// Timeout bounds the re-reads triggered by live notifications.
	Timeout time.Duration

	mu     sync.Mutex
	live   *models.UUID
	subs   map[uint64]*subscriber
	dirty  map[uint64]struct{}
	nextID uint64
	closed bool

	refreshing bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

var _ backend.Backend = (*Backend)(nil)

type subscriber struct {
	path string
	feed *backend.Feed
}

type Option func(*Backend)

func WithLogger(l logger.Logger) Option {
	return func(b *Backend) {
		b.log = logger.OrDiscard(l)
	}
}

// WithClock sets the clock ServerTimestamp placeholders are resolved with.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// Connect opens the connection, signs in when credentials are set and
// selects the namespace and database.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Backend, error) {
	db, err := surrealdb.FromEndpointURLString(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to surrealdb: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("use %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}

	if cfg.Username != "" {
		token, err := db.SignIn(ctx, &surrealdb.Auth{Username: cfg.Username, Password: cfg.Password})
		if err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("sign in: %w", err)
		}
		if err := db.Authenticate(ctx, token); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("authenticate: %w", err)
		}
	}

	return New(db, opts...), nil
}

// New wraps an already prepared connection.
func New(db *surrealdb.DB, opts ...Option) *Backend {
	b := &Backend{
		db:      db,
		log:     logger.Discard(),
		now:     time.Now,
		Timeout: constants.DefaultTimeout,
		subs:    map[uint64]*subscriber{},
		dirty:   map[uint64]struct{}{},
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Write(ctx context.Context, path string, value any) error {
	return b.MultiPathWrite(ctx, map[string]any{path: value})
}

func (b *Backend) MultiPathWrite(ctx context.Context, updates map[string]any) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	query, vars, err := writeQuery(updates, b.now)
	if err != nil {
		return err
	}
	if _, err := surrealdb.Query[any](ctx, b.db, query, vars); err != nil {
		return fmt.Errorf("write %v: %w", sortedKeys(updates), err)
	}
	return nil
}

func (b *Backend) Read(ctx context.Context, path string) (backend.Snapshot, error) {
	if err := b.checkOpen(); err != nil {
		return backend.Snapshot{}, err
	}
	if err := backend.ValidatePath(path); err != nil {
		return backend.Snapshot{}, err
	}

	query, vars := readQuery(path)
	res, err := surrealdb.Query[[]leaf](ctx, b.db, query, vars)
	if err != nil {
		return backend.Snapshot{}, fmt.Errorf("read %s: %w", path, err)
	}

	var leaves []leaf
	if res != nil && len(*res) > 0 {
		leaves = (*res)[0].Result
	}
	value, err := assemble(path, leaves)
	if err != nil {
		return backend.Snapshot{}, err
	}
	return backend.Snapshot{Path: path, Value: value}, nil
}

// Subscribe starts the shared live query on first use. The initial value
// is read by the same goroutine that serves later changes, so snapshots of
// one subscription are always pushed in order.
func (b *Backend) Subscribe(ctx context.Context, path string) (*backend.Subscription, error) {
	if err := backend.ValidatePath(path); err != nil {
		return nil, err
	}
	if err := b.ensureLive(ctx); err != nil {
		return nil, err
	}

	feed := backend.NewFeed()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		feed.Close()
		return nil, constants.ErrClosed
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = &subscriber{path: path, feed: feed}
	b.dirty[id] = struct{}{}
	b.mu.Unlock()
	b.poke()

	return backend.NewSubscription(feed, func() {
		b.mu.Lock()
		delete(b.subs, id)
		delete(b.dirty, id)
		b.mu.Unlock()
	}), nil
}

func (b *Backend) OnDisconnect(context.Context, string, map[string]any) error {
	return fmt.Errorf("surreal: %w", constants.ErrMethodNotAvailable)
}

func (b *Backend) NewKey() string {
	return backend.NewKey()
}

// Close kills the live query, ends every subscription and closes the connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	live := b.live
	subs := b.subs
	b.subs = map[uint64]*subscriber{}
	b.mu.Unlock()

	close(b.done)
	for _, s := range subs {
		s.feed.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.Timeout)
	defer cancel()
	if live != nil {
		if err := surrealdb.Kill(ctx, b.db, live.String()); err != nil {
			b.log.Warn("surreal: kill live query", "error", err)
		}
	}
	b.wg.Wait()
	return b.db.Close(ctx)
}

func (b *Backend) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return constants.ErrClosed
	}
	return nil
}

func (b *Backend) ensureLive(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return constants.ErrClosed
	}
	if b.live != nil {
		return nil
	}

	live, err := surrealdb.Live(ctx, b.db, models.Table(Table), false)
	if err != nil {
		return fmt.Errorf("live select %s: %w", Table, err)
	}
	ch, err := b.db.LiveNotifications(live.String())
	if err != nil {
		return fmt.Errorf("live notifications: %w", err)
	}
	b.live = live

	b.wg.Add(1)
	go b.watch(ch)
	if !b.refreshing {
		b.refreshing = true
		b.wg.Add(1)
		go b.refresh()
	}
	return nil
}

// watch marks the subscriptions related to each changed leaf as dirty.
func (b *Backend) watch(ch chan connection.Notification) {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case n, ok := <-ch:
			if !ok {
				b.lost()
				return
			}
			path, known := notificationPath(n.Result)

			b.mu.Lock()
			for id, s := range b.subs {
				if !known || backend.Related(path, s.path) {
					b.dirty[id] = struct{}{}
				}
			}
			b.mu.Unlock()
			b.poke()
		}
	}
}

func (b *Backend) poke() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// refresh re-reads dirty subscriptions. A burst of notifications from one
// transaction costs one read per subscription.
func (b *Backend) refresh() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}

		b.mu.Lock()
		pending := make(map[uint64]*subscriber, len(b.dirty))
		for id := range b.dirty {
			if s, ok := b.subs[id]; ok {
				pending[id] = s
			}
		}
		b.dirty = map[uint64]struct{}{}
		b.mu.Unlock()

		for _, s := range pending {
			ctx, cancel := context.WithTimeout(context.Background(), b.Timeout)
			snap, err := b.Read(ctx, s.path)
			cancel()
			if err != nil {
				if !errors.Is(err, constants.ErrClosed) {
					b.log.Error("surreal: refresh subscription", "path", s.path, "error", err)
				}
				continue
			}
			s.feed.Push(snap)
		}
	}
}

// lost ends every subscription after the live query stream closed under us.
func (b *Backend) lost() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := b.subs
	b.subs = map[uint64]*subscriber{}
	b.live = nil
	b.mu.Unlock()

	b.log.Warn("surreal: live query stream closed", "subscriptions", len(subs))
	for _, s := range subs {
		s.feed.Close()
	}
}

func notificationPath(result any) (string, bool) {
	switch r := result.(type) {
	case map[string]any:
		p, ok := r["path"].(string)
		return p, ok
	case map[any]any:
		p, ok := r["path"].(string)
		return p, ok
	}
	return "", false
}

// writeQuery builds one transaction replacing the subtree of every updated
// path. Scalar leaves above a written path are removed too, so writing
// below a scalar replaces it.
func writeQuery(updates map[string]any, now func() time.Time) (string, map[string]any, error) {
	tree := backend.NewTree(now)
	if err := tree.Apply(updates); err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	vars := map[string]any{}
	sb.WriteString("BEGIN TRANSACTION;\n")

	ancestors := map[string]struct{}{}
	for i, p := range sortedKeys(updates) {
		if p == "" {
			fmt.Fprintf(&sb, "DELETE %s;\n", Table)
			continue
		}
		fmt.Fprintf(&sb, "DELETE %s WHERE path = $p%d OR string::starts_with(path, $s%d);\n", Table, i, i)
		vars[fmt.Sprintf("p%d", i)] = p
		vars[fmt.Sprintf("s%d", i)] = p + "/"
		for a, _ := backend.Parent(p); a != ""; a, _ = backend.Parent(a) {
			ancestors[a] = struct{}{}
		}
	}
	if len(ancestors) > 0 {
		fmt.Fprintf(&sb, "DELETE %s WHERE path IN $ancestors;\n", Table)
		vars["ancestors"] = sortedKeys(ancestors)
	}

	leaves := tree.Leaves("")
	if len(leaves) > 0 {
		rows := make([]map[string]any, 0, len(leaves))
		for _, p := range sortedKeys(leaves) {
			rows = append(rows, map[string]any{"path": p, "value": leaves[p]})
		}
		fmt.Fprintf(&sb, "INSERT INTO %s $leaves;\n", Table)
		vars["leaves"] = rows
	}

	sb.WriteString("COMMIT TRANSACTION;")
	return sb.String(), vars, nil
}

func readQuery(path string) (string, map[string]any) {
	if path == "" {
		return fmt.Sprintf("SELECT path, value FROM %s", Table), nil
	}
	return fmt.Sprintf("SELECT path, value FROM %s WHERE path = $path OR string::starts_with(path, $prefix)", Table),
		map[string]any{"path": path, "prefix": path + "/"}
}

// assemble rebuilds the value at path from its leaves.
func assemble(path string, leaves []leaf) (any, error) {
	if len(leaves) == 0 {
		return nil, nil
	}
	tree := backend.NewTree(time.Now)
	updates := make(map[string]any, len(leaves))
	for _, l := range leaves {
		updates[l.Path] = l.Value
	}
	if err := tree.Apply(updates); err != nil {
		return nil, fmt.Errorf("assemble %s: %w", path, err)
	}
	return tree.Get(path), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
