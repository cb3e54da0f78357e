package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/surrealdb/canvassync"
	"github.com/surrealdb/canvassync/pkg/backend/wsrelay"
	"github.com/surrealdb/canvassync/pkg/models"
	"github.com/surrealdb/canvassync/pkg/ratelimit"
	"github.com/surrealdb/canvassync/pkg/session"
)

// StatsInterval is how often the relay logs its connection counts.
const StatsInterval = time.Minute

// Execute runs cmd, writing its output to w.
func (a *App) Execute(ctx context.Context, cmd Command, w io.Writer) error {
	switch c := cmd.(type) {
	case *PrintCommand:
		_, err := fmt.Fprintln(w, c.Text)
		return err
	case *RelayCommand:
		return a.Relay(ctx, c)
	case *DumpCommand:
		return a.Dump(ctx, c, w)
	case *WatchCommand:
		return a.Watch(ctx, c, w)
	case *RateLimitCheckCommand:
		return a.CheckRateLimit(ctx, c, w)
	default:
		return fmt.Errorf("unknown command type: %T", cmd)
	}
}

// Relay serves an in-process backend until ctx is cancelled. Connections
// are rate limited per remote host.
func (a *App) Relay(ctx context.Context, c *RelayCommand) error {
	addr := c.Addr
	if addr == "" {
		addr = a.cfg.RelayAddr
	}

	store, err := a.RateLimitStore(ctx)
	if err != nil {
		return err
	}
	limiter := ratelimit.New(store, ratelimit.WithLogger(a.log))
	a.onClose(limiter.Close)

	mem := a.memoryServer()
	relay := wsrelay.NewServer(mem,
		wsrelay.WithConnectLimiter(limiter),
		wsrelay.WithServerLogger(a.log),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.ListenAndServe(gctx, addr)
	})
	g.Go(func() error {
		t := time.NewTicker(StatsInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				a.log.Info("relay: stats", "sockets", relay.Sockets(), "subscriptions", mem.Subscribers())
			}
		}
	})
	return g.Wait()
}

// Dump prints the value at c.Path as indented JSON, null when absent.
func (a *App) Dump(ctx context.Context, c *DumpCommand, w io.Writer) error {
	b, err := a.Backend(ctx)
	if err != nil {
		return err
	}
	snap, err := b.Read(ctx, strings.Trim(c.Path, "/"))
	if err != nil {
		return fmt.Errorf("read %s: %w", c.Path, err)
	}
	out, err := json.MarshalIndent(snap.Value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.Path, err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

type eventLine struct {
	Kind       session.EventKind `json:"kind"`
	Mode       session.Mode      `json:"mode"`
	Op         string            `json:"op,omitempty"`
	Paths      []string          `json:"paths,omitempty"`
	Collection string            `json:"collection,omitempty"`
	Role       models.Role       `json:"role,omitempty"`
	Error      string            `json:"error,omitempty"`
	At         time.Time         `json:"at"`
}

func newEventLine(ev session.Event) eventLine {
	line := eventLine{
		Kind:       ev.Kind,
		Mode:       ev.Mode,
		Op:         string(ev.Op),
		Paths:      ev.Paths,
		Collection: ev.Collection,
		Role:       ev.Role,
		At:         ev.At,
	}
	if ev.Err != nil {
		line.Error = ev.Err.Error()
	}
	return line
}

// Watch opens the session a client with the given identity would get and
// prints one JSON line per session event until ctx is cancelled.
func (a *App) Watch(ctx context.Context, c *WatchCommand, w io.Writer) error {
	b, err := a.Backend(ctx)
	if err != nil {
		return err
	}
	cache, err := a.Cache()
	if err != nil {
		return err
	}
	limiter, err := a.Limiter(ctx)
	if err != nil {
		return err
	}
	store, err := a.Assets()
	if err != nil {
		return err
	}

	opts := []canvassync.Option{
		canvassync.WithBackend(b),
		canvassync.WithCache(cache),
		canvassync.WithLimiter(limiter),
		canvassync.WithInviteSecret([]byte(a.cfg.InviteSecret)),
		canvassync.WithLogger(a.log),
		canvassync.WithSessionOptions(
			session.WithHistoryDepth(a.cfg.HistoryDepth),
			session.WithBatchWindow(a.cfg.Debounce),
		),
	}
	if store != nil {
		opts = append(opts, canvassync.WithAssets(store))
	}
	sel := canvassync.New(opts...)

	who := models.Identity{UserID: c.UserID, IsAnonymous: c.Anonymous}
	if err := sel.Sync(ctx, who, !c.Anonymous, c.CanvasID); err != nil {
		_ = sel.Close(context.WithoutCancel(ctx))
		return err
	}
	defer func() {
		if err := sel.Close(context.WithoutCancel(ctx)); err != nil {
			a.log.Warn("app: session close failed", "error", err)
		}
	}()

	enc := json.NewEncoder(w)
	st := sel.State()
	a.log.Info("app: watching", "mode", st.Mode, "user", who.String(), "canvas", st.CanvasID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-sel.Events():
			if err := enc.Encode(newEventLine(ev)); err != nil {
				return err
			}
		}
	}
}

// CheckRateLimit counts one attempt and prints the outcome.
func (a *App) CheckRateLimit(ctx context.Context, c *RateLimitCheckCommand, w io.Writer) error {
	cfg, ok := lookupLimit(c.Key)
	if !ok {
		return fmt.Errorf("unknown rate limit %q, expected one of %s", c.Key, strings.Join(limitKeys(), ", "))
	}
	limiter, err := a.Limiter(ctx)
	if err != nil {
		return err
	}

	identity := c.Identity
	if identity == "" {
		identity = limiter.Identity()
	}
	res, err := limiter.CheckFor(ctx, cfg, identity)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "key=%s identity=%s allowed=%t remaining=%d reset_at=%s retry_after=%s\n",
		cfg.Key, identity, res.Allowed, res.Remaining, res.ResetAt.Format(time.RFC3339), res.RetryAfter)
	return err
}

func allLimits() []ratelimit.Config {
	return append(append([]ratelimit.Config{}, ratelimit.Configs...), ratelimit.RelayConnect)
}

func lookupLimit(key string) (ratelimit.Config, bool) {
	for _, cfg := range allLimits() {
		if cfg.Key == key {
			return cfg, true
		}
	}
	return ratelimit.Config{}, false
}

func limitKeys() []string {
	var keys []string
	for _, cfg := range allLimits() {
		keys = append(keys, cfg.Key)
	}
	return keys
}
