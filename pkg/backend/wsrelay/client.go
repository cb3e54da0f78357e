package wsrelay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/surrealdb/canvassync/internal/codec"
	"github.com/surrealdb/canvassync/internal/rand"
	"github.com/surrealdb/canvassync/pkg/backend"
	"github.com/surrealdb/canvassync/pkg/constants"
	"github.com/surrealdb/canvassync/pkg/logger"
)

// DefaultDialer negotiates the cbor subprotocol with compression enabled.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{"cbor"},
}

// Client is a backend.Backend talking to a relay Server over one socket.
// It does not reconnect: once the socket is lost every call fails with the
// loss error and every subscription channel is closed.
type Client struct {
	ws    *gorilla.Conn
	codec codec.CBOR
	log   logger.Logger

	// Timeout bounds each request. Zero leaves it to the caller's context.
	Timeout time.Duration

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan response
	feeds    map[string]*backend.Feed
	closed   bool
	closeErr error
	done     chan struct{}
}

var _ backend.Backend = (*Client)(nil)

type ClientOption func(*dialConfig)

type dialConfig struct {
	retryer Retryer
	timeout time.Duration
	log     logger.Logger
	dialer  *gorilla.Dialer
}

// WithRetryer sets how failed dials are retried. The default does not retry.
func WithRetryer(r Retryer) ClientOption {
	return func(c *dialConfig) {
		c.retryer = r
	}
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *dialConfig) {
		c.timeout = d
	}
}

func WithLogger(l logger.Logger) ClientOption {
	return func(c *dialConfig) {
		c.log = logger.OrDiscard(l)
	}
}

func WithDialer(d *gorilla.Dialer) ClientOption {
	return func(c *dialConfig) {
		c.dialer = d
	}
}

// Dial connects to the relay at rawURL. An http(s) URL is rewritten to
// ws(s), and /rpc is appended when the URL has no path.
func Dial(ctx context.Context, rawURL string, opts ...ClientOption) (*Client, error) {
	cfg := dialConfig{
		retryer: NoRetry{},
		timeout: constants.DefaultTimeout,
		log:     logger.Discard(),
		dialer:  DefaultDialer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	target, err := rpcURL(rawURL)
	if err != nil {
		return nil, err
	}

	var ws *gorilla.Conn
	for attempt := 0; ; attempt++ {
		conn, res, dialErr := cfg.dialer.DialContext(ctx, target, nil)
		if res != nil && res.Body != nil {
			_ = res.Body.Close()
		}
		if dialErr == nil {
			ws = conn
			break
		}

		delay, retry := cfg.retryer.NextDelay(attempt, dialErr)
		if !retry {
			return nil, fmt.Errorf("dial relay %s: %w", target, dialErr)
		}
		cfg.log.Warn("relay: dial failed, retrying", "url", target, "attempt", attempt+1, "delay", delay, "error", dialErr)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	c := &Client{
		ws:      ws,
		log:     cfg.log,
		Timeout: cfg.timeout,
		pending: map[string]chan response{},
		feeds:   map[string]*backend.Feed{},
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func rpcURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("relay url: %w", err)
	}
	switch u.Scheme {
	case constants.HTTPScheme:
		u.Scheme = constants.WebsocketScheme
	case constants.HTTPSecureScheme:
		u.Scheme = constants.WebsocketSecureScheme
	case constants.WebsocketScheme, constants.WebsocketSecureScheme:
	default:
		return "", fmt.Errorf("relay url: unsupported scheme %q", u.Scheme)
	}
	if strings.Trim(u.Path, "/") == "" {
		u.Path = "/rpc"
	}
	return u.String(), nil
}

// Done is closed once the socket is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the socket went away, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

func (c *Client) Write(ctx context.Context, path string, value any) error {
	_, err := c.call(ctx, request{Method: MethodWrite, Path: path, Value: value})
	return err
}

func (c *Client) MultiPathWrite(ctx context.Context, updates map[string]any) error {
	_, err := c.call(ctx, request{Method: MethodUpdate, Updates: updates})
	return err
}

func (c *Client) Read(ctx context.Context, path string) (backend.Snapshot, error) {
	res, err := c.call(ctx, request{Method: MethodRead, Path: path})
	if err != nil {
		return backend.Snapshot{}, err
	}
	return backend.Snapshot{Path: path, Value: res.Result}, nil
}

// Subscribe registers the feed under a client chosen id before asking the
// relay, so snapshots that overtake the response are not lost.
func (c *Client) Subscribe(ctx context.Context, path string) (*backend.Subscription, error) {
	id := rand.NewRequestID(constants.RequestIDLength)
	feed := backend.NewFeed()

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		feed.Close()
		return nil, err
	}
	c.feeds[id] = feed
	c.mu.Unlock()

	if _, err := c.call(ctx, request{Method: MethodSubscribe, Path: path, Sub: id}); err != nil {
		c.dropFeed(id)
		return nil, err
	}

	return backend.NewSubscription(feed, func() {
		if !c.dropFeed(id) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
		defer cancel()
		if _, err := c.call(ctx, request{Method: MethodUnsubscribe, Sub: id}); err != nil && !errors.Is(err, constants.ErrClosed) {
			c.log.Debug("relay: unsubscribe failed", "sub", id, "error", err)
		}
	}), nil
}

func (c *Client) OnDisconnect(ctx context.Context, path string, update map[string]any) error {
	_, err := c.call(ctx, request{Method: MethodOnDisconnect, Path: path, Updates: update})
	return err
}

func (c *Client) NewKey() string {
	return backend.NewKey()
}

// Close says goodbye to the relay, which then fires this client's
// disconnect hooks, and ends every subscription.
func (c *Client) Close() error {
	c.mu.Lock()
	open := !c.closed
	c.mu.Unlock()

	if open {
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		err := c.ws.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		if err != nil {
			c.log.Debug("relay: failed to write close message", "error", err)
		}
	}

	c.shutdown(constants.ErrClosed)
	if err := c.ws.Close(); err != nil && open {
		return err
	}
	return nil
}

// Drop closes the socket without a close frame, like a network failure.
func (c *Client) Drop() error {
	c.shutdown(constants.ErrClosed)
	_ = c.ws.Close()
	return nil
}

func (c *Client) call(ctx context.Context, req request) (response, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	req.ID = rand.NewRequestID(constants.RequestIDLength)
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return response{}, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := c.write(req); err != nil {
		return response{}, err
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return response{}, fmt.Errorf("%s %s: %w", req.Method, req.Path, constants.ErrTimeout)
		}
		return response{}, ctx.Err()
	case <-c.done:
		return response{}, c.Err()
	case res := <-ch:
		if res.Error != nil {
			return res, res.Error
		}
		return res, nil
	}
}

func (c *Client) write(req request) error {
	data, err := c.codec.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", req.Method, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(gorilla.BinaryMessage, data); err != nil {
		c.shutdown(err)
		return err
	}
	return nil
}

// readLoop dispatches frames in order, which keeps the snapshots of each
// subscription in the order the relay sent them.
func (c *Client) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || gorilla.IsCloseError(err, gorilla.CloseNormalClosure) {
				err = constants.ErrClosed
			}
			c.shutdown(err)
			return
		}

		var res response
		if err := c.codec.Unmarshal(data, &res); err != nil {
			c.log.Error("relay: undecodable frame", "error", err)
			continue
		}

		switch {
		case res.Notification != nil:
			c.notify(res.Notification)
		case res.ID != "":
			c.mu.Lock()
			ch, ok := c.pending[res.ID]
			c.mu.Unlock()
			if !ok {
				c.log.Debug("relay: response without caller", "id", res.ID)
				continue
			}
			ch <- res
		case res.Error != nil:
			c.log.Error("relay: error without request id", "error", res.Error)
		}
	}
}

func (c *Client) notify(n *notification) {
	c.mu.Lock()
	feed, ok := c.feeds[n.Sub]
	if ok && n.Closed {
		delete(c.feeds, n.Sub)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	if n.Closed {
		feed.Close()
		return
	}
	feed.Push(backend.Snapshot{Path: n.Path, Value: n.Value})
}

func (c *Client) dropFeed(id string) bool {
	c.mu.Lock()
	feed, ok := c.feeds[id]
	delete(c.feeds, id)
	c.mu.Unlock()
	if ok {
		feed.Close()
	}
	return ok
}

// shutdown records why the socket ended, fails pending calls and closes
// every feed. Only the first call has an effect.
func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if !errors.Is(cause, constants.ErrClosed) {
		cause = fmt.Errorf("%w: %w", constants.ErrClosed, cause)
	}
	c.closeErr = cause
	feeds := c.feeds
	c.feeds = map[string]*backend.Feed{}
	c.mu.Unlock()

	close(c.done)
	for _, feed := range feeds {
		feed.Close()
	}
	c.log.Debug("relay: connection ended", "cause", cause)
}
