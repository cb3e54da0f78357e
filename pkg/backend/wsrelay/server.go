package wsrelay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	gorilla "github.com/gorilla/websocket"

	"github.com/surrealdb/canvassync/internal/codec"
	"github.com/surrealdb/canvassync/pkg/backend"
	"github.com/surrealdb/canvassync/pkg/backend/memory"
	"github.com/surrealdb/canvassync/pkg/logger"
	"github.com/surrealdb/canvassync/pkg/ratelimit"
)

// ShutdownTimeout bounds how long ListenAndServe waits for open requests
// once its context is cancelled.
const ShutdownTimeout = 5 * time.Second

// Server serves a memory.Server to websocket clients at /rpc.
type Server struct {
	mem      *memory.Server
	upgrader gorilla.Upgrader
	limiter  *ratelimit.Limiter
	log      logger.Logger
	codec    codec.CBOR

	mu      sync.Mutex
	sockets map[*socket]struct{}
}

type ServerOption func(*Server)

// WithConnectLimiter rate limits new sockets per remote host.
func WithConnectLimiter(l *ratelimit.Limiter) ServerOption {
	return func(s *Server) {
		s.limiter = l
	}
}

func WithServerLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = logger.OrDiscard(l)
	}
}

func NewServer(mem *memory.Server, opts ...ServerOption) *Server {
	s := &Server{
		mem: mem,
		upgrader: gorilla.Upgrader{
			Subprotocols:      []string{"cbor"},
			EnableCompression: true,
			CheckOrigin:       func(*http.Request) bool { return true },
		},
		log:     logger.Discard(),
		sockets: map[*socket]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler routes /rpc and /health.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/rpc", s.handleRPC).Methods("GET")
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	return router
}

// Sockets is the number of connected clients.
func (s *Server) Sockets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sockets)
}

// ListenAndServe blocks until ctx is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	s.log.Info("relay listening", "addr", addr)

	select {
	case <-ctx.Done():
		s.log.Info("relay shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.closeSockets()
		return err
	case err := <-serverErr:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "ok sockets=%d subscriptions=%d\n", s.Sockets(), s.mem.Subscribers())
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		res, err := s.limiter.CheckFor(r.Context(), ratelimit.RelayConnect, remoteHost(r))
		if err != nil {
			s.log.Error("relay: rate limit check failed", "error", err)
			http.Error(w, "rate limit unavailable", http.StatusServiceUnavailable)
			return
		}
		if !res.Allowed {
			w.Header().Set("Retry-After", fmt.Sprint(int(res.RetryAfter.Seconds())+1))
			http.Error(w, res.Err().Error(), http.StatusTooManyRequests)
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("relay: upgrade failed", "error", err)
		return
	}

	sock := &socket{
		server: s,
		ws:     ws,
		conn:   s.mem.Connect(),
		subs:   map[string]*backend.Subscription{},
	}
	s.mu.Lock()
	s.sockets[sock] = struct{}{}
	s.mu.Unlock()

	sock.serve()

	s.mu.Lock()
	delete(s.sockets, sock)
	s.mu.Unlock()
}

func (s *Server) closeSockets() {
	s.mu.Lock()
	socks := make([]*socket, 0, len(s.sockets))
	for sock := range s.sockets {
		socks = append(socks, sock)
	}
	s.mu.Unlock()

	for _, sock := range socks {
		_ = sock.ws.Close()
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// socket is one client. It owns one memory connection, so the disconnect
// hooks registered through it fire when the socket ends.
type socket struct {
	server *Server
	ws     *gorilla.Conn
	conn   *memory.Conn

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]*backend.Subscription
	wg   sync.WaitGroup
}

// serve handles requests in arrival order until the socket fails.
func (k *socket) serve() {
	log := k.server.log
	for {
		_, data, err := k.ws.ReadMessage()
		if err != nil {
			if gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
				log.Debug("relay: socket closed", "remote", k.ws.RemoteAddr().String())
				_ = k.conn.Close()
			} else {
				log.Debug("relay: socket lost", "remote", k.ws.RemoteAddr().String(), "error", err)
				_ = k.conn.Drop()
			}
			break
		}

		var req request
		if err := k.server.codec.Unmarshal(data, &req); err != nil {
			k.send(response{Error: &RPCError{Code: CodeBadRequest, Message: err.Error()}})
			continue
		}
		k.send(k.handle(req))
	}

	_ = k.ws.Close()
	k.wg.Wait()
}

func (k *socket) handle(req request) response {
	ctx := context.Background()
	res := response{ID: req.ID}

	var err error
	switch req.Method {
	case MethodWrite:
		err = k.conn.Write(ctx, req.Path, req.Value)
	case MethodUpdate:
		err = k.conn.MultiPathWrite(ctx, req.Updates)
	case MethodRead:
		var snap backend.Snapshot
		snap, err = k.conn.Read(ctx, req.Path)
		res.Result = snap.Value
	case MethodSubscribe:
		if req.Sub == "" {
			res.Error = &RPCError{Code: CodeBadRequest, Message: "subscription id missing"}
			return res
		}
		err = k.subscribe(ctx, req.Sub, req.Path)
	case MethodUnsubscribe:
		k.unsubscribe(req.Sub)
	case MethodOnDisconnect:
		err = k.conn.OnDisconnect(ctx, req.Path, req.Updates)
	default:
		res.Error = &RPCError{Code: CodeNoMethod, Message: fmt.Sprintf("unknown method %q", req.Method)}
		return res
	}

	if err != nil {
		res.Error = toRPCError(err)
	}
	return res
}

func (k *socket) subscribe(ctx context.Context, id, path string) error {
	sub, err := k.conn.Subscribe(ctx, path)
	if err != nil {
		return err
	}

	k.mu.Lock()
	if old, ok := k.subs[id]; ok {
		old.Close()
	}
	k.subs[id] = sub
	k.mu.Unlock()

	k.wg.Add(1)
	go k.forward(id, sub)
	return nil
}

func (k *socket) unsubscribe(id string) {
	k.mu.Lock()
	sub, ok := k.subs[id]
	delete(k.subs, id)
	k.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// forward pushes every snapshot of sub to the client. When the server ends
// the subscription on its own, the client is told so.
func (k *socket) forward(id string, sub *backend.Subscription) {
	defer k.wg.Done()

	path := ""
	for snap := range sub.C {
		path = snap.Path
		k.send(response{Notification: &notification{Sub: id, Path: snap.Path, Value: snap.Value}})
	}

	k.mu.Lock()
	current, live := k.subs[id]
	if live && current == sub {
		delete(k.subs, id)
	}
	k.mu.Unlock()
	if live && current == sub {
		k.send(response{Notification: &notification{Sub: id, Path: path, Closed: true}})
	}
}

func (k *socket) send(res response) {
	data, err := k.server.codec.Marshal(res)
	if err != nil {
		k.server.log.Error("relay: encode response", "error", err)
		return
	}

	k.writeMu.Lock()
	defer k.writeMu.Unlock()
	if err := k.ws.WriteMessage(gorilla.BinaryMessage, data); err != nil {
		k.server.log.Debug("relay: write failed", "error", err)
	}
}
