package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/frost"
	"github.com/luciancaetano/frost/internal/protocol"
)

// CheckOriginFn validates the Origin of a WebSocket upgrade request.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is called once per connection before its first envelope is read.
// It runs on the connection's worker, so it must not block for long.
type OnConnectFn = func(c *Conn)

// OnDisconnectFn is called once per connection after its worker stops reading and
// before the connection is unregistered.
type OnDisconnectFn = func(c *Conn)

// Handler processes one inbound envelope. Calls for the same connection are
// sequential and in arrival order.
type Handler interface {
	ServeEnvelope(ctx context.Context, c *Conn, env *protocol.Envelope)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, c *Conn, env *protocol.Envelope)

func (f HandlerFunc) ServeEnvelope(ctx context.Context, c *Conn, env *protocol.Envelope) {
	f(ctx, c, env)
}

// Observer receives connection lifecycle events, typically for metrics.
type Observer interface {
	ConnectionOpened(transport string)
	ConnectionClosed(transport string)
	RateLimited(transport string)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened(string) {}
func (nopObserver) ConnectionClosed(string) {}
func (nopObserver) RateLimited(string)      {}

// RateLimitConfig defines rate limiting configuration for connections
type RateLimitConfig struct {
	// MessagesPerSecond defines how many envelopes a connection can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig allows 100 envelopes per second with a burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// ServerConfig configures a Server. Only Addr and Handler are required.
type ServerConfig struct {
	// Addr is the TCP listen address, e.g. ":7000".
	Addr string
	// HTTPAddr enables the HTTP listener serving /ws, /healthz and ExtraRoutes.
	HTTPAddr string

	MaxFrameSize uint32
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongWait     time.Duration

	RateLimit    *RateLimitConfig
	CheckOrigin  CheckOriginFn
	OnConnect    OnConnectFn
	OnDisconnect OnDisconnectFn
	Handler      Handler
	Observer     Observer
	ExtraRoutes  map[string]http.Handler
	Logger       *zap.Logger
}

// Server accepts connections and runs one worker per connection.
type Server struct {
	cfg      ServerConfig
	logger   *zap.Logger
	observer Observer
	upgrader websocket.Upgrader

	listener   net.Listener
	httpLn     net.Listener
	httpServer *http.Server
	clients    sync.Map // map[string]*Conn
	wg         sync.WaitGroup

	mu      sync.RWMutex
	running bool
}

// New creates a server. Defaults are filled in for zero values.
func New(cfg ServerConfig) *Server {
	if cfg.RateLimit == nil {
		cfg.RateLimit = DefaultRateLimitConfig()
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 54 * time.Second
	}
	if cfg.PongWait == 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}

	return &Server{
		cfg:      cfg,
		logger:   cfg.Logger.Named("transport"),
		observer: cfg.Observer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

// Start binds the listeners and starts accepting. It returns once the sockets are bound.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New(frost.ErrServerAlreadyRunning)
	}
	if s.cfg.Handler == nil {
		return errors.New("transport: nil handler")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", s.cfg.Addr, err)
	}

	if s.cfg.HTTPAddr != "" {
		hln, err := lc.Listen(ctx, "tcp", s.cfg.HTTPAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("listen http %s: %w", s.cfg.HTTPAddr, err)
		}
		s.httpLn = hln
		s.httpServer = &http.Server{
			Handler:           s.httpMux(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := s.httpServer.Serve(hln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("http listener stopped", zap.Error(err))
			}
		}()
		s.logger.Info("http listener started", zap.String("addr", hln.Addr().String()))
	}

	s.listener = ln
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.logger.Info("tcp listener started", zap.String("addr", ln.Addr().String()))
	return nil
}

// Stop stops accepting, lets every worker finish its current envelope and waits for
// them until ctx expires. Remaining connections are then closed forcibly.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.listener.Close()

	var httpErr error
	if s.httpServer != nil {
		httpErr = s.httpServer.Shutdown(ctx)
	}

	s.clients.Range(func(_, value any) bool {
		value.(*Conn).drain()
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("server stopped")
		return httpErr
	case <-ctx.Done():
		n := 0
		s.clients.Range(func(_, value any) bool {
			value.(*Conn).forceClose()
			n++
			return true
		})
		s.logger.Warn("shutdown timeout, connections force-closed", zap.Int("count", n))
		return ctx.Err()
	}
}

// Addr returns the bound TCP address
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HTTPAddr returns the bound HTTP address
func (s *Server) HTTPAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}

// GetConn returns a live connection by ID
func (s *Server) GetConn(id string) (*Conn, bool) {
	if c, ok := s.clients.Load(id); ok {
		return c.(*Conn), true
	}
	return nil, false
}

// Len returns the number of registered connections
func (s *Server) Len() int {
	n := 0
	s.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else {
					backoff *= 2
				}
				if backoff > time.Second {
					backoff = time.Second
				}
				s.logger.Warn("accept error, retrying", zap.Error(err), zap.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}
			s.logger.Error("accept failed", zap.Error(err))
			return
		}
		backoff = 0

		c := newConn(newTCPWire(nc), "tcp", nc.RemoteAddr().String(), s.connOptions())
		s.serve(c)
	}
}

func (s *Server) httpMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","connections":%d}`, s.Len())
	})
	for pattern, h := range s.cfg.ExtraRoutes {
		mux.Handle(pattern, h)
	}
	return mux
}

// handleWebSocket upgrades the request and hands the socket to a worker
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newConn(newWSWire(ws, s.cfg.MaxFrameSize, s.cfg.PongWait), "ws", r.RemoteAddr, s.connOptions())
	s.serve(c)
}

func (s *Server) connOptions() connOptions {
	return connOptions{
		sendBuffer:   s.cfg.SendBuffer,
		writeTimeout: s.cfg.WriteTimeout,
		pingInterval: s.cfg.PingInterval,
		rateLimit:    s.cfg.RateLimit,
		logger:       s.logger,
	}
}

// serve registers c and starts its worker, unless the server is stopping.
func (s *Server) serve(c *Conn) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running {
		c.forceClose()
		return
	}

	s.clients.Store(c.ID(), c)
	s.observer.ConnectionOpened(c.Transport())
	s.wg.Add(1)
	go s.handleConn(c)
}

// handleConn is the connection's worker: read one envelope, dispatch it, repeat.
func (s *Server) handleConn(c *Conn) {
	defer func() {
		if s.cfg.OnDisconnect != nil {
			s.cfg.OnDisconnect(c)
		}
		s.clients.Delete(c.ID())
		c.Close()
		s.observer.ConnectionClosed(c.Transport())
		c.logger.Debug("connection closed")
		s.wg.Done()
	}()

	c.logger.Debug("connection accepted")

	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(c)
	}

	for {
		select {
		case <-c.Context().Done():
			return
		default:
		}

		env, err := c.wire.ReadEnvelope(s.cfg.MaxFrameSize)
		var malformed *protocol.EnvelopeError
		switch {
		case errors.As(err, &malformed):
			if s.allow(c, malformed.Path) {
				c.logger.Debug("malformed envelope", zap.String("path", malformed.Path), zap.Error(err))
				s.replyStatus(c, malformed.Path, frost.StatusMalformedRequest, malformed.Error())
			}
			continue
		case err != nil:
			s.logReadError(c, err)
			return
		}

		if !s.allow(c, env.Headers.Path) {
			continue
		}

		s.cfg.Handler.ServeEnvelope(c.Context(), c, env)

		if c.draining.Load() {
			return
		}
	}
}

// allow takes a token from the connection's limiter and answers RATE_LIMITED
// when none is left.
func (s *Server) allow(c *Conn, path string) bool {
	if c.CheckRateLimit() {
		return true
	}
	s.observer.RateLimited(c.Transport())
	c.logger.Warn("rate limit exceeded", zap.String("path", path))
	s.replyStatus(c, path, frost.StatusRateLimited, frost.ErrRateLimited)
	return false
}

func (s *Server) replyStatus(c *Conn, path string, status frost.Status, msg string) {
	reply := protocol.New(path, int(status), nil)
	reply.Headers.Error = msg
	c.SendEnvelope(c.Context(), reply)
}

func (s *Server) logReadError(c *Conn, err error) {
	switch {
	case c.draining.Load():
	case errors.Is(err, net.ErrClosed):
	case errors.Is(err, protocol.ErrFraming):
		c.logger.Warn("framing error, closing connection", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
		c.logger.Info("unexpected websocket close", zap.Error(err))
	default:
		c.logger.Debug("read stopped", zap.Error(err))
	}
}
