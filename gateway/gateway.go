// Package gateway assembles the frost chat server: listeners, router, handlers,
// storage and metrics, configured from a config.Config.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/frost"
	"github.com/luciancaetano/frost/internal/auth"
	"github.com/luciancaetano/frost/internal/config"
	"github.com/luciancaetano/frost/internal/handlers"
	"github.com/luciancaetano/frost/internal/metrics"
	"github.com/luciancaetano/frost/internal/presence"
	"github.com/luciancaetano/frost/internal/protocol"
	"github.com/luciancaetano/frost/internal/room"
	"github.com/luciancaetano/frost/internal/router"
	"github.com/luciancaetano/frost/internal/session"
	"github.com/luciancaetano/frost/internal/storage"
	"github.com/luciancaetano/frost/internal/transport"
)

// Gateway is a running chat server.
type Gateway struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    storage.Store
	ownStore bool
	presence *presence.Registry
	router   *router.Router
	server   *transport.Server
	metrics  *metrics.Metrics

	// conn id -> *router.Context, one per live connection
	conns sync.Map
}

var _ frost.Gateway = (*Gateway)(nil)

// Option configures a Gateway.
type Option func(*Gateway)

// WithStore makes the gateway use s instead of opening the configured storage.
// The caller keeps ownership and closes it.
func WithStore(s storage.Store) Option {
	return func(g *Gateway) { g.store = s }
}

// New wires a gateway from cfg. Nothing is bound until Start.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Gateway{
		cfg:      cfg,
		logger:   logger.Named("gateway"),
		presence: presence.NewRegistry(),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.store == nil {
		store, err := openStore(cfg.Storage, logger)
		if err != nil {
			return nil, err
		}
		g.store, g.ownStore = store, true
	}

	roomOpts := []room.Option{room.WithLogger(logger)}
	routerOpts := []router.Option{router.WithErrorMapper(handlers.StatusOf), router.WithLogger(logger)}
	var observer transport.Observer
	extra := map[string]http.Handler{}
	if cfg.Metrics.Enabled {
		g.metrics = metrics.New(cfg.Metrics.Namespace)
		roomOpts = append(roomOpts, room.WithObserver(g.metrics))
		routerOpts = append(routerOpts, router.WithObserver(g.metrics))
		observer = g.metrics
		extra[cfg.Metrics.Path] = g.metrics.Handler()
	}

	rooms := room.NewService(g.store, g.presence, room.Config{
		DefaultHistory: cfg.Messages.DefaultHistory,
		MaxHistory:     cfg.Messages.MaxHistory,
	}, roomOpts...)
	h := handlers.New(g.store, auth.NewBcryptHasher(cfg.Auth.BcryptCost), auth.NewGuard(g.store, logger), rooms, logger)

	r, err := router.New(h.Groups(), routerOpts...)
	if err != nil {
		g.closeStore()
		return nil, err
	}
	g.router = r

	g.server = transport.New(transport.ServerConfig{
		Addr:         cfg.Server.Addr,
		HTTPAddr:     cfg.Server.HTTPAddr,
		MaxFrameSize: cfg.Server.MaxFrameSize,
		SendBuffer:   cfg.Server.SendBuffer,
		WriteTimeout: cfg.Server.WriteTimeout,
		RateLimit: &transport.RateLimitConfig{
			Enabled:           cfg.RateLimit.Enabled,
			MessagesPerSecond: rate.Limit(cfg.RateLimit.MessagesPerSecond),
			Burst:             cfg.RateLimit.Burst,
		},
		CheckOrigin:  checkOrigin(cfg.Server.AllowedOrigins),
		OnConnect:    g.onConnect,
		OnDisconnect: g.onDisconnect,
		Handler:      g,
		Observer:     observer,
		ExtraRoutes:  extra,
		Logger:       logger,
	})

	return g, nil
}

func openStore(cfg config.StorageConfig, logger *zap.Logger) (storage.Store, error) {
	if !strings.EqualFold(cfg.Type, config.StorageDatabase) {
		return storage.NewMemoryStore(), nil
	}
	dbType, err := storage.ParseDatabaseType(cfg.Database.Type)
	if err != nil {
		return nil, err
	}
	return storage.NewDBStore(logger, dbType, cfg.Database.DSN)
}

// checkOrigin allows every origin when none are configured. Requests without an
// Origin header come from non-browser clients and are always allowed.
func checkOrigin(allowed []string) transport.CheckOriginFn {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimSuffix(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

// Start binds the listeners.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.server.Start(ctx); err != nil {
		return err
	}
	g.logger.Info("gateway started",
		zap.Stringer("tcp", g.server.Addr()),
		zap.String("storage", g.cfg.Storage.Type),
		zap.Strings("routes", g.router.Routes()),
	)
	return nil
}

// Stop shuts the listeners down gracefully and closes storage opened by New.
func (g *Gateway) Stop(ctx context.Context) error {
	err := g.server.Stop(ctx)
	return errors.Join(err, g.closeStore())
}

func (g *Gateway) closeStore() error {
	if !g.ownStore {
		return nil
	}
	g.ownStore = false
	return g.store.Close()
}

func (g *Gateway) Addr() net.Addr     { return g.server.Addr() }
func (g *Gateway) HTTPAddr() net.Addr { return g.server.HTTPAddr() }

// Online returns the number of logged in users with a live connection.
func (g *Gateway) Online() int { return g.presence.Len() }

func (g *Gateway) onConnect(c *transport.Conn) {
	rc := router.NewContext(c, session.New(c.ID()), g.presence, g.logger.With(zap.String("conn_id", c.ID())))
	g.conns.Store(c.ID(), rc)
}

// onDisconnect ends the session; presence is dropped only if this connection
// still owns it.
func (g *Gateway) onDisconnect(c *transport.Conn) {
	v, ok := g.conns.LoadAndDelete(c.ID())
	if !ok {
		return
	}
	rc := v.(*router.Context)
	if uid, ok := rc.Session.Logout(); ok {
		g.presence.Unbind(uid, c.ID())
	}
}

// ServeEnvelope implements transport.Handler.
func (g *Gateway) ServeEnvelope(ctx context.Context, c *transport.Conn, env *protocol.Envelope) {
	v, ok := g.conns.Load(c.ID())
	if !ok {
		return
	}
	g.router.Dispatch(ctx, v.(*router.Context), env)
}
