// Package router resolves envelope paths to handlers.
//
// The routing table is built once from explicit groups and is read-only
// afterwards, so lookups take no lock.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/frost"
	"github.com/luciancaetano/frost/internal/protocol"
)

// ErrMalformedRequest is returned by handlers whose payload does not bind.
var ErrMalformedRequest = errors.New(frost.ErrMalformedRequest)

// HandlerFunc handles one envelope. A returned error is turned into a status reply.
type HandlerFunc func(ctx context.Context, c *Context, p protocol.Payload) error

// Group is a set of routes under one namespace, e.g. "rooms" with actions "create" and "join".
type Group struct {
	Namespace string
	Routes    map[string]HandlerFunc
}

// ErrorMapper converts a handler error to a wire status. ok is false for
// errors it does not recognise.
type ErrorMapper func(err error) (status frost.Status, ok bool)

// Observer is told about every dispatched envelope.
type Observer interface {
	ObserveRequest(path string, status frost.Status, took time.Duration)
}

// Option configures a Router.
type Option func(*Router)

// WithErrorMapper sets the mapper for handler errors.
func WithErrorMapper(m ErrorMapper) Option {
	return func(r *Router) { r.mapError = m }
}

// WithObserver sets the request observer.
func WithObserver(o Observer) Option {
	return func(r *Router) { r.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) { r.logger = l.Named("router") }
}

// Router dispatches envelopes by path.
type Router struct {
	routes   map[string]HandlerFunc
	mapError ErrorMapper
	observer Observer
	logger   *zap.Logger
}

// New builds the routing table. Duplicate paths and empty names are rejected.
func New(groups []Group, opts ...Option) (*Router, error) {
	r := &Router{
		routes: make(map[string]HandlerFunc),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, g := range groups {
		if g.Namespace == "" || strings.ContainsAny(g.Namespace, "/.") {
			return nil, fmt.Errorf("router: invalid namespace %q", g.Namespace)
		}
		for action, h := range g.Routes {
			if action == "" || strings.ContainsAny(action, "/.") {
				return nil, fmt.Errorf("router: invalid action %q in %s", action, g.Namespace)
			}
			if h == nil {
				return nil, fmt.Errorf("router: nil handler for %s/%s", g.Namespace, action)
			}
			path := g.Namespace + "/" + action
			if _, dup := r.routes[path]; dup {
				return nil, fmt.Errorf("router: duplicate route %s", path)
			}
			r.routes[path] = h
		}
	}

	return r, nil
}

// Routes returns every registered path in sorted order.
func (r *Router) Routes() []string {
	paths := make([]string, 0, len(r.routes))
	for p := range r.routes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Lookup resolves a raw path to its handler.
func (r *Router) Lookup(path string) (HandlerFunc, bool) {
	norm, ok := NormalizePath(path)
	if !ok {
		return nil, false
	}
	h, ok := r.routes[norm]
	return h, ok
}

// NormalizePath turns "rooms.join", "/rooms/join/" and "rooms/join" into
// "rooms/join". Paths that are not exactly namespace and action are rejected.
func NormalizePath(path string) (string, bool) {
	path = strings.TrimSpace(path)
	path = strings.ReplaceAll(path, ".", "/")
	path = strings.Trim(path, "/")

	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return path, true
}

// Dispatch runs the handler for env on the caller's worker. Unknown paths,
// handler errors and panics all produce a reply; none of them end the connection.
func (r *Router) Dispatch(ctx context.Context, c *Context, env *protocol.Envelope) {
	c.request = env
	c.replied = false
	c.status = frost.StatusSuccess

	start := time.Now()
	path := env.Headers.Path

	h, ok := r.Lookup(path)
	if !ok {
		c.ReplyStatus(ctx, frost.StatusRouteNotFound, frost.ErrRouteNotFound)
		r.observe(path, c.status, start)
		r.logger.Debug("route not found", zap.String("path", path), zap.String("conn_id", c.Conn.ID()))
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panic",
				zap.String("path", path),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			if c.replied {
				c.status = frost.StatusInternalError
			} else {
				c.ReplyStatus(ctx, frost.StatusInternalError, frost.ErrInternalError)
			}
		}
		r.observe(path, c.status, start)
	}()

	if err := h(ctx, c, env.Payload); err != nil {
		r.handleError(ctx, c, path, err)
	}
}

func (r *Router) handleError(ctx context.Context, c *Context, path string, err error) {
	if errors.Is(err, ErrMalformedRequest) {
		c.ReplyStatus(ctx, frost.StatusMalformedRequest, err.Error())
		return
	}
	if r.mapError != nil {
		if status, ok := r.mapError(err); ok {
			c.ReplyStatus(ctx, status, err.Error())
			return
		}
	}

	r.logger.Error("handler failed", zap.String("path", path), zap.Error(err))
	c.ReplyStatus(ctx, frost.StatusInternalError, frost.ErrInternalError)
}

func (r *Router) observe(path string, status frost.Status, start time.Time) {
	if r.observer == nil {
		return
	}
	if norm, ok := NormalizePath(path); ok {
		if _, known := r.routes[norm]; known {
			path = norm
		} else {
			path = "unknown"
		}
	} else {
		path = "unknown"
	}
	r.observer.ObserveRequest(path, status, time.Since(start))
}

// Bind decodes p into v and reports failures as ErrMalformedRequest.
func Bind(p protocol.Payload, v any) error {
	if err := p.Bind(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return nil
}
