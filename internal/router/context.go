package router

import (
	"context"

	"go.uber.org/zap"

	"github.com/luciancaetano/frost"
	"github.com/luciancaetano/frost/internal/presence"
	"github.com/luciancaetano/frost/internal/protocol"
	"github.com/luciancaetano/frost/internal/session"
)

// Context is what a handler sees of the connection that sent the envelope.
type Context struct {
	Conn     frost.Conn
	Session  *session.Session
	Presence *presence.Registry
	Logger   *zap.Logger

	request *protocol.Envelope
	status  frost.Status
	replied bool
}

// NewContext returns a Context bound to one connection.
func NewContext(conn frost.Conn, sess *session.Session, reg *presence.Registry, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		Conn:     conn,
		Session:  sess,
		Presence: reg,
		Logger:   logger,
	}
}

// Request returns the envelope being handled.
func (c *Context) Request() *protocol.Envelope { return c.request }

// Headers returns the headers of the envelope being handled.
func (c *Context) Headers() protocol.Headers {
	if c.request == nil {
		return protocol.Headers{}
	}
	return c.request.Headers
}

// Replied reports whether the current handler has replied yet.
func (c *Context) Replied() bool { return c.replied }

// Reply sends a SUCCESS envelope on the request's path.
func (c *Context) Reply(ctx context.Context, payload protocol.Payload) error {
	return c.reply(ctx, frost.StatusSuccess, "", payload)
}

// ReplyStatus sends a payload-less envelope with the given status and message.
func (c *Context) ReplyStatus(ctx context.Context, status frost.Status, msg string) error {
	return c.reply(ctx, status, msg, nil)
}

func (c *Context) reply(ctx context.Context, status frost.Status, msg string, payload protocol.Payload) error {
	env := protocol.New(c.Headers().Path, int(status), payload)
	env.Headers.Error = msg

	c.status = status
	c.replied = true
	return c.Send(ctx, env)
}

// Send encodes env and queues it on the caller's connection.
func (c *Context) Send(ctx context.Context, env *protocol.Envelope) error {
	frame, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return c.Conn.Send(ctx, frame)
}
