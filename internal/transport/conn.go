package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/frost"
	"github.com/luciancaetano/frost/internal/protocol"
)

const (
	defaultSendBuffer   = 256
	defaultWriteTimeout = 10 * time.Second
)

var (
	ErrConnectionClosed = errors.New(frost.ErrConnectionClosed)
	ErrSendBufferFull   = errors.New(frost.ErrSendBufferFull)
)

// Conn implements frost.Conn on top of a TCP or WebSocket wire.
type Conn struct {
	id         string
	transport  string
	remoteAddr string
	wire       wire

	ctx    context.Context
	cancel context.CancelFunc
	sendCh chan []byte
	done   chan struct{}

	mu       sync.RWMutex
	closed   bool
	draining atomic.Bool

	rateLimiter  *rate.Limiter // nil when rate limiting is disabled
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *zap.Logger
}

type connOptions struct {
	sendBuffer   int
	writeTimeout time.Duration
	pingInterval time.Duration
	rateLimit    *RateLimitConfig
	logger       *zap.Logger
}

func newConn(w wire, transport, remoteAddr string, opts connOptions) *Conn {
	ctx, cancel := context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if opts.rateLimit != nil && opts.rateLimit.Enabled {
		limiter = rate.NewLimiter(opts.rateLimit.MessagesPerSecond, opts.rateLimit.Burst)
	}
	if opts.sendBuffer <= 0 {
		opts.sendBuffer = defaultSendBuffer
	}
	if opts.writeTimeout <= 0 {
		opts.writeTimeout = defaultWriteTimeout
	}
	if opts.logger == nil {
		opts.logger = zap.NewNop()
	}

	id := uuid.New().String()
	c := &Conn{
		id:           id,
		transport:    transport,
		remoteAddr:   remoteAddr,
		wire:         w,
		ctx:          ctx,
		cancel:       cancel,
		sendCh:       make(chan []byte, opts.sendBuffer),
		done:         make(chan struct{}),
		rateLimiter:  limiter,
		writeTimeout: opts.writeTimeout,
		pingInterval: opts.pingInterval,
		logger: opts.logger.With(
			zap.String("conn_id", id),
			zap.String("transport", transport),
			zap.String("remote_addr", remoteAddr),
		),
	}

	go c.writePump()

	return c
}

// ID returns a unique identifier for the connection
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer's network address
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Transport returns "tcp" or "ws"
func (c *Conn) Transport() string {
	return c.transport
}

// Context returns the connection's lifecycle context
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Send queues an encoded frame. A full buffer means the peer is not keeping up;
// the connection is closed rather than blocking the caller.
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrConnectionClosed
	}

	// Keep the lock while sending to prevent race with Close()
	select {
	case c.sendCh <- frame:
		c.mu.RUnlock()
		return nil
	case <-ctx.Done():
		c.mu.RUnlock()
		return ctx.Err()
	default:
		c.mu.RUnlock()
	}

	c.logger.Warn("send buffer full, closing slow connection")
	c.Close()
	return ErrSendBufferFull
}

// SendEnvelope encodes env and queues it.
func (c *Conn) SendEnvelope(ctx context.Context, env *protocol.Envelope) error {
	frame, err := protocol.Encode(env)
	if err != nil {
		return fmt.Errorf("%s: %w", frost.ErrFailedToEncode, err)
	}
	return c.Send(ctx, frame)
}

// Close stops accepting frames. Frames already queued are flushed by the write
// pump before the socket is closed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.cancel()
	close(c.sendCh)
	return nil
}

// forceClose closes the socket immediately, dropping anything still queued.
func (c *Conn) forceClose() {
	c.Close()
	c.wire.Close()
}

// drain asks the worker to stop after the envelope it is processing and
// interrupts a pending read.
func (c *Conn) drain() {
	c.draining.Store(true)
	c.wire.SetReadDeadline(time.Now())
}

// IsAlive returns true if the connection is still open
func (c *Conn) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// Done is closed once the write pump has exited and the socket is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// CheckRateLimit reports whether another inbound envelope is allowed
func (c *Conn) CheckRateLimit() bool {
	if c.rateLimiter == nil {
		return true
	}
	return c.rateLimiter.Allow()
}

// writePump is the only writer of the underlying wire.
func (c *Conn) writePump() {
	var tick <-chan time.Time
	p, canPing := c.wire.(pinger)
	if canPing && c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	defer func() {
		c.wire.Close()
		close(c.done)
	}()

	for {
		select {
		case frame, ok := <-c.sendCh:
			c.wire.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if !ok {
				if n, ok := c.wire.(closeNotifier); ok {
					n.WriteClose()
				}
				return
			}

			if err := c.wire.WriteFrame(frame); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.Close()
				return
			}

		case <-tick:
			c.wire.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := p.Ping(); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				c.Close()
				return
			}
		}
	}
}

var _ frost.Conn = (*Conn)(nil)
