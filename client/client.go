// Package client is a Go client for the frost chat gateway.
//
// Requests are issued one at a time; the gateway answers each connection's
// requests in order, so the next reply on the request's path is its answer.
// Server pushes (new messages, members joining or leaving) are delivered on
// the Events channel.
package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/luciancaetano/frost"
	"github.com/luciancaetano/frost/internal/protocol"
)

// ErrClosed is returned by calls made after the connection is gone.
var ErrClosed = errors.New("client: connection closed")

// StatusError is a non-SUCCESS reply.
type StatusError struct {
	Path    string
	Status  frost.Status
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Status)
	}
	return fmt.Sprintf("%s: %s: %s", e.Path, e.Status, e.Message)
}

// StatusOf extracts the reply status carried by err.
func StatusOf(err error) (frost.Status, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status, true
	}
	return 0, false
}

// Event is a server push.
type Event struct {
	Path    string
	Payload protocol.Payload
}

// Bind decodes the event payload into v.
func (e Event) Bind(v any) error { return e.Payload.Bind(v) }

type codec interface {
	read() (*protocol.Envelope, error)
	write(frame []byte) error
	close() error
}

type tcpCodec struct {
	conn net.Conn
	r    *bufio.Reader
}

func (c *tcpCodec) read() (*protocol.Envelope, error) {
	return protocol.Decode(c.r, protocol.DefaultMaxFrameSize)
}

func (c *tcpCodec) write(frame []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := c.conn.Write(frame)
	return err
}

func (c *tcpCodec) close() error { return c.conn.Close() }

type wsCodec struct {
	conn *websocket.Conn
}

func (c *wsCodec) read() (*protocol.Envelope, error) {
	typ, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if typ != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: unexpected websocket message type %d", protocol.ErrFraming, typ)
	}
	body, err := protocol.ReadFrame(bytes.NewReader(data), protocol.DefaultMaxFrameSize)
	if err != nil {
		return nil, err
	}
	return protocol.Unmarshal(body)
}

func (c *wsCodec) write(frame []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *wsCodec) close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}

// Client is one connection to a gateway. It is safe for concurrent use.
type Client struct {
	codec  codec
	logger *zap.Logger

	callMu  sync.Mutex
	writeMu sync.Mutex
	replies chan *protocol.Envelope
	events  chan Event
	done    chan struct{}
	err     error

	mu     sync.RWMutex
	userID int64
	token  string

	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l.Named("client") }
}

// WithEventBuffer sets how many pushes are queued before new ones are dropped.
func WithEventBuffer(n int) Option {
	return func(c *Client) { c.events = make(chan Event, n) }
}

// Dial connects to the TCP listener at addr.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newClient(&tcpCodec{conn: conn, r: bufio.NewReader(conn)}, opts...), nil
}

// DialWebSocket connects to a gateway WebSocket endpoint such as ws://host:7080/ws.
func DialWebSocket(ctx context.Context, url string, header http.Header, opts ...Option) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return newClient(&wsCodec{conn: conn}, opts...), nil
}

func newClient(cd codec, opts ...Option) *Client {
	c := &Client{
		codec:   cd,
		logger:  zap.NewNop(),
		replies: make(chan *protocol.Envelope, 16),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.events == nil {
		c.events = make(chan Event, 256)
	}
	go c.readLoop()
	return c
}

// Events returns the push channel. It is closed when the connection ends.
func (c *Client) Events() <-chan Event { return c.events }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// Close closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.codec.close() })
	return err
}

// Identity returns the user id and token of the last successful login.
func (c *Client) Identity() (int64, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.token
}

func isPush(path string) bool {
	switch path {
	case frost.PathNewMessage, frost.PathMemberJoined, frost.PathMemberLeft:
		return true
	}
	return false
}

func (c *Client) readLoop() {
	defer func() {
		close(c.events)
		close(c.done)
	}()

	for {
		env, err := c.codec.read()
		if err != nil {
			c.err = err
			return
		}

		if isPush(env.Headers.Path) {
			select {
			case c.events <- Event{Path: env.Headers.Path, Payload: env.Payload}:
			default:
				c.logger.Warn("event dropped, buffer full", zap.String("path", env.Headers.Path))
			}
			continue
		}

		select {
		case c.replies <- env:
		default:
			c.logger.Warn("unexpected reply dropped", zap.String("path", env.Headers.Path))
		}
	}
}

func (c *Client) send(path string, payload protocol.Payload) error {
	env := protocol.New(path, int(frost.StatusSuccess), payload)
	env.Headers.ID, env.Headers.Token = c.Identity()

	frame, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	return c.codec.write(frame)
}

// Call sends a request and waits for its reply. A non-SUCCESS reply is returned
// as a *StatusError.
func (c *Client) Call(ctx context.Context, path string, payload protocol.Payload) (protocol.Payload, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if err := c.send(path, payload); err != nil {
		return nil, err
	}

	for {
		select {
		case env := <-c.replies:
			if env.Headers.Path != path {
				// Left over from a call that gave up waiting.
				continue
			}
			if s := frost.Status(env.Headers.Status); s != frost.StatusSuccess {
				return nil, &StatusError{Path: path, Status: s, Message: env.Headers.Error}
			}
			return env.Payload, nil
		case <-c.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) callInto(ctx context.Context, path string, payload protocol.Payload, v any) error {
	res, err := c.Call(ctx, path, payload)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return res.Bind(v)
}
