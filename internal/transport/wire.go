package transport

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/frost/internal/protocol"
)

// wire is the transport-specific half of a connection. Reads happen only on the
// connection's worker, writes only on its write pump.
type wire interface {
	ReadEnvelope(maxSize uint32) (*protocol.Envelope, error)
	WriteFrame(frame []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// pinger is implemented by wires that need application keepalives.
type pinger interface {
	Ping() error
}

// closeNotifier is implemented by wires that say goodbye before closing.
type closeNotifier interface {
	WriteClose() error
}

type tcpWire struct {
	conn net.Conn
	r    *bufio.Reader
}

func newTCPWire(conn net.Conn) *tcpWire {
	return &tcpWire{conn: conn, r: bufio.NewReader(conn)}
}

func (w *tcpWire) ReadEnvelope(maxSize uint32) (*protocol.Envelope, error) {
	return protocol.Decode(w.r, maxSize)
}

func (w *tcpWire) WriteFrame(frame []byte) error {
	_, err := w.conn.Write(frame)
	return err
}

func (w *tcpWire) SetReadDeadline(t time.Time) error  { return w.conn.SetReadDeadline(t) }
func (w *tcpWire) SetWriteDeadline(t time.Time) error { return w.conn.SetWriteDeadline(t) }
func (w *tcpWire) Close() error                       { return w.conn.Close() }

// wsWire carries exactly one codec frame per binary WebSocket message.
type wsWire struct {
	conn     *websocket.Conn
	pongWait time.Duration
}

func newWSWire(conn *websocket.Conn, maxSize uint32, pongWait time.Duration) *wsWire {
	w := &wsWire{conn: conn, pongWait: pongWait}
	conn.SetReadLimit(int64(maxSize) + 4)
	if pongWait > 0 {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}
	return w
}

func (w *wsWire) ReadEnvelope(maxSize uint32) (*protocol.Envelope, error) {
	typ, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if typ != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: unexpected websocket message type %d", protocol.ErrFraming, typ)
	}

	r := bytes.NewReader(data)
	body, err := protocol.ReadFrame(r, maxSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrFraming, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after frame", protocol.ErrFraming, r.Len())
	}

	if w.pongWait > 0 {
		w.conn.SetReadDeadline(time.Now().Add(w.pongWait))
	}
	return protocol.Unmarshal(body)
}

func (w *wsWire) WriteFrame(frame []byte) error {
	return w.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (w *wsWire) Ping() error {
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

func (w *wsWire) WriteClose() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (w *wsWire) SetReadDeadline(t time.Time) error  { return w.conn.SetReadDeadline(t) }
func (w *wsWire) SetWriteDeadline(t time.Time) error { return w.conn.SetWriteDeadline(t) }
func (w *wsWire) Close() error                       { return w.conn.Close() }
