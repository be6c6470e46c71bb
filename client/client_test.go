package client

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/luciancaetano/frost"
	"github.com/luciancaetano/frost/internal/protocol"
)

// fakeServer answers requests on the far end of a pipe with respond.
func fakeServer(t *testing.T, respond func(req *protocol.Envelope) []*protocol.Envelope) *Client {
	t.Helper()

	near, far := net.Pipe()
	t.Cleanup(func() {
		near.Close()
		far.Close()
	})

	go func() {
		r := bufio.NewReader(far)
		for {
			req, err := protocol.Decode(r, protocol.DefaultMaxFrameSize)
			if err != nil {
				return
			}
			for _, env := range respond(req) {
				frame, err := protocol.Encode(env)
				if err != nil {
					return
				}
				if _, err := far.Write(frame); err != nil {
					return
				}
			}
		}
	}()

	return newClient(&tcpCodec{conn: near, r: bufio.NewReader(near)})
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestLoginKeepsIdentity tests that the id and token from login are sent on later requests.
func TestLoginKeepsIdentity(t *testing.T) {
	t.Parallel()

	seen := make(chan protocol.Headers, 4)
	c := fakeServer(t, func(req *protocol.Envelope) []*protocol.Envelope {
		seen <- req.Headers
		switch req.Headers.Path {
		case frost.PathLogin:
			return []*protocol.Envelope{protocol.New(frost.PathLogin, 0, protocol.Payload{"id": 7, "token": "tok"})}
		default:
			return []*protocol.Envelope{protocol.New(req.Headers.Path, 0, protocol.Payload{"rooms": []any{}})}
		}
	})
	ctx := testCtx(t)

	id, err := c.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if id != 7 {
		t.Errorf("Login() id = %d, want 7", id)
	}
	if h := <-seen; h.ID != 0 || h.Token != "" {
		t.Errorf("login headers = %+v, want anonymous", h)
	}

	if _, err := c.JoinedRooms(ctx); err != nil {
		t.Fatalf("JoinedRooms() error = %v", err)
	}
	if h := <-seen; h.ID != 7 || h.Token != "tok" {
		t.Errorf("headers = %+v, want id 7 token tok", h)
	}
}

// TestCallSeparatesPushes tests that pushes arriving before a reply go to Events.
func TestCallSeparatesPushes(t *testing.T) {
	t.Parallel()

	c := fakeServer(t, func(req *protocol.Envelope) []*protocol.Envelope {
		push := protocol.New(frost.PathNewMessage, 0, protocol.Payload{"message": map[string]any{"id": 1, "body": "hi"}})
		reply := protocol.New(req.Headers.Path, 0, protocol.Payload{"message": map[string]any{"id": 1, "body": "hi"}})
		return []*protocol.Envelope{push, reply}
	})
	ctx := testCtx(t)

	msg, err := c.SendMessage(ctx, 1, "hi")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if msg.ID != 1 || msg.Body != "hi" {
		t.Errorf("SendMessage() = %+v", msg)
	}

	select {
	case ev := <-c.Events():
		if ev.Path != frost.PathNewMessage {
			t.Errorf("event path = %q", ev.Path)
		}
	case <-ctx.Done():
		t.Fatal("no event")
	}
}

// TestStatusErrors tests that non-SUCCESS replies surface as StatusError.
func TestStatusErrors(t *testing.T) {
	t.Parallel()

	c := fakeServer(t, func(req *protocol.Envelope) []*protocol.Envelope {
		env := protocol.New(req.Headers.Path, int(frost.StatusInvalidInvite), nil)
		env.Headers.Error = "invalid invite code"
		return []*protocol.Envelope{env}
	})

	_, err := c.JoinRoom(testCtx(t), "nope")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("JoinRoom() error = %v, want *StatusError", err)
	}
	if se.Status != frost.StatusInvalidInvite || se.Path != frost.PathJoinRoom {
		t.Errorf("StatusError = %+v", se)
	}
	if got, ok := StatusOf(err); !ok || got != frost.StatusInvalidInvite {
		t.Errorf("StatusOf() = %v, %v", got, ok)
	}
	if _, ok := StatusOf(errors.New("plain")); ok {
		t.Error("StatusOf(plain error) reported a status")
	}
}

// TestEmptyMessageIsNotSent tests that an empty message never reaches the wire.
func TestEmptyMessageIsNotSent(t *testing.T) {
	t.Parallel()

	seen := make(chan string, 4)
	c := fakeServer(t, func(req *protocol.Envelope) []*protocol.Envelope {
		seen <- req.Headers.Path
		return []*protocol.Envelope{protocol.New(req.Headers.Path, 0, nil)}
	})

	msg, err := c.SendMessage(testCtx(t), 1, "")
	if err != nil || msg != nil {
		t.Errorf("SendMessage(empty) = %v, %v; want nil, nil", msg, err)
	}

	if _, err := c.Call(testCtx(t), frost.PathJoinedRooms, nil); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got := <-seen; got != frost.PathJoinedRooms {
		t.Errorf("first request = %q, want %q", got, frost.PathJoinedRooms)
	}
}

// TestClosedConnection tests that calls fail once the peer hangs up.
func TestClosedConnection(t *testing.T) {
	t.Parallel()

	near, far := net.Pipe()
	c := newClient(&tcpCodec{conn: near, r: bufio.NewReader(near)})
	far.Close()

	<-c.Done()
	if c.Err() == nil {
		t.Error("Err() = nil after hang up")
	}
	if _, ok := <-c.Events(); ok {
		t.Error("Events() still open")
	}
	if _, err := c.Register(testCtx(t), "a", "b"); !errors.Is(err, ErrClosed) {
		t.Errorf("Register() error = %v, want ErrClosed", err)
	}
	c.Close()
}
