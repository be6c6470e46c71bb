package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/luciancaetano/frost"
	"github.com/luciancaetano/frost/internal/auth"
	"github.com/luciancaetano/frost/internal/presence"
	"github.com/luciancaetano/frost/internal/protocol"
	"github.com/luciancaetano/frost/internal/room"
	"github.com/luciancaetano/frost/internal/router"
	"github.com/luciancaetano/frost/internal/session"
	"github.com/luciancaetano/frost/internal/storage"
)

type peerConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
}

func (c *peerConn) ID() string               { return c.id }
func (c *peerConn) RemoteAddr() string       { return "127.0.0.1:1" }
func (c *peerConn) Transport() string        { return "tcp" }
func (c *peerConn) Context() context.Context { return context.Background() }
func (c *peerConn) Close() error             { return nil }
func (c *peerConn) IsAlive() bool            { return true }

func (c *peerConn) Send(_ context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

// drain returns and forgets everything sent so far.
func (c *peerConn) drain(t *testing.T) []*protocol.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*protocol.Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		env, err := protocol.Decode(bytes.NewReader(f), protocol.DefaultMaxFrameSize)
		require.NoError(t, err)
		out = append(out, env)
	}
	c.frames = nil
	return out
}

type world struct {
	router   *router.Router
	presence *presence.Registry
	store    *storage.MemoryStore
}

func newWorld(t *testing.T) *world {
	t.Helper()

	store := storage.NewMemoryStore()
	reg := presence.NewRegistry()
	rooms := room.NewService(store, reg, room.Config{})
	h := New(store, auth.NewBcryptHasher(bcrypt.MinCost), auth.NewGuard(store, nil), rooms, zap.NewNop())

	r, err := router.New(h.Groups(), router.WithErrorMapper(StatusOf))
	require.NoError(t, err)
	return &world{router: r, presence: reg, store: store}
}

// peer is one connected client with its own session.
type peer struct {
	w     *world
	conn  *peerConn
	ctx   *router.Context
	id    int64
	token string
}

func (w *world) connect(name string) *peer {
	conn := &peerConn{id: "conn-" + name}
	return &peer{
		w:    w,
		conn: conn,
		ctx:  router.NewContext(conn, session.New(conn.id), w.presence, zap.NewNop()),
	}
}

// call dispatches one request and returns the frames it produced, reply last.
func (p *peer) call(t *testing.T, path string, payload protocol.Payload) []*protocol.Envelope {
	t.Helper()
	env := protocol.New(path, 0, payload)
	env.Headers.ID = p.id
	env.Headers.Token = p.token
	p.w.router.Dispatch(context.Background(), p.ctx, env)
	return p.conn.drain(t)
}

func (p *peer) reply(t *testing.T, path string, payload protocol.Payload) *protocol.Envelope {
	t.Helper()
	frames := p.call(t, path, payload)
	require.NotEmpty(t, frames, "no reply to %s", path)
	last := frames[len(frames)-1]
	require.Equal(t, path, last.Headers.Path)
	return last
}

func (p *peer) signUp(t *testing.T, name string) {
	t.Helper()
	res := p.reply(t, frost.PathRegister, protocol.Payload{"username": name, "password": "pw-" + name})
	require.Equal(t, int(frost.StatusSuccess), res.Headers.Status, res.Headers.Error)

	res = p.reply(t, frost.PathLogin, protocol.Payload{"username": name, "password": "pw-" + name})
	require.Equal(t, int(frost.StatusSuccess), res.Headers.Status, res.Headers.Error)

	var body struct {
		ID    int64  `json:"id"`
		Token string `json:"token"`
	}
	require.NoError(t, res.Payload.Bind(&body))
	p.id, p.token = body.ID, body.Token
}

func status(env *protocol.Envelope) frost.Status { return frost.Status(env.Headers.Status) }

func TestRegisterAndLogin(t *testing.T) {
	w := newWorld(t)
	a := w.connect("a")

	res := a.reply(t, frost.PathRegister, protocol.Payload{"username": "alice", "password": "pw"})
	assert.Equal(t, frost.StatusSuccess, status(res))
	assert.NotNil(t, res.Payload["id"])

	res = a.reply(t, frost.PathRegister, protocol.Payload{"username": "alice", "password": "other"})
	assert.Equal(t, frost.StatusDuplicateUsername, status(res))

	res = a.reply(t, frost.PathRegister, protocol.Payload{"username": " ", "password": "pw"})
	assert.Equal(t, frost.StatusMalformedRequest, status(res))

	res = a.reply(t, frost.PathLogin, protocol.Payload{"username": "alice", "password": "nope"})
	assert.Equal(t, frost.StatusInvalidAuth, status(res))

	res = a.reply(t, frost.PathLogin, protocol.Payload{"username": "bob", "password": "pw"})
	assert.Equal(t, frost.StatusInvalidAuth, status(res))

	res = a.reply(t, frost.PathLogin, protocol.Payload{"username": "alice", "password": "pw"})
	require.Equal(t, frost.StatusSuccess, status(res))
	assert.NotEmpty(t, res.Payload["token"])
	assert.Equal(t, session.Authenticated, a.ctx.Session.State())
	assert.True(t, w.presence.Online(1))
}

func TestLoginRotatesToken(t *testing.T) {
	w := newWorld(t)
	a := w.connect("a")
	a.signUp(t, "alice")

	b := w.connect("b")
	res := b.reply(t, frost.PathLogin, protocol.Payload{"username": "alice", "password": "pw-alice"})
	require.Equal(t, frost.StatusSuccess, status(res))

	// The old token is dead and the newest connection owns presence.
	res = a.reply(t, frost.PathJoinedRooms, nil)
	assert.Equal(t, frost.StatusInvalidAuth, status(res))

	c, ok := w.presence.Lookup(a.id)
	require.True(t, ok)
	assert.Equal(t, "conn-b", c.ID())
}

func TestGuardedRoutesRejectBadCredentials(t *testing.T) {
	w := newWorld(t)
	a := w.connect("a")
	a.signUp(t, "alice")

	paths := []string{
		frost.PathLogout,
		frost.PathSendMessage,
		frost.PathGetMessages,
		frost.PathGetNew,
		frost.PathCreateRoom,
		frost.PathJoinRoom,
		frost.PathLeaveRoom,
		frost.PathJoinedRooms,
		frost.PathGetInviteCode,
		frost.PathGetMembers,
	}
	intruder := w.connect("x")
	intruder.id = a.id
	intruder.token = "forged"

	for _, path := range paths {
		res := intruder.reply(t, path, protocol.Payload{"room_id": 1, "name": "r", "invite_code": "x"})
		assert.Equal(t, frost.StatusInvalidAuth, status(res), path)
	}
}

func TestLogout(t *testing.T) {
	w := newWorld(t)
	a := w.connect("a")
	a.signUp(t, "alice")

	res := a.reply(t, frost.PathLogout, nil)
	require.Equal(t, frost.StatusSuccess, status(res))
	assert.Equal(t, session.Anonymous, a.ctx.Session.State())
	assert.False(t, w.presence.Online(a.id))

	res = a.reply(t, frost.PathJoinedRooms, nil)
	assert.Equal(t, frost.StatusInvalidAuth, status(res))
}

func TestRoomConversation(t *testing.T) {
	w := newWorld(t)
	a := w.connect("a")
	b := w.connect("b")
	a.signUp(t, "alice")
	b.signUp(t, "bob")

	res := a.reply(t, frost.PathCreateRoom, protocol.Payload{"name": "general"})
	require.Equal(t, frost.StatusSuccess, status(res))
	var created struct {
		Room storage.Room `json:"room"`
	}
	require.NoError(t, res.Payload.Bind(&created))
	require.NotEmpty(t, created.Room.InviteCode)

	res = a.reply(t, frost.PathGetInviteCode, protocol.Payload{"room_id": created.Room.ID})
	require.Equal(t, frost.StatusSuccess, status(res))
	assert.Equal(t, created.Room.InviteCode, res.Payload["invite_code"])

	res = b.reply(t, frost.PathJoinRoom, protocol.Payload{"invite_code": created.Room.InviteCode})
	require.Equal(t, frost.StatusSuccess, status(res))

	pushed := a.conn.drain(t)
	require.Len(t, pushed, 1)
	assert.Equal(t, frost.PathMemberJoined, pushed[0].Headers.Path)

	res = b.reply(t, frost.PathGetInviteCode, protocol.Payload{"room_id": created.Room.ID})
	assert.Equal(t, frost.StatusPermissionDenied, status(res))

	// bob's reply comes after the push of his own message.
	frames := b.call(t, frost.PathSendMessage, protocol.Payload{"room_id": created.Room.ID, "message": "hi alice"})
	require.Len(t, frames, 2)
	assert.Equal(t, frost.PathNewMessage, frames[0].Headers.Path)
	assert.Equal(t, frost.PathSendMessage, frames[1].Headers.Path)

	pushed = a.conn.drain(t)
	require.Len(t, pushed, 1)
	msg, ok := pushed[0].Payload["message"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi alice", msg["body"])

	// Empty messages produce nothing.
	assert.Empty(t, b.call(t, frost.PathSendMessage, protocol.Payload{"room_id": created.Room.ID, "message": ""}))
	assert.Empty(t, a.conn.drain(t))

	res = a.reply(t, frost.PathGetMessages, protocol.Payload{"room_id": created.Room.ID})
	require.Equal(t, frost.StatusSuccess, status(res))
	var history struct {
		RoomID   int64              `json:"room_id"`
		Messages []*storage.Message `json:"messages"`
	}
	require.NoError(t, res.Payload.Bind(&history))
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "hi alice", history.Messages[0].Body)

	res = a.reply(t, frost.PathGetNew, protocol.Payload{"room_id": created.Room.ID, "after_id": history.Messages[0].ID})
	require.Equal(t, frost.StatusSuccess, status(res))
	require.NoError(t, res.Payload.Bind(&history))
	assert.Empty(t, history.Messages)

	res = b.reply(t, frost.PathGetMembers, protocol.Payload{"room_id": created.Room.ID})
	require.Equal(t, frost.StatusSuccess, status(res))
	var members struct {
		Members []room.Member `json:"members"`
	}
	require.NoError(t, res.Payload.Bind(&members))
	assert.Len(t, members.Members, 2)

	res = b.reply(t, frost.PathLeaveRoom, protocol.Payload{"room_id": created.Room.ID})
	require.Equal(t, frost.StatusSuccess, status(res))
	pushed = a.conn.drain(t)
	require.Len(t, pushed, 1)
	assert.Equal(t, frost.PathMemberLeft, pushed[0].Headers.Path)

	res = b.reply(t, frost.PathJoinedRooms, nil)
	require.Equal(t, frost.StatusSuccess, status(res))
	var joined struct {
		Rooms []storage.Room `json:"rooms"`
	}
	require.NoError(t, res.Payload.Bind(&joined))
	assert.Empty(t, joined.Rooms)
}

func TestRoomErrors(t *testing.T) {
	w := newWorld(t)
	a := w.connect("a")
	a.signUp(t, "alice")

	res := a.reply(t, frost.PathCreateRoom, protocol.Payload{"name": "dup"})
	require.Equal(t, frost.StatusSuccess, status(res))

	tests := []struct {
		name    string
		path    string
		payload protocol.Payload
		want    frost.Status
	}{
		{"empty name", frost.PathCreateRoom, protocol.Payload{"name": "  "}, frost.StatusEmptyRoomName},
		{"duplicate name", frost.PathCreateRoom, protocol.Payload{"name": "dup"}, frost.StatusDuplicateRoomName},
		{"bad invite", frost.PathJoinRoom, protocol.Payload{"invite_code": "nope"}, frost.StatusInvalidInvite},
		{"leave unknown", frost.PathLeaveRoom, protocol.Payload{"room_id": 404}, frost.StatusRoomNotFound},
		{"send unknown", frost.PathSendMessage, protocol.Payload{"room_id": 404, "message": "x"}, frost.StatusRoomNotFound},
		{"empty send unknown", frost.PathSendMessage, protocol.Payload{"room_id": 404, "message": ""}, frost.StatusRoomNotFound},
		{"history unknown", frost.PathGetMessages, protocol.Payload{"room_id": 404}, frost.StatusRoomNotFound},
		{"room id type", frost.PathGetMembers, protocol.Payload{"room_id": "one"}, frost.StatusMalformedRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := a.reply(t, tt.path, tt.payload)
			assert.Equal(t, tt.want, status(res), res.Headers.Error)
		})
	}
	var created struct {
		Room storage.Room `json:"room"`
	}
	require.NoError(t, res.Payload.Bind(&created))

	b := w.connect("b")
	b.signUp(t, "bob")
	res = b.reply(t, frost.PathSendMessage, protocol.Payload{"room_id": created.Room.ID, "message": ""})
	assert.Equal(t, frost.StatusPermissionDenied, status(res))
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want frost.Status
		ok   bool
	}{
		{auth.ErrInvalidCredentials, frost.StatusInvalidAuth, true},
		{fmt.Errorf("wrap: %w", storage.ErrDuplicateUsername), frost.StatusDuplicateUsername, true},
		{room.ErrPermissionDenied, frost.StatusPermissionDenied, true},
		{room.ErrRoomNotFound, frost.StatusRoomNotFound, true},
		{room.ErrEmptyRoomName, frost.StatusEmptyRoomName, true},
		{storage.ErrDuplicateRoomName, frost.StatusDuplicateRoomName, true},
		{room.ErrInvalidInvite, frost.StatusInvalidInvite, true},
		{router.ErrMalformedRequest, frost.StatusMalformedRequest, true},
		{errors.New("boom"), frost.StatusInternalError, false},
	}
	for _, tt := range tests {
		got, ok := StatusOf(tt.err)
		if got != tt.want || ok != tt.ok {
			t.Errorf("StatusOf(%v) = %v, %v; want %v, %v", tt.err, got, ok, tt.want, tt.ok)
		}
	}
}
