package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/luciancaetano/frost"
	"github.com/luciancaetano/frost/internal/protocol"
	"github.com/luciancaetano/frost/internal/router"
	"github.com/luciancaetano/frost/internal/session"
	"github.com/luciancaetano/frost/internal/storage"
)

type captureConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *captureConn) ID() string               { return "conn" }
func (c *captureConn) RemoteAddr() string       { return "127.0.0.1:1" }
func (c *captureConn) Transport() string        { return "tcp" }
func (c *captureConn) Context() context.Context { return context.Background() }
func (c *captureConn) Close() error             { return nil }
func (c *captureConn) IsAlive() bool            { return true }

func (c *captureConn) Send(_ context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *captureConn) last(t *testing.T) *protocol.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.frames)
	env, err := protocol.Decode(bytes.NewReader(c.frames[len(c.frames)-1]), protocol.DefaultMaxFrameSize)
	require.NoError(t, err)
	return env
}

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.Hash("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.NoError(t, h.Verify(hash, "s3cret"))
	assert.ErrorIs(t, h.Verify(hash, "wrong"), ErrInvalidCredentials)
	assert.Error(t, h.Verify("not-a-hash", "s3cret"))
}

func TestNewBcryptHasherCostBounds(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(0).cost)
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(99).cost)
	assert.Equal(t, 12, NewBcryptHasher(12).cost)
}

func TestGenerateToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := GenerateToken()
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(tok)
		require.NoError(t, err, "token must be URL-safe base64")
		assert.Len(t, raw, tokenBytes)
		assert.False(t, seen[tok], "duplicate token")
		seen[tok] = true
	}
}

func TestGuardRequire(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	alice, err := store.CreateUser(ctx, "alice", "x")
	require.NoError(t, err)
	require.NoError(t, store.SetUserToken(ctx, alice.ID, "good-token"))

	bob, err := store.CreateUser(ctx, "bob", "x")
	require.NoError(t, err)

	g := NewGuard(store, zap.NewNop())

	tests := []struct {
		name    string
		headers protocol.Headers
		allowed bool
	}{
		{name: "valid token", headers: protocol.Headers{ID: alice.ID, Token: "good-token"}, allowed: true},
		{name: "missing headers", headers: protocol.Headers{}},
		{name: "missing token", headers: protocol.Headers{ID: alice.ID}},
		{name: "wrong token", headers: protocol.Headers{ID: alice.ID, Token: "bad-token"}},
		{name: "token prefix", headers: protocol.Headers{ID: alice.ID, Token: "good"}},
		{name: "unknown user", headers: protocol.Headers{ID: 9999, Token: "good-token"}},
		{name: "user without token", headers: protocol.Headers{ID: bob.ID, Token: "anything"}},
		{name: "other user's token", headers: protocol.Headers{ID: bob.ID, Token: "good-token"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := g.Require(func(ctx context.Context, c *router.Context, p protocol.Payload, id Identity) error {
				called = true
				assert.Equal(t, alice.ID, id.UserID)
				return c.Reply(ctx, nil)
			})

			conn := &captureConn{}
			r, err := router.New([]router.Group{{Namespace: "rooms", Routes: map[string]router.HandlerFunc{"create": h}}})
			require.NoError(t, err)

			env := protocol.New("rooms/create", 0, protocol.Payload{"name": "x"})
			env.Headers.ID = tt.headers.ID
			env.Headers.Token = tt.headers.Token
			r.Dispatch(ctx, router.NewContext(conn, session.New(conn.ID()), nil, nil), env)

			assert.Equal(t, tt.allowed, called)
			reply := conn.last(t)
			if tt.allowed {
				assert.Equal(t, int(frost.StatusSuccess), reply.Headers.Status)
			} else {
				assert.Equal(t, int(frost.StatusInvalidAuth), reply.Headers.Status)
			}
		})
	}
}
