// Package auth verifies credentials and guards handlers that need a logged in user.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/luciancaetano/frost"
	"github.com/luciancaetano/frost/internal/protocol"
	"github.com/luciancaetano/frost/internal/router"
	"github.com/luciancaetano/frost/internal/storage"
)

// UserFinder is the slice of storage the guard needs.
type UserFinder interface {
	FindUserByID(ctx context.Context, id int64) (*storage.User, error)
}

// Identity is the caller proven by the id and token headers.
type Identity struct {
	UserID int64
	Token  string
}

// Handler is a handler that runs only for authenticated callers.
type Handler func(ctx context.Context, c *router.Context, p protocol.Payload, id Identity) error

// Guard checks the id/token headers of every guarded request against storage.
// Verification is stateless: the session of the connection is not consulted.
type Guard struct {
	users  UserFinder
	logger *zap.Logger
}

// NewGuard creates a guard backed by users.
func NewGuard(users UserFinder, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{users: users, logger: logger.Named("auth")}
}

// Authenticate resolves the identity carried by headers.
func (g *Guard) Authenticate(ctx context.Context, h protocol.Headers) (Identity, error) {
	if h.ID == 0 || h.Token == "" {
		return Identity{}, ErrInvalidCredentials
	}

	u, err := g.users.FindUserByID(ctx, h.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, fmt.Errorf("load user %d: %w", h.ID, err)
	}

	if u.Token == "" || subtle.ConstantTimeCompare([]byte(u.Token), []byte(h.Token)) != 1 {
		return Identity{}, ErrInvalidCredentials
	}
	return Identity{UserID: u.ID, Token: u.Token}, nil
}

// Require wraps next so that it only runs for a valid id/token pair. Otherwise
// the caller gets INVALID_AUTH and next is never invoked.
func (g *Guard) Require(next Handler) router.HandlerFunc {
	return func(ctx context.Context, c *router.Context, p protocol.Payload) error {
		id, err := g.Authenticate(ctx, c.Headers())
		if err != nil {
			if !errors.Is(err, ErrInvalidCredentials) {
				return err
			}
			g.logger.Debug("rejected request",
				zap.String("path", c.Headers().Path),
				zap.Int64("user_id", c.Headers().ID),
				zap.String("conn_id", c.Conn.ID()),
			)
			return c.ReplyStatus(ctx, frost.StatusInvalidAuth, frost.ErrInvalidAuth)
		}
		return next(ctx, c, p, id)
	}
}
