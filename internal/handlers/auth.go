package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/luciancaetano/frost/internal/auth"
	"github.com/luciancaetano/frost/internal/protocol"
	"github.com/luciancaetano/frost/internal/router"
	"github.com/luciancaetano/frost/internal/storage"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func bindCredentials(p protocol.Payload) (credentials, error) {
	var req credentials
	if err := router.Bind(p, &req); err != nil {
		return req, err
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return req, fmt.Errorf("%w: username and password are required", router.ErrMalformedRequest)
	}
	return req, nil
}

func (h *Handlers) register(ctx context.Context, c *router.Context, p protocol.Payload) error {
	req, err := bindCredentials(p)
	if err != nil {
		return err
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		return err
	}
	u, err := h.store.CreateUser(ctx, req.Username, hash)
	if err != nil {
		return err
	}

	h.logger.Info("user registered", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
	return c.Reply(ctx, protocol.Payload{"id": u.ID})
}

// login issues a fresh token and makes this connection the user's live one.
func (h *Handlers) login(ctx context.Context, c *router.Context, p protocol.Payload) error {
	req, err := bindCredentials(p)
	if err != nil {
		if errors.Is(err, router.ErrMalformedRequest) {
			return auth.ErrInvalidCredentials
		}
		return err
	}

	u, err := h.store.FindUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return auth.ErrInvalidCredentials
		}
		return err
	}
	if err := h.hasher.Verify(u.PasswordHash, req.Password); err != nil {
		return err
	}

	token, err := auth.GenerateToken()
	if err != nil {
		return err
	}
	if err := h.store.SetUserToken(ctx, u.ID, token); err != nil {
		return err
	}

	// A connection logging in as someone else stops representing the previous user.
	if prev, ok := c.Session.UserID(); ok && prev != u.ID {
		c.Presence.Unbind(prev, c.Conn.ID())
	}
	c.Session.Login(u.ID, token)
	if replaced := c.Presence.Bind(u.ID, c.Conn); replaced != nil {
		h.logger.Info("session replaced",
			zap.Int64("user_id", u.ID),
			zap.String("old_conn_id", replaced.ID()),
			zap.String("conn_id", c.Conn.ID()),
		)
	}

	h.logger.Info("user logged in", zap.Int64("user_id", u.ID), zap.String("conn_id", c.Conn.ID()))
	return c.Reply(ctx, protocol.Payload{"id": u.ID, "token": token})
}

func (h *Handlers) logout(ctx context.Context, c *router.Context, _ protocol.Payload, id auth.Identity) error {
	if err := h.store.SetUserToken(ctx, id.UserID, ""); err != nil {
		return err
	}
	if uid, ok := c.Session.UserID(); ok && uid == id.UserID {
		c.Session.Logout()
	}
	c.Presence.Unbind(id.UserID, c.Conn.ID())

	h.logger.Info("user logged out", zap.Int64("user_id", id.UserID), zap.String("conn_id", c.Conn.ID()))
	return c.Reply(ctx, nil)
}
