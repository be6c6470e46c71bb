package handlers

import (
	"context"

	"github.com/luciancaetano/frost/internal/auth"
	"github.com/luciancaetano/frost/internal/protocol"
	"github.com/luciancaetano/frost/internal/router"
)

type sendRequest struct {
	RoomID  int64  `json:"room_id"`
	Message string `json:"message"`
}

type historyRequest struct {
	RoomID  int64 `json:"room_id"`
	Max     int   `json:"max"`
	AfterID int64 `json:"after_id"`
}

// sendMessage replies with the stored message. Empty messages get no reply at all.
func (h *Handlers) sendMessage(ctx context.Context, c *router.Context, p protocol.Payload, id auth.Identity) error {
	var req sendRequest
	if err := router.Bind(p, &req); err != nil {
		return err
	}

	msg, err := h.rooms.Send(ctx, req.RoomID, id.UserID, req.Message)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}
	return c.Reply(ctx, protocol.Payload{"message": msg})
}

func (h *Handlers) getMessages(ctx context.Context, c *router.Context, p protocol.Payload, id auth.Identity) error {
	var req historyRequest
	if err := router.Bind(p, &req); err != nil {
		return err
	}

	msgs, err := h.rooms.History(ctx, req.RoomID, id.UserID, req.Max)
	if err != nil {
		return err
	}
	return c.Reply(ctx, protocol.Payload{"room_id": req.RoomID, "messages": msgs})
}

func (h *Handlers) getNewMessages(ctx context.Context, c *router.Context, p protocol.Payload, id auth.Identity) error {
	var req historyRequest
	if err := router.Bind(p, &req); err != nil {
		return err
	}

	msgs, err := h.rooms.Since(ctx, req.RoomID, id.UserID, req.AfterID, req.Max)
	if err != nil {
		return err
	}
	return c.Reply(ctx, protocol.Payload{"room_id": req.RoomID, "messages": msgs})
}
