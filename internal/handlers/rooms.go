package handlers

import (
	"context"

	"github.com/luciancaetano/frost/internal/auth"
	"github.com/luciancaetano/frost/internal/protocol"
	"github.com/luciancaetano/frost/internal/router"
	"github.com/luciancaetano/frost/internal/storage"
)

type roomRequest struct {
	RoomID int64 `json:"room_id"`
}

func (h *Handlers) createRoom(ctx context.Context, c *router.Context, p protocol.Payload, id auth.Identity) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := router.Bind(p, &req); err != nil {
		return err
	}

	r, err := h.rooms.Create(ctx, req.Name, id.UserID)
	if err != nil {
		return err
	}
	return c.Reply(ctx, protocol.Payload{"room": r})
}

func (h *Handlers) joinRoom(ctx context.Context, c *router.Context, p protocol.Payload, id auth.Identity) error {
	var req struct {
		InviteCode string `json:"invite_code"`
	}
	if err := router.Bind(p, &req); err != nil {
		return err
	}

	r, err := h.rooms.Join(ctx, req.InviteCode, id.UserID)
	if err != nil {
		return err
	}
	return c.Reply(ctx, protocol.Payload{"room": ownerView(r, id.UserID)})
}

func (h *Handlers) leaveRoom(ctx context.Context, c *router.Context, p protocol.Payload, id auth.Identity) error {
	var req roomRequest
	if err := router.Bind(p, &req); err != nil {
		return err
	}

	if err := h.rooms.Leave(ctx, req.RoomID, id.UserID); err != nil {
		return err
	}
	return c.Reply(ctx, protocol.Payload{"room_id": req.RoomID})
}

func (h *Handlers) joinedRooms(ctx context.Context, c *router.Context, _ protocol.Payload, id auth.Identity) error {
	rooms, err := h.rooms.Joined(ctx, id.UserID)
	if err != nil {
		return err
	}
	return c.Reply(ctx, protocol.Payload{"rooms": rooms})
}

func (h *Handlers) inviteCode(ctx context.Context, c *router.Context, p protocol.Payload, id auth.Identity) error {
	var req roomRequest
	if err := router.Bind(p, &req); err != nil {
		return err
	}

	code, err := h.rooms.InviteCode(ctx, req.RoomID, id.UserID)
	if err != nil {
		return err
	}
	return c.Reply(ctx, protocol.Payload{"room_id": req.RoomID, "invite_code": code})
}

func (h *Handlers) members(ctx context.Context, c *router.Context, p protocol.Payload, id auth.Identity) error {
	var req roomRequest
	if err := router.Bind(p, &req); err != nil {
		return err
	}

	members, err := h.rooms.Members(ctx, req.RoomID, id.UserID)
	if err != nil {
		return err
	}
	return c.Reply(ctx, protocol.Payload{"room_id": req.RoomID, "members": members})
}

// ownerView hides the invite code from members who do not own the room.
func ownerView(r *storage.Room, userID int64) *storage.Room {
	if r.OwnerID != userID {
		r.InviteCode = ""
	}
	return r
}
