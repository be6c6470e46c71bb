// Package handlers implements the authentication, messages and rooms routes.
package handlers

import (
	"errors"

	"go.uber.org/zap"

	"github.com/luciancaetano/frost"
	"github.com/luciancaetano/frost/internal/auth"
	"github.com/luciancaetano/frost/internal/room"
	"github.com/luciancaetano/frost/internal/router"
	"github.com/luciancaetano/frost/internal/storage"
)

// Handlers holds the collaborators shared by every route.
type Handlers struct {
	store  storage.Store
	hasher auth.Hasher
	guard  *auth.Guard
	rooms  *room.Service
	logger *zap.Logger
}

// New creates the handler set.
func New(store storage.Store, hasher auth.Hasher, guard *auth.Guard, rooms *room.Service, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		store:  store,
		hasher: hasher,
		guard:  guard,
		rooms:  rooms,
		logger: logger.Named("handlers"),
	}
}

// Groups returns the routing table.
func (h *Handlers) Groups() []router.Group {
	return []router.Group{
		{
			Namespace: frost.NamespaceAuthentication,
			Routes: map[string]router.HandlerFunc{
				"register": h.register,
				"login":    h.login,
				"logout":   h.guard.Require(h.logout),
			},
		},
		{
			Namespace: frost.NamespaceMessages,
			Routes: map[string]router.HandlerFunc{
				"send":    h.guard.Require(h.sendMessage),
				"get_all": h.guard.Require(h.getMessages),
				"get_new": h.guard.Require(h.getNewMessages),
			},
		},
		{
			Namespace: frost.NamespaceRooms,
			Routes: map[string]router.HandlerFunc{
				"create":          h.guard.Require(h.createRoom),
				"join":            h.guard.Require(h.joinRoom),
				"leave":           h.guard.Require(h.leaveRoom),
				"get_all_joined":  h.guard.Require(h.joinedRooms),
				"get_invite_code": h.guard.Require(h.inviteCode),
				"get_members":     h.guard.Require(h.members),
			},
		},
	}
}

// StatusOf maps a domain error to its wire status. ok is false for errors that
// should surface as INTERNAL_ERROR.
func StatusOf(err error) (frost.Status, bool) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return frost.StatusInvalidAuth, true
	case errors.Is(err, storage.ErrDuplicateUsername):
		return frost.StatusDuplicateUsername, true
	case errors.Is(err, room.ErrPermissionDenied):
		return frost.StatusPermissionDenied, true
	case errors.Is(err, room.ErrRoomNotFound):
		return frost.StatusRoomNotFound, true
	case errors.Is(err, room.ErrEmptyRoomName):
		return frost.StatusEmptyRoomName, true
	case errors.Is(err, storage.ErrDuplicateRoomName):
		return frost.StatusDuplicateRoomName, true
	case errors.Is(err, room.ErrInvalidInvite):
		return frost.StatusInvalidInvite, true
	case errors.Is(err, router.ErrMalformedRequest):
		return frost.StatusMalformedRequest, true
	default:
		return frost.StatusInternalError, false
	}
}
