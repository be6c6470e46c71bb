// Package storage persists users, rooms, memberships and messages.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateUsername = errors.New("username already taken")
	ErrDuplicateRoomName = errors.New("room name already taken")
)

// User is a registered account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Token        string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Room is a named chat room. Members is ordered by join time.
type Room struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	OwnerID    int64     `json:"owner_id"`
	InviteCode string    `json:"invite_code,omitempty"`
	Members    []int64   `json:"members"`
	CreatedAt  time.Time `json:"created_at"`
}

// HasMember reports whether userID belongs to the room.
func (r *Room) HasMember(userID int64) bool {
	for _, id := range r.Members {
		if id == userID {
			return true
		}
	}
	return false
}

// Message is an immutable chat message. IDs increase strictly in insertion order.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	UserID    int64     `json:"user_id"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the persistence contract used by the gateway.
type Store interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)
	FindUserByID(ctx context.Context, id int64) (*User, error)
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	// SetUserToken replaces the user's session token. An empty token revokes it.
	SetUserToken(ctx context.Context, id int64, token string) error

	// CreateRoom creates the room with the owner as its first member.
	CreateRoom(ctx context.Context, name string, ownerID int64, inviteCode string) (*Room, error)
	FindRoomByID(ctx context.Context, id int64) (*Room, error)
	FindRoomByInviteCode(ctx context.Context, code string) (*Room, error)
	// AddMember is idempotent and reports whether the user was newly added.
	AddMember(ctx context.Context, roomID, userID int64) (bool, error)
	// RemoveMember reports whether the user was a member.
	RemoveMember(ctx context.Context, roomID, userID int64) (bool, error)
	ListMembers(ctx context.Context, roomID int64) ([]int64, error)
	ListUserRooms(ctx context.Context, userID int64) ([]*Room, error)

	AppendMessage(ctx context.Context, roomID, userID int64, body string, ts time.Time) (*Message, error)
	// ListRoomMessages returns the newest limit messages, oldest first.
	ListRoomMessages(ctx context.Context, roomID int64, limit int) ([]*Message, error)
	// ListRoomMessagesAfter returns up to limit messages with ID > afterID, oldest first.
	ListRoomMessagesAfter(ctx context.Context, roomID, afterID int64, limit int) ([]*Message, error)

	Close() error
}
