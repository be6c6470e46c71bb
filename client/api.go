package client

import (
	"context"
	"time"

	"github.com/luciancaetano/frost"
	"github.com/luciancaetano/frost/internal/protocol"
)

// User is a room member as seen by clients.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online,omitempty"`
}

// Room as returned by the gateway. InviteCode is only set for rooms the
// caller owns.
type Room struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	OwnerID    int64     `json:"owner_id"`
	InviteCode string    `json:"invite_code,omitempty"`
	Members    []int64   `json:"members"`
	CreatedAt  time.Time `json:"created_at"`
}

type Message struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	UserID    int64     `json:"user_id"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// MemberEvent is the payload of rooms/member_joined and rooms/member_left.
type MemberEvent struct {
	RoomID int64 `json:"room_id"`
	User   User  `json:"user"`
}

func credentials(username, password string) protocol.Payload {
	return protocol.Payload{"username": username, "password": password}
}

// Register creates an account and returns its id.
func (c *Client) Register(ctx context.Context, username, password string) (int64, error) {
	var res struct {
		ID int64 `json:"id"`
	}
	if err := c.callInto(ctx, frost.PathRegister, credentials(username, password), &res); err != nil {
		return 0, err
	}
	return res.ID, nil
}

// Login authenticates and keeps the issued id and token for later requests.
func (c *Client) Login(ctx context.Context, username, password string) (int64, error) {
	var res struct {
		ID    int64  `json:"id"`
		Token string `json:"token"`
	}
	if err := c.callInto(ctx, frost.PathLogin, credentials(username, password), &res); err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.userID, c.token = res.ID, res.Token
	c.mu.Unlock()
	return res.ID, nil
}

// Logout invalidates the token on the server and forgets it locally.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.callInto(ctx, frost.PathLogout, nil, nil); err != nil {
		return err
	}

	c.mu.Lock()
	c.userID, c.token = 0, ""
	c.mu.Unlock()
	return nil
}

func (c *Client) roomCall(ctx context.Context, path string, payload protocol.Payload) (*Room, error) {
	var res struct {
		Room Room `json:"room"`
	}
	if err := c.callInto(ctx, path, payload, &res); err != nil {
		return nil, err
	}
	return &res.Room, nil
}

func (c *Client) CreateRoom(ctx context.Context, name string) (*Room, error) {
	return c.roomCall(ctx, frost.PathCreateRoom, protocol.Payload{"name": name})
}

func (c *Client) JoinRoom(ctx context.Context, inviteCode string) (*Room, error) {
	return c.roomCall(ctx, frost.PathJoinRoom, protocol.Payload{"invite_code": inviteCode})
}

func (c *Client) LeaveRoom(ctx context.Context, roomID int64) error {
	return c.callInto(ctx, frost.PathLeaveRoom, protocol.Payload{"room_id": roomID}, nil)
}

// JoinedRooms lists the caller's rooms.
func (c *Client) JoinedRooms(ctx context.Context) ([]Room, error) {
	var res struct {
		Rooms []Room `json:"rooms"`
	}
	if err := c.callInto(ctx, frost.PathJoinedRooms, nil, &res); err != nil {
		return nil, err
	}
	return res.Rooms, nil
}

func (c *Client) InviteCode(ctx context.Context, roomID int64) (string, error) {
	var res struct {
		InviteCode string `json:"invite_code"`
	}
	if err := c.callInto(ctx, frost.PathGetInviteCode, protocol.Payload{"room_id": roomID}, &res); err != nil {
		return "", err
	}
	return res.InviteCode, nil
}

func (c *Client) Members(ctx context.Context, roomID int64) ([]User, error) {
	var res struct {
		Members []User `json:"members"`
	}
	if err := c.callInto(ctx, frost.PathGetMembers, protocol.Payload{"room_id": roomID}, &res); err != nil {
		return nil, err
	}
	return res.Members, nil
}

// SendMessage posts body to a room. The gateway stores nothing for an empty body
// and answers it only when it is refused, so an empty body is not sent at all
// and the returned message is nil.
func (c *Client) SendMessage(ctx context.Context, roomID int64, body string) (*Message, error) {
	if body == "" {
		return nil, nil
	}
	payload := protocol.Payload{"room_id": roomID, "message": body}

	var res struct {
		Message Message `json:"message"`
	}
	if err := c.callInto(ctx, frost.PathSendMessage, payload, &res); err != nil {
		return nil, err
	}
	return &res.Message, nil
}

func (c *Client) messages(ctx context.Context, path string, payload protocol.Payload) ([]Message, error) {
	var res struct {
		Messages []Message `json:"messages"`
	}
	if err := c.callInto(ctx, path, payload, &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// Messages returns up to max of the newest messages, oldest first. max <= 0
// lets the server pick its default.
func (c *Client) Messages(ctx context.Context, roomID int64, max int) ([]Message, error) {
	payload := protocol.Payload{"room_id": roomID}
	if max > 0 {
		payload["max"] = max
	}
	return c.messages(ctx, frost.PathGetMessages, payload)
}

// NewMessages returns messages with an id greater than afterID.
func (c *Client) NewMessages(ctx context.Context, roomID, afterID int64) ([]Message, error) {
	return c.messages(ctx, frost.PathGetNew, protocol.Payload{"room_id": roomID, "after_id": afterID})
}
