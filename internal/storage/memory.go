package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu sync.RWMutex

	users       map[int64]*User
	usersByName map[string]int64

	rooms       map[int64]*Room
	roomsByName map[string]int64
	roomsByCode map[string]int64

	messages map[int64][]*Message

	nextUserID    int64
	nextRoomID    int64
	nextMessageID int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[int64]*User),
		usersByName: make(map[string]int64),
		rooms:       make(map[int64]*Room),
		roomsByName: make(map[string]int64),
		roomsByCode: make(map[string]int64),
		messages:    make(map[int64][]*Message),
	}
}

func copyUser(u *User) *User {
	c := *u
	return &c
}

func copyRoom(r *Room) *Room {
	c := *r
	c.Members = append([]int64(nil), r.Members...)
	return &c
}

// CreateUser implements Store.CreateUser
func (s *MemoryStore) CreateUser(_ context.Context, username, passwordHash string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usersByName[username]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateUsername, username)
	}

	s.nextUserID++
	u := &User{
		ID:           s.nextUserID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[u.ID] = u
	s.usersByName[username] = u.ID
	return copyUser(u), nil
}

// FindUserByID implements Store.FindUserByID
func (s *MemoryStore) FindUserByID(_ context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return copyUser(u), nil
}

// FindUserByUsername implements Store.FindUserByUsername
func (s *MemoryStore) FindUserByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByName[username]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return copyUser(s.users[id]), nil
}

// SetUserToken implements Store.SetUserToken
func (s *MemoryStore) SetUserToken(_ context.Context, id int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	u.Token = token
	return nil
}

// CreateRoom implements Store.CreateRoom
func (s *MemoryStore) CreateRoom(_ context.Context, name string, ownerID int64, inviteCode string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roomsByName[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRoomName, name)
	}

	s.nextRoomID++
	r := &Room{
		ID:         s.nextRoomID,
		Name:       name,
		OwnerID:    ownerID,
		InviteCode: inviteCode,
		Members:    []int64{ownerID},
		CreatedAt:  time.Now().UTC(),
	}
	s.rooms[r.ID] = r
	s.roomsByName[name] = r.ID
	s.roomsByCode[inviteCode] = r.ID
	return copyRoom(r), nil
}

// FindRoomByID implements Store.FindRoomByID
func (s *MemoryStore) FindRoomByID(_ context.Context, id int64) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[id]
	if !ok {
		return nil, fmt.Errorf("room %d: %w", id, ErrNotFound)
	}
	return copyRoom(r), nil
}

// FindRoomByInviteCode implements Store.FindRoomByInviteCode
func (s *MemoryStore) FindRoomByInviteCode(_ context.Context, code string) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.roomsByCode[code]
	if !ok {
		return nil, fmt.Errorf("invite %q: %w", code, ErrNotFound)
	}
	return copyRoom(s.rooms[id]), nil
}

// AddMember implements Store.AddMember
func (s *MemoryStore) AddMember(_ context.Context, roomID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return false, fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	if r.HasMember(userID) {
		return false, nil
	}
	r.Members = append(r.Members, userID)
	return true, nil
}

// RemoveMember implements Store.RemoveMember
func (s *MemoryStore) RemoveMember(_ context.Context, roomID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return false, fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	for i, id := range r.Members {
		if id == userID {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// ListMembers implements Store.ListMembers
func (s *MemoryStore) ListMembers(_ context.Context, roomID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	return append([]int64(nil), r.Members...), nil
}

// ListUserRooms implements Store.ListUserRooms
func (s *MemoryStore) ListUserRooms(_ context.Context, userID int64) ([]*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]*Room, 0)
	for _, r := range s.rooms {
		if r.HasMember(userID) {
			rooms = append(rooms, copyRoom(r))
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

// AppendMessage implements Store.AppendMessage
func (s *MemoryStore) AppendMessage(_ context.Context, roomID, userID int64, body string, ts time.Time) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return nil, fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}

	s.nextMessageID++
	m := &Message{
		ID:        s.nextMessageID,
		RoomID:    roomID,
		UserID:    userID,
		Body:      body,
		Timestamp: ts,
	}
	s.messages[roomID] = append(s.messages[roomID], m)
	c := *m
	return &c, nil
}

// ListRoomMessages implements Store.ListRoomMessages
func (s *MemoryStore) ListRoomMessages(_ context.Context, roomID int64, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[roomID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return copyMessages(all), nil
}

// ListRoomMessagesAfter implements Store.ListRoomMessagesAfter
func (s *MemoryStore) ListRoomMessagesAfter(_ context.Context, roomID, afterID int64, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[roomID]
	start := sort.Search(len(all), func(i int) bool { return all[i].ID > afterID })
	all = all[start:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return copyMessages(all), nil
}

// Close implements Store.Close
func (s *MemoryStore) Close() error {
	return nil
}

func copyMessages(in []*Message) []*Message {
	out := make([]*Message, len(in))
	for i, m := range in {
		c := *m
		out[i] = &c
	}
	return out
}
