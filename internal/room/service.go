// Package room owns room membership, invites and message history, and fans
// room events out to members that are online.
package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luciancaetano/frost"
	"github.com/luciancaetano/frost/internal/presence"
	"github.com/luciancaetano/frost/internal/protocol"
	"github.com/luciancaetano/frost/internal/storage"
	"github.com/luciancaetano/frost/internal/transport"
)

var (
	ErrEmptyRoomName    = errors.New("room name is empty")
	ErrRoomNotFound     = errors.New("room not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidInvite    = errors.New("invalid invite code")
)

const (
	DefaultHistory = 250
	MaxHistory     = 1000
)

// Config tunes history queries.
type Config struct {
	DefaultHistory int
	MaxHistory     int
}

// Observer is told how many connections each event reached.
type Observer interface {
	ObserveBroadcast(path string, recipients int)
}

// Member is a room member as shown to other members.
type Member struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// Service implements the room operations. Every mutation of a room, and the
// presence snapshot used to announce it, happens under that room's lock.
type Service struct {
	store    storage.Store
	presence *presence.Registry
	cfg      Config
	logger   *zap.Logger
	observer Observer

	locks    lockTable
	createMu sync.Mutex

	now     func() time.Time
	newCode func() string
}

// Option configures a Service.
type Option func(*Service)

// WithObserver reports fan-out sizes.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l.Named("room") }
}

// WithInviteCodes overrides invite code generation.
func WithInviteCodes(fn func() string) Option {
	return func(s *Service) { s.newCode = fn }
}

// NewService creates a room service.
func NewService(store storage.Store, reg *presence.Registry, cfg Config, opts ...Option) *Service {
	if cfg.DefaultHistory <= 0 {
		cfg.DefaultHistory = DefaultHistory
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = MaxHistory
	}
	if cfg.DefaultHistory > cfg.MaxHistory {
		cfg.DefaultHistory = cfg.MaxHistory
	}

	s := &Service{
		store:    store,
		presence: reg,
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
		newCode:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create makes a room owned by ownerID, who becomes its first member.
func (s *Service) Create(ctx context.Context, name string, ownerID int64) (*storage.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyRoomName
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	r, err := s.store.CreateRoom(ctx, name, ownerID, s.newCode())
	if err != nil {
		return nil, err
	}

	s.logger.Info("room created", zap.Int64("room_id", r.ID), zap.String("name", r.Name), zap.Int64("owner_id", ownerID))
	return r, nil
}

// Join adds userID to the room behind the invite code. Joining a room twice is a
// no-op that still succeeds; only a new membership is announced.
func (s *Service) Join(ctx context.Context, inviteCode string, userID int64) (*storage.Room, error) {
	inviteCode = strings.TrimSpace(inviteCode)
	if inviteCode == "" {
		return nil, ErrInvalidInvite
	}

	r, err := s.store.FindRoomByInviteCode(ctx, inviteCode)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidInvite
		}
		return nil, err
	}

	unlock := s.locks.lock(r.ID)
	defer unlock()

	// Everything that can fail is read before the membership is written.
	if r, err = s.room(ctx, r.ID); err != nil {
		return nil, err
	}
	user, err := s.userView(ctx, userID)
	if err != nil {
		return nil, err
	}

	added, err := s.store.AddMember(ctx, r.ID, userID)
	if err != nil {
		return nil, err
	}
	if !added {
		return r, nil
	}

	r.Members = append(r.Members, userID)
	s.announce(ctx, r.Members, userID, frost.PathMemberJoined, protocol.Payload{
		"room_id": r.ID,
		"user":    user,
	})
	s.logger.Debug("member joined", zap.Int64("room_id", r.ID), zap.Int64("user_id", userID))
	return r, nil
}

// Leave removes userID from the room and tells the remaining members.
func (s *Service) Leave(ctx context.Context, roomID, userID int64) error {
	unlock := s.locks.lock(roomID)
	defer unlock()

	removed, err := s.store.RemoveMember(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrRoomNotFound
		}
		return err
	}
	if !removed {
		return ErrRoomNotFound
	}

	members, err := s.store.ListMembers(ctx, roomID)
	if err != nil {
		return err
	}
	user, err := s.userView(ctx, userID)
	if err != nil {
		return err
	}
	s.announce(ctx, members, 0, frost.PathMemberLeft, protocol.Payload{
		"room_id": roomID,
		"user":    user,
	})
	s.logger.Debug("member left", zap.Int64("room_id", roomID), zap.Int64("user_id", userID))
	return nil
}

// Send stores a message and delivers it to every online member, sender included.
// An empty body from a member is ignored and yields a nil message without error;
// the room and membership checks still apply to it.
func (s *Service) Send(ctx context.Context, roomID, userID int64, body string) (*storage.Message, error) {
	unlock := s.locks.lock(roomID)
	defer unlock()

	r, err := s.memberRoom(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if body == "" {
		return nil, nil
	}

	msg, err := s.store.AppendMessage(ctx, roomID, userID, body, s.now())
	if err != nil {
		return nil, err
	}

	s.announce(ctx, r.Members, 0, frost.PathNewMessage, protocol.Payload{"message": msg})
	return msg, nil
}

// History returns up to max of the newest messages, oldest first. max <= 0
// selects the default size.
func (s *Service) History(ctx context.Context, roomID, userID int64, max int) ([]*storage.Message, error) {
	if _, err := s.memberRoom(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return s.store.ListRoomMessages(ctx, roomID, s.limit(max))
}

// Since returns messages newer than afterID, oldest first.
func (s *Service) Since(ctx context.Context, roomID, userID, afterID int64, max int) ([]*storage.Message, error) {
	if _, err := s.memberRoom(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return s.store.ListRoomMessagesAfter(ctx, roomID, afterID, s.limit(max))
}

// InviteCode returns the room's invite code. Only the owner may read it.
func (s *Service) InviteCode(ctx context.Context, roomID, userID int64) (string, error) {
	r, err := s.room(ctx, roomID)
	if err != nil {
		return "", err
	}
	if r.OwnerID != userID {
		return "", ErrPermissionDenied
	}
	return r.InviteCode, nil
}

// Joined lists the rooms userID belongs to. Invite codes are only kept for
// rooms the user owns.
func (s *Service) Joined(ctx context.Context, userID int64) ([]*storage.Room, error) {
	rooms, err := s.store.ListUserRooms(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, r := range rooms {
		if r.OwnerID != userID {
			r.InviteCode = ""
		}
	}
	return rooms, nil
}

// Members lists a room's members with their presence. Only members may ask.
func (s *Service) Members(ctx context.Context, roomID, userID int64) ([]Member, error) {
	r, err := s.memberRoom(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}

	out := make([]Member, 0, len(r.Members))
	for _, id := range r.Members {
		u, err := s.store.FindUserByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load member %d: %w", id, err)
		}
		out = append(out, Member{ID: u.ID, Username: u.Username, Online: s.presence.Online(u.ID)})
	}
	return out, nil
}

func (s *Service) room(ctx context.Context, roomID int64) (*storage.Room, error) {
	r, err := s.store.FindRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return r, nil
}

func (s *Service) memberRoom(ctx context.Context, roomID, userID int64) (*storage.Room, error) {
	r, err := s.room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !r.HasMember(userID) {
		return nil, ErrPermissionDenied
	}
	return r, nil
}

func (s *Service) limit(max int) int {
	if max <= 0 {
		return s.cfg.DefaultHistory
	}
	if max > s.cfg.MaxHistory {
		return s.cfg.MaxHistory
	}
	return max
}

type userView struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

func (s *Service) userView(ctx context.Context, userID int64) (userView, error) {
	u, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return userView{}, fmt.Errorf("load user %d: %w", userID, err)
	}
	return userView{ID: u.ID, Username: u.Username}, nil
}

// announce sends an event to the online members, skipping except (0 skips nobody).
// Callers hold the room lock, so the recipients are exactly the members online
// at the moment of the mutation.
func (s *Service) announce(ctx context.Context, members []int64, except int64, path string, payload protocol.Payload) {
	targets := make([]int64, 0, len(members))
	for _, id := range members {
		if id != except {
			targets = append(targets, id)
		}
	}

	conns := s.presence.Snapshot(targets)
	if len(conns) == 0 {
		return
	}

	frame, err := protocol.Encode(protocol.New(path, int(frost.StatusSuccess), payload))
	if err != nil {
		s.logger.Error("encode event", zap.String("path", path), zap.Error(err))
		return
	}

	n := transport.Broadcast(context.WithoutCancel(ctx), conns, frame)
	if s.observer != nil {
		s.observer.ObserveBroadcast(path, n)
	}
}
