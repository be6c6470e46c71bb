package storage

import "time"

type userModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"size:64;uniqueIndex;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	Token        string `gorm:"size:128;index"`
	CreatedAt    time.Time
}

func (userModel) TableName() string { return "users" }

func (m *userModel) toUser() *User {
	return &User{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		Token:        m.Token,
		CreatedAt:    m.CreatedAt,
	}
}

type roomModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Name       string `gorm:"size:128;uniqueIndex;not null"`
	OwnerID    int64  `gorm:"index;not null"`
	InviteCode string `gorm:"size:64;uniqueIndex;not null"`
	CreatedAt  time.Time
}

func (roomModel) TableName() string { return "rooms" }

func (m *roomModel) toRoom(members []int64) *Room {
	if members == nil {
		members = []int64{}
	}
	return &Room{
		ID:         m.ID,
		Name:       m.Name,
		OwnerID:    m.OwnerID,
		InviteCode: m.InviteCode,
		Members:    members,
		CreatedAt:  m.CreatedAt,
	}
}

type memberModel struct {
	RoomID   int64 `gorm:"primaryKey;autoIncrement:false"`
	UserID   int64 `gorm:"primaryKey;autoIncrement:false;index"`
	JoinedAt time.Time
}

func (memberModel) TableName() string { return "room_members" }

type messageModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	RoomID    int64     `gorm:"index;not null"`
	UserID    int64     `gorm:"not null"`
	Body      string    `gorm:"type:text;not null"`
	Timestamp time.Time `gorm:"not null"`
}

func (messageModel) TableName() string { return "messages" }

func (m *messageModel) toMessage() *Message {
	return &Message{
		ID:        m.ID,
		RoomID:    m.RoomID,
		UserID:    m.UserID,
		Body:      m.Body,
		Timestamp: m.Timestamp,
	}
}
