package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// DatabaseType represents the supported database types
type DatabaseType string

const (
	PostgreSQL DatabaseType = "postgres"
	MySQL      DatabaseType = "mysql"
	SQLite     DatabaseType = "sqlite"
)

// ErrInvalidDatabaseType is returned when an unsupported database type is configured
var ErrInvalidDatabaseType = errors.New("invalid database type")

// DBStore implements Store on top of gorm
type DBStore struct {
	logger *zap.Logger
	db     *gorm.DB
}

var _ Store = (*DBStore)(nil)

// NewDBStore opens the database and migrates the schema
func NewDBStore(logger *zap.Logger, dbType DatabaseType, dsn string) (*DBStore, error) {
	logger = logger.Named("storage.db")

	var dialector gorm.Dialector
	switch dbType {
	case PostgreSQL:
		dialector = postgres.Open(dsn)
	case MySQL:
		dialector = mysql.Open(dsn)
	case SQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDatabaseType, dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if dbType == SQLite {
		// SQLite allows a single writer; serialise through one connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&userModel{}, &roomModel{}, &memberModel{}, &messageModel{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("database store ready", zap.String("type", string(dbType)))

	return &DBStore{
		logger: logger,
		db:     db,
	}, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// CreateUser implements Store.CreateUser
func (s *DBStore) CreateUser(ctx context.Context, username, passwordHash string) (*User, error) {
	model := &userModel{Username: username, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&userModel{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateUsername, username)
		}
		return tx.Create(model).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateUsername, username)
	}
	if err != nil {
		return nil, err
	}
	return model.toUser(), nil
}

// FindUserByID implements Store.FindUserByID
func (s *DBStore) FindUserByID(ctx context.Context, id int64) (*User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).First(&model, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("user %d", id))
	}
	return model.toUser(), nil
}

// FindUserByUsername implements Store.FindUserByUsername
func (s *DBStore) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("user %q", username))
	}
	return model.toUser(), nil
}

// SetUserToken implements Store.SetUserToken
func (s *DBStore) SetUserToken(ctx context.Context, id int64, token string) error {
	result := s.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", id).Update("token", token)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero rows when the value is unchanged, so confirm the user exists.
		if _, err := s.FindUserByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// CreateRoom implements Store.CreateRoom
func (s *DBStore) CreateRoom(ctx context.Context, name string, ownerID int64, inviteCode string) (*Room, error) {
	model := &roomModel{Name: name, OwnerID: ownerID, InviteCode: inviteCode, CreatedAt: time.Now().UTC()}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&roomModel{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateRoomName, name)
		}
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		return tx.Create(&memberModel{RoomID: model.ID, UserID: ownerID, JoinedAt: model.CreatedAt}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRoomName, name)
	}
	if err != nil {
		return nil, err
	}
	return model.toRoom([]int64{ownerID}), nil
}

// FindRoomByID implements Store.FindRoomByID
func (s *DBStore) FindRoomByID(ctx context.Context, id int64) (*Room, error) {
	var model roomModel
	if err := s.db.WithContext(ctx).First(&model, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("room %d", id))
	}
	return s.withMembers(ctx, &model)
}

// FindRoomByInviteCode implements Store.FindRoomByInviteCode
func (s *DBStore) FindRoomByInviteCode(ctx context.Context, code string) (*Room, error) {
	var model roomModel
	if err := s.db.WithContext(ctx).Where("invite_code = ?", code).First(&model).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("invite %q", code))
	}
	return s.withMembers(ctx, &model)
}

func (s *DBStore) withMembers(ctx context.Context, model *roomModel) (*Room, error) {
	members, err := s.listMembers(s.db.WithContext(ctx), model.ID)
	if err != nil {
		return nil, err
	}
	return model.toRoom(members), nil
}

// AddMember implements Store.AddMember
func (s *DBStore) AddMember(ctx context.Context, roomID, userID int64) (bool, error) {
	var added bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id").First(&roomModel{}, roomID).Error; err != nil {
			return notFound(err, fmt.Sprintf("room %d", roomID))
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&memberModel{RoomID: roomID, UserID: userID, JoinedAt: time.Now().UTC()})
		if result.Error != nil {
			return result.Error
		}
		added = result.RowsAffected > 0
		return nil
	})
	return added, err
}

// RemoveMember implements Store.RemoveMember
func (s *DBStore) RemoveMember(ctx context.Context, roomID, userID int64) (bool, error) {
	db := s.db.WithContext(ctx)
	if err := db.Select("id").First(&roomModel{}, roomID).Error; err != nil {
		return false, notFound(err, fmt.Sprintf("room %d", roomID))
	}
	result := db.Where("room_id = ? AND user_id = ?", roomID, userID).Delete(&memberModel{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListMembers implements Store.ListMembers
func (s *DBStore) ListMembers(ctx context.Context, roomID int64) ([]int64, error) {
	db := s.db.WithContext(ctx)
	if err := db.Select("id").First(&roomModel{}, roomID).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("room %d", roomID))
	}
	return s.listMembers(db, roomID)
}

func (s *DBStore) listMembers(db *gorm.DB, roomID int64) ([]int64, error) {
	var ids []int64
	err := db.Model(&memberModel{}).
		Where("room_id = ?", roomID).
		Order("joined_at ASC, user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListUserRooms implements Store.ListUserRooms
func (s *DBStore) ListUserRooms(ctx context.Context, userID int64) ([]*Room, error) {
	db := s.db.WithContext(ctx)

	var models []roomModel
	err := db.
		Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("room_members.user_id = ?", userID).
		Order("rooms.id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	rooms := make([]*Room, 0, len(models))
	for i := range models {
		r, err := s.withMembers(ctx, &models[i])
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, nil
}

// AppendMessage implements Store.AppendMessage
func (s *DBStore) AppendMessage(ctx context.Context, roomID, userID int64, body string, ts time.Time) (*Message, error) {
	model := &messageModel{RoomID: roomID, UserID: userID, Body: body, Timestamp: ts}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id").First(&roomModel{}, roomID).Error; err != nil {
			return notFound(err, fmt.Sprintf("room %d", roomID))
		}
		return tx.Create(model).Error
	})
	if err != nil {
		return nil, err
	}
	return model.toMessage(), nil
}

// ListRoomMessages implements Store.ListRoomMessages
func (s *DBStore) ListRoomMessages(ctx context.Context, roomID int64, limit int) ([]*Message, error) {
	q := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var models []messageModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]*Message, len(models))
	for i := range models {
		out[len(models)-1-i] = models[i].toMessage()
	}
	return out, nil
}

// ListRoomMessagesAfter implements Store.ListRoomMessagesAfter
func (s *DBStore) ListRoomMessagesAfter(ctx context.Context, roomID, afterID int64, limit int) ([]*Message, error) {
	q := s.db.WithContext(ctx).Where("room_id = ? AND id > ?", roomID, afterID).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var models []messageModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]*Message, len(models))
	for i := range models {
		out[i] = models[i].toMessage()
	}
	return out, nil
}

// Close implements Store.Close
func (s *DBStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ParseDatabaseType normalises a configured database type name.
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch t := DatabaseType(strings.ToLower(strings.TrimSpace(s))); t {
	case PostgreSQL, MySQL, SQLite:
		return t, nil
	case "postgresql", "pg":
		return PostgreSQL, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDatabaseType, s)
	}
}
