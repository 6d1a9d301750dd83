package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/fenggwsx/SlashCollab/internal/config"
	"github.com/fenggwsx/SlashCollab/internal/storage"
)

// Store is a GORM-backed SQLite implementation of storage.Store.
type Store struct {
	db *gorm.DB
}

var _ storage.Store = (*Store)(nil)

type userModel struct {
	ID          string `gorm:"primaryKey"`
	Username    string `gorm:"uniqueIndex"`
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (userModel) TableName() string { return "users" }

type roomModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	OwnerID   string `gorm:"index"`
	CreatedAt time.Time
}

func (roomModel) TableName() string { return "rooms" }

type messageModel struct {
	ID        string `gorm:"primaryKey"`
	RoomID    string `gorm:"index:idx_messages_room_created,priority:1"`
	SenderID  string
	Text      string
	CreatedAt time.Time  `gorm:"index:idx_messages_room_created,priority:2"`
	Sender    *userModel `gorm:"foreignKey:SenderID"`
}

func (messageModel) TableName() string { return "messages" }

type notificationModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"index"`
	Message   string
	Read      bool
	CreatedAt time.Time
}

func (notificationModel) TableName() string { return "notifications" }

type fileModel struct {
	RoomID    string `gorm:"primaryKey"`
	Path      string `gorm:"primaryKey"`
	Content   string
	UpdatedAt time.Time
}

func (fileModel) TableName() string { return "files" }

// NewStore opens a SQLite database at the provided path.
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if strings.Contains(cfg.Path, ":memory:") {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// every pooled connection would otherwise see its own empty database
		sqlDB.SetMaxOpenConns(1)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate applies schema updates.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&userModel{}, &roomModel{}, &messageModel{}, &notificationModel{}, &fileModel{})
}

// CreateUser stores a new user record.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	model := userModel{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		CreatedAt:   user.CreatedAt,
		UpdatedAt:   user.UpdatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetUserByID retrieves a user by primary key.
func (s *Store) GetUserByID(ctx context.Context, id string) (*storage.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, translate(err)
	}
	return model.toStorage(), nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error; err != nil {
		return nil, translate(err)
	}
	return model.toStorage(), nil
}

// CreateRoom stores a new room.
func (s *Store) CreateRoom(ctx context.Context, room *storage.Room) error {
	if room == nil {
		return errors.New("nil room")
	}
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	model := roomModel{ID: room.ID, Name: room.Name, OwnerID: room.OwnerID, CreatedAt: room.CreatedAt}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetRoom retrieves a room by id.
func (s *Store) GetRoom(ctx context.Context, id string) (*storage.Room, error) {
	var model roomModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, translate(err)
	}
	return &storage.Room{ID: model.ID, Name: model.Name, OwnerID: model.OwnerID, CreatedAt: model.CreatedAt}, nil
}

// SaveMessage persists a chat message and fills in its id.
func (s *Store) SaveMessage(ctx context.Context, msg *storage.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	model := messageModel{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		SenderID:  msg.SenderID,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
	}
	return s.db.WithContext(ctx).Omit(clause.Associations).Create(&model).Error
}

// ListMessagesByRoom returns up to limit of the newest messages, oldest first.
func (s *Store) ListMessagesByRoom(ctx context.Context, roomID string, limit int) ([]storage.Message, error) {
	var models []messageModel
	query := s.db.WithContext(ctx).
		Preload("Sender").
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	messages := make([]storage.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		m := models[i]
		msg := storage.Message{
			ID:        m.ID,
			RoomID:    m.RoomID,
			SenderID:  m.SenderID,
			Text:      m.Text,
			CreatedAt: m.CreatedAt,
		}
		if m.Sender != nil {
			msg.Sender = m.Sender.toStorage()
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// SaveNotification persists a notification and fills in its id.
func (s *Store) SaveNotification(ctx context.Context, n *storage.Notification) error {
	if n == nil {
		return errors.New("nil notification")
	}
	if n.ID == "" {
		n.ID = ulid.Make().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	model := notificationModel{ID: n.ID, UserID: n.UserID, Message: n.Message, Read: n.Read, CreatedAt: n.CreatedAt}
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListNotifications returns the newest notifications for a user.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]storage.Notification, error) {
	var models []notificationModel
	query := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]storage.Notification, 0, len(models))
	for _, m := range models {
		out = append(out, storage.Notification{ID: m.ID, UserID: m.UserID, Message: m.Message, Read: m.Read, CreatedAt: m.CreatedAt})
	}
	return out, nil
}

// ReadFile returns the stored content of a file.
func (s *Store) ReadFile(ctx context.Context, roomID, path string) (string, error) {
	var model fileModel
	if err := s.db.WithContext(ctx).Where("room_id = ? AND path = ?", roomID, path).First(&model).Error; err != nil {
		return "", translate(err)
	}
	return model.Content, nil
}

// WriteFile creates or replaces the content of a file.
func (s *Store) WriteFile(ctx context.Context, roomID, path, content string) error {
	return upsertFile(s.db.WithContext(ctx), roomID, path, content)
}

// WriteFiles writes a batch of files in one transaction.
func (s *Store) WriteFiles(ctx context.Context, roomID string, files []storage.FileContent) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, f := range files {
			if err := upsertFile(tx, roomID, f.Path, f.Content); err != nil {
				return fmt.Errorf("write %s: %w", f.Path, err)
			}
		}
		return nil
	})
}

func upsertFile(db *gorm.DB, roomID, path, content string) error {
	model := fileModel{RoomID: roomID, Path: path, Content: content, UpdatedAt: time.Now().UTC()}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
	}).Create(&model).Error
}

func (m userModel) toStorage() *storage.User {
	return &storage.User{
		ID:          m.ID,
		Username:    m.Username,
		DisplayName: m.DisplayName,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}
