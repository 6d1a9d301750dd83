package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a persisted account record.
type User struct {
	ID          string
	Username    string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Name returns the display name, falling back to the username.
func (u *User) Name() string {
	if u == nil {
		return ""
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Room is a collaboration room. Only the owner may approve commits.
type Room struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

// Message is a persisted chat message.
type Message struct {
	ID        string
	RoomID    string
	SenderID  string
	Text      string
	CreatedAt time.Time
	Sender    *User
}

// Notification is a persisted per-user notice.
type Notification struct {
	ID        string
	UserID    string
	Message   string
	Read      bool
	CreatedAt time.Time
}

// UserStore resolves and creates users.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// RoomStore resolves rooms.
type RoomStore interface {
	CreateRoom(ctx context.Context, room *Room) error
	GetRoom(ctx context.Context, id string) (*Room, error)
}

// MessageStore persists chat messages.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *Message) error
	ListMessagesByRoom(ctx context.Context, roomID string, limit int) ([]Message, error)
}

// NotificationStore persists notifications.
type NotificationStore interface {
	SaveNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error)
}

// FileContent is one file of a batch write.
type FileContent struct {
	Path    string
	Content string
}

// FileStore reads and writes authoritative file contents. A missing file
// yields ErrNotFound. WriteFiles applies every file of the batch or none.
type FileStore interface {
	ReadFile(ctx context.Context, roomID, path string) (string, error)
	WriteFile(ctx context.Context, roomID, path, content string) error
	WriteFiles(ctx context.Context, roomID string, files []FileContent) error
}

// Store defines persistence operations used by the server.
type Store interface {
	UserStore
	RoomStore
	MessageStore
	NotificationStore
	FileStore

	Close() error
	Migrate(ctx context.Context) error
}
