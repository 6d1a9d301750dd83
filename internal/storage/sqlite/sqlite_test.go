package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"gorm.io/gorm"

	"github.com/fenggwsx/SlashCollab/internal/config"
	"github.com/fenggwsx/SlashCollab/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(config.DatabaseConfig{Path: "file::memory:"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	bob := &storage.User{Username: "bob", DisplayName: "Bob B."}
	if err := s.CreateUser(ctx, bob); err != nil {
		t.Fatalf("create: %v", err)
	}
	assert.NotEqual(t, "", bob.ID)

	byName, err := s.GetUserByUsername(ctx, "bob")
	assert.Equal(t, nil, err)
	assert.Equal(t, bob.ID, byName.ID)
	assert.Equal(t, "Bob B.", byName.Name())

	byID, err := s.GetUserByID(ctx, bob.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, "bob", byID.Username)

	_, err = s.GetUserByUsername(ctx, "nobody")
	assert.Equal(t, true, errors.Is(err, storage.ErrNotFound))

	dup := &storage.User{Username: "bob"}
	assert.NotEqual(t, nil, s.CreateUser(ctx, dup))
}

func TestRooms(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	room := &storage.Room{Name: "Backend", OwnerID: "owner-1"}
	if err := s.CreateRoom(ctx, room); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetRoom(ctx, room.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, "Backend", got.Name)
	assert.Equal(t, "owner-1", got.OwnerID)

	_, err = s.GetRoom(ctx, "missing")
	assert.Equal(t, true, errors.Is(err, storage.ErrNotFound))
}

func TestMessagesHistoryOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	alice := &storage.User{Username: "alice"}
	_ = s.CreateUser(ctx, alice)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		msg := &storage.Message{
			RoomID:    "room-1",
			SenderID:  alice.ID,
			Text:      fmt.Sprintf("m%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("save: %v", err)
		}
		assert.NotEqual(t, "", msg.ID)
	}
	_ = s.SaveMessage(ctx, &storage.Message{RoomID: "room-2", SenderID: alice.ID, Text: "elsewhere"})

	history, err := s.ListMessagesByRoom(ctx, "room-1", 3)
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(history))
	assert.Equal(t, "m2", history[0].Text)
	assert.Equal(t, "m4", history[2].Text)
	assert.NotEqual(t, nil, history[0].Sender)
	assert.Equal(t, "alice", history[0].Sender.Username)
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		n := &storage.Notification{UserID: "u1", Message: fmt.Sprintf("n%d", i)}
		if err := s.SaveNotification(ctx, n); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	_ = s.SaveNotification(ctx, &storage.Notification{UserID: "u2", Message: "other"})

	list, err := s.ListNotifications(ctx, "u1", 0)
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(list))
}

func TestFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.ReadFile(ctx, "room-1", "main.go")
	assert.Equal(t, true, errors.Is(err, storage.ErrNotFound))

	assert.Equal(t, nil, s.WriteFile(ctx, "room-1", "main.go", "v1"))
	assert.Equal(t, nil, s.WriteFile(ctx, "room-1", "main.go", "v2"))
	assert.Equal(t, nil, s.WriteFile(ctx, "room-2", "main.go", "other"))

	content, err := s.ReadFile(ctx, "room-1", "main.go")
	assert.Equal(t, nil, err)
	assert.Equal(t, "v2", content)
}

func TestWriteFilesIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.WriteFiles(ctx, "room-1", []storage.FileContent{{Path: "a.txt", Content: "A1"}, {Path: "b.txt", Content: "B1"}})
	assert.Equal(t, nil, err)

	// refuse b.txt so the batch fails after a.txt is already written
	err = s.db.Callback().Create().Before("gorm:create").Register("test:refuse_b", func(db *gorm.DB) {
		if m, ok := db.Statement.Dest.(*fileModel); ok && m.Path == "b.txt" {
			_ = db.AddError(errors.New("disk full"))
		}
	})
	assert.Equal(t, nil, err)

	err = s.WriteFiles(ctx, "room-1", []storage.FileContent{{Path: "a.txt", Content: "A2"}, {Path: "b.txt", Content: "B2"}})
	assert.NotEqual(t, nil, err)

	a, _ := s.ReadFile(ctx, "room-1", "a.txt")
	b, _ := s.ReadFile(ctx, "room-1", "b.txt")
	assert.Equal(t, "A1", a)
	assert.Equal(t, "B1", b)
}
