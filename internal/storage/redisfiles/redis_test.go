package redisfiles

import (
	"context"
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fenggwsx/SlashCollab/internal/storage"
)

func TestRedisFileStore(t *testing.T) {
	// Skip test if Redis is not available
	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6379",
		DB:   3,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.FlushDB(ctx)

	s, err := New(Config{Client: client, KeyPrefix: "collab:test:"})
	if err != nil {
		t.Fatalf("Failed to create Redis file store: %v", err)
	}
	defer s.Close()

	t.Run("MissingFile", func(t *testing.T) {
		_, err := s.ReadFile(ctx, "room-1", "missing.go")
		assert.Equal(t, true, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("WriteThenRead", func(t *testing.T) {
		if err := s.WriteFile(ctx, "room-1", "main.go", "package main\n"); err != nil {
			t.Fatalf("write: %v", err)
		}
		content, err := s.ReadFile(ctx, "room-1", "main.go")
		assert.Equal(t, nil, err)
		assert.Equal(t, "package main\n", content)
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = s.WriteFile(ctx, "room-1", "a.txt", "one")
		_ = s.WriteFile(ctx, "room-1", "a.txt", "two")
		content, _ := s.ReadFile(ctx, "room-1", "a.txt")
		assert.Equal(t, "two", content)
	})

	t.Run("WriteFilesBatch", func(t *testing.T) {
		err := s.WriteFiles(ctx, "room-1", []storage.FileContent{{Path: "x.txt", Content: "X"}, {Path: "y.txt", Content: "Y"}})
		assert.Equal(t, nil, err)
		x, _ := s.ReadFile(ctx, "room-1", "x.txt")
		y, _ := s.ReadFile(ctx, "room-1", "y.txt")
		assert.Equal(t, "X", x)
		assert.Equal(t, "Y", y)
		assert.Equal(t, nil, s.WriteFiles(ctx, "room-1", nil))
	})

	t.Run("RoomsAreIsolated", func(t *testing.T) {
		_ = s.WriteFile(ctx, "room-a", "same.txt", "A")
		_ = s.WriteFile(ctx, "room-b", "same.txt", "B")
		a, _ := s.ReadFile(ctx, "room-a", "same.txt")
		b, _ := s.ReadFile(ctx, "room-b", "same.txt")
		assert.Equal(t, "A", a)
		assert.Equal(t, "B", b)
	})
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Config{})
	assert.NotEqual(t, nil, err)
}
