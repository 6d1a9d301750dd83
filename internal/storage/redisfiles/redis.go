// Package redisfiles provides a Redis-backed storage.FileStore. File contents
// for one room live in a single hash keyed by path.
package redisfiles

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fenggwsx/SlashCollab/internal/config"
	"github.com/fenggwsx/SlashCollab/internal/storage"
)

// Config contains configuration options for the Redis file store.
type Config struct {
	// Client is the Redis client instance
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys
	// Default: "collab:files:"
	KeyPrefix string
}

// Store implements storage.FileStore using Redis hashes.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

var _ storage.FileStore = (*Store)(nil)

// New creates a new Redis-based file store.
func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "collab:files:"
	}
	return &Store{client: cfg.Client, keyPrefix: cfg.KeyPrefix}, nil
}

// Open dials Redis using the server file configuration and verifies the connection.
func Open(ctx context.Context, cfg config.FilesConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(Config{Client: client, KeyPrefix: cfg.KeyPrefix})
}

// ReadFile returns the stored content of a file.
func (s *Store) ReadFile(ctx context.Context, roomID, path string) (string, error) {
	content, err := s.client.HGet(ctx, s.roomKey(roomID), path).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("failed to read %s in room %s: %w", path, roomID, err)
	}
	return content, nil
}

// WriteFile creates or replaces the content of a file.
func (s *Store) WriteFile(ctx context.Context, roomID, path, content string) error {
	if err := s.client.HSet(ctx, s.roomKey(roomID), path, content).Err(); err != nil {
		return fmt.Errorf("failed to write %s in room %s: %w", path, roomID, err)
	}
	return nil
}

// WriteFiles sets every path of the batch in a MULTI/EXEC transaction.
func (s *Store) WriteFiles(ctx context.Context, roomID string, files []storage.FileContent) error {
	if len(files) == 0 {
		return nil
	}
	key := s.roomKey(roomID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, f := range files {
			pipe.HSet(ctx, key, f.Path, f.Content)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %d files in room %s: %w", len(files), roomID, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) roomKey(roomID string) string {
	return s.keyPrefix + "room:" + roomID
}
