package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	assert.Equal(t, nil, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 60*time.Second, cfg.ReadTimeout)
	assert.Equal(t, FileBackendSQLite, cfg.Files.Backend)
	assert.Equal(t, "at-least-current", cfg.Documents.VersionPolicy)
	assert.Equal(t, 30*time.Minute, cfg.Documents.IdleTTL)
	assert.Equal(t, 100, cfg.Chat.HistorySize)
	assert.Equal(t, "", cfg.Summary.APIKey)
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("COLLAB_FILE_BACKEND", "redis")
	t.Setenv("COLLAB_REDIS_ADDR", "cache:6380")
	t.Setenv("COLLAB_DOC_VERSION_POLICY", "exact")
	t.Setenv("COLLAB_DOC_IDLE_TTL", "90s")
	t.Setenv("GROQ_API_KEY", "secret")

	cfg, err := LoadServerConfig()
	assert.Equal(t, nil, err)
	assert.Equal(t, FileBackendRedis, cfg.Files.Backend)
	assert.Equal(t, "cache:6380", cfg.Files.RedisAddr)
	assert.Equal(t, "exact", cfg.Documents.VersionPolicy)
	assert.Equal(t, 90*time.Second, cfg.Documents.IdleTTL)
	assert.Equal(t, "secret", cfg.Summary.APIKey)
}

func TestLoadServerConfigRejectsUnknownValues(t *testing.T) {
	t.Setenv("COLLAB_FILE_BACKEND", "s3")
	_, err := LoadServerConfig()
	assert.NotEqual(t, nil, err)

	t.Setenv("COLLAB_FILE_BACKEND", "sqlite")
	t.Setenv("COLLAB_DOC_VERSION_POLICY", "newest")
	_, err = LoadServerConfig()
	assert.NotEqual(t, nil, err)
}

func TestValidateSendBuffer(t *testing.T) {
	cfg := ServerConfig{SendBuffer: 0}
	cfg.Files.Backend = FileBackendSQLite
	cfg.Documents.VersionPolicy = "exact"
	assert.NotEqual(t, nil, cfg.Validate())

	cfg.SendBuffer = 1
	assert.Equal(t, nil, cfg.Validate())
}

func TestSlogLevel(t *testing.T) {
	for input, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	} {
		assert.Equal(t, want, ServerConfig{LogLevel: input}.SlogLevel())
	}
}

func TestLoadClientConfigPrefix(t *testing.T) {
	cfg, err := LoadClientConfig()
	assert.Equal(t, nil, err)
	assert.Equal(t, "localhost:9000", cfg.ServerAddr)
	assert.Equal(t, '/', cfg.CommandPrefix)

	t.Setenv("COLLAB_COMMAND_PREFIX", "!")
	cfg, err = LoadClientConfig()
	assert.Equal(t, nil, err)
	assert.Equal(t, '!', cfg.CommandPrefix)
}
