package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// ServerConfig holds settings for the collaboration server runtime.
type ServerConfig struct {
	ListenAddr    string        `env:"COLLAB_LISTEN_ADDR,default=:9000"`
	HTTPAddr      string        `env:"COLLAB_HTTP_ADDR,default=:8080"`
	ReadTimeout   time.Duration `env:"COLLAB_READ_TIMEOUT,default=60s"`
	WriteTimeout  time.Duration `env:"COLLAB_WRITE_TIMEOUT,default=15s"`
	MaxFrameBytes int           `env:"COLLAB_MAX_FRAME_BYTES,default=1048576"`
	SendBuffer    int           `env:"COLLAB_SEND_BUFFER,default=64"`
	LogLevel      string        `env:"COLLAB_LOG_LEVEL,default=info"`
	Database      DatabaseConfig
	Files         FilesConfig
	Documents     DocumentsConfig
	Chat          ChatConfig
	Summary       SummaryConfig
}

// ClientConfig holds settings for the terminal client.
type ClientConfig struct {
	ServerAddr    string `env:"COLLAB_SERVER_ADDR,default=localhost:9000"`
	Prefix        string `env:"COLLAB_COMMAND_PREFIX,default=/"`
	CommandPrefix rune
}

// DatabaseConfig captures storage configuration.
type DatabaseConfig struct {
	Path string `env:"COLLAB_DB_PATH,default=collab.db"`
}

// FilesConfig selects where approved commits and saved documents are written.
type FilesConfig struct {
	Backend   string `env:"COLLAB_FILE_BACKEND,default=sqlite"`
	RedisAddr string `env:"COLLAB_REDIS_ADDR,default=localhost:6379"`
	RedisDB   int    `env:"COLLAB_REDIS_DB,default=0"`
	KeyPrefix string `env:"COLLAB_REDIS_KEY_PREFIX,default=collab:files:"`
}

// DocumentsConfig tunes the document session store.
type DocumentsConfig struct {
	// VersionPolicy is "at-least-current" or "exact".
	VersionPolicy string        `env:"COLLAB_DOC_VERSION_POLICY,default=at-least-current"`
	IdleTTL       time.Duration `env:"COLLAB_DOC_IDLE_TTL,default=30m"`
}

// ChatConfig tunes the chat relay.
type ChatConfig struct {
	HistorySize int `env:"COLLAB_CHAT_HISTORY,default=100"`
}

// SummaryConfig configures the commit summarizer. An empty APIKey selects
// the offline summarizer.
type SummaryConfig struct {
	Endpoint string        `env:"COLLAB_SUMMARY_ENDPOINT,default=https://api.groq.com/openai/v1/chat/completions"`
	APIKey   string        `env:"GROQ_API_KEY"`
	Model    string        `env:"COLLAB_SUMMARY_MODEL,default=llama-3.1-70b-versatile"`
	Timeout  time.Duration `env:"COLLAB_SUMMARY_TIMEOUT,default=20s"`
}

const (
	FileBackendSQLite = "sqlite"
	FileBackendRedis  = "redis"
)

// LoadServerConfig builds the server configuration from environment variables with sensible defaults.
func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadClientConfig builds the client configuration from environment variables.
func LoadClientConfig() (ClientConfig, error) {
	var cfg ClientConfig
	if err := decode(&cfg); err != nil {
		return cfg, err
	}
	cfg.CommandPrefix = '/'
	if runes := []rune(cfg.Prefix); len(runes) > 0 {
		cfg.CommandPrefix = runes[0]
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c ServerConfig) Validate() error {
	switch c.Files.Backend {
	case FileBackendSQLite, FileBackendRedis:
	default:
		return fmt.Errorf("unknown file backend %q", c.Files.Backend)
	}
	switch c.Documents.VersionPolicy {
	case "at-least-current", "exact":
	default:
		return fmt.Errorf("unknown document version policy %q", c.Documents.VersionPolicy)
	}
	if c.SendBuffer <= 0 {
		return errors.New("send buffer must be positive")
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c ServerConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func decode(target interface{}) error {
	if err := envdecode.Decode(target); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode env: %w", err)
	}
	return nil
}
