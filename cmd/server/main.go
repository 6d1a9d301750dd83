package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"

	"github.com/fenggwsx/SlashCollab/internal/config"
	"github.com/fenggwsx/SlashCollab/internal/realtime"
	"github.com/fenggwsx/SlashCollab/internal/server"
	"github.com/fenggwsx/SlashCollab/internal/storage"
	"github.com/fenggwsx/SlashCollab/internal/storage/redisfiles"
	"github.com/fenggwsx/SlashCollab/internal/storage/sqlite"
	"github.com/fenggwsx/SlashCollab/internal/summary"
)

const version = "0.1.0"

const usage = `SlashCollab server.

Settings are read from COLLAB_* environment variables.

Usage:
    collab-server serve
    collab-server user add <username> [--name=<display>]
    collab-server room add <name> --owner=<username>
    collab-server -h | --help
    collab-server --version

Options:
    -h --help             Show this screen.
    --version             Show version.
    --name=<display>      Display name shown in chat.
    --owner=<username>    User allowed to approve commits in the room.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.NewStore(cfg.Database)
	if err != nil {
		logger.Error("init storage", slog.Any("err", err))
		os.Exit(1)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logger.Error("migrate", slog.Any("err", err))
		os.Exit(1)
	}

	if serve, _ := opts.Bool("serve"); serve {
		err = runServe(ctx, cfg, store, logger)
	} else if user, _ := opts.Bool("user"); user {
		err = addUser(ctx, store, opts)
	} else if room, _ := opts.Bool("room"); room {
		err = addRoom(ctx, store, opts)
	}
	if err != nil {
		logger.Error("exit", slog.Any("err", err))
		os.Exit(1)
	}
}

func runServe(ctx context.Context, cfg config.ServerConfig, store *sqlite.Store, logger *slog.Logger) error {
	policy, err := realtime.ParseVersionPolicy(cfg.Documents.VersionPolicy)
	if err != nil {
		return err
	}

	var files storage.FileStore = store
	if cfg.Files.Backend == config.FileBackendRedis {
		redisStore, err := redisfiles.Open(ctx, cfg.Files)
		if err != nil {
			return fmt.Errorf("redis file store: %w", err)
		}
		defer redisStore.Close()
		files = redisStore
	}

	hub := realtime.NewHub(realtime.Deps{
		Store:       store,
		Files:       files,
		Summarizer:  summary.New(cfg.Summary),
		Policy:      policy,
		IdleTTL:     cfg.Documents.IdleTTL,
		HistorySize: cfg.Chat.HistorySize,
		Logger:      logger,
	})
	defer hub.Close()

	logger.Info("server starting",
		slog.String("tcp", cfg.ListenAddr),
		slog.String("http", cfg.HTTPAddr),
		slog.String("files", cfg.Files.Backend),
		slog.String("policy", policy.String()),
	)
	return server.NewApp(cfg, hub, logger).Run(ctx)
}

func addUser(ctx context.Context, store *sqlite.Store, opts docopt.Opts) error {
	username, _ := opts.String("<username>")
	display, _ := opts.String("--name")
	user := &storage.User{Username: username, DisplayName: display}
	if err := store.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	fmt.Printf("user %s id=%s\n", user.Username, user.ID)
	return nil
}

func addRoom(ctx context.Context, store *sqlite.Store, opts docopt.Opts) error {
	name, _ := opts.String("<name>")
	ownerName, _ := opts.String("--owner")
	owner, err := store.GetUserByUsername(ctx, ownerName)
	if err != nil {
		return fmt.Errorf("owner %q: %w", ownerName, err)
	}
	room := &storage.Room{Name: name, OwnerID: owner.ID}
	if err := store.CreateRoom(ctx, room); err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	fmt.Printf("room %s id=%s owner=%s\n", room.Name, room.ID, owner.Username)
	return nil
}
