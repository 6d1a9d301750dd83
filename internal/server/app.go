package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fenggwsx/SlashCollab/internal/config"
	"github.com/fenggwsx/SlashCollab/internal/realtime"
)

// App coordinates network listeners and session lifecycle. All realtime
// state lives in the hub.
type App struct {
	cfg      config.ServerConfig
	hub      *realtime.Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader

	listener   net.Listener
	httpServer *http.Server
	closeOnce  sync.Once
}

// NewApp constructs a server instance around the hub.
func NewApp(cfg config.ServerConfig, hub *realtime.Hub, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		hub:    hub,
		logger: logger.With(slog.String("component", "server")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Run accepts TCP connections and serves the HTTP endpoints until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	a.listener = listener
	a.logger.Info("tcp listening", slog.String("addr", listener.Addr().String()))

	errCh := make(chan error, 2)

	if a.cfg.HTTPAddr != "" {
		a.httpServer = &http.Server{
			Addr:              a.cfg.HTTPAddr,
			Handler:           a.Handler(ctx),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("http listening", slog.String("addr", a.cfg.HTTPAddr))
			if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http: %w", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		a.shutdown()
	}()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					errCh <- nil
					return
				}
				errCh <- err
				return
			}
			go a.ServeConn(ctx, conn)
		}
	}()

	err = <-errCh
	a.shutdown()
	return err
}

func (a *App) shutdown() {
	a.closeOnce.Do(func() {
		if a.listener != nil {
			_ = a.listener.Close()
		}
		if a.httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.httpServer.Shutdown(shutdownCtx)
		}
	})
}

// Handler returns the HTTP mux: /ws upgrades to the WebSocket transport and
// /healthz reports liveness.
func (a *App) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := a.upgrader.Upgrade(w, r, nil)
		if err != nil {
			a.logger.Warn("websocket upgrade failed", slog.String("remote", r.RemoteAddr), slog.Any("err", err))
			return
		}
		a.serve(ctx, newWSTransport(conn, a.cfg.MaxFrameBytes))
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"status":"ok","connections":%d}`, a.hub.Registry.Len())
	})
	return mux
}

// ServeConn runs a framed TCP session on conn until it closes.
func (a *App) ServeConn(ctx context.Context, conn net.Conn) {
	a.serve(ctx, newFrameTransport(conn, a.cfg.MaxFrameBytes))
}

func (a *App) serve(parentCtx context.Context, t transport) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	session := newClientSession(a, t)
	a.hub.Connect(session)
	a.logger.Info("connection opened", slog.String("conn", session.id), slog.String("remote", session.remoteAddr()))

	defer func() {
		session.close()
		a.hub.Disconnect(session.id)
		_ = t.Close()
		a.logger.Info("connection closed", slog.String("conn", session.id), slog.String("remote", session.remoteAddr()))
	}()

	go func() {
		if err := session.writeLoop(ctx, a.cfg.WriteTimeout); err != nil && !isClosedConn(err) {
			a.logger.Warn("write loop", slog.String("conn", session.id), slog.Any("err", err))
		}
		// a dead writer unblocks the reader
		_ = t.Close()
	}()
	go func() {
		<-ctx.Done()
		_ = t.Close()
	}()

	for {
		if a.cfg.ReadTimeout > 0 {
			if err := t.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout)); err != nil {
				a.logger.Warn("set read deadline", slog.String("conn", session.id), slog.Any("err", err))
				return
			}
		}
		env, err := t.ReadEnvelope(ctx)
		if err != nil {
			if !isClosedConn(err) {
				a.logger.Warn("decode", slog.String("conn", session.id), slog.Any("err", err))
			}
			return
		}
		if err := a.dispatch(ctx, session, env); err != nil {
			a.logger.Error("handle command", slog.String("conn", session.id), slog.String("action", normalizeAction(env)), slog.Any("err", err))
		}
	}
}
