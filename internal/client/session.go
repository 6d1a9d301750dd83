package client

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fenggwsx/SlashCollab/internal/config"
	"github.com/fenggwsx/SlashCollab/internal/protocol"
)

// pingInterval stays well under the server's default read timeout.
const pingInterval = 20 * time.Second

// Session manages client-side socket interactions with the SlashCollab server.
type Session struct {
	cfg      config.ClientConfig
	conn     net.Conn
	encoder  *protocol.Encoder
	decoder  *protocol.Decoder
	messages chan protocol.Envelope
	writeMu  sync.Mutex
	cancelFn context.CancelFunc
}

// NewSession initializes a session with configuration.
func NewSession(cfg config.ClientConfig) *Session {
	return &Session{cfg: cfg, messages: make(chan protocol.Envelope, 64)}
}

// Connect dials the server and starts the read and keepalive loops.
func (s *Session) Connect(ctx context.Context) error {
	if s.cfg.ServerAddr == "" {
		return net.ErrClosed
	}
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.ServerAddr)
	if err != nil {
		return err
	}
	s.attach(conn)
	return nil
}

func (s *Session) attach(conn net.Conn) {
	s.conn = conn
	s.encoder = protocol.NewEncoder(conn)
	s.decoder = protocol.NewDecoder(conn, 0)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFn = cancel
	go s.readLoop(ctx)
	go s.pingLoop(ctx, pingInterval)
}

// Messages yields inbound envelopes and is closed when the connection ends.
func (s *Session) Messages() <-chan protocol.Envelope {
	return s.messages
}

// Close terminates the session.
func (s *Session) Close() error {
	if s.cancelFn != nil {
		s.cancelFn()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Send dispatches an envelope to the server.
func (s *Session) Send(ctx context.Context, env protocol.Envelope) error {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	env.Timestamp = time.Now()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.encoder.Encode(ctx, env)
}

func (s *Session) readLoop(ctx context.Context) {
	defer close(s.messages)
	for {
		env, err := s.decoder.Decode(ctx)
		if err != nil {
			return
		}
		select {
		case s.messages <- env:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) pingLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			env := protocol.Envelope{
				Type:     protocol.MessageTypeCommand,
				Metadata: map[string]interface{}{"action": protocol.ActionPing},
			}
			sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := s.Send(sendCtx, env)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
