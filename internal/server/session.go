package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
)

// clientSession tracks per-connection state and outbound delivery.
type clientSession struct {
	id        string
	app       *App
	transport transport
	sendCh    chan protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	userID   string
	handlers map[string]handlerFunc
}

func newClientSession(app *App, t transport) *clientSession {
	buffer := app.cfg.SendBuffer
	if buffer <= 0 {
		buffer = 64
	}
	return &clientSession{
		id:        uuid.NewString(),
		app:       app,
		transport: t,
		sendCh:    make(chan protocol.Envelope, buffer),
		done:      make(chan struct{}),
		handlers:  app.handlerTable(),
	}
}

// ID implements realtime.Sink.
func (s *clientSession) ID() string {
	return s.id
}

// Deliver implements realtime.Sink. It never blocks: a full queue or a
// closed session drops the envelope.
func (s *clientSession) Deliver(env protocol.Envelope) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.sendCh <- env:
		return true
	default:
		return false
	}
}

func (s *clientSession) writeLoop(ctx context.Context, writeTimeout time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case env := <-s.sendCh:
			if writeTimeout > 0 {
				if err := s.transport.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
					return err
				}
			}
			if err := s.transport.WriteEnvelope(ctx, env); err != nil {
				return err
			}
		}
	}
}

func (s *clientSession) handler(action string) (handlerFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[action]
	return h, ok
}

func (s *clientSession) setUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
}

func (s *clientSession) user() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *clientSession) remoteAddr() string {
	if s.transport == nil {
		return ""
	}
	return s.transport.RemoteAddr()
}

// close tears the handler table down and stops delivery. Safe to call twice.
func (s *clientSession) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.handlers = nil
		s.mu.Unlock()
		close(s.done)
	})
}
