package server

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
)

// transport moves envelopes over one client connection. Reads happen on the
// session's read loop and writes on its write loop only.
type transport interface {
	ReadEnvelope(ctx context.Context) (protocol.Envelope, error)
	WriteEnvelope(ctx context.Context, env protocol.Envelope) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// frameTransport speaks length-prefixed JSON over a stream connection.
type frameTransport struct {
	conn    net.Conn
	encoder *protocol.Encoder
	decoder *protocol.Decoder
}

func newFrameTransport(conn net.Conn, maxFrameBytes int) *frameTransport {
	return &frameTransport{
		conn:    conn,
		encoder: protocol.NewEncoder(conn),
		decoder: protocol.NewDecoder(conn, maxFrameBytes),
	}
}

func (t *frameTransport) ReadEnvelope(ctx context.Context) (protocol.Envelope, error) {
	return t.decoder.Decode(ctx)
}

func (t *frameTransport) WriteEnvelope(ctx context.Context, env protocol.Envelope) error {
	return t.encoder.Encode(ctx, env)
}

func (t *frameTransport) SetReadDeadline(d time.Time) error  { return t.conn.SetReadDeadline(d) }
func (t *frameTransport) SetWriteDeadline(d time.Time) error { return t.conn.SetWriteDeadline(d) }
func (t *frameTransport) Close() error                       { return t.conn.Close() }

func (t *frameTransport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// wsTransport carries one JSON envelope per WebSocket text message.
type wsTransport struct {
	conn *websocket.Conn
}

func newWSTransport(conn *websocket.Conn, maxFrameBytes int) *wsTransport {
	if maxFrameBytes > 0 {
		conn.SetReadLimit(int64(maxFrameBytes))
	}
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadEnvelope(ctx context.Context) (protocol.Envelope, error) {
	var env protocol.Envelope
	if err := ctx.Err(); err != nil {
		return env, err
	}
	if err := t.conn.ReadJSON(&env); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return env, io.EOF
		}
		return env, err
	}
	return env, nil
}

func (t *wsTransport) WriteEnvelope(ctx context.Context, env protocol.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.conn.WriteJSON(env)
}

func (t *wsTransport) SetReadDeadline(d time.Time) error  { return t.conn.SetReadDeadline(d) }
func (t *wsTransport) SetWriteDeadline(d time.Time) error { return t.conn.SetWriteDeadline(d) }
func (t *wsTransport) Close() error                       { return t.conn.Close() }

func (t *wsTransport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// isClosedConn reports errors that just mean the peer went away.
func isClosedConn(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, io.ErrClosedPipe)
}
