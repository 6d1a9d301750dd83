package server

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
)

func (a *App) sendAck(session *clientSession, referenceID, status, reason string) {
	ack := protocol.Envelope{
		ID:        uuid.NewString(),
		Type:      protocol.MessageTypeAck,
		Timestamp: time.Now(),
		Payload: protocol.AckPayload{
			ReferenceID: referenceID,
			Status:      status,
			Reason:      reason,
		},
	}
	if !session.Deliver(ack) {
		a.logger.Warn("send ack dropped", slog.String("conn", session.id), slog.String("ref", referenceID))
	}
}

func (a *App) ackOK(session *clientSession, referenceID string) {
	a.sendAck(session, referenceID, protocol.AckStatusOK, "")
}

func (a *App) ackError(session *clientSession, referenceID, reason string) {
	a.sendAck(session, referenceID, protocol.AckStatusError, reason)
}

func (a *App) sendEvent(session *clientSession, action string, payload interface{}) {
	event := protocol.Envelope{
		ID:        uuid.NewString(),
		Type:      protocol.MessageTypeEvent,
		Timestamp: time.Now(),
		Metadata:  map[string]interface{}{"action": action},
		Payload:   payload,
	}
	if !session.Deliver(event) {
		a.logger.Warn("event dropped", slog.String("conn", session.id), slog.String("action", action))
	}
}
