package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
	"github.com/fenggwsx/SlashCollab/internal/realtime"
)

type handlerFunc func(ctx context.Context, session *clientSession, env protocol.Envelope) error

// handlerTable returns a fresh action table for one connection.
func (a *App) handlerTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		protocol.ActionRegister:       a.handleRegister,
		protocol.ActionJoinChatRoom:   a.handleJoinChatRoom,
		protocol.ActionLeaveChatRoom:  a.handleLeaveChatRoom,
		protocol.ActionPostMessage:    a.handlePostMessage,
		protocol.ActionTyping:         a.handleTyping,
		protocol.ActionStopTyping:     a.handleStopTyping,
		protocol.ActionJoinDocument:   a.handleJoinDocument,
		protocol.ActionUpdateDocument: a.handleUpdateDocument,
		protocol.ActionLeaveDocument:  a.handleLeaveDocument,
		protocol.ActionSaveDocument:   a.handleSaveDocument,
		protocol.ActionJoinCall:       a.handleJoinCall,
		protocol.ActionLeaveCall:      a.handleLeaveCall,
		protocol.ActionRelaySignal:    a.handleRelaySignal,
		protocol.ActionSubmitCommit:   a.handleSubmitCommit,
		protocol.ActionApproveCommit:  a.handleApproveCommit,
		protocol.ActionRejectCommit:   a.handleRejectCommit,
		protocol.ActionPing:           a.handlePing,
	}
}

func (a *App) dispatch(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	if env.Type != protocol.MessageTypeCommand {
		a.logger.Debug("unhandled envelope type", slog.String("type", string(env.Type)), slog.String("conn", session.id))
		return nil
	}
	action := normalizeAction(env)
	handler, ok := session.handler(action)
	if !ok {
		a.ackError(session, env.ID, "unsupported command")
		return nil
	}
	return handler(ctx, session, env)
}

func (a *App) handleRegister(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	req, err := decodeRequest[protocol.RegisterRequest](env)
	if err != nil {
		a.ackError(session, env.ID, "invalid register payload")
		return nil
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		a.ackError(session, env.ID, "user id required")
		return nil
	}

	if evicted := a.hub.Registry.Register(session.id, userID); evicted != "" {
		a.logger.Info("register replaced connection", slog.String("user", userID), slog.String("previous", evicted), slog.String("remote", session.remoteAddr()))
	}
	session.setUser(userID)
	a.ackOK(session, env.ID)
	a.sendEvent(session, protocol.EventRegistered, protocol.RegisteredPayload{UserID: userID, ConnectionID: session.id})
	a.logger.Info("register success", slog.String("user", userID), slog.String("conn", session.id), slog.String("remote", session.remoteAddr()))
	return nil
}

func (a *App) handleJoinChatRoom(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	req, err := decodeRequest[protocol.RoomRequest](env)
	if err != nil {
		a.ackError(session, env.ID, "invalid join payload")
		return nil
	}
	room := strings.TrimSpace(req.RoomID)
	if room == "" {
		a.ackError(session, env.ID, "room required")
		return nil
	}
	if err := a.hub.Chat.Join(ctx, room, session.id); err != nil {
		a.ackError(session, env.ID, "history unavailable")
		return err
	}
	a.ackOK(session, env.ID)
	return nil
}

func (a *App) handleLeaveChatRoom(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	req, err := decodeRequest[protocol.RoomRequest](env)
	if err != nil {
		a.ackError(session, env.ID, "invalid leave payload")
		return nil
	}
	room := strings.TrimSpace(req.RoomID)
	if room == "" {
		a.ackError(session, env.ID, "room required")
		return nil
	}
	a.hub.Chat.Leave(room, session.id)
	a.ackOK(session, env.ID)
	return nil
}

func (a *App) handlePostMessage(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	req, err := decodeRequest[protocol.PostMessageRequest](env)
	if err != nil {
		a.ackError(session, env.ID, "invalid message payload")
		return nil
	}
	room := strings.TrimSpace(req.RoomID)
	if room == "" {
		a.ackError(session, env.ID, "room required")
		return nil
	}
	sender := strings.TrimSpace(req.SenderID)
	if sender == "" {
		sender = session.user()
	}
	if sender == "" {
		a.ackError(session, env.ID, "sender required")
		return nil
	}

	msg, err := a.hub.Chat.Post(ctx, room, sender, req.Text)
	switch {
	case errors.Is(err, realtime.ErrEmptyMessage):
		a.ackError(session, env.ID, "message empty")
		return nil
	case err != nil:
		a.ackError(session, env.ID, "message not stored")
		return err
	}
	a.ackOK(session, env.ID)
	a.logger.Debug("chat message posted", slog.String("id", msg.ID), slog.String("room", room), slog.String("user", sender), slog.Int("len", len(msg.Text)), slog.String("remote", session.remoteAddr()))
	return nil
}

func (a *App) handleTyping(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	req, err := decodeRequest[protocol.TypingPayload](env)
	if err != nil || strings.TrimSpace(req.RoomID) == "" {
		return nil
	}
	a.hub.Chat.Typing(req.RoomID, a.userOr(session, req.UserID), session.id)
	return nil
}

func (a *App) handleStopTyping(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	req, err := decodeRequest[protocol.TypingPayload](env)
	if err != nil || strings.TrimSpace(req.RoomID) == "" {
		return nil
	}
	a.hub.Chat.StopTyping(req.RoomID, a.userOr(session, req.UserID), session.id)
	return nil
}

func (a *App) handleJoinDocument(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	req, ok := a.documentRequest(session, env)
	if !ok {
		return nil
	}
	snap := a.hub.Documents.Join(req.RoomID, req.Path, session.id)
	a.ackOK(session, env.ID)
	a.logger.Debug("document opened", slog.String("room", req.RoomID), slog.String("path", req.Path), slog.Uint64("version", snap.Version), slog.String("conn", session.id))
	return nil
}

// handleUpdateDocument never acknowledges: stale proposals are dropped
// without telling the sender.
func (a *App) handleUpdateDocument(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	req, err := decodeRequest[protocol.UpdateDocumentRequest](env)
	if err != nil {
		a.ackError(session, env.ID, "invalid update payload")
		return nil
	}
	room, path := strings.TrimSpace(req.RoomID), strings.TrimSpace(req.Path)
	if room == "" || path == "" {
		a.ackError(session, env.ID, "room and path required")
		return nil
	}
	a.hub.Documents.Update(room, path, req.Content, req.Version, session.id)
	return nil
}

func (a *App) handleLeaveDocument(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	req, ok := a.documentRequest(session, env)
	if !ok {
		return nil
	}
	a.hub.Documents.Leave(req.RoomID, req.Path, session.id)
	a.ackOK(session, env.ID)
	return nil
}

func (a *App) handleSaveDocument(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	req, ok := a.documentRequest(session, env)
	if !ok {
		return nil
	}
	if _, err := a.hub.Documents.Save(ctx, req.RoomID, req.Path); err != nil {
		if errors.Is(err, realtime.ErrUnknownDocument) {
			a.ackError(session, env.ID, "document not open")
			return nil
		}
		a.ackError(session, env.ID, "save failed")
		return err
	}
	a.ackOK(session, env.ID)
	return nil
}

func (a *App) documentRequest(session *clientSession, env protocol.Envelope) (protocol.DocumentRequest, bool) {
	req, err := decodeRequest[protocol.DocumentRequest](env)
	if err != nil {
		a.ackError(session, env.ID, "invalid document payload")
		return req, false
	}
	req.RoomID, req.Path = strings.TrimSpace(req.RoomID), strings.TrimSpace(req.Path)
	if req.RoomID == "" || req.Path == "" {
		a.ackError(session, env.ID, "room and path required")
		return req, false
	}
	return req, true
}

func (a *App) handleJoinCall(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	req, err := decodeRequest[protocol.CallRequest](env)
	if err != nil {
		a.ackError(session, env.ID, "invalid call payload")
		return nil
	}
	room := strings.TrimSpace(req.RoomID)
	if room == "" {
		a.ackError(session, env.ID, "room required")
		return nil
	}
	a.hub.Calls.Join(room, a.userOr(session, req.UserID), session.id)
	a.ackOK(session, env.ID)
	return nil
}

func (a *App) handleLeaveCall(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	req, err := decodeRequest[protocol.CallRequest](env)
	if err != nil {
		a.ackError(session, env.ID, "invalid call payload")
		return nil
	}
	room := strings.TrimSpace(req.RoomID)
	if room == "" {
		a.ackError(session, env.ID, "room required")
		return nil
	}
	a.hub.Calls.Leave(room, a.userOr(session, req.UserID), session.id)
	a.ackOK(session, env.ID)
	return nil
}

func (a *App) handleRelaySignal(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	req, err := decodeRequest[protocol.RelaySignalRequest](env)
	if err != nil || strings.TrimSpace(req.TargetConnectionID) == "" {
		a.ackError(session, env.ID, "target required")
		return nil
	}
	a.hub.Calls.Relay(session.id, session.user(), req.TargetConnectionID, req.Payload)
	return nil
}

func (a *App) handleSubmitCommit(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	author := session.user()
	if author == "" {
		a.ackError(session, env.ID, "register first")
		return nil
	}
	req, err := decodeRequest[protocol.SubmitCommitRequest](env)
	if err != nil {
		a.ackError(session, env.ID, "invalid commit payload")
		return nil
	}
	room := strings.TrimSpace(req.RoomID)
	if room == "" {
		a.ackError(session, env.ID, "room required")
		return nil
	}
	commit, err := a.hub.Commits.Submit(ctx, room, author, req.Files)
	if err != nil {
		if errors.Is(err, realtime.ErrEmptyCommit) {
			a.ackError(session, env.ID, "commit has no files")
			return nil
		}
		a.ackError(session, env.ID, "commit failed")
		return err
	}
	a.ackOK(session, env.ID)
	a.logger.Info("commit received", slog.String("id", commit.ID), slog.String("room", room), slog.String("user", author), slog.String("remote", session.remoteAddr()))
	return nil
}

func (a *App) handleApproveCommit(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	return a.decideCommit(ctx, session, env, a.hub.Commits.Approve)
}

func (a *App) handleRejectCommit(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	return a.decideCommit(ctx, session, env, a.hub.Commits.Reject)
}

func (a *App) decideCommit(ctx context.Context, session *clientSession, env protocol.Envelope, decide func(context.Context, string, string) (*realtime.Commit, error)) error {
	approver := session.user()
	if approver == "" {
		a.ackError(session, env.ID, "register first")
		return nil
	}
	req, err := decodeRequest[protocol.CommitDecisionRequest](env)
	if err != nil || strings.TrimSpace(req.CommitID) == "" {
		a.ackError(session, env.ID, "commit id required")
		return nil
	}
	if _, err := decide(ctx, strings.TrimSpace(req.CommitID), approver); err != nil {
		switch {
		case errors.Is(err, realtime.ErrUnknownCommit):
			a.ackError(session, env.ID, "unknown commit")
			return nil
		case errors.Is(err, realtime.ErrNotOwner):
			a.ackError(session, env.ID, "only the room owner can decide commits")
			return nil
		}
		a.ackError(session, env.ID, "commit decision failed")
		return err
	}
	a.ackOK(session, env.ID)
	return nil
}

func (a *App) handlePing(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	a.ackOK(session, env.ID)
	return nil
}

// userOr prefers the identity in the payload and falls back to the one bound
// to the connection.
func (a *App) userOr(session *clientSession, fromPayload string) string {
	if user := strings.TrimSpace(fromPayload); user != "" {
		return user
	}
	return session.user()
}
