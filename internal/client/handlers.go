package client

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
)

func (a *App) handleSessionEnvelope(env protocol.Envelope) tea.Cmd {
	switch env.Type {
	case protocol.MessageTypeAck:
		a.handleAckEnvelope(env)
	case protocol.MessageTypeEvent:
		a.handleEventEnvelope(env)
	default:
		a.logErrorf("Received %s message", string(env.Type))
	}
	a.updateViewportContent()
	return nil
}

func (a *App) handleAckEnvelope(env protocol.Envelope) {
	ack, err := protocol.DecodePayload[protocol.AckPayload](env.Payload)
	if err != nil {
		a.logErrorf("Failed to decode ack: %v", err)
		return
	}

	pending, ok := a.pendingRequests[ack.ReferenceID]
	if !ok {
		if ack.Status != protocol.AckStatusOK && ack.Reason != "" {
			a.logErrorf("Server response: %s", ack.Reason)
		}
		return
	}
	delete(a.pendingRequests, ack.ReferenceID)

	if ack.Status != protocol.AckStatusOK {
		reason := strings.TrimSpace(ack.Reason)
		if reason == "" {
			reason = "unknown error"
		}
		a.logErrorf("%s failed: %s", pending.action, reason)
		if pending.action == protocol.ActionJoinDocument && a.doc != nil && a.doc.path == pending.path {
			a.doc = nil
		}
		return
	}

	switch pending.action {
	case protocol.ActionRegister:
		a.logf("Registered as %s", a.userID)
	case protocol.ActionJoinChatRoom:
		a.logf("Joined room %s", pending.room)
	case protocol.ActionLeaveChatRoom:
		a.logf("Left room %s", pending.room)
		if strings.EqualFold(a.room, pending.room) {
			a.room = "-"
			a.chatHistory = nil
			a.typers = make(map[string]struct{})
		}
	case protocol.ActionSaveDocument:
		a.logf("Saved %s", pending.path)
	case protocol.ActionSubmitCommit:
		a.logf("Commit for %s submitted", pending.path)
	case protocol.ActionApproveCommit:
		a.logf("Approved %s", shortID(pending.commitID))
	case protocol.ActionRejectCommit:
		a.logf("Rejected %s", shortID(pending.commitID))
	case protocol.ActionJoinCall:
		a.callRoom = pending.room
	case protocol.ActionLeaveCall:
		a.callRoom = ""
		a.callPeers = make(map[string]string)
		a.logf("Left call in %s", pending.room)
	case protocol.ActionPostMessage, protocol.ActionJoinDocument, protocol.ActionLeaveDocument:
	default:
		a.logf("Command %s acknowledged", pending.action)
	}
}

func (a *App) handleEventEnvelope(env protocol.Envelope) {
	var err error
	switch env.Action() {
	case protocol.EventRegistered:
		err = a.handleRegistered(env)
	case protocol.EventChatJoined:
		var joined protocol.RoomRequest
		if joined, err = protocol.DecodePayload[protocol.RoomRequest](env.Payload); err == nil {
			a.room = joined.RoomID
			a.view = viewChat
		}
	case protocol.EventChatHistory:
		err = a.handleChatHistory(env)
	case protocol.EventChatMessage:
		err = a.handleChatMessage(env)
	case protocol.EventTyping, protocol.EventStopTyping:
		err = a.handleTypingEvent(env)
	case protocol.EventDocumentSnapshot, protocol.EventDocumentPatch:
		err = a.handleDocumentState(env)
	case protocol.EventCallPeers, protocol.EventCallPeerJoined, protocol.EventCallPeerLeft:
		err = a.handleCallEvent(env)
	case protocol.EventSignalReceived:
		var signal protocol.SignalReceived
		if signal, err = protocol.DecodePayload[protocol.SignalReceived](env.Payload); err == nil {
			a.logf("Signal from %s", peerName(signal.FromUserID, signal.FromConnectionID))
		}
	case protocol.EventNotification:
		var note protocol.Notification
		if note, err = protocol.DecodePayload[protocol.Notification](env.Payload); err == nil {
			a.appendChatLine(a.styles.notice.Render("! " + note.Message))
			a.logf("%s", note.Message)
		}
	case protocol.EventCommitPending, protocol.EventCommitSummary, protocol.EventCommitResolved:
		err = a.handleCommitEvent(env)
	default:
		a.logErrorf("Unhandled event: %s", env.Action())
		return
	}
	if err != nil {
		a.logErrorf("Failed to decode %s: %v", env.Action(), err)
	}
}

func (a *App) handleRegistered(env protocol.Envelope) error {
	payload, err := protocol.DecodePayload[protocol.RegisteredPayload](env.Payload)
	if err != nil {
		return err
	}
	a.userID = payload.UserID
	a.connID = payload.ConnectionID
	return nil
}

func (a *App) handleChatHistory(env protocol.Envelope) error {
	history, err := protocol.DecodePayload[protocol.ChatHistory](env.Payload)
	if err != nil {
		return err
	}
	a.room = history.RoomID
	a.chatHistory = make([]string, 0, len(history.Messages))
	for _, msg := range history.Messages {
		a.chatHistory = append(a.chatHistory, formatChatMessage(msg))
	}
	a.logf("Loaded %d messages for %s", len(history.Messages), history.RoomID)
	return nil
}

func (a *App) handleChatMessage(env protocol.Envelope) error {
	msg, err := protocol.DecodePayload[protocol.ChatMessage](env.Payload)
	if err != nil {
		return err
	}
	if !strings.EqualFold(a.room, msg.RoomID) {
		return nil
	}
	delete(a.typers, msg.SenderID)
	a.appendChatLine(formatChatMessage(msg))
	return nil
}

func (a *App) handleTypingEvent(env protocol.Envelope) error {
	payload, err := protocol.DecodePayload[protocol.TypingPayload](env.Payload)
	if err != nil {
		return err
	}
	if payload.RoomID != a.room {
		return nil
	}
	if env.Action() == protocol.EventTyping {
		a.typers[payload.UserID] = struct{}{}
	} else {
		delete(a.typers, payload.UserID)
	}
	return nil
}

func (a *App) handleDocumentState(env protocol.Envelope) error {
	state, err := protocol.DecodePayload[protocol.DocumentState](env.Payload)
	if err != nil {
		return err
	}
	room, _ := env.Metadata["room"].(string)
	if a.doc == nil || a.doc.path != state.Path || (room != "" && room != a.doc.room) {
		return nil
	}
	a.doc.content = state.Content
	a.doc.version = state.Version
	if env.Action() == protocol.EventDocumentSnapshot {
		a.logf("Opened %s at version %d", state.Path, state.Version)
	} else {
		a.logf("%s updated to version %d", state.Path, state.Version)
	}
	return nil
}

func (a *App) handleCallEvent(env protocol.Envelope) error {
	switch env.Action() {
	case protocol.EventCallPeers:
		peers, err := protocol.DecodePayload[protocol.CallPeers](env.Payload)
		if err != nil {
			return err
		}
		a.callRoom = peers.RoomID
		a.callPeers = make(map[string]string, len(peers.Peers))
		for _, p := range peers.Peers {
			a.callPeers[p.ConnectionID] = p.UserID
		}
		a.logf("In call %s with %d peer(s)", peers.RoomID, len(peers.Peers))
	case protocol.EventCallPeerJoined:
		peer, err := protocol.DecodePayload[protocol.CallPeer](env.Payload)
		if err != nil {
			return err
		}
		a.callPeers[peer.ConnectionID] = peer.UserID
		a.appendChatLine(fmt.Sprintf("* %s joined the call", peerName(peer.UserID, peer.ConnectionID)))
	case protocol.EventCallPeerLeft:
		peer, err := protocol.DecodePayload[protocol.CallPeer](env.Payload)
		if err != nil {
			return err
		}
		delete(a.callPeers, peer.ConnectionID)
		a.appendChatLine(fmt.Sprintf("* %s left the call", peerName(peer.UserID, peer.ConnectionID)))
	}
	return nil
}

func (a *App) handleCommitEvent(env protocol.Envelope) error {
	view, err := protocol.DecodePayload[protocol.CommitView](env.Payload)
	if err != nil {
		return err
	}
	switch env.Action() {
	case protocol.EventCommitPending:
		if _, known := a.commits[view.ID]; !known {
			a.commitOrder = append(a.commitOrder, view.ID)
		}
		a.commits[view.ID] = view
		a.appendChatLine(fmt.Sprintf("* %s proposed commit %s (%s)", view.AuthorID, shortID(view.ID), commitPaths(view)))
	case protocol.EventCommitSummary:
		if _, known := a.commits[view.ID]; !known {
			a.commitOrder = append(a.commitOrder, view.ID)
		}
		a.commits[view.ID] = view
	case protocol.EventCommitResolved:
		delete(a.commits, view.ID)
		for i, id := range a.commitOrder {
			if id == view.ID {
				a.commitOrder = append(a.commitOrder[:i], a.commitOrder[i+1:]...)
				break
			}
		}
		a.appendChatLine(fmt.Sprintf("* commit %s %s", shortID(view.ID), view.Status))
	}
	return nil
}

func (a *App) appendChatLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	a.chatHistory = append(a.chatHistory, line)
}

func (a *App) typingLine() string {
	if len(a.typers) == 0 {
		return ""
	}
	names := make([]string, 0, len(a.typers))
	for name := range a.typers {
		names = append(names, name)
	}
	sort.Strings(names)
	verb := "is"
	if len(names) > 1 {
		verb = "are"
	}
	return fmt.Sprintf("%s %s typing...", strings.Join(names, ", "), verb)
}

func formatChatMessage(msg protocol.ChatMessage) string {
	name := msg.SenderName
	if name == "" {
		name = msg.SenderID
	}
	ts := time.Unix(msg.CreatedAt, 0).Format("15:04")
	return fmt.Sprintf("[%s] %s: %s", ts, name, msg.Text)
}

func commitPaths(view protocol.CommitView) string {
	paths := make([]string, 0, len(view.Diffs))
	for _, d := range view.Diffs {
		paths = append(paths, d.Path)
	}
	return strings.Join(paths, ", ")
}

func peerName(userID, connID string) string {
	if userID != "" {
		return userID
	}
	return shortID(connID)
}

func shortID(id string) string {
	if len(id) > 10 {
		return id[:10]
	}
	return id
}
