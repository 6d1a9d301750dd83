package client

import (
	"context"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
)

// parsedCommand is one line of slash input split into its parts. Rest keeps
// the argument text verbatim so /write can carry spaces.
type parsedCommand struct {
	name string
	args []string
	rest string
}

func parseCommand(prefix rune, raw string) (parsedCommand, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, string(prefix)) {
		return parsedCommand{}, false
	}
	body := strings.TrimPrefix(raw, string(prefix))
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return parsedCommand{}, false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(body, fields[0]))
	return parsedCommand{name: strings.ToLower(fields[0]), args: fields[1:], rest: rest}, true
}

// documentText turns the escaped newlines typed on a single input line into
// real ones.
func documentText(rest string) string {
	return strings.ReplaceAll(rest, `\n`, "\n")
}

func (a *App) handleSubmit(value string) tea.Cmd {
	if strings.HasPrefix(value, string(a.cfg.CommandPrefix)) {
		return a.executeCommand(value)
	}
	return a.sendChatMessage(value)
}

func (a *App) executeCommand(raw string) tea.Cmd {
	cmd, ok := parseCommand(a.cfg.CommandPrefix, raw)
	if !ok {
		a.logErrorf("Missing command name")
		return nil
	}

	var cmds []tea.Cmd
	switch cmd.name {
	case "help":
		a.view = viewHelp
		a.logf("Switched to HELP view")
	case "chat":
		a.view = viewChat
		a.logf("Switched to CHAT view")
	case "connect":
		target := a.serverAddr
		if len(cmd.args) > 0 {
			target = cmd.args[0]
		}
		if target == "" {
			a.logErrorf("Provide a server address to connect")
			break
		}
		cmds = append(cmds, a.connectToServer(target))
	case "quit":
		a.logf("Exiting client")
		if a.session != nil {
			_ = a.session.Close()
			a.session = nil
		}
		a.statusOnline = false
		cmds = append(cmds, tea.Quit)
	default:
		if !a.isConnected() {
			a.logErrorf("Not connected. Use /connect first.")
			break
		}
		cmds = append(cmds, a.executeSessionCommand(cmd))
	}

	a.updateViewportContent()
	return tea.Batch(cmds...)
}

// executeSessionCommand handles the commands that talk to the server.
func (a *App) executeSessionCommand(cmd parsedCommand) tea.Cmd {
	switch cmd.name {
	case "register":
		if len(cmd.args) != 1 {
			a.logErrorf("Usage: /register <userId>")
			return nil
		}
		a.userID = cmd.args[0]
		a.logf("Registering %s ...", a.userID)
		return a.sendRegister(a.userID)
	case "join":
		if len(cmd.args) != 1 {
			a.logErrorf("Usage: /join <room>")
			return nil
		}
		room := cmd.args[0]
		if strings.EqualFold(room, a.room) {
			a.logf("Already in room %s", room)
			return nil
		}
		var cmds []tea.Cmd
		if a.hasActiveRoom() {
			cmds = append(cmds, a.sendLeave(a.room))
		}
		a.logf("Joining room %s ...", room)
		cmds = append(cmds, a.sendCommand(protocol.ActionJoinChatRoom, room, protocol.RoomRequest{RoomID: room},
			pendingRequest{action: protocol.ActionJoinChatRoom, room: room}, "join"))
		return tea.Batch(cmds...)
	case "leave":
		if !a.hasActiveRoom() {
			a.logErrorf("No active room to leave")
			return nil
		}
		a.logf("Leaving room %s ...", a.room)
		return a.sendLeave(a.room)
	case "open":
		if len(cmd.args) != 1 {
			a.logErrorf("Usage: /open <path>")
			return nil
		}
		if !a.hasActiveRoom() {
			a.logErrorf("Join a room before opening documents")
			return nil
		}
		var cmds []tea.Cmd
		if a.doc != nil {
			cmds = append(cmds, a.closeDocument())
		}
		path := cmd.args[0]
		a.doc = &documentView{room: a.room, path: path}
		a.view = viewDocument
		a.logf("Opening %s ...", path)
		cmds = append(cmds, a.sendCommand(protocol.ActionJoinDocument, a.room, protocol.DocumentRequest{RoomID: a.room, Path: path},
			pendingRequest{action: protocol.ActionJoinDocument, room: a.room, path: path}, "open"))
		return tea.Batch(cmds...)
	case "close":
		if a.doc == nil {
			a.logErrorf("No open document")
			return nil
		}
		a.view = viewChat
		return a.closeDocument()
	case "write", "append":
		if a.doc == nil {
			a.logErrorf("Open a document first")
			return nil
		}
		content := documentText(cmd.rest)
		if cmd.name == "append" {
			content = a.doc.content + content
		}
		return a.sendDocumentUpdate(content)
	case "save":
		if a.doc == nil {
			a.logErrorf("Open a document first")
			return nil
		}
		return a.sendCommand(protocol.ActionSaveDocument, a.doc.room, protocol.DocumentRequest{RoomID: a.doc.room, Path: a.doc.path},
			pendingRequest{action: protocol.ActionSaveDocument, room: a.doc.room, path: a.doc.path}, "save")
	case "submit":
		if a.doc == nil {
			a.logErrorf("Open a document first")
			return nil
		}
		files := []protocol.FileChange{{Path: a.doc.path, Content: a.doc.content}}
		return a.sendCommand(protocol.ActionSubmitCommit, a.doc.room, protocol.SubmitCommitRequest{RoomID: a.doc.room, Files: files},
			pendingRequest{action: protocol.ActionSubmitCommit, room: a.doc.room, path: a.doc.path}, "commit")
	case "commits":
		a.view = viewCommits
		a.logf("%d pending commit(s)", len(a.commitOrder))
		return nil
	case "approve", "reject":
		if len(cmd.args) != 1 {
			a.logErrorf("Usage: /%s <commitId>", cmd.name)
			return nil
		}
		action := protocol.ActionApproveCommit
		if cmd.name == "reject" {
			action = protocol.ActionRejectCommit
		}
		id := a.resolveCommitID(cmd.args[0])
		return a.sendCommand(action, "", protocol.CommitDecisionRequest{CommitID: id},
			pendingRequest{action: action, commitID: id}, cmd.name)
	case "call":
		if !a.hasActiveRoom() {
			a.logErrorf("Join a room before calling")
			return nil
		}
		a.logf("Joining call in %s ...", a.room)
		return a.sendCommand(protocol.ActionJoinCall, a.room, protocol.CallRequest{RoomID: a.room, UserID: a.userID},
			pendingRequest{action: protocol.ActionJoinCall, room: a.room}, "call")
	case "hangup":
		if a.callRoom == "" {
			a.logErrorf("Not in a call")
			return nil
		}
		room := a.callRoom
		return a.sendCommand(protocol.ActionLeaveCall, room, protocol.CallRequest{RoomID: room, UserID: a.userID},
			pendingRequest{action: protocol.ActionLeaveCall, room: room}, "hangup")
	default:
		a.logErrorf("Command /%s not implemented", cmd.name)
		return nil
	}
}

// resolveCommitID expands a unique prefix of a known commit id.
func (a *App) resolveCommitID(prefix string) string {
	match := ""
	for _, id := range a.commitOrder {
		if strings.HasPrefix(strings.ToLower(id), strings.ToLower(prefix)) {
			if match != "" {
				return prefix
			}
			match = id
		}
	}
	if match == "" {
		return prefix
	}
	return match
}

func (a *App) connectToServer(target string) tea.Cmd {
	if a.session != nil {
		_ = a.session.Close()
	}

	cfg := a.cfg
	cfg.ServerAddr = target
	session := NewSession(cfg)
	a.session = session
	a.serverAddr = target
	a.statusOnline = false
	a.pendingRequests = make(map[string]pendingRequest)
	a.room = "-"
	a.doc = nil
	a.callRoom = ""
	a.logf("Connecting to %s ...", target)

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := session.Connect(ctx)
		return connectResultMsg{session: session, address: target, err: err}
	}
}

func (a *App) listenForSession() tea.Cmd {
	session := a.session
	if session == nil {
		return nil
	}
	return func() tea.Msg {
		env, ok := <-session.Messages()
		if !ok {
			return sessionClosedMsg{session: session}
		}
		return sessionEnvelopeMsg{session: session, envelope: env}
	}
}

func (a *App) sendRegister(userID string) tea.Cmd {
	return a.sendCommand(protocol.ActionRegister, "", protocol.RegisterRequest{UserID: userID},
		pendingRequest{action: protocol.ActionRegister}, "register")
}

func (a *App) sendLeave(room string) tea.Cmd {
	var cmds []tea.Cmd
	if a.typing {
		cmds = append(cmds, a.sendTyping(protocol.ActionStopTyping))
	}
	cmds = append(cmds, a.sendCommand(protocol.ActionLeaveChatRoom, room, protocol.RoomRequest{RoomID: room},
		pendingRequest{action: protocol.ActionLeaveChatRoom, room: room}, "leave"))
	return tea.Batch(cmds...)
}

func (a *App) closeDocument() tea.Cmd {
	doc := a.doc
	a.doc = nil
	a.logf("Closed %s", doc.path)
	return a.sendCommand(protocol.ActionLeaveDocument, doc.room, protocol.DocumentRequest{RoomID: doc.room, Path: doc.path},
		pendingRequest{action: protocol.ActionLeaveDocument, room: doc.room, path: doc.path}, "close")
}

// sendDocumentUpdate proposes content at the last known version and applies
// it locally. The server stays silent on success.
func (a *App) sendDocumentUpdate(content string) tea.Cmd {
	doc := a.doc
	req := protocol.UpdateDocumentRequest{RoomID: doc.room, Path: doc.path, Content: content, Version: doc.version}
	doc.content = content
	doc.version++
	a.view = viewDocument
	a.logf("Sent %s at version %d", doc.path, req.Version)
	return a.sendCommand(protocol.ActionUpdateDocument, doc.room, req, pendingRequest{}, "update")
}

func (a *App) sendChatMessage(text string) tea.Cmd {
	if !a.isConnected() {
		a.logErrorf("Not connected. Use /connect first.")
		return nil
	}
	if !a.hasActiveRoom() {
		a.logErrorf("Join a room before chatting")
		return nil
	}
	var cmds []tea.Cmd
	if a.typing {
		cmds = append(cmds, a.sendTyping(protocol.ActionStopTyping))
	}
	cmds = append(cmds, a.sendCommand(protocol.ActionPostMessage, a.room,
		protocol.PostMessageRequest{RoomID: a.room, SenderID: a.userID, Text: text},
		pendingRequest{action: protocol.ActionPostMessage, room: a.room}, "chat message"))
	return tea.Batch(cmds...)
}

// syncTyping announces typing when free text starts and stops it when the
// input is cleared.
func (a *App) syncTyping() tea.Cmd {
	if !a.isConnected() || !a.hasActiveRoom() || a.userID == "" {
		return nil
	}
	value := a.input.Value()
	composing := value != "" && !strings.HasPrefix(value, string(a.cfg.CommandPrefix))
	switch {
	case composing && !a.typing:
		return a.sendTyping(protocol.ActionTyping)
	case !composing && a.typing:
		return a.sendTyping(protocol.ActionStopTyping)
	}
	return nil
}

func (a *App) sendTyping(action string) tea.Cmd {
	a.typing = action == protocol.ActionTyping
	return a.sendCommand(action, a.room, protocol.TypingPayload{RoomID: a.room, UserID: a.userID}, pendingRequest{}, action)
}

// sendCommand wraps payload in a command envelope. A pending request with an
// action is remembered until its ack arrives.
func (a *App) sendCommand(action, room string, payload interface{}, pending pendingRequest, description string) tea.Cmd {
	session := a.session
	if session == nil {
		return nil
	}
	metadata := map[string]interface{}{"action": action}
	if room != "" {
		metadata["room"] = room
	}
	env := protocol.Envelope{
		ID:        uuid.NewString(),
		Type:      protocol.MessageTypeCommand,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
		Payload:   payload,
	}
	if pending.action != "" {
		a.pendingRequests[env.ID] = pending
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := session.Send(ctx, env)
		return sendResultMsg{session: session, id: env.ID, description: description, err: err}
	}
}

func defaultCommands(prefix rune) []commandSpec {
	p := string(prefix)
	specs := []commandSpec{
		{trigger: "connect", usage: "connect [addr]", description: "Connect to the server"},
		{trigger: "register", usage: "register <userId>", description: "Bind an identity to this connection"},
		{trigger: "join", usage: "join <room>", description: "Join a chat room"},
		{trigger: "leave", usage: "leave", description: "Leave the current room"},
		{trigger: "open", usage: "open <path>", description: "Open a shared document"},
		{trigger: "close", usage: "close", description: "Close the open document"},
		{trigger: "write", usage: "write <text>", description: "Replace the document content"},
		{trigger: "append", usage: "append <text>", description: "Append to the document"},
		{trigger: "save", usage: "save", description: "Persist the document"},
		{trigger: "submit", usage: "submit", description: "Propose the open document as a commit"},
		{trigger: "commits", usage: "commits", description: "List pending commits"},
		{trigger: "approve", usage: "approve <id>", description: "Approve a pending commit"},
		{trigger: "reject", usage: "reject <id>", description: "Reject a pending commit"},
		{trigger: "call", usage: "call", description: "Join the room call"},
		{trigger: "hangup", usage: "hangup", description: "Leave the call"},
		{trigger: "chat", usage: "chat", description: "Switch to chat view"},
		{trigger: "help", usage: "help", description: "Show command help"},
		{trigger: "quit", usage: "quit", description: "Exit the client"},
	}
	for i := range specs {
		specs[i].trigger = p + specs[i].trigger
		specs[i].usage = p + specs[i].usage
	}
	return specs
}
