package protocol

// Inbound actions.
const (
	ActionRegister       = "register"
	ActionJoinChatRoom   = "join-chat-room"
	ActionLeaveChatRoom  = "leave-chat-room"
	ActionPostMessage    = "post-message"
	ActionTyping         = "typing"
	ActionStopTyping     = "stop-typing"
	ActionJoinDocument   = "join-document"
	ActionUpdateDocument = "update-document"
	ActionLeaveDocument  = "leave-document"
	ActionSaveDocument   = "save-document"
	ActionJoinCall       = "join-call"
	ActionLeaveCall      = "leave-call"
	ActionRelaySignal    = "relay-signal"
	ActionSubmitCommit   = "submit-commit"
	ActionApproveCommit  = "approve-commit"
	ActionRejectCommit   = "reject-commit"
	ActionPing           = "ping"
)

// Outbound events.
const (
	EventRegistered       = "registered"
	EventChatJoined       = "chat-joined"
	EventChatHistory      = "chat-history"
	EventChatMessage      = "chat-message"
	EventTyping           = "typing"
	EventStopTyping       = "stop-typing"
	EventDocumentSnapshot = "document-snapshot"
	EventDocumentPatch    = "document-patch"
	EventCallPeers        = "call-peers"
	EventCallPeerJoined   = "call-peer-joined"
	EventCallPeerLeft     = "call-peer-left"
	EventSignalReceived   = "signal-received"
	EventNotification     = "notification"
	EventCommitPending    = "commit-pending"
	EventCommitSummary    = "commit-summary"
	EventCommitResolved   = "commit-resolved"
)

// RegisterRequest binds a user identity to the sending connection.
type RegisterRequest struct {
	UserID string `json:"userId"`
}

// RegisteredPayload confirms the identity binding.
type RegisteredPayload struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

// RoomRequest names a chat room.
type RoomRequest struct {
	RoomID string `json:"roomId"`
}

// PostMessageRequest carries a chat message.
type PostMessageRequest struct {
	RoomID   string `json:"roomId"`
	SenderID string `json:"senderId"`
	Text     string `json:"text"`
}

// ChatMessage is a stored message as broadcast to room members.
type ChatMessage struct {
	ID         string `json:"id"`
	RoomID     string `json:"roomId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
	CreatedAt  int64  `json:"createdAt"`
}

// ChatHistory lists recent messages for a room.
type ChatHistory struct {
	RoomID   string        `json:"roomId"`
	Messages []ChatMessage `json:"messages"`
}

// TypingPayload is used for both typing and stop-typing.
type TypingPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// DocumentRequest addresses one file inside a room.
type DocumentRequest struct {
	RoomID string `json:"roomId"`
	Path   string `json:"path"`
}

// UpdateDocumentRequest proposes new content for a document.
type UpdateDocumentRequest struct {
	RoomID  string `json:"roomId"`
	Path    string `json:"path"`
	Content string `json:"content"`
	Version uint64 `json:"version"`
}

// DocumentState is used for both snapshots and patches.
type DocumentState struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Version uint64 `json:"version"`
}

// CallRequest joins or leaves a call.
type CallRequest struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// CallPeer identifies a call participant.
type CallPeer struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

// CallPeers lists the participants already present when joining.
type CallPeers struct {
	RoomID string     `json:"roomId"`
	Peers  []CallPeer `json:"peers"`
}

// RelaySignalRequest carries an opaque signaling payload to one peer.
type RelaySignalRequest struct {
	TargetConnectionID string      `json:"targetConnectionId"`
	Payload            interface{} `json:"payload"`
}

// SignalReceived is delivered to the target of a relayed signal.
type SignalReceived struct {
	Payload          interface{} `json:"payload"`
	FromConnectionID string      `json:"fromConnectionId"`
	FromUserID       string      `json:"fromUserId,omitempty"`
}

// Notification is pushed to a single user.
type Notification struct {
	Message string `json:"message"`
}

// FileChange is one proposed file content inside a commit request.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// SubmitCommitRequest proposes a batch of file changes for owner approval.
type SubmitCommitRequest struct {
	RoomID string       `json:"roomId"`
	Files  []FileChange `json:"files"`
}

// CommitDecisionRequest approves or rejects a pending commit.
type CommitDecisionRequest struct {
	CommitID string `json:"commitId"`
}

// DiffRun is a run of consecutive lines with the same change kind.
type DiffRun struct {
	Kind  string   `json:"kind"`
	Lines []string `json:"lines"`
}

// FileDiff is the line diff for one file.
type FileDiff struct {
	Path string    `json:"path"`
	Runs []DiffRun `json:"runs"`
}

// CommitView is the wire form of a pending commit request.
type CommitView struct {
	ID       string     `json:"id"`
	RoomID   string     `json:"roomId"`
	AuthorID string     `json:"authorId"`
	Diffs    []FileDiff `json:"diffs"`
	Summary  string     `json:"summary"`
	Status   string     `json:"status,omitempty"`
}
