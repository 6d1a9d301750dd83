package realtime

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
	"github.com/fenggwsx/SlashCollab/internal/storage"
)

// Deps are the collaborators a Hub is built from.
type Deps struct {
	Store       storage.Store
	Files       storage.FileStore // overrides Store for file contents when set
	Summarizer  Summarizer
	Policy      VersionPolicy
	IdleTTL     time.Duration
	HistorySize int
	Logger      *slog.Logger
}

// Hub owns every realtime service. It is constructed once at process start
// and handed to the transport layer.
type Hub struct {
	Registry  *Registry
	Rooms     *Rooms
	Documents *Documents
	Chat      *Chat
	Calls     *Calls
	Notifier  *Notifier
	Commits   *Commits

	Store  storage.Store
	logger *slog.Logger
}

// NewHub wires the services together.
func NewHub(deps Deps) *Hub {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	files := deps.Files
	if files == nil {
		files = deps.Store
	}

	registry := NewRegistry(logger)
	rooms := NewRooms(registry, logger)
	notifier := NewNotifier(deps.Store, registry, rooms, logger)

	return &Hub{
		Registry: registry,
		Rooms:    rooms,
		Documents: NewDocuments(rooms, DocumentsOptions{
			Policy:  deps.Policy,
			IdleTTL: deps.IdleTTL,
			Files:   files,
		}, logger),
		Chat: NewChat(ChatStores{
			Messages: deps.Store,
			Users:    deps.Store,
			Rooms:    deps.Store,
		}, rooms, notifier, deps.HistorySize, logger),
		Calls:    NewCalls(rooms, logger),
		Notifier: notifier,
		Commits: NewCommits(rooms, CommitsOptions{
			Files:      files,
			Rooms:      deps.Store,
			Summarizer: deps.Summarizer,
		}, logger),
		Store:  deps.Store,
		logger: logger.With(slog.String("component", "hub")),
	}
}

// Connect makes a new connection reachable.
func (h *Hub) Connect(sink Sink) {
	h.Registry.Connect(sink)
	h.logger.Debug("connection opened", slog.String("conn", sink.ID()), slog.Int("live", h.Registry.Len()))
}

// Disconnect tears a connection down: peers in its calls are told it left,
// its document rooms start idling, then its identity and remaining room
// memberships are dropped.
func (h *Hub) Disconnect(connID string) {
	h.Calls.Detach(connID)
	h.Documents.Detach(connID)
	left := h.Registry.Disconnect(connID)
	h.logger.Debug("connection closed", slog.String("conn", connID), slog.Int("rooms", len(left)), slog.Int("live", h.Registry.Len()))
}

// Close stops background work.
func (h *Hub) Close() {
	h.Commits.Close()
	h.Documents.Close()
}

// newEvent builds an outbound event envelope. roomID may be empty.
func newEvent(action, roomID string, payload interface{}) protocol.Envelope {
	meta := map[string]interface{}{"action": action}
	if roomID != "" {
		meta["room"] = roomID
	}
	return protocol.Envelope{
		ID:        uuid.NewString(),
		Type:      protocol.MessageTypeEvent,
		Timestamp: time.Now().UTC(),
		Metadata:  meta,
		Payload:   payload,
	}
}
