package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
	"github.com/fenggwsx/SlashCollab/internal/storage"
)

// ErrEmptyMessage is returned when a chat message has no text.
var ErrEmptyMessage = errors.New("message text required")

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// ChatStores groups the persistence the chat relay depends on.
type ChatStores struct {
	Messages storage.MessageStore
	Users    storage.UserStore
	Rooms    storage.RoomStore
}

// Chat relays room messages and typing indicators.
type Chat struct {
	stores      ChatStores
	rooms       *Rooms
	notifier    *Notifier
	historySize int
	logger      *slog.Logger
}

// NewChat creates a chat relay.
func NewChat(stores ChatStores, rooms *Rooms, notifier *Notifier, historySize int, logger *slog.Logger) *Chat {
	return &Chat{
		stores:      stores,
		rooms:       rooms,
		notifier:    notifier,
		historySize: historySize,
		logger:      logger.With(slog.String("component", "chat")),
	}
}

// Join adds the connection to the chat room and sends it the recent history.
func (c *Chat) Join(ctx context.Context, roomID, connID string) error {
	c.rooms.Join(NamespaceChat, roomID, connID)
	c.rooms.Unicast(connID, newEvent(protocol.EventChatJoined, roomID, protocol.RoomRequest{RoomID: roomID}))

	if c.historySize <= 0 {
		return nil
	}
	stored, err := c.stores.Messages.ListMessagesByRoom(ctx, roomID, c.historySize)
	if err != nil {
		c.logger.Error("load history failed", slog.String("room", roomID), slog.Any("err", err))
		return fmt.Errorf("load history: %w", err)
	}
	history := protocol.ChatHistory{RoomID: roomID, Messages: make([]protocol.ChatMessage, 0, len(stored))}
	for i := range stored {
		msg := &stored[i]
		name := msg.Sender.Name()
		if name == "" {
			name = msg.SenderID
		}
		history.Messages = append(history.Messages, chatMessage(msg, name))
	}
	c.rooms.Unicast(connID, newEvent(protocol.EventChatHistory, roomID, history))
	return nil
}

// Leave removes the connection from the chat room.
func (c *Chat) Leave(roomID, connID string) {
	c.rooms.Leave(NamespaceChat, roomID, connID)
}

// Post stores a message and broadcasts it to every member of the room, the
// sender included. Users mentioned with @username are notified. A failed
// store aborts the post before anything is broadcast.
func (c *Chat) Post(ctx context.Context, roomID, senderID, text string) (protocol.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return protocol.ChatMessage{}, ErrEmptyMessage
	}

	msg := &storage.Message{
		RoomID:    roomID,
		SenderID:  senderID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.stores.Messages.SaveMessage(ctx, msg); err != nil {
		c.logger.Error("chat message store failed", slog.String("room", roomID), slog.String("user", senderID), slog.Any("err", err))
		return protocol.ChatMessage{}, fmt.Errorf("save message: %w", err)
	}

	senderName := senderID
	if sender, err := c.stores.Users.GetUserByID(ctx, senderID); err == nil {
		senderName = sender.Name()
	}

	out := chatMessage(msg, senderName)
	delivered := c.rooms.Broadcast(NamespaceChat, roomID, newEvent(protocol.EventChatMessage, roomID, out), "")
	c.logger.Info("chat message stored", slog.String("id", msg.ID), slog.String("room", roomID), slog.String("user", senderID), slog.Int("delivered", delivered))

	c.notifyMentions(ctx, roomID, senderID, senderName, text)
	return out, nil
}

// Typing tells the other members that userID is typing.
func (c *Chat) Typing(roomID, userID, connID string) {
	c.rooms.Broadcast(NamespaceChat, roomID, newEvent(protocol.EventTyping, roomID, protocol.TypingPayload{RoomID: roomID, UserID: userID}), connID)
}

// StopTyping tells the other members that userID stopped typing.
func (c *Chat) StopTyping(roomID, userID, connID string) {
	c.rooms.Broadcast(NamespaceChat, roomID, newEvent(protocol.EventStopTyping, roomID, protocol.TypingPayload{RoomID: roomID, UserID: userID}), connID)
}

func (c *Chat) notifyMentions(ctx context.Context, roomID, senderID, senderName, text string) {
	usernames := Mentions(text)
	if len(usernames) == 0 {
		return
	}

	roomName := roomID
	if room, err := c.stores.Rooms.GetRoom(ctx, roomID); err == nil && room.Name != "" {
		roomName = room.Name
	}

	for _, username := range usernames {
		user, err := c.stores.Users.GetUserByUsername(ctx, username)
		if err != nil {
			continue
		}
		if user.ID == senderID {
			continue
		}
		message := fmt.Sprintf("%s mentioned you in %q.", senderName, roomName)
		if err := c.notifier.Notify(ctx, user.ID, message); err != nil {
			c.logger.Warn("mention notification failed", slog.String("room", roomID), slog.String("user", user.ID), slog.Any("err", err))
		}
	}
}

// Mentions returns the distinct usernames referenced with @ in text, in
// order of first appearance.
func Mentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

func chatMessage(msg *storage.Message, senderName string) protocol.ChatMessage {
	return protocol.ChatMessage{
		ID:         msg.ID,
		RoomID:     msg.RoomID,
		SenderID:   msg.SenderID,
		SenderName: senderName,
		Text:       msg.Text,
		CreatedAt:  msg.CreatedAt.Unix(),
	}
}
