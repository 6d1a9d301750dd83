package realtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
	"github.com/fenggwsx/SlashCollab/internal/storage"
)

// Notifier persists per-user notices and pushes them to the user's live
// connection when there is one.
type Notifier struct {
	store    storage.NotificationStore
	registry *Registry
	rooms    *Rooms
	logger   *slog.Logger
}

// NewNotifier creates a dispatcher.
func NewNotifier(store storage.NotificationStore, registry *Registry, rooms *Rooms, logger *slog.Logger) *Notifier {
	return &Notifier{
		store:    store,
		registry: registry,
		rooms:    rooms,
		logger:   logger.With(slog.String("component", "notifier")),
	}
}

// Notify stores the notice and delivers it at most once over the live
// channel. Nothing is delivered when persistence fails.
func (n *Notifier) Notify(ctx context.Context, userID, message string) error {
	record := &storage.Notification{UserID: userID, Message: message}
	if err := n.store.SaveNotification(ctx, record); err != nil {
		n.logger.Error("notification store failed", slog.String("user", userID), slog.Any("err", err))
		return fmt.Errorf("save notification: %w", err)
	}

	connID, ok := n.registry.Resolve(userID)
	if !ok {
		n.logger.Debug("notification stored for offline user", slog.String("user", userID), slog.String("id", record.ID))
		return nil
	}
	n.rooms.Unicast(connID, newEvent(protocol.EventNotification, "", protocol.Notification{Message: message}))
	return nil
}
