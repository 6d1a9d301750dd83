package realtime

import (
	"log/slog"
	"sync"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
)

// Sink is the live end of a client connection.
type Sink interface {
	ID() string
	// Deliver enqueues env without blocking and reports whether it was accepted.
	Deliver(env protocol.Envelope) bool
}

// Registry tracks live connections and the user identity bound to each.
// A user maps to at most one connection; the latest registration wins.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Sink
	users  map[string]string
	rooms  *Rooms
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]Sink),
		users:  make(map[string]string),
		logger: logger.With(slog.String("component", "registry")),
	}
}

// Connect makes a connection reachable by id.
func (r *Registry) Connect(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[sink.ID()] = sink
}

// Register binds userID to connID, overwriting any earlier binding. It
// returns the connection that previously held the binding, if different.
func (r *Registry) Register(connID, userID string) (evicted string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.users[userID]; ok && prev != connID {
		evicted = prev
		r.logger.Info("identity rebound", slog.String("user", userID), slog.String("from", prev), slog.String("to", connID))
	}
	r.users[userID] = connID
	return evicted
}

// Resolve returns the connection currently bound to userID.
func (r *Registry) Resolve(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.users[userID]
	return connID, ok
}

// UserOf returns the user identity bound to connID, if any.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for user, id := range r.users {
		if id == connID {
			return user, true
		}
	}
	return "", false
}

// Lookup returns the live sink for connID.
func (r *Registry) Lookup(connID string) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sink, ok := r.conns[connID]
	return sink, ok
}

// Disconnect forgets the connection, drops every identity bound to it and
// removes it from all rooms. The dropped memberships are returned.
func (r *Registry) Disconnect(connID string) []Membership {
	r.mu.Lock()
	delete(r.conns, connID)
	for user, id := range r.users {
		if id == connID {
			delete(r.users, user)
			r.logger.Debug("identity released", slog.String("user", user), slog.String("conn", connID))
		}
	}
	rooms := r.rooms
	r.mu.Unlock()

	if rooms == nil {
		return nil
	}
	return rooms.LeaveAll(connID)
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
