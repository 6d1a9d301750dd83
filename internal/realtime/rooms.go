package realtime

import (
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
)

// Namespace keeps room identifiers of different subsystems apart.
type Namespace string

const (
	NamespaceChat   Namespace = "chat"
	NamespaceWebRTC Namespace = "webrtc"
	NamespaceDoc    Namespace = "doc"
)

// Membership names one room a connection belongs to.
type Membership struct {
	Namespace Namespace
	Room      string
}

// Rooms groups connections into named broadcast groups per namespace.
type Rooms struct {
	mu       sync.RWMutex
	rooms    map[Namespace]map[string]map[string]struct{}
	registry *Registry
	logger   *slog.Logger
}

// NewRooms creates an empty multiplexer delivering through the registry and
// attaches it to the registry so disconnects clear memberships.
func NewRooms(registry *Registry, logger *slog.Logger) *Rooms {
	r := &Rooms{
		rooms:    make(map[Namespace]map[string]map[string]struct{}),
		registry: registry,
		logger:   logger.With(slog.String("component", "rooms")),
	}
	registry.mu.Lock()
	registry.rooms = r
	registry.mu.Unlock()
	return r
}

// Join adds the connection to the room, creating the room on first use.
func (r *Rooms) Join(ns Namespace, room, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byRoom, ok := r.rooms[ns]
	if !ok {
		byRoom = make(map[string]map[string]struct{})
		r.rooms[ns] = byRoom
	}
	members, ok := byRoom[room]
	if !ok {
		members = make(map[string]struct{})
		byRoom[room] = members
	}
	members[connID] = struct{}{}
}

// Leave removes the connection and returns how many members remain.
// Leaving a room one is not in is a no-op.
func (r *Rooms) Leave(ns Namespace, room, connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(ns, room, connID)
}

func (r *Rooms) leaveLocked(ns Namespace, room, connID string) int {
	members, ok := r.rooms[ns][room]
	if !ok {
		return 0
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms[ns], room)
		if len(r.rooms[ns]) == 0 {
			delete(r.rooms, ns)
		}
		return 0
	}
	return len(members)
}

// LeaveAll removes the connection from every room in every namespace and
// returns the memberships it held.
func (r *Rooms) LeaveAll(connID string) []Membership {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []Membership
	for ns, byRoom := range r.rooms {
		for room, members := range byRoom {
			if _, ok := members[connID]; ok {
				left = append(left, Membership{Namespace: ns, Room: room})
			}
		}
	}
	for _, m := range left {
		r.leaveLocked(m.Namespace, m.Room, connID)
	}
	return left
}

// Members returns the connection ids in the room, sorted.
func (r *Rooms) Members(ns Namespace, room string) []string {
	r.mu.RLock()
	members := maps.Clone(r.rooms[ns][room])
	r.mu.RUnlock()

	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of members in the room.
func (r *Rooms) Count(ns Namespace, room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[ns][room])
}

// Contains reports whether the connection is a member of the room.
func (r *Rooms) Contains(ns Namespace, room, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[ns][room][connID]
	return ok
}

// Memberships lists the rooms of one namespace the connection belongs to.
func (r *Rooms) Memberships(ns Namespace, connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var rooms []string
	for room, members := range r.rooms[ns] {
		if _, ok := members[connID]; ok {
			rooms = append(rooms, room)
		}
	}
	sort.Strings(rooms)
	return rooms
}

// Broadcast delivers env to every member except exclude (may be empty) and
// returns how many members accepted it. Members without a live sink are skipped.
func (r *Rooms) Broadcast(ns Namespace, room string, env protocol.Envelope, exclude string) int {
	delivered := 0
	for _, id := range r.Members(ns, room) {
		if id == exclude {
			continue
		}
		if r.Unicast(id, env) {
			delivered++
		}
	}
	return delivered
}

// Unicast delivers env to a single connection. An unknown or closed
// connection is a silent no-op.
func (r *Rooms) Unicast(connID string, env protocol.Envelope) bool {
	sink, ok := r.registry.Lookup(connID)
	if !ok {
		return false
	}
	if !sink.Deliver(env) {
		r.logger.Warn("event dropped", slog.String("conn", connID), slog.String("action", env.Action()))
		return false
	}
	return true
}
