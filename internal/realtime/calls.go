package realtime

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
)

// Calls relays WebRTC signaling between participants of a call. Media never
// passes through the server.
type Calls struct {
	mu           sync.Mutex
	participants map[string]map[string]string // room -> conn -> user
	rooms        *Rooms
	logger       *slog.Logger
}

// NewCalls creates a signaling relay.
func NewCalls(rooms *Rooms, logger *slog.Logger) *Calls {
	return &Calls{
		participants: make(map[string]map[string]string),
		rooms:        rooms,
		logger:       logger.With(slog.String("component", "calls")),
	}
}

// Join adds the connection to the call, announces it to the participants
// already present and returns them to the joiner as call-peers.
func (c *Calls) Join(roomID, userID, connID string) []protocol.CallPeer {
	c.mu.Lock()
	defer c.mu.Unlock()

	byConn, ok := c.participants[roomID]
	if !ok {
		byConn = make(map[string]string)
		c.participants[roomID] = byConn
	}

	peers := make([]protocol.CallPeer, 0, len(byConn))
	for conn, user := range byConn {
		if conn == connID {
			continue
		}
		peers = append(peers, protocol.CallPeer{UserID: user, ConnectionID: conn})
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ConnectionID < peers[j].ConnectionID })

	if _, rejoined := byConn[connID]; rejoined {
		c.rooms.Unicast(connID, newEvent(protocol.EventCallPeers, roomID, protocol.CallPeers{RoomID: roomID, Peers: peers}))
		c.logger.Debug("call rejoined", slog.String("room", roomID), slog.String("conn", connID))
		return peers
	}

	byConn[connID] = userID
	c.rooms.Join(NamespaceWebRTC, roomID, connID)

	self := protocol.CallPeer{UserID: userID, ConnectionID: connID}
	c.rooms.Broadcast(NamespaceWebRTC, roomID, newEvent(protocol.EventCallPeerJoined, roomID, self), connID)
	c.rooms.Unicast(connID, newEvent(protocol.EventCallPeers, roomID, protocol.CallPeers{RoomID: roomID, Peers: peers}))

	c.logger.Info("call joined", slog.String("room", roomID), slog.String("user", userID), slog.String("conn", connID), slog.Int("peers", len(peers)))
	return peers
}

// Relay forwards an opaque signaling payload to one connection. A dead
// target drops the signal.
func (c *Calls) Relay(fromConnID, fromUserID, targetConnID string, payload interface{}) bool {
	ok := c.rooms.Unicast(targetConnID, newEvent(protocol.EventSignalReceived, "", protocol.SignalReceived{
		Payload:          payload,
		FromConnectionID: fromConnID,
		FromUserID:       fromUserID,
	}))
	if !ok {
		c.logger.Debug("signal dropped", slog.String("from", fromConnID), slog.String("to", targetConnID))
	}
	return ok
}

// Leave removes the connection from the call and tells the others.
func (c *Calls) Leave(roomID, userID, connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if recorded, ok := c.participants[roomID][connID]; ok && userID == "" {
		userID = recorded
	}
	c.leaveLocked(roomID, userID, connID)
}

// Detach removes the connection from every call it is in, announcing the
// departure in each.
func (c *Calls) Detach(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, roomID := range c.rooms.Memberships(NamespaceWebRTC, connID) {
		c.leaveLocked(roomID, c.participants[roomID][connID], connID)
	}
}

func (c *Calls) leaveLocked(roomID, userID, connID string) {
	if byConn, ok := c.participants[roomID]; ok {
		delete(byConn, connID)
		if len(byConn) == 0 {
			delete(c.participants, roomID)
		}
	}
	if !c.rooms.Contains(NamespaceWebRTC, roomID, connID) {
		return
	}
	c.rooms.Leave(NamespaceWebRTC, roomID, connID)
	c.rooms.Broadcast(NamespaceWebRTC, roomID, newEvent(protocol.EventCallPeerLeft, roomID, protocol.CallPeer{UserID: userID, ConnectionID: connID}), connID)
	c.logger.Info("call left", slog.String("room", roomID), slog.String("user", userID), slog.String("conn", connID))
}
