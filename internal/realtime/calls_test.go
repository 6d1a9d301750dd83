package realtime

import (
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
)

func TestCallJoinAnnouncesAndListsPeers(t *testing.T) {
	hub := newTestHub(t, newMemStore(), PolicyAtLeastCurrent)
	a := connect(hub, "a")
	b := connect(hub, "b")

	peers := hub.Calls.Join("standup", "alice", "a")
	assert.Equal(t, 0, len(peers))

	peers = hub.Calls.Join("standup", "bob", "b")
	assert.Equal(t, []protocol.CallPeer{{UserID: "alice", ConnectionID: "a"}}, peers)

	joined := a.byAction(protocol.EventCallPeerJoined)
	assert.Equal(t, 1, len(joined))
	assert.Equal(t, protocol.CallPeer{UserID: "bob", ConnectionID: "b"}, joined[0].Payload.(protocol.CallPeer))
	assert.Equal(t, 0, len(b.byAction(protocol.EventCallPeerJoined)))

	listed := b.byAction(protocol.EventCallPeers)
	assert.Equal(t, 1, len(listed))
	assert.Equal(t, 1, len(listed[0].Payload.(protocol.CallPeers).Peers))
}

func TestCallRejoinOnlyRelistsPeers(t *testing.T) {
	hub := newTestHub(t, newMemStore(), PolicyAtLeastCurrent)
	a := connect(hub, "a")
	b := connect(hub, "b")
	hub.Calls.Join("standup", "alice", "a")
	hub.Calls.Join("standup", "bob", "b")

	peers := hub.Calls.Join("standup", "bob", "b")
	assert.Equal(t, []protocol.CallPeer{{UserID: "alice", ConnectionID: "a"}}, peers)
	assert.Equal(t, 1, len(a.byAction(protocol.EventCallPeerJoined)))
	assert.Equal(t, 2, len(b.byAction(protocol.EventCallPeers)))
}

func TestCallLeaveAnnouncesToRemaining(t *testing.T) {
	hub := newTestHub(t, newMemStore(), PolicyAtLeastCurrent)
	a := connect(hub, "a")
	b := connect(hub, "b")
	hub.Calls.Join("standup", "alice", "a")
	hub.Calls.Join("standup", "bob", "b")

	hub.Calls.Leave("standup", "", "b")
	left := a.byAction(protocol.EventCallPeerLeft)
	assert.Equal(t, 1, len(left))
	assert.Equal(t, protocol.CallPeer{UserID: "bob", ConnectionID: "b"}, left[0].Payload.(protocol.CallPeer))
	assert.Equal(t, false, hub.Rooms.Contains(NamespaceWebRTC, "standup", "b"))

	// a second leave announces nothing
	hub.Calls.Leave("standup", "bob", "b")
	assert.Equal(t, 1, len(a.byAction(protocol.EventCallPeerLeft)))
	assert.Equal(t, 0, len(b.byAction(protocol.EventCallPeerLeft)))
}

func TestRelaySignalUnicast(t *testing.T) {
	hub := newTestHub(t, newMemStore(), PolicyAtLeastCurrent)
	a := connect(hub, "a")
	b := connect(hub, "b")
	c := connect(hub, "c")

	offer := map[string]interface{}{"type": "offer", "sdp": "v=0"}
	assert.Equal(t, true, hub.Calls.Relay("a", "alice", "b", offer))

	got := b.byAction(protocol.EventSignalReceived)
	assert.Equal(t, 1, len(got))
	signal := got[0].Payload.(protocol.SignalReceived)
	assert.Equal(t, "a", signal.FromConnectionID)
	assert.Equal(t, "alice", signal.FromUserID)
	assert.Equal(t, offer, signal.Payload)

	assert.Equal(t, 0, len(a.byAction(protocol.EventSignalReceived)))
	assert.Equal(t, 0, len(c.byAction(protocol.EventSignalReceived)))

	assert.Equal(t, false, hub.Calls.Relay("a", "alice", "gone", offer))
}
