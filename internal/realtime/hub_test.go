package realtime

import (
	"context"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
)

func TestRegisterLatestWins(t *testing.T) {
	hub := newTestHub(t, newMemStore(), PolicyAtLeastCurrent)
	connect(hub, "first")
	connect(hub, "second")

	assert.Equal(t, "", hub.Registry.Register("first", "alice"))
	assert.Equal(t, "first", hub.Registry.Register("second", "alice"))

	conn, ok := hub.Registry.Resolve("alice")
	assert.Equal(t, true, ok)
	assert.Equal(t, "second", conn)

	user, ok := hub.Registry.UserOf("second")
	assert.Equal(t, true, ok)
	assert.Equal(t, "alice", user)
	_, ok = hub.Registry.UserOf("first")
	assert.Equal(t, false, ok)
}

func TestNamespacesDoNotCollide(t *testing.T) {
	hub := newTestHub(t, newMemStore(), PolicyAtLeastCurrent)
	chat := connect(hub, "chatter")
	caller := connect(hub, "caller")
	hub.Rooms.Join(NamespaceChat, "same", "chatter")
	hub.Rooms.Join(NamespaceWebRTC, "same", "caller")

	n := hub.Rooms.Broadcast(NamespaceChat, "same", newEvent("ping", "same", nil), "")
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, len(chat.byAction("ping")))
	assert.Equal(t, 0, len(caller.byAction("ping")))
}

func TestBroadcastSkipsMembersWithoutSink(t *testing.T) {
	hub := newTestHub(t, newMemStore(), PolicyAtLeastCurrent)
	live := connect(hub, "live")
	hub.Rooms.Join(NamespaceChat, "lobby", "live")
	hub.Rooms.Join(NamespaceChat, "lobby", "phantom")

	n := hub.Rooms.Broadcast(NamespaceChat, "lobby", newEvent("ping", "lobby", nil), "")
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, len(live.byAction("ping")))
	assert.Equal(t, false, hub.Rooms.Unicast("phantom", newEvent("ping", "", nil)))
}

func TestDisconnectCleansUpEverything(t *testing.T) {
	hub := newTestHub(t, newMemStore(), PolicyAtLeastCurrent)
	ctx := context.Background()
	gone := connect(hub, "gone")
	peer := connect(hub, "peer")
	hub.Registry.Register("gone", "alice")

	_ = hub.Chat.Join(ctx, "lobby", "gone")
	_ = hub.Chat.Join(ctx, "lobby", "peer")
	hub.Calls.Join("standup", "bob", "peer")
	hub.Calls.Join("standup", "alice", "gone")
	hub.Documents.Join("r1", "main.go", "gone")
	hub.Documents.Join("r1", "main.go", "peer")

	hub.Disconnect("gone")

	_, ok := hub.Registry.Resolve("alice")
	assert.Equal(t, false, ok)
	_, ok = hub.Registry.Lookup("gone")
	assert.Equal(t, false, ok)
	assert.Equal(t, false, hub.Rooms.Contains(NamespaceChat, "lobby", "gone"))
	assert.Equal(t, false, hub.Rooms.Contains(NamespaceWebRTC, "standup", "gone"))
	assert.Equal(t, 0, len(hub.Rooms.Memberships(NamespaceDoc, "gone")))
	assert.Equal(t, []string{"peer"}, hub.Rooms.Members(NamespaceChat, "lobby"))

	left := peer.byAction(protocol.EventCallPeerLeft)
	assert.Equal(t, 1, len(left))
	assert.Equal(t, protocol.CallPeer{UserID: "alice", ConnectionID: "gone"}, left[0].Payload.(protocol.CallPeer))

	// later traffic never reaches the departed connection
	before := len(gone.byAction(protocol.EventDocumentPatch))
	hub.Documents.Update("r1", "main.go", "after", 0, "peer")
	assert.Equal(t, before, len(gone.byAction(protocol.EventDocumentPatch)))
}

func TestDisconnectKeepsNewerBinding(t *testing.T) {
	hub := newTestHub(t, newMemStore(), PolicyAtLeastCurrent)
	connect(hub, "old")
	connect(hub, "new")
	hub.Registry.Register("old", "alice")
	hub.Registry.Register("new", "alice")

	hub.Disconnect("old")
	conn, ok := hub.Registry.Resolve("alice")
	assert.Equal(t, true, ok)
	assert.Equal(t, "new", conn)
}
