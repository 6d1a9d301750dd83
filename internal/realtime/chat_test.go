package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
	"github.com/fenggwsx/SlashCollab/internal/storage"
)

func seedUsers(t *testing.T, store *memStore, names ...string) map[string]*storage.User {
	t.Helper()
	users := make(map[string]*storage.User, len(names))
	for _, name := range names {
		u := &storage.User{ID: "id-" + name, Username: name, DisplayName: name + " (display)"}
		if err := store.CreateUser(context.Background(), u); err != nil {
			t.Fatalf("create user: %v", err)
		}
		users[name] = u
	}
	return users
}

func TestMentions(t *testing.T) {
	assert.Equal(t, []string{"bob", "carol"}, Mentions("hi @bob and @carol, @bob again"))
	assert.Equal(t, 0, len(Mentions("mail me at nobody @ example")))
	assert.Equal(t, []string{"dave_2"}, Mentions("@dave_2!"))
}

func TestPostBroadcastsToEveryMemberIncludingSender(t *testing.T) {
	store := newMemStore()
	seedUsers(t, store, "alice")
	hub := newTestHub(t, store, PolicyAtLeastCurrent)
	a := connect(hub, "a")
	b := connect(hub, "b")
	outsider := connect(hub, "c")
	ctx := context.Background()

	assert.Equal(t, nil, hub.Chat.Join(ctx, "lobby", "a"))
	assert.Equal(t, nil, hub.Chat.Join(ctx, "lobby", "b"))

	msg, err := hub.Chat.Post(ctx, "lobby", "id-alice", "  hello team  ")
	assert.Equal(t, nil, err)
	assert.Equal(t, "hello team", msg.Text)
	assert.Equal(t, "alice (display)", msg.SenderName)

	for _, s := range []*fakeSink{a, b} {
		got := s.byAction(protocol.EventChatMessage)
		assert.Equal(t, 1, len(got))
		assert.Equal(t, msg.ID, got[0].Payload.(protocol.ChatMessage).ID)
	}
	assert.Equal(t, 0, len(outsider.byAction(protocol.EventChatMessage)))
}

func TestPostRejectsEmptyText(t *testing.T) {
	hub := newTestHub(t, newMemStore(), PolicyAtLeastCurrent)
	_, err := hub.Chat.Post(context.Background(), "lobby", "u", "   ")
	assert.Equal(t, true, errors.Is(err, ErrEmptyMessage))
}

func TestPostStoreFailureBroadcastsNothing(t *testing.T) {
	store := newMemStore()
	store.failMessages = true
	hub := newTestHub(t, store, PolicyAtLeastCurrent)
	a := connect(hub, "a")
	ctx := context.Background()
	_ = hub.Chat.Join(ctx, "lobby", "a")

	_, err := hub.Chat.Post(ctx, "lobby", "u", "lost")
	assert.NotEqual(t, nil, err)
	assert.Equal(t, 0, len(a.byAction(protocol.EventChatMessage)))
}

func TestPostUnknownSenderFallsBackToID(t *testing.T) {
	hub := newTestHub(t, newMemStore(), PolicyAtLeastCurrent)
	msg, err := hub.Chat.Post(context.Background(), "lobby", "ghost", "boo")
	assert.Equal(t, nil, err)
	assert.Equal(t, "ghost", msg.SenderName)
}

func TestJoinSendsHistory(t *testing.T) {
	store := newMemStore()
	seedUsers(t, store, "alice")
	hub := newTestHub(t, store, PolicyAtLeastCurrent)
	ctx := context.Background()
	for _, text := range []string{"one", "two"} {
		_, _ = hub.Chat.Post(ctx, "lobby", "id-alice", text)
	}

	late := connect(hub, "late")
	assert.Equal(t, nil, hub.Chat.Join(ctx, "lobby", "late"))

	assert.Equal(t, 1, len(late.byAction(protocol.EventChatJoined)))
	history := late.byAction(protocol.EventChatHistory)
	assert.Equal(t, 1, len(history))
	payload := history[0].Payload.(protocol.ChatHistory)
	assert.Equal(t, 2, len(payload.Messages))
	assert.Equal(t, "one", payload.Messages[0].Text)
	assert.Equal(t, "alice (display)", payload.Messages[0].SenderName)
}

func TestMentionNotifiesResolvedUsersOnly(t *testing.T) {
	store := newMemStore()
	seedUsers(t, store, "alice", "bob", "carol")
	_ = store.CreateRoom(context.Background(), &storage.Room{ID: "r1", Name: "Backend", OwnerID: "id-alice"})
	hub := newTestHub(t, store, PolicyAtLeastCurrent)
	ctx := context.Background()

	bob := connect(hub, "bob-conn")
	hub.Registry.Register("bob-conn", "id-bob")
	alice := connect(hub, "alice-conn")
	hub.Registry.Register("alice-conn", "id-alice")

	_, err := hub.Chat.Post(ctx, "r1", "id-alice", "@bob @bob @carol @alice @nobody look")
	assert.Equal(t, nil, err)

	got := bob.byAction(protocol.EventNotification)
	assert.Equal(t, 1, len(got))
	assert.Equal(t, `alice (display) mentioned you in "Backend".`, got[0].Payload.(protocol.Notification).Message)

	assert.Equal(t, 0, len(alice.byAction(protocol.EventNotification)))

	// carol is offline: stored, not delivered
	stored, _ := store.ListNotifications(ctx, "id-carol", 0)
	assert.Equal(t, 1, len(stored))
	self, _ := store.ListNotifications(ctx, "id-alice", 0)
	assert.Equal(t, 0, len(self))
}

func TestTypingExcludesSender(t *testing.T) {
	hub := newTestHub(t, newMemStore(), PolicyAtLeastCurrent)
	a := connect(hub, "a")
	b := connect(hub, "b")
	ctx := context.Background()
	_ = hub.Chat.Join(ctx, "lobby", "a")
	_ = hub.Chat.Join(ctx, "lobby", "b")

	hub.Chat.Typing("lobby", "alice", "a")
	hub.Chat.StopTyping("lobby", "alice", "a")

	assert.Equal(t, 0, len(a.byAction(protocol.EventTyping)))
	got := b.byAction(protocol.EventTyping)
	assert.Equal(t, 1, len(got))
	assert.Equal(t, protocol.TypingPayload{RoomID: "lobby", UserID: "alice"}, got[0].Payload.(protocol.TypingPayload))
	assert.Equal(t, 1, len(b.byAction(protocol.EventStopTyping)))
}
