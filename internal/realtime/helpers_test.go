package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
	"github.com/fenggwsx/SlashCollab/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSink struct {
	id     string
	mu     sync.Mutex
	events []protocol.Envelope
}

func (s *fakeSink) ID() string { return s.id }

func (s *fakeSink) Deliver(env protocol.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, env)
	return true
}

func (s *fakeSink) byAction(action string) []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Envelope
	for _, env := range s.events {
		if env.Action() == action {
			out = append(out, env)
		}
	}
	return out
}

func (s *fakeSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// memStore is an in-memory storage.Store with switchable failures.
type memStore struct {
	mu            sync.Mutex
	users         map[string]*storage.User
	rooms         map[string]*storage.Room
	messages      []storage.Message
	notifications []storage.Notification
	files         map[string]string
	seq           int

	failMessages bool
	failWrites   bool
	// failPath refuses writes of one path only
	failPath string
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[string]*storage.User),
		rooms: make(map[string]*storage.Room),
		files: make(map[string]string),
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%03d", prefix, m.seq)
}

func (m *memStore) CreateUser(_ context.Context, user *storage.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == "" {
		user.ID = m.nextID("user")
	}
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) GetUserByUsername(_ context.Context, username string) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) CreateRoom(_ context.Context, room *storage.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room.ID == "" {
		room.ID = m.nextID("room")
	}
	copied := *room
	m.rooms[room.ID] = &copied
	return nil
}

func (m *memStore) GetRoom(_ context.Context, id string) (*storage.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[id]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) SaveMessage(_ context.Context, msg *storage.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMessages {
		return errors.New("disk full")
	}
	msg.ID = m.nextID("msg")
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *memStore) ListMessagesByRoom(_ context.Context, roomID string, limit int) ([]storage.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Message
	for _, msg := range m.messages {
		if msg.RoomID == roomID {
			if u, ok := m.users[msg.SenderID]; ok {
				copied := *u
				msg.Sender = &copied
			}
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) SaveNotification(_ context.Context, n *storage.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = m.nextID("note")
	n.CreatedAt = time.Now()
	m.notifications = append(m.notifications, *n)
	return nil
}

func (m *memStore) ListNotifications(_ context.Context, userID string, _ int) ([]storage.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Notification
	for _, n := range m.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memStore) ReadFile(_ context.Context, roomID, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[roomID+"/"+path]
	if !ok {
		return "", storage.ErrNotFound
	}
	return content, nil
}

func (m *memStore) WriteFile(_ context.Context, roomID, path, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites || path == m.failPath {
		return errors.New("read-only")
	}
	m.files[roomID+"/"+path] = content
	return nil
}

func (m *memStore) WriteFiles(_ context.Context, roomID string, files []storage.FileContent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range files {
		if m.failWrites || f.Path == m.failPath {
			return fmt.Errorf("write %s: disk full", f.Path)
		}
	}
	for _, f := range files {
		m.files[roomID+"/"+f.Path] = f.Content
	}
	return nil
}

func (m *memStore) Close() error                    { return nil }
func (m *memStore) Migrate(_ context.Context) error { return nil }

func (m *memStore) fileKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.files))
	for k := range m.files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type stubSummarizer struct {
	text string
	err  error
}

func (s stubSummarizer) Summarize(context.Context, string) (string, error) {
	return s.text, s.err
}

func newTestHub(t *testing.T, store *memStore, policy VersionPolicy) *Hub {
	t.Helper()
	hub := NewHub(Deps{
		Store:       store,
		Summarizer:  stubSummarizer{text: "Adds a greeting."},
		Policy:      policy,
		HistorySize: 50,
		Logger:      discardLogger(),
	})
	t.Cleanup(hub.Close)
	return hub
}

func connect(hub *Hub, id string) *fakeSink {
	sink := &fakeSink{id: id}
	hub.Connect(sink)
	return sink
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
