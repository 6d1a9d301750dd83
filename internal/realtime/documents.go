package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
	"github.com/fenggwsx/SlashCollab/internal/storage"
)

// ErrUnknownDocument is returned when no session exists for a document key.
var ErrUnknownDocument = errors.New("unknown document")

// VersionPolicy decides whether a proposed version may replace the current one.
type VersionPolicy int

const (
	// PolicyAtLeastCurrent accepts proposals whose version is equal to or
	// greater than the current version, so a client that ran ahead is
	// still accepted.
	PolicyAtLeastCurrent VersionPolicy = iota
	// PolicyExact accepts only proposals made against the current version.
	PolicyExact
)

// ParseVersionPolicy maps a configuration value onto a policy.
func ParseVersionPolicy(s string) (VersionPolicy, error) {
	switch s {
	case "", "at-least-current":
		return PolicyAtLeastCurrent, nil
	case "exact":
		return PolicyExact, nil
	default:
		return 0, fmt.Errorf("unknown version policy %q", s)
	}
}

// Admits reports whether proposed may replace current.
func (p VersionPolicy) Admits(proposed, current uint64) bool {
	if p == PolicyExact {
		return proposed == current
	}
	return proposed >= current
}

func (p VersionPolicy) String() string {
	if p == PolicyExact {
		return "exact"
	}
	return "at-least-current"
}

// DocumentKey identifies one file inside one room.
type DocumentKey struct {
	RoomID string
	Path   string
}

// room is the name of the key's broadcast group in the doc namespace.
func (k DocumentKey) room() string {
	return k.RoomID + "\x1f" + k.Path
}

// Snapshot is the state of a document session at one version.
type Snapshot struct {
	Key     DocumentKey
	Content string
	Version uint64
}

func (s Snapshot) state() protocol.DocumentState {
	return protocol.DocumentState{Path: s.Key.Path, Content: s.Content, Version: s.Version}
}

type documentSession struct {
	content   string
	version   uint64
	updatedAt time.Time
}

// DocumentsOptions configures a Documents store.
type DocumentsOptions struct {
	Policy VersionPolicy
	// IdleTTL is how long a session with no members is kept. Zero keeps
	// sessions for the lifetime of the process.
	IdleTTL time.Duration
	Files   storage.FileStore
}

// Documents holds the in-memory synchronization buffer for every open
// document and arbitrates updates by version. All accepted updates for
// all keys are serialized by one lock, and patches are broadcast while
// it is held so members observe versions in increasing order.
type Documents struct {
	mu       sync.Mutex
	sessions map[DocumentKey]*documentSession
	rooms    *Rooms
	policy   VersionPolicy
	files    storage.FileStore
	idle     *ttlcache.Cache[DocumentKey, struct{}]
	stopOnce sync.Once
	logger   *slog.Logger
}

// NewDocuments creates an empty store. Call Close to stop idle eviction.
func NewDocuments(rooms *Rooms, opts DocumentsOptions, logger *slog.Logger) *Documents {
	d := &Documents{
		sessions: make(map[DocumentKey]*documentSession),
		rooms:    rooms,
		policy:   opts.Policy,
		files:    opts.Files,
		logger:   logger.With(slog.String("component", "documents")),
	}
	if opts.IdleTTL > 0 {
		d.idle = ttlcache.New[DocumentKey, struct{}](
			ttlcache.WithTTL[DocumentKey, struct{}](opts.IdleTTL),
			ttlcache.WithDisableTouchOnHit[DocumentKey, struct{}](),
		)
		d.idle.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[DocumentKey, struct{}]) {
			if reason != ttlcache.EvictionReasonExpired {
				return
			}
			go d.reap(item.Key())
		})
		go d.idle.Start()
	}
	return d
}

// Policy returns the version policy in force.
func (d *Documents) Policy() VersionPolicy {
	return d.policy
}

// Join adds the connection to the document room, creating an empty session
// at version 0 if none exists, and sends the current snapshot to the joiner.
func (d *Documents) Join(roomID, path, connID string) Snapshot {
	key := DocumentKey{RoomID: roomID, Path: path}

	d.mu.Lock()
	defer d.mu.Unlock()

	session := d.sessionLocked(key)
	d.rooms.Join(NamespaceDoc, key.room(), connID)
	if d.idle != nil {
		d.idle.Delete(key)
	}

	snap := Snapshot{Key: key, Content: session.content, Version: session.version}
	d.rooms.Unicast(connID, newEvent(protocol.EventDocumentSnapshot, roomID, snap.state()))
	d.logger.Debug("document joined", slog.String("room", roomID), slog.String("path", path), slog.String("conn", connID), slog.Uint64("version", snap.Version))
	return snap
}

// Update proposes new content for a document. The update is accepted when
// the version policy admits the proposed version against the current one;
// the version then advances by one and every other member of the document
// room receives a patch. Rejected proposals are dropped silently.
func (d *Documents) Update(roomID, path, content string, proposed uint64, senderConnID string) (Snapshot, bool) {
	key := DocumentKey{RoomID: roomID, Path: path}

	d.mu.Lock()
	defer d.mu.Unlock()

	session := d.sessionLocked(key)
	if d.rooms.Count(NamespaceDoc, key.room()) == 0 {
		d.markIdleLocked(key)
	}
	if !d.policy.Admits(proposed, session.version) {
		d.logger.Debug("stale update dropped",
			slog.String("room", roomID),
			slog.String("path", path),
			slog.String("conn", senderConnID),
			slog.Uint64("proposed", proposed),
			slog.Uint64("current", session.version),
		)
		return Snapshot{Key: key, Content: session.content, Version: session.version}, false
	}

	session.content = content
	session.version++
	session.updatedAt = time.Now()

	snap := Snapshot{Key: key, Content: session.content, Version: session.version}
	d.rooms.Broadcast(NamespaceDoc, key.room(), newEvent(protocol.EventDocumentPatch, roomID, snap.state()), senderConnID)
	return snap, true
}

// Leave removes the connection from the document room. The session is kept.
func (d *Documents) Leave(roomID, path, connID string) {
	key := DocumentKey{RoomID: roomID, Path: path}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rooms.Leave(NamespaceDoc, key.room(), connID) == 0 {
		d.markIdleLocked(key)
	}
}

// Detach drops every document membership of a connection. Rooms left
// empty start their idle countdown.
func (d *Documents) Detach(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	joined := d.rooms.Memberships(NamespaceDoc, connID)
	if len(joined) == 0 {
		return
	}
	for key := range d.sessions {
		for _, room := range joined {
			if key.room() != room {
				continue
			}
			if d.rooms.Leave(NamespaceDoc, room, connID) == 0 {
				d.markIdleLocked(key)
			}
		}
	}
}

// Snapshot returns the current state of a session without joining it.
func (d *Documents) Snapshot(roomID, path string) (Snapshot, bool) {
	key := DocumentKey{RoomID: roomID, Path: path}

	d.mu.Lock()
	defer d.mu.Unlock()

	session, ok := d.sessions[key]
	if !ok {
		return Snapshot{Key: key}, false
	}
	return Snapshot{Key: key, Content: session.content, Version: session.version}, true
}

// Len returns the number of live sessions.
func (d *Documents) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// Save writes the session's current content to the file store.
func (d *Documents) Save(ctx context.Context, roomID, path string) (Snapshot, error) {
	if d.files == nil {
		return Snapshot{}, errors.New("no file store configured")
	}
	snap, ok := d.Snapshot(roomID, path)
	if !ok {
		return snap, ErrUnknownDocument
	}
	if err := d.files.WriteFile(ctx, roomID, path, snap.Content); err != nil {
		return snap, fmt.Errorf("save %s: %w", path, err)
	}
	d.logger.Info("document saved", slog.String("room", roomID), slog.String("path", path), slog.Uint64("version", snap.Version), slog.Int("len", len(snap.Content)))
	return snap, nil
}

// Close stops idle eviction.
func (d *Documents) Close() {
	if d.idle == nil {
		return
	}
	d.stopOnce.Do(d.idle.Stop)
}

func (d *Documents) sessionLocked(key DocumentKey) *documentSession {
	session, ok := d.sessions[key]
	if !ok {
		session = &documentSession{updatedAt: time.Now()}
		d.sessions[key] = session
	}
	return session
}

func (d *Documents) markIdleLocked(key DocumentKey) {
	if d.idle == nil {
		return
	}
	if _, ok := d.sessions[key]; !ok {
		return
	}
	d.idle.Set(key, struct{}{}, ttlcache.DefaultTTL)
}

func (d *Documents) reap(key DocumentKey) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rooms.Count(NamespaceDoc, key.room()) > 0 {
		return
	}
	// re-marked after expiry: a newer countdown owns the session
	if d.idle != nil && d.idle.Has(key) {
		return
	}
	if session, ok := d.sessions[key]; ok {
		delete(d.sessions, key)
		d.logger.Debug("idle document evicted", slog.String("room", key.RoomID), slog.String("path", key.Path), slog.Uint64("version", session.version))
	}
}
