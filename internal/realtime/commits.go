package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
	"github.com/fenggwsx/SlashCollab/internal/storage"
)

var (
	// ErrUnknownCommit is returned for a commit id that is not pending.
	ErrUnknownCommit = errors.New("unknown commit")
	// ErrNotOwner is returned when someone other than the room owner decides a commit.
	ErrNotOwner = errors.New("only the room owner can approve or reject commits")
	// ErrEmptyCommit is returned for a commit without files.
	ErrEmptyCommit = errors.New("commit has no files")
)

// SummaryUnavailable replaces the summary when the summarizer fails.
const SummaryUnavailable = "Summary unavailable."

// Diff run kinds.
const (
	RunAdded     = "added"
	RunRemoved   = "removed"
	RunUnchanged = "unchanged"
)

// Commit statuses reported in commit-resolved.
const (
	CommitApproved = "approved"
	CommitRejected = "rejected"
)

// Summarizer turns a unified diff into a short description.
type Summarizer interface {
	Summarize(ctx context.Context, diff string) (string, error)
}

// Commit is a pending request to write a batch of files into a room.
type Commit struct {
	ID        string
	RoomID    string
	AuthorID  string
	Files     []protocol.FileChange
	Diffs     []protocol.FileDiff
	Summary   string
	CreatedAt time.Time

	unified string
}

// View returns the wire form of the commit.
func (c *Commit) View(status string) protocol.CommitView {
	return protocol.CommitView{
		ID:       c.ID,
		RoomID:   c.RoomID,
		AuthorID: c.AuthorID,
		Diffs:    c.Diffs,
		Summary:  c.Summary,
		Status:   status,
	}
}

// CommitsOptions wires a Commits service to its collaborators.
type CommitsOptions struct {
	Files      storage.FileStore
	Rooms      storage.RoomStore
	Summarizer Summarizer
}

// Commits keeps pending commit requests in memory until the room owner
// approves or rejects them.
type Commits struct {
	mu         sync.Mutex
	pending    map[string]*Commit
	rooms      *Rooms
	files      storage.FileStore
	roomStore  storage.RoomStore
	summarizer Summarizer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewCommits creates the service. Close cancels outstanding summaries.
func NewCommits(rooms *Rooms, opts CommitsOptions, logger *slog.Logger) *Commits {
	ctx, cancel := context.WithCancel(context.Background())
	return &Commits{
		pending:    make(map[string]*Commit),
		rooms:      rooms,
		files:      opts.Files,
		roomStore:  opts.Rooms,
		summarizer: opts.Summarizer,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.With(slog.String("component", "commits")),
	}
}

// Submit diffs the proposed files against the stored ones, records the
// request and announces it to the chat room. The summary follows in a
// separate commit-summary event.
func (c *Commits) Submit(ctx context.Context, roomID, authorID string, files []protocol.FileChange) (*Commit, error) {
	if len(files) == 0 {
		return nil, ErrEmptyCommit
	}

	commit := &Commit{
		ID:        ulid.Make().String(),
		RoomID:    roomID,
		AuthorID:  authorID,
		Files:     append([]protocol.FileChange(nil), files...),
		CreatedAt: time.Now().UTC(),
	}

	var unified strings.Builder
	for _, f := range files {
		if strings.TrimSpace(f.Path) == "" {
			return nil, fmt.Errorf("file path required")
		}
		current, err := c.files.ReadFile(ctx, roomID, f.Path)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("read %s: %w", f.Path, err)
		}
		commit.Diffs = append(commit.Diffs, protocol.FileDiff{Path: f.Path, Runs: LineDiff(current, f.Content)})

		text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        unifiedLines(current),
			B:        unifiedLines(f.Content),
			FromFile: "a/" + f.Path,
			ToFile:   "b/" + f.Path,
			Context:  3,
		})
		if err != nil {
			return nil, fmt.Errorf("diff %s: %w", f.Path, err)
		}
		unified.WriteString(text)
	}
	commit.unified = unified.String()

	c.mu.Lock()
	c.pending[commit.ID] = commit
	view := commit.View("")
	c.mu.Unlock()

	c.rooms.Broadcast(NamespaceChat, roomID, newEvent(protocol.EventCommitPending, roomID, view), "")
	c.logger.Info("commit submitted", slog.String("id", commit.ID), slog.String("room", roomID), slog.String("user", authorID), slog.Int("files", len(files)))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.summarize(commit.ID, commit.unified)
	}()
	return commit, nil
}

func (c *Commits) summarize(id, diff string) {
	summary := SummaryUnavailable
	if c.summarizer != nil {
		text, err := c.summarizer.Summarize(c.ctx, diff)
		if err != nil {
			c.logger.Warn("summary failed", slog.String("id", id), slog.Any("err", err))
		} else if strings.TrimSpace(text) != "" {
			summary = strings.TrimSpace(text)
		}
	}
	c.SetSummary(id, summary)
}

// SetSummary attaches the summary to a pending commit once and broadcasts
// it. It reports whether the commit was still pending without a summary.
func (c *Commits) SetSummary(id, summary string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	commit, ok := c.pending[id]
	if !ok || commit.Summary != "" {
		return false
	}
	commit.Summary = summary
	c.rooms.Broadcast(NamespaceChat, commit.RoomID, newEvent(protocol.EventCommitSummary, commit.RoomID, commit.View("")), "")
	return true
}

// Get returns a copy of a pending commit.
func (c *Commits) Get(id string) (Commit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	commit, ok := c.pending[id]
	if !ok {
		return Commit{}, false
	}
	return *commit, true
}

// Pending lists the pending commits of a room, oldest first.
func (c *Commits) Pending(roomID string) []Commit {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Commit
	for _, commit := range c.pending {
		if commit.RoomID == roomID {
			out = append(out, *commit)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Approve writes the commit's files and announces the decision. Only the
// room owner may approve. Files are written as one batch; a failed write
// changes nothing and leaves the commit pending.
func (c *Commits) Approve(ctx context.Context, id, approverID string) (*Commit, error) {
	commit, err := c.take(ctx, id, approverID)
	if err != nil {
		return nil, err
	}

	files := make([]storage.FileContent, 0, len(commit.Files))
	for _, f := range commit.Files {
		files = append(files, storage.FileContent{Path: f.Path, Content: f.Content})
	}
	if err := c.files.WriteFiles(ctx, commit.RoomID, files); err != nil {
		c.mu.Lock()
		c.pending[commit.ID] = commit
		c.mu.Unlock()
		c.logger.Error("commit write failed", slog.String("id", id), slog.Int("files", len(files)), slog.Any("err", err))
		return nil, fmt.Errorf("write commit %s: %w", commit.ID, err)
	}

	c.rooms.Broadcast(NamespaceChat, commit.RoomID, newEvent(protocol.EventCommitResolved, commit.RoomID, commit.View(CommitApproved)), "")
	c.logger.Info("commit approved", slog.String("id", id), slog.String("room", commit.RoomID), slog.String("user", approverID))
	return commit, nil
}

// Reject discards the commit and announces the decision. Only the room
// owner may reject.
func (c *Commits) Reject(ctx context.Context, id, approverID string) (*Commit, error) {
	commit, err := c.take(ctx, id, approverID)
	if err != nil {
		return nil, err
	}
	c.rooms.Broadcast(NamespaceChat, commit.RoomID, newEvent(protocol.EventCommitResolved, commit.RoomID, commit.View(CommitRejected)), "")
	c.logger.Info("commit rejected", slog.String("id", id), slog.String("room", commit.RoomID), slog.String("user", approverID))
	return commit, nil
}

// take checks ownership and removes the commit from the pending set.
func (c *Commits) take(ctx context.Context, id, approverID string) (*Commit, error) {
	c.mu.Lock()
	commit, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return nil, ErrUnknownCommit
	}

	room, err := c.roomStore.GetRoom(ctx, commit.RoomID)
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	if room.OwnerID != approverID {
		return nil, ErrNotOwner
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	commit, ok = c.pending[id]
	if !ok {
		return nil, ErrUnknownCommit
	}
	delete(c.pending, id)
	return commit, nil
}

// Wait blocks until background summaries have finished.
func (c *Commits) Wait() {
	c.wg.Wait()
}

// Close cancels outstanding summaries and waits for them.
func (c *Commits) Close() {
	c.cancel()
	c.wg.Wait()
}

// LineDiff splits old and new into lines and groups the edit script into
// runs of added, removed and unchanged lines.
func LineDiff(oldText, newText string) []protocol.DiffRun {
	a, b := splitLines(oldText), splitLines(newText)
	var runs []protocol.DiffRun
	push := func(kind string, lines []string) {
		if len(lines) == 0 {
			return
		}
		if n := len(runs); n > 0 && runs[n-1].Kind == kind {
			runs[n-1].Lines = append(runs[n-1].Lines, lines...)
			return
		}
		runs = append(runs, protocol.DiffRun{Kind: kind, Lines: append([]string(nil), lines...)})
	}

	for _, op := range difflib.NewMatcher(a, b).GetOpCodes() {
		switch op.Tag {
		case 'e':
			push(RunUnchanged, a[op.I1:op.I2])
		case 'd':
			push(RunRemoved, a[op.I1:op.I2])
		case 'i':
			push(RunAdded, b[op.J1:op.J2])
		case 'r':
			push(RunRemoved, a[op.I1:op.I2])
			push(RunAdded, b[op.J1:op.J2])
		}
	}
	return runs
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func unifiedLines(s string) []string {
	if s == "" {
		return nil
	}
	return difflib.SplitLines(s)
}
