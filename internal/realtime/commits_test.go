package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/fenggwsx/SlashCollab/internal/protocol"
	"github.com/fenggwsx/SlashCollab/internal/storage"
)

func TestLineDiff(t *testing.T) {
	runs := LineDiff("a\nb\nc\n", "a\nB\nc\nd\n")
	assert.Equal(t, []protocol.DiffRun{
		{Kind: RunUnchanged, Lines: []string{"a"}},
		{Kind: RunRemoved, Lines: []string{"b"}},
		{Kind: RunAdded, Lines: []string{"B"}},
		{Kind: RunUnchanged, Lines: []string{"c"}},
		{Kind: RunAdded, Lines: []string{"d"}},
	}, runs)

	runs = LineDiff("", "new\nfile")
	assert.Equal(t, []protocol.DiffRun{{Kind: RunAdded, Lines: []string{"new", "file"}}}, runs)
}

func newCommitHub(t *testing.T, summarizer Summarizer) (*Hub, *memStore) {
	t.Helper()
	store := newMemStore()
	_ = store.CreateRoom(context.Background(), &storage.Room{ID: "r1", Name: "Backend", OwnerID: "owner"})
	_ = store.WriteFile(context.Background(), "r1", "main.go", "package main\n")
	hub := NewHub(Deps{
		Store:      store,
		Summarizer: summarizer,
		Logger:     discardLogger(),
	})
	t.Cleanup(hub.Close)
	return hub, store
}

func TestCommitSubmitApprove(t *testing.T) {
	hub, store := newCommitHub(t, stubSummarizer{text: "Adds a greeting."})
	ctx := context.Background()
	member := connect(hub, "m")
	_ = hub.Chat.Join(ctx, "r1", "m")

	commit, err := hub.Commits.Submit(ctx, "r1", "author", []protocol.FileChange{
		{Path: "main.go", Content: "package main\n\nfunc hello() {}\n"},
		{Path: "README.md", Content: "# Backend\n"},
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(commit.Diffs))
	assert.Equal(t, RunUnchanged, commit.Diffs[0].Runs[0].Kind)
	assert.Equal(t, RunAdded, commit.Diffs[1].Runs[0].Kind)

	hub.Commits.Wait()
	assert.Equal(t, 1, len(member.byAction(protocol.EventCommitPending)))
	summaries := member.byAction(protocol.EventCommitSummary)
	assert.Equal(t, 1, len(summaries))
	assert.Equal(t, "Adds a greeting.", summaries[0].Payload.(protocol.CommitView).Summary)
	assert.Equal(t, 1, len(hub.Commits.Pending("r1")))

	_, err = hub.Commits.Approve(ctx, commit.ID, "author")
	assert.Equal(t, true, errors.Is(err, ErrNotOwner))

	_, err = hub.Commits.Approve(ctx, commit.ID, "owner")
	assert.Equal(t, nil, err)
	content, _ := store.ReadFile(ctx, "r1", "main.go")
	assert.Equal(t, "package main\n\nfunc hello() {}\n", content)
	assert.Equal(t, []string{"r1/README.md", "r1/main.go"}, store.fileKeys())

	resolved := member.byAction(protocol.EventCommitResolved)
	assert.Equal(t, 1, len(resolved))
	assert.Equal(t, CommitApproved, resolved[0].Payload.(protocol.CommitView).Status)

	_, err = hub.Commits.Approve(ctx, commit.ID, "owner")
	assert.Equal(t, true, errors.Is(err, ErrUnknownCommit))
}

func TestCommitRejectLeavesFilesUntouched(t *testing.T) {
	hub, store := newCommitHub(t, stubSummarizer{text: "x"})
	ctx := context.Background()

	commit, err := hub.Commits.Submit(ctx, "r1", "author", []protocol.FileChange{{Path: "main.go", Content: "gone"}})
	assert.Equal(t, nil, err)

	_, err = hub.Commits.Reject(ctx, commit.ID, "owner")
	assert.Equal(t, nil, err)
	content, _ := store.ReadFile(ctx, "r1", "main.go")
	assert.Equal(t, "package main\n", content)
	_, ok := hub.Commits.Get(commit.ID)
	assert.Equal(t, false, ok)
}

func TestCommitSummaryFallback(t *testing.T) {
	hub, _ := newCommitHub(t, stubSummarizer{err: errors.New("rate limited")})
	ctx := context.Background()

	commit, err := hub.Commits.Submit(ctx, "r1", "author", []protocol.FileChange{{Path: "x.txt", Content: "x"}})
	assert.Equal(t, nil, err)
	hub.Commits.Wait()

	got, ok := hub.Commits.Get(commit.ID)
	assert.Equal(t, true, ok)
	assert.Equal(t, SummaryUnavailable, got.Summary)
	assert.Equal(t, false, hub.Commits.SetSummary(commit.ID, "late"))
}

func TestCommitWriteFailureKeepsPending(t *testing.T) {
	hub, store := newCommitHub(t, nil)
	ctx := context.Background()
	member := connect(hub, "m")
	_ = hub.Chat.Join(ctx, "r1", "m")

	commit, _ := hub.Commits.Submit(ctx, "r1", "author", []protocol.FileChange{{Path: "main.go", Content: "new"}})
	hub.Commits.Wait()
	store.failWrites = true

	_, err := hub.Commits.Approve(ctx, commit.ID, "owner")
	assert.NotEqual(t, nil, err)
	assert.Equal(t, 0, len(member.byAction(protocol.EventCommitResolved)))
	_, ok := hub.Commits.Get(commit.ID)
	assert.Equal(t, true, ok)
}

func TestCommitPartialWriteFailureWritesNothing(t *testing.T) {
	hub, store := newCommitHub(t, nil)
	ctx := context.Background()
	member := connect(hub, "m")
	_ = hub.Chat.Join(ctx, "r1", "m")

	commit, _ := hub.Commits.Submit(ctx, "r1", "author", []protocol.FileChange{
		{Path: "a.txt", Content: "A"},
		{Path: "b.txt", Content: "B"},
	})
	hub.Commits.Wait()
	store.failPath = "b.txt"

	_, err := hub.Commits.Approve(ctx, commit.ID, "owner")
	assert.NotEqual(t, nil, err)
	_, err = store.ReadFile(ctx, "r1", "a.txt")
	assert.Equal(t, true, errors.Is(err, storage.ErrNotFound))
	assert.Equal(t, []string{"r1/main.go"}, store.fileKeys())
	assert.Equal(t, 0, len(member.byAction(protocol.EventCommitResolved)))
	_, ok := hub.Commits.Get(commit.ID)
	assert.Equal(t, true, ok)

	store.failPath = ""
	_, err = hub.Commits.Approve(ctx, commit.ID, "owner")
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"r1/a.txt", "r1/b.txt", "r1/main.go"}, store.fileKeys())
}

func TestCommitRequiresFiles(t *testing.T) {
	hub, _ := newCommitHub(t, nil)
	_, err := hub.Commits.Submit(context.Background(), "r1", "author", nil)
	assert.Equal(t, true, errors.Is(err, ErrEmptyCommit))
}
