// Package storetest holds the behaviour every thread store must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modmail/internal/modmail"
)

// Store is everything a complete backend provides.
type Store interface {
	modmail.Store
	modmail.RecipientRegistry
	modmail.SnippetStore
	modmail.ThreadLog
}

// Run exercises newStore against the shared contract. newStore must return
// an empty store.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, newStore(t)) })
	t.Run("OneOpenThreadPerRecipient", func(t *testing.T) { testOneOpen(t, newStore(t)) })
	t.Run("ConditionalUpdate", func(t *testing.T) { testConditionalUpdate(t, newStore(t)) })
	t.Run("Interactions", func(t *testing.T) { testInteractions(t, newStore(t)) })
	t.Run("History", func(t *testing.T) { testHistory(t, newStore(t)) })
	t.Run("BlockRegistry", func(t *testing.T) { testBlocks(t, newStore(t)) })
	t.Run("Snippets", func(t *testing.T) { testSnippets(t, newStore(t)) })
}

var createdAt = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func openThread(recipientID, channelID string) modmail.Thread {
	return modmail.Thread{
		RecipientID:   recipientID,
		Status:        modmail.StatusOpen,
		ChannelID:     channelID,
		SubscriberIDs: []string{},
		CreatedAt:     createdAt,
	}
}

func testCreateAndFind(t *testing.T, s Store) {
	ctx := context.Background()

	created, err := s.CreateThread(ctx, openThread("u1", "c1"))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, modmail.StatusOpen, created.Status)
	assert.True(t, created.CreatedAt.Equal(createdAt))
	assert.Nil(t, created.ClosedAt)

	byID, err := s.FindThreadByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "c1", byID.ChannelID)
	assert.Empty(t, byID.SubscriberIDs)

	open, err := s.FindOpenThread(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, created.ID, open.ID)

	byChannel, err := s.FindThreadByChannel(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, byChannel)
	assert.Equal(t, created.ID, byChannel.ID)

	missing, err := s.FindThreadByID(ctx, created.ID+100)
	require.NoError(t, err)
	assert.Nil(t, missing)

	none, err := s.FindOpenThread(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func testOneOpen(t *testing.T, s Store) {
	ctx := context.Background()

	first, err := s.CreateThread(ctx, openThread("u1", "c1"))
	require.NoError(t, err)

	_, err = s.CreateThread(ctx, openThread("u1", "c2"))
	assert.True(t, errors.Is(err, modmail.ErrOpenThreadExists), "got %v", err)

	suspended := first.Clone()
	suspended.Status = modmail.StatusSuspended
	suspended, err = s.UpdateThread(ctx, suspended)
	require.NoError(t, err)

	second, err := s.CreateThread(ctx, openThread("u1", "c2"))
	require.NoError(t, err)

	reopen := suspended.Clone()
	reopen.Status = modmail.StatusOpen
	_, err = s.UpdateThread(ctx, reopen)
	assert.True(t, errors.Is(err, modmail.ErrOpenThreadExists), "got %v", err)

	open, err := s.FindOpenThread(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, second.ID, open.ID)

	// A different recipient is unaffected.
	_, err = s.CreateThread(ctx, openThread("u2", "c3"))
	require.NoError(t, err)
}

func testConditionalUpdate(t *testing.T, s Store) {
	ctx := context.Background()
	created, err := s.CreateThread(ctx, openThread("u1", "c1"))
	require.NoError(t, err)

	closedAt := createdAt.Add(time.Hour)
	next := created.Clone()
	next.Status = modmail.StatusClosed
	next.ChannelID = ""
	next.IsAnswered = true
	next.SubscriberIDs = []string{"m1", "m2"}
	next.ClosedAt = &closedAt
	updated, err := s.UpdateThread(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, created.Version+1, updated.Version)

	got, err := s.FindThreadByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Version, got.Version)
	assert.Equal(t, modmail.StatusClosed, got.Status)
	assert.Empty(t, got.ChannelID)
	assert.True(t, got.IsAnswered)
	assert.Equal(t, []string{"m1", "m2"}, got.SubscriberIDs)
	require.NotNil(t, got.ClosedAt)
	assert.True(t, got.ClosedAt.Equal(closedAt))

	// A write based on the pre-update snapshot loses even though it leaves
	// status alone.
	stale := created.Clone()
	stale.SubscriberIDs = []string{"m3"}
	_, err = s.UpdateThread(ctx, stale)
	assert.True(t, errors.Is(err, modmail.ErrStaleThread), "got %v", err)

	got, err = s.FindThreadByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, got.SubscriberIDs)

	ghost := openThread("u9", "")
	ghost.ID = created.ID + 100
	_, err = s.UpdateThread(ctx, ghost)
	assert.True(t, errors.Is(err, modmail.ErrNotFound), "got %v", err)
}

func testInteractions(t *testing.T, s Store) {
	ctx := context.Background()
	thread, err := s.CreateThread(ctx, openThread("u1", "c1"))
	require.NoError(t, err)

	first, err := s.CreateInteraction(ctx, modmail.Interaction{
		ThreadID:    thread.ID,
		Type:        modmail.InteractionRecipient,
		Content:     "hello",
		Attachments: []modmail.Attachment{{Name: "a.png", URL: "https://cdn.example/a.png"}},
		AuthorID:    "u1",
		CreatedAt:   createdAt,
	})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	second, err := s.CreateInteraction(ctx, modmail.Interaction{
		ThreadID:  thread.ID,
		Type:      modmail.InteractionModerator,
		AuthorID:  "m1",
		Content:   "hi",
		Failed:    true,
		CreatedAt: createdAt,
	})
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)

	list, err := s.ListInteractions(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, modmail.InteractionRecipient, list[0].Type)
	assert.Equal(t, []modmail.Attachment{{Name: "a.png", URL: "https://cdn.example/a.png"}}, list[0].Attachments)
	assert.False(t, list[0].Failed)
	assert.Equal(t, modmail.InteractionModerator, list[1].Type)
	assert.True(t, list[1].Failed)
	assert.Empty(t, list[1].Attachments)

	empty, err := s.ListInteractions(ctx, thread.ID+100)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testHistory(t *testing.T, s Store) {
	ctx := context.Background()
	var ids []int64
	for range 3 {
		th, err := s.CreateThread(ctx, openThread("u1", ""))
		require.NoError(t, err)
		closed := th.Clone()
		closed.Status = modmail.StatusClosed
		closedAt := createdAt.Add(time.Minute)
		closed.ClosedAt = &closedAt
		_, err = s.UpdateThread(ctx, closed)
		require.NoError(t, err)
		ids = append(ids, th.ID)
	}
	current, err := s.CreateThread(ctx, openThread("u1", "c9"))
	require.NoError(t, err)

	closed, err := s.ListClosedThreadsForRecipient(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, closed, 3)

	latest, err := s.ListThreadsForRecipient(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, current.ID, latest[0].ID)
	assert.Equal(t, ids[2], latest[1].ID)

	all, err := s.ListThreadsForRecipient(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func testBlocks(t *testing.T, s Store) {
	ctx := context.Background()

	status, err := s.IsBlocked(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.Blocked)

	require.NoError(t, s.Block(ctx, "u1", "spam"))
	status, err = s.IsBlocked(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, modmail.BlockStatus{Blocked: true, Reason: "spam"}, status)

	require.NoError(t, s.Block(ctx, "u1", "abuse"))
	status, err = s.IsBlocked(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "abuse", status.Reason)

	require.NoError(t, s.Unblock(ctx, "u1"))
	status, err = s.IsBlocked(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.Blocked)
}

func testSnippets(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.GetSnippet(ctx, "greet")
	assert.True(t, errors.Is(err, modmail.ErrNotFound), "got %v", err)

	require.NoError(t, s.PutSnippet(ctx, "Greet", "Hello!"))
	require.NoError(t, s.PutSnippet(ctx, "bye", "Goodbye"))

	content, err := s.GetSnippet(ctx, "greet")
	require.NoError(t, err)
	assert.Equal(t, "Hello!", content)

	require.NoError(t, s.PutSnippet(ctx, "greet", "Hi again"))
	list, err := s.ListSnippets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []modmail.Snippet{{Name: "bye", Content: "Goodbye"}, {Name: "greet", Content: "Hi again"}}, list)

	require.NoError(t, s.DeleteSnippet(ctx, "bye"))
	err = s.DeleteSnippet(ctx, "bye")
	assert.True(t, errors.Is(err, modmail.ErrNotFound), "got %v", err)
}
