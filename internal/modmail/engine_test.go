package modmail_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modmail/internal/modmail"
	"github.com/modmail/internal/store/memory"
)

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	_, err := modmail.NewEngine(modmail.Deps{}, testSettings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store is required")
}

func TestEnsure_NewRecipientOpensThreadAndPostsHeader(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.engine.Ensure(ctx, "u1", false)
	require.NoError(t, err)
	assert.Equal(t, modmail.EnsureCreated, res.Outcome)
	require.NotNil(t, res.Thread)

	thread := *res.Thread
	assert.Equal(t, modmail.StatusOpen, thread.Status)
	assert.Equal(t, "chan-1", thread.ChannelID)
	assert.False(t, thread.IsAnswered)
	assert.Equal(t, modmail.SlotPending, h.channels.slotOf(thread.ChannelID))

	sent := h.transport.recipientMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, modmail.MarkerReceived, sent[0].Title)

	posted := h.transport.channelMessages(thread.ChannelID)
	require.Len(t, posted, 1)
	assert.Equal(t, modmail.MarkerNewThread, posted[0].Title)

	assert.Equal(t, []modmail.EventType{modmail.EventThreadCreated}, h.events.types())
}

func TestEnsure_ReturnsExistingOpenThread(t *testing.T) {
	h := newHarness(t)
	first := h.open(t, "u1")

	res, err := h.engine.Ensure(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.Equal(t, modmail.EnsureExisting, res.Outcome)
	assert.Equal(t, first.ID, res.Thread.ID)
	assert.Equal(t, first.ChannelID, res.Thread.ChannelID)
	assert.Len(t, h.channels.created, 1)
}

func TestEnsure_BlockedRecipientGetsNotice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Block(ctx, "u1", "spam"))

	res, err := h.engine.Ensure(ctx, "u1", false)
	require.NoError(t, err)
	assert.True(t, res.Blocked())
	assert.Nil(t, res.Thread)
	assert.Equal(t, "spam", res.BlockReason)

	open, err := h.engine.FindOpenThread(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, open)
	assert.Empty(t, h.channels.created)

	sent := h.transport.recipientMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, modmail.MarkerBlocked, sent[0].Title)
	require.Len(t, sent[0].Fields, 1)
	assert.Contains(t, sent[0].Fields[0].Value, "spam")
}

func TestEnsure_ManualBypassesBlockAndNotice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Block(ctx, "u1", "spam"))

	res, err := h.engine.Ensure(ctx, "u1", true)
	require.NoError(t, err)
	assert.Equal(t, modmail.EnsureCreated, res.Outcome)
	assert.Empty(t, h.transport.recipientMessages())
	assert.Len(t, h.transport.channelMessages(res.Thread.ChannelID), 1)
}

func TestEnsure_ReprovisionsDeletedChannel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	thread := h.open(t, "u1")

	_, err := h.engine.CreateRecipientInteraction(ctx, thread.ID, modmail.NormalizedMessage{AuthorID: "u1", Content: "hi"})
	require.NoError(t, err)
	h.channels.drop(thread.ChannelID)

	res, err := h.engine.Ensure(ctx, "u1", false)
	require.NoError(t, err)
	assert.Equal(t, modmail.EnsureExisting, res.Outcome)
	assert.Equal(t, thread.ID, res.Thread.ID)
	assert.Equal(t, "chan-2", res.Thread.ChannelID)

	stored, err := h.engine.FindByChannel(ctx, "chan-2")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, thread.ID, stored.ID)

	posted := h.transport.channelMessages("chan-2")
	require.Len(t, posted, 1)
	assert.Equal(t, modmail.MarkerNewThread, posted[0].Title)
	assert.Contains(t, posted[0].Fields, modmail.Field{Name: "Orphaned Messages", Value: "1"})
}

func TestEnsure_ReprovisionYieldsToConcurrentChannel(t *testing.T) {
	h := newHarnessWith(t, func(s *memory.Store) modmail.Store {
		return &interferingStore{Store: s, before: commitConcurrently(func(next *modmail.Thread) {
			next.ChannelID = "chan-other"
		})}
	}, testSettings)
	ctx := context.Background()
	thread := h.open(t, "u1")
	h.channels.drop(thread.ChannelID)

	res, err := h.engine.Ensure(ctx, "u1", false)
	require.NoError(t, err)
	assert.Equal(t, "chan-other", res.Thread.ChannelID)

	// The channel this call provisioned is not recorded anywhere, so it goes.
	assert.Equal(t, []string{"chan-2"}, h.channels.deleted)
	stored, err := h.store.FindThreadByID(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "chan-other", stored.ChannelID)
}

func TestEnsure_LosingCreateRaceAdoptsWinner(t *testing.T) {
	h := newHarnessWith(t, func(s *memory.Store) modmail.Store {
		return &racingStore{Store: s}
	}, testSettings)
	h.channels.live["winner-chan"] = modmail.SlotPending

	res, err := h.engine.Ensure(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.Equal(t, modmail.EnsureExisting, res.Outcome)
	assert.Equal(t, "winner-chan", res.Thread.ChannelID)

	// The channel provisioned by the loser is cleaned up.
	assert.Equal(t, []string{"chan-1"}, h.channels.deleted)
	assert.Empty(t, h.transport.recipientMessages())
}

func TestEnsure_ConcurrentCallsKeepOneOpenThread(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	ids := make(chan int64, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.engine.Ensure(ctx, "u1", false)
			if err == nil && res.Thread != nil {
				ids <- res.Thread.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)

	threads, err := h.store.ListThreadsForRecipient(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, threads, 1)
}

func TestEnsure_UnconfiguredCategoryCreatesThreadWithoutChannel(t *testing.T) {
	h := newHarnessWith(t, nil, modmail.Settings{RootCommunityID: "root-guild"})
	ctx := context.Background()

	res, err := h.engine.Ensure(ctx, "u1", false)
	require.NoError(t, err)
	require.NotNil(t, res.Thread)
	assert.False(t, res.Thread.HasChannel())
	assert.Empty(t, h.channels.created)

	_, err = h.engine.CreateRecipientInteraction(ctx, res.Thread.ID, modmail.NormalizedMessage{AuthorID: "u1", Content: "hi"})
	assert.ErrorIs(t, err, modmail.ErrNoRelayChannel)
}

func TestEnsure_ProvisioningFailureIsAbsorbed(t *testing.T) {
	h := newHarness(t)
	h.channels.createErr = errors.New("missing permissions")

	res, err := h.engine.Ensure(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.Equal(t, modmail.EnsureCreated, res.Outcome)
	assert.Empty(t, res.Thread.ChannelID)
}

func TestFindLookups(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	thread := h.open(t, "u1")

	byID, err := h.engine.FindByID(ctx, thread.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, thread.RecipientID, byID.RecipientID)

	missing, err := h.engine.FindByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	byChannel, err := h.engine.FindByChannel(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, byChannel)
}
