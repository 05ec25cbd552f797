package modmail_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modmail/internal/modmail"
)

func TestDeliverRecipientMessage_OpensAndRelays(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.engine.DeliverRecipientMessage(ctx, modmail.NormalizedMessage{AuthorID: "u1", Content: "help"})
	require.NoError(t, err)
	assert.Equal(t, modmail.EnsureCreated, res.Ensure.Outcome)
	require.NotNil(t, res.Relay)
	assert.Equal(t, "help", res.Relay.Interaction.Content)

	again, err := h.engine.DeliverRecipientMessage(ctx, modmail.NormalizedMessage{AuthorID: "u1", Content: "still there?"})
	require.NoError(t, err)
	assert.Equal(t, modmail.EnsureExisting, again.Ensure.Outcome)
	assert.Equal(t, res.Ensure.Thread.ID, again.Ensure.Thread.ID)

	stored, err := h.store.ListInteractions(ctx, res.Ensure.Thread.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestDeliverRecipientMessage_EmptyOpensNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.DeliverRecipientMessage(ctx, modmail.NormalizedMessage{AuthorID: "u1", Content: "  "})
	assert.True(t, errors.Is(err, modmail.ErrEmptyMessage))

	open, err := h.store.FindOpenThread(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestDeliverRecipientMessage_Blocked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Block(ctx, "u1", "spam"))

	res, err := h.engine.DeliverRecipientMessage(ctx, modmail.NormalizedMessage{AuthorID: "u1", Content: "let me in"})
	require.NoError(t, err)
	assert.True(t, res.Ensure.Blocked())
	assert.Nil(t, res.Relay)
}

func TestReplyInChannel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	thread := h.open(t, "u1")

	res, err := h.engine.ReplyInChannel(ctx, thread.ChannelID, modmail.NormalizedMessage{AuthorID: "mod-1", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, modmail.InteractionModerator, res.Interaction.Type)
	assert.True(t, res.Thread.IsAnswered)

	_, err = h.engine.ReplyInChannel(ctx, "no-such-channel", modmail.NormalizedMessage{AuthorID: "mod-1", Content: "hi"})
	assert.True(t, errors.Is(err, modmail.ErrNotFound))
}
