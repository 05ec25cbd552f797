package modmail

import (
	"context"
	"fmt"
	"strings"
)

// InboundResult is what happened to one direct message.
type InboundResult struct {
	Ensure EnsureResult `json:"ensure"`
	Relay  *RelayResult `json:"relay,omitempty"`
}

// DeliverRecipientMessage routes a direct message from msg.AuthorID into the
// recipient's OPEN thread, opening one when needed. Blocked recipients get no
// thread and Relay stays nil.
func (e *Engine) DeliverRecipientMessage(ctx context.Context, msg NormalizedMessage) (InboundResult, error) {
	if err := msg.Validate(); err != nil {
		return InboundResult{}, err
	}
	ensured, err := e.Ensure(ctx, msg.AuthorID, false)
	if err != nil {
		return InboundResult{}, err
	}
	out := InboundResult{Ensure: ensured}
	if ensured.Blocked() || ensured.Thread == nil {
		return out, nil
	}

	res, err := e.CreateRecipientInteraction(ctx, ensured.Thread.ID, msg)
	if res.Interaction.ID != 0 {
		out.Relay = &res
	}
	return out, err
}

// ReplyInChannel relays a moderator message written in a relay channel to the
// thread's recipient.
func (e *Engine) ReplyInChannel(ctx context.Context, channelID string, msg NormalizedMessage) (RelayResult, error) {
	channelID = strings.TrimSpace(channelID)
	t, err := e.FindByChannel(ctx, channelID)
	if err != nil {
		return RelayResult{}, err
	}
	if t == nil {
		return RelayResult{}, fmt.Errorf("thread for channel %q: %w", channelID, ErrNotFound)
	}
	return e.CreateModeratorInteraction(ctx, t.ID, msg)
}
