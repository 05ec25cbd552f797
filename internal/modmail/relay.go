package modmail

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// SnippetSource looks up canned reply text by name. It returns ErrNotFound
// for unknown names.
type SnippetSource interface {
	GetSnippet(ctx context.Context, name string) (string, error)
}

// RelayResult is the outcome of recording one interaction.
type RelayResult struct {
	Thread      Thread      `json:"thread"`
	Interaction Interaction `json:"interaction"`
}

// CreateRecipientInteraction records a recipient message and mirrors it into
// the relay channel, mentioning subscribers. Failing to mirror is an error
// because the message has nowhere else to go.
func (e *Engine) CreateRecipientInteraction(ctx context.Context, threadID int64, msg NormalizedMessage) (RelayResult, error) {
	if err := msg.Validate(); err != nil {
		return RelayResult{}, err
	}
	t, err := e.load(ctx, threadID)
	if err != nil {
		return RelayResult{}, err
	}
	if t.Status == StatusClosed {
		return RelayResult{}, fmt.Errorf("relay to thread %d: %w", t.ID, ErrThreadClosed)
	}

	profile, err := e.recipientProfile(ctx, t)
	if err != nil {
		return RelayResult{}, err
	}

	authorID := strings.TrimSpace(msg.AuthorID)
	if authorID == "" {
		authorID = t.RecipientID
	}
	in, err := e.store.CreateInteraction(ctx, Interaction{
		ThreadID:    t.ID,
		Type:        InteractionRecipient,
		Content:     msg.Content,
		Attachments: msg.Attachments,
		AuthorID:    authorID,
		CreatedAt:   e.now(),
	})
	if err != nil {
		return RelayResult{}, fmt.Errorf("record recipient interaction: %w", err)
	}

	t = e.flipAnswered(ctx, t, false)

	if !t.HasChannel() {
		return RelayResult{Thread: t, Interaction: in}, fmt.Errorf("relay interaction %d: %w", in.ID, ErrNoRelayChannel)
	}
	ok, err := e.transport.SendToChannel(ctx, t.ChannelID, recipientRelayMessage(profile, msg, in.ID, t.SubscriberIDs))
	if err != nil {
		return RelayResult{Thread: t, Interaction: in}, fmt.Errorf("relay interaction %d: %w: %v", in.ID, ErrRelayUndelivered, err)
	}
	if !ok {
		return RelayResult{Thread: t, Interaction: in}, fmt.Errorf("relay interaction %d: %w", in.ID, ErrRelayUndelivered)
	}

	log.Debug().
		Int64("thread_id", t.ID).
		Int64("interaction_id", in.ID).
		Str("channel_id", t.ChannelID).
		Msg("Relayed recipient message")
	e.publish(ctx, EventInteractionRecorded, t, &in)
	return RelayResult{Thread: t, Interaction: in}, nil
}

// CreateModeratorInteraction delivers a moderator message to the recipient.
// A failed delivery is recorded on the interaction and reported in the relay
// channel rather than returned as an error.
func (e *Engine) CreateModeratorInteraction(ctx context.Context, threadID int64, msg NormalizedMessage) (RelayResult, error) {
	if err := msg.Validate(); err != nil {
		return RelayResult{}, err
	}
	t, err := e.load(ctx, threadID)
	if err != nil {
		return RelayResult{}, err
	}
	if t.Status == StatusClosed {
		return RelayResult{}, fmt.Errorf("reply to thread %d: %w", t.ID, ErrThreadClosed)
	}

	delivered, sendErr := e.transport.SendToRecipient(ctx, t.RecipientID, moderatorOutboundMessage(msg))
	if sendErr != nil || !delivered {
		delivered = false
		log.Warn().Err(sendErr).
			Int64("thread_id", t.ID).
			Str("recipient_id", t.RecipientID).
			Msg("Failed to deliver moderator message")
	}

	in, err := e.store.CreateInteraction(ctx, Interaction{
		ThreadID:    t.ID,
		Type:        InteractionModerator,
		Content:     msg.Content,
		Attachments: msg.Attachments,
		AuthorID:    msg.AuthorID,
		Failed:      !delivered,
		CreatedAt:   e.now(),
	})
	if err != nil {
		return RelayResult{}, fmt.Errorf("record moderator interaction: %w", err)
	}

	t = e.flipAnswered(ctx, t, true)

	if t.HasChannel() {
		ok, err := e.transport.SendToChannel(ctx, t.ChannelID, moderatorConfirmation(msg, in.ID, delivered))
		if err != nil || !ok {
			log.Warn().Err(err).
				Int64("thread_id", t.ID).
				Int64("interaction_id", in.ID).
				Msg("Failed to post reply confirmation")
		}
	}

	e.publish(ctx, EventInteractionRecorded, t, &in)
	return RelayResult{Thread: t, Interaction: in}, nil
}

// CreateCannedReply sends the named snippet as a moderator message.
func (e *Engine) CreateCannedReply(ctx context.Context, threadID int64, author NormalizedMessage, snippet string) (RelayResult, error) {
	if e.snippets == nil {
		return RelayResult{}, fmt.Errorf("canned reply %q: %w", snippet, ErrNotFound)
	}
	text, err := e.snippets.GetSnippet(ctx, strings.TrimSpace(snippet))
	if err != nil {
		return RelayResult{}, fmt.Errorf("canned reply %q: %w", snippet, err)
	}
	author.Content = text
	author.Attachments = nil
	return e.CreateModeratorInteraction(ctx, threadID, author)
}

// flipAnswered sets the answered flag after an interaction and moves the
// channel to match. The flag only drives placement, so write failures are
// logged and the thread is returned as it was.
func (e *Engine) flipAnswered(ctx context.Context, t Thread, answered bool) Thread {
	next, changed, err := e.apply(ctx, t.ID, setAnswered(answered))
	if err != nil {
		log.Warn().Err(err).
			Int64("thread_id", t.ID).
			Bool("answered", answered).
			Msg("Failed to update answered flag")
		return t
	}
	if changed {
		e.moveChannel(ctx, next, next.Slot())
		if answered {
			e.publish(ctx, EventThreadAnswered, next, nil)
		}
	}
	return next
}
