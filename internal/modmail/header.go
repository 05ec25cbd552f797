package modmail

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	unknownValue = "Unknown"
	headerDate   = "2006-01-02"
)

// Header summarises a recipient for a freshly provisioned relay channel.
type Header struct {
	ThreadID             int64
	RecipientID          string
	DisplayName          string
	AvatarURL            string
	Nickname             string
	AccountCreated       string
	JoinedAt             string
	PriorThreads         int
	OrphanedInteractions int
}

// BuildHeader gathers the header fields for t. Fields that cannot be resolved
// read "Unknown"; only a missing thread id is an error.
func (e *Engine) BuildHeader(ctx context.Context, t Thread) (Header, error) {
	if !t.Persisted() {
		return Header{}, ErrThreadNotPersisted
	}
	h := Header{
		ThreadID:       t.ID,
		RecipientID:    t.RecipientID,
		DisplayName:    t.RecipientID,
		Nickname:       unknownValue,
		AccountCreated: unknownValue,
		JoinedAt:       unknownValue,
	}

	if profile, err := e.recipientProfile(ctx, t); err != nil {
		log.Debug().Err(err).Int64("thread_id", t.ID).Msg("Header without recipient profile")
	} else {
		h.DisplayName = profile.DisplayName
		h.AvatarURL = profile.AvatarURL
		h.AccountCreated = formatDate(profile.CreatedAt)
	}

	if root := e.settings.RootCommunityID; root != "" {
		member, err := e.profiles.ResolveMember(ctx, root, t.RecipientID)
		switch {
		case err != nil:
			log.Debug().Err(err).Int64("thread_id", t.ID).Msg("Header without membership")
		case member != nil:
			if member.Nickname != "" {
				h.Nickname = member.Nickname
			}
			h.JoinedAt = formatDate(member.JoinedAt)
		}
	}

	closed, err := e.store.ListClosedThreadsForRecipient(ctx, t.RecipientID)
	if err != nil {
		log.Debug().Err(err).Int64("thread_id", t.ID).Msg("Header without thread history")
	}
	for _, c := range closed {
		if c.ID != t.ID {
			h.PriorThreads++
		}
	}

	// Anything already logged for this thread was relayed to a channel that
	// no longer exists.
	history, err := e.store.ListInteractions(ctx, t.ID)
	if err != nil {
		log.Debug().Err(err).Int64("thread_id", t.ID).Msg("Header without interaction history")
	}
	h.OrphanedInteractions = len(history)

	return h, nil
}

// Message renders the header for a relay channel.
func (h Header) Message() RelayMessage {
	return RelayMessage{
		Title:       MarkerNewThread,
		Author:      h.DisplayName,
		AuthorIcon:  h.AvatarURL,
		Description: fmt.Sprintf("%s (%s)", h.DisplayName, h.RecipientID),
		Fields: []Field{
			{Name: "Recipient ID", Value: h.RecipientID},
			{Name: "Nickname", Value: h.Nickname},
			{Name: "Account Created", Value: h.AccountCreated},
			{Name: "Joined", Value: h.JoinedAt},
			{Name: "Prior Threads", Value: strconv.Itoa(h.PriorThreads)},
			{Name: "Orphaned Messages", Value: strconv.Itoa(h.OrphanedInteractions)},
		},
		Footer: fmt.Sprintf("Thread #%d", h.ThreadID),
		Color:  ColorNeutral,
	}
}

func (e *Engine) postHeader(ctx context.Context, t Thread) error {
	if !t.HasChannel() {
		return nil
	}
	h, err := e.BuildHeader(ctx, t)
	if err != nil {
		return err
	}
	ok, err := e.transport.SendToChannel(ctx, t.ChannelID, h.Message())
	if err != nil {
		return fmt.Errorf("post header: %w", err)
	}
	if !ok {
		return fmt.Errorf("post header: %w", ErrRelayUndelivered)
	}
	return nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return unknownValue
	}
	return t.UTC().Format(headerDate)
}
