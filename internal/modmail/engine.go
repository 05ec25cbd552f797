package modmail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Deps are the collaborators the engine drives. Events and Snippets are optional.
type Deps struct {
	Store     Store
	Blocks    BlockRegistry
	Channels  ChannelProvisioner
	Transport Transport
	Profiles  ProfileResolver
	Events    EventPublisher
	Snippets  SnippetSource
}

// Engine owns every thread and interaction mutation.
type Engine struct {
	store        Store
	blocks       BlockRegistry
	channels     ChannelProvisioner
	transport    Transport
	profiles     ProfileResolver
	events       EventPublisher
	snippets     SnippetSource
	settings     Settings
	profileCache *profileCache
	now          func() time.Time
}

// NewEngine validates deps and returns an engine bound to settings.
func NewEngine(deps Deps, settings Settings) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("modmail: store is required")
	case deps.Blocks == nil:
		return nil, errors.New("modmail: block registry is required")
	case deps.Channels == nil:
		return nil, errors.New("modmail: channel provisioner is required")
	case deps.Transport == nil:
		return nil, errors.New("modmail: transport is required")
	case deps.Profiles == nil:
		return nil, errors.New("modmail: profile resolver is required")
	}
	return &Engine{
		store:        deps.Store,
		blocks:       deps.Blocks,
		channels:     deps.Channels,
		transport:    deps.Transport,
		profiles:     deps.Profiles,
		events:       deps.Events,
		snippets:     deps.Snippets,
		settings:     settings,
		profileCache: newProfileCache(),
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Settings returns the platform context the engine was built with.
func (e *Engine) Settings() Settings {
	return e.settings
}

// FindOpenThread returns the recipient's OPEN thread, or nil.
func (e *Engine) FindOpenThread(ctx context.Context, recipientID string) (*Thread, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return nil, nil
	}
	t, err := e.store.FindOpenThread(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("find open thread: %w", err)
	}
	return t, nil
}

// FindByChannel returns the thread relayed through channelID, or nil.
func (e *Engine) FindByChannel(ctx context.Context, channelID string) (*Thread, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, nil
	}
	t, err := e.store.FindThreadByChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("find thread by channel: %w", err)
	}
	return t, nil
}

// FindByID returns the thread with id, or nil.
func (e *Engine) FindByID(ctx context.Context, id int64) (*Thread, error) {
	if id <= 0 {
		return nil, nil
	}
	t, err := e.store.FindThreadByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find thread by id: %w", err)
	}
	return t, nil
}

// load reads a thread fresh and treats absence as an error.
func (e *Engine) load(ctx context.Context, id int64) (Thread, error) {
	t, err := e.FindByID(ctx, id)
	if err != nil {
		return Thread{}, err
	}
	if t == nil {
		return Thread{}, fmt.Errorf("thread %d: %w", id, ErrNotFound)
	}
	return *t, nil
}

// EnsureOutcome tells how Ensure resolved.
type EnsureOutcome string

const (
	EnsureExisting EnsureOutcome = "existing"
	EnsureCreated  EnsureOutcome = "created"
	EnsureBlocked  EnsureOutcome = "blocked"
)

// EnsureResult is the result of Ensure. Thread is nil when Outcome is EnsureBlocked.
type EnsureResult struct {
	Outcome     EnsureOutcome
	Thread      *Thread
	BlockReason string
}

// Blocked reports whether the recipient was refused a thread.
func (r EnsureResult) Blocked() bool {
	return r.Outcome == EnsureBlocked
}

// Ensure returns the recipient's OPEN thread, creating one when none exists.
// manual marks operator-initiated creation, which skips the block check and
// the received notice.
func (e *Engine) Ensure(ctx context.Context, recipientID string, manual bool) (EnsureResult, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return EnsureResult{}, fmt.Errorf("ensure thread: %w: empty recipient id", ErrUnresolvedRecipient)
	}

	existing, err := e.FindOpenThread(ctx, recipientID)
	if err != nil {
		return EnsureResult{}, err
	}
	if existing != nil {
		t, err := e.ensureChannel(ctx, *existing)
		if err != nil {
			return EnsureResult{}, err
		}
		return EnsureResult{Outcome: EnsureExisting, Thread: &t}, nil
	}

	if !manual {
		status, err := e.blocks.IsBlocked(ctx, recipientID)
		if err != nil {
			return EnsureResult{}, fmt.Errorf("check block registry: %w", err)
		}
		if status.Blocked {
			e.sendRecipientNotice(ctx, recipientID, blockedNotice(status.Reason))
			log.Info().
				Str("recipient_id", recipientID).
				Str("reason", status.Reason).
				Msg("Refused thread for blocked recipient")
			return EnsureResult{Outcome: EnsureBlocked, BlockReason: status.Reason}, nil
		}
	}

	channelID := e.provisionChannel(ctx, recipientID, SlotPending)
	created, err := e.store.CreateThread(ctx, Thread{
		RecipientID:   recipientID,
		Status:        StatusOpen,
		ChannelID:     channelID,
		SubscriberIDs: []string{},
		CreatedAt:     e.now(),
	})
	if err != nil {
		e.discardChannel(ctx, channelID)
		if !errors.Is(err, ErrOpenThreadExists) {
			return EnsureResult{}, fmt.Errorf("create thread: %w", err)
		}
		return e.adoptWinner(ctx, recipientID)
	}

	log.Info().
		Int64("thread_id", created.ID).
		Str("recipient_id", recipientID).
		Str("channel_id", created.ChannelID).
		Bool("manual", manual).
		Msg("Opened thread")

	if !manual {
		e.sendRecipientNotice(ctx, recipientID, receivedNotice())
	}
	if created.HasChannel() {
		if err := e.postHeader(ctx, created); err != nil {
			log.Warn().Err(err).Int64("thread_id", created.ID).Msg("Failed to post thread header")
		}
	}
	e.publish(ctx, EventThreadCreated, created, nil)
	return EnsureResult{Outcome: EnsureCreated, Thread: &created}, nil
}

// adoptWinner resolves a lost creation race by returning the thread the
// concurrent caller stored.
func (e *Engine) adoptWinner(ctx context.Context, recipientID string) (EnsureResult, error) {
	winner, err := e.FindOpenThread(ctx, recipientID)
	if err != nil {
		return EnsureResult{}, err
	}
	if winner == nil {
		return EnsureResult{}, fmt.Errorf("create thread for %s: %w", recipientID, ErrOpenThreadExists)
	}
	log.Debug().
		Int64("thread_id", winner.ID).
		Str("recipient_id", recipientID).
		Msg("Lost thread creation race, using existing thread")
	t, err := e.ensureChannel(ctx, *winner)
	if err != nil {
		return EnsureResult{}, err
	}
	return EnsureResult{Outcome: EnsureExisting, Thread: &t}, nil
}

// ensureChannel re-provisions the relay channel of an OPEN thread whose
// channel is gone. Lookup failures leave the thread as it is.
func (e *Engine) ensureChannel(ctx context.Context, t Thread) (Thread, error) {
	if t.HasChannel() {
		exists, err := e.channels.ChannelExists(ctx, t.ChannelID)
		if err != nil {
			log.Warn().Err(err).
				Int64("thread_id", t.ID).
				Str("channel_id", t.ChannelID).
				Msg("Could not check relay channel")
			return t, nil
		}
		if exists {
			return t, nil
		}
	}

	channelID := e.provisionChannel(ctx, t.RecipientID, t.Slot())
	if channelID == "" || channelID == t.ChannelID {
		return t, nil
	}

	// Another event may have re-provisioned or closed the thread meanwhile;
	// its channel wins and ours is discarded.
	next, changed, err := e.apply(ctx, t.ID, func(cur Thread) (Thread, bool, error) {
		if cur.Status == StatusClosed || cur.ChannelID != t.ChannelID {
			return cur, false, nil
		}
		next := cur.Clone()
		next.ChannelID = channelID
		return next, true, nil
	})
	if err != nil {
		e.discardChannel(ctx, channelID)
		return t, fmt.Errorf("persist channel for thread %d: %w", t.ID, err)
	}
	if !changed {
		e.discardChannel(ctx, channelID)
		return next, nil
	}

	log.Info().
		Int64("thread_id", next.ID).
		Str("channel_id", channelID).
		Msg("Re-provisioned relay channel")

	if err := e.postHeader(ctx, next); err != nil {
		log.Warn().Err(err).Int64("thread_id", next.ID).Msg("Failed to post thread header")
	}
	return next, nil
}

// provisionChannel creates a relay channel and absorbs failures, returning ""
// when no channel could be made.
func (e *Engine) provisionChannel(ctx context.Context, ownerKey string, slot CategorySlot) string {
	if !e.settings.SlotConfigured(slot) {
		log.Warn().
			Str("recipient_id", ownerKey).
			Str("slot", string(slot)).
			Msg("Category slot not configured, continuing without relay channel")
		return ""
	}
	channelID, err := e.channels.CreateChannel(ctx, ownerKey, slot)
	if err != nil {
		log.Warn().Err(err).
			Str("recipient_id", ownerKey).
			Str("slot", string(slot)).
			Msg("Failed to provision relay channel")
		return ""
	}
	return strings.TrimSpace(channelID)
}

func (e *Engine) discardChannel(ctx context.Context, channelID string) {
	if channelID == "" {
		return
	}
	if err := e.channels.DeleteChannel(ctx, channelID); err != nil {
		log.Warn().Err(err).Str("channel_id", channelID).Msg("Failed to delete unused relay channel")
	}
}

// moveChannel places the thread's channel in slot. Unconfigured slots and
// provisioner errors are logged and skipped.
func (e *Engine) moveChannel(ctx context.Context, t Thread, slot CategorySlot) {
	if !t.HasChannel() {
		return
	}
	if !e.settings.SlotConfigured(slot) {
		log.Debug().
			Int64("thread_id", t.ID).
			Str("slot", string(slot)).
			Msg("Category slot not configured, channel left in place")
		return
	}
	if err := e.channels.MoveChannel(ctx, t.ChannelID, slot); err != nil {
		log.Warn().Err(err).
			Int64("thread_id", t.ID).
			Str("channel_id", t.ChannelID).
			Str("slot", string(slot)).
			Msg("Failed to move relay channel")
	}
}

func (e *Engine) sendRecipientNotice(ctx context.Context, recipientID string, msg RelayMessage) {
	ok, err := e.transport.SendToRecipient(ctx, recipientID, msg)
	if err != nil || !ok {
		log.Warn().Err(err).
			Str("recipient_id", recipientID).
			Str("title", msg.Title).
			Msg("Failed to deliver notice to recipient")
	}
}

func (e *Engine) publish(ctx context.Context, kind EventType, t Thread, in *Interaction) {
	if e.events == nil {
		return
	}
	event := LifecycleEvent{
		Type:        kind,
		ThreadID:    t.ID,
		RecipientID: t.RecipientID,
		Status:      t.Status,
		OccurredAt:  e.now(),
	}
	if in != nil {
		event.InteractionID = in.ID
		event.Interaction = in.Type
		event.Failed = in.Failed
	}
	if err := e.events.Publish(ctx, event); err != nil {
		log.Warn().Err(err).
			Str("event", string(kind)).
			Int64("thread_id", t.ID).
			Msg("Failed to publish lifecycle event")
	}
}
