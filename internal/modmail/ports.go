package modmail

import (
	"context"
	"strings"
	"time"
)

// Store persists threads and interactions. It holds no business logic.
// Lookups return a nil thread and a nil error when nothing matches.
type Store interface {
	FindOpenThread(ctx context.Context, recipientID string) (*Thread, error)
	FindThreadByID(ctx context.Context, id int64) (*Thread, error)
	FindThreadByChannel(ctx context.Context, channelID string) (*Thread, error)

	// CreateThread assigns an id and returns the stored thread. It returns
	// ErrOpenThreadExists if the recipient already has an OPEN thread.
	CreateThread(ctx context.Context, thread Thread) (Thread, error)

	// UpdateThread overwrites the mutable fields of thread.ID only while the
	// stored version still equals thread.Version, and returns the stored
	// snapshot with the bumped version. It returns ErrStaleThread when another
	// write got there first, and ErrOpenThreadExists when the write would
	// reopen a second thread for the recipient.
	UpdateThread(ctx context.Context, thread Thread) (Thread, error)

	CreateInteraction(ctx context.Context, interaction Interaction) (Interaction, error)
	ListInteractions(ctx context.Context, threadID int64) ([]Interaction, error)
	ListClosedThreadsForRecipient(ctx context.Context, recipientID string) ([]Thread, error)
}

// BlockRegistry answers whether a recipient may open threads.
type BlockRegistry interface {
	IsBlocked(ctx context.Context, recipientID string) (BlockStatus, error)
}

// ChannelProvisioner manages relay channels inside category slots.
type ChannelProvisioner interface {
	CreateChannel(ctx context.Context, ownerKey string, slot CategorySlot) (string, error)
	MoveChannel(ctx context.Context, channelID string, slot CategorySlot) error
	DeleteChannel(ctx context.Context, channelID string) error
	ChannelExists(ctx context.Context, channelID string) (bool, error)
}

// Transport delivers rendered messages. The bool reports whether the platform
// accepted the message; an error means the send could not be attempted.
type Transport interface {
	SendToRecipient(ctx context.Context, recipientID string, msg RelayMessage) (bool, error)
	SendToChannel(ctx context.Context, channelID string, msg RelayMessage) (bool, error)
}

// ProfileResolver looks up platform identities.
type ProfileResolver interface {
	ResolveRecipient(ctx context.Context, recipientID string) (RecipientProfile, error)
	// ResolveMember returns nil when the recipient is not a member of communityID.
	ResolveMember(ctx context.Context, communityID, recipientID string) (*MemberProfile, error)
}

// EventPublisher receives lifecycle events. Publishing is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, event LifecycleEvent) error
}

// EventType names a lifecycle event.
type EventType string

const (
	EventThreadCreated       EventType = "thread.created"
	EventThreadClosed        EventType = "thread.closed"
	EventThreadSuspended     EventType = "thread.suspended"
	EventThreadUnsuspended   EventType = "thread.unsuspended"
	EventThreadAnswered      EventType = "thread.answered"
	EventInteractionRecorded EventType = "interaction.recorded"
)

// LifecycleEvent describes a change the engine committed.
type LifecycleEvent struct {
	Type          EventType       `json:"type"`
	ThreadID      int64           `json:"thread_id"`
	RecipientID   string          `json:"recipient_id"`
	Status        Status          `json:"status"`
	InteractionID int64           `json:"interaction_id,omitempty"`
	Interaction   InteractionType `json:"interaction_type,omitempty"`
	Failed        bool            `json:"failed,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Settings is the explicit platform context handed to the engine. Every id is
// optional and checked when it is needed.
type Settings struct {
	RootCommunityID  string
	InboxCommunityID string
	Categories       map[CategorySlot]string
}

// InboxCommunity is where relay channels live; it falls back to the root community.
func (s Settings) InboxCommunity() string {
	if id := strings.TrimSpace(s.InboxCommunityID); id != "" {
		return id
	}
	return strings.TrimSpace(s.RootCommunityID)
}

// CategoryID returns the configured category for slot, or "".
func (s Settings) CategoryID(slot CategorySlot) string {
	if s.Categories == nil {
		return ""
	}
	return strings.TrimSpace(s.Categories[slot])
}

// SlotConfigured reports whether slot maps to a category.
func (s Settings) SlotConfigured(slot CategorySlot) bool {
	return s.CategoryID(slot) != ""
}

// RecipientRegistry is the writable side of the block registry used by
// operator tooling.
type RecipientRegistry interface {
	BlockRegistry
	Block(ctx context.Context, recipientID, reason string) error
	Unblock(ctx context.Context, recipientID string) error
}

// SnippetStore manages canned replies.
type SnippetStore interface {
	SnippetSource
	PutSnippet(ctx context.Context, name, content string) error
	DeleteSnippet(ctx context.Context, name string) error
	ListSnippets(ctx context.Context) ([]Snippet, error)
}

// Snippet is a named canned reply.
type Snippet struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ThreadLog lists a recipient's threads, newest first.
type ThreadLog interface {
	ListThreadsForRecipient(ctx context.Context, recipientID string, limit int) ([]Thread, error)
}

// DefaultLogLimit is how many threads a log listing returns by default.
const DefaultLogLimit = 12
