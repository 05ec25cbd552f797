package modmail

import (
	"slices"
	"strings"
	"time"
)

// Status is the lifecycle state of a thread.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusSuspended Status = "SUSPENDED"
	StatusClosed    Status = "CLOSED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusSuspended, StatusClosed:
		return true
	}
	return false
}

// CategorySlot is a placement bucket for a relay channel.
type CategorySlot string

const (
	SlotPending    CategorySlot = "pending"
	SlotInProgress CategorySlot = "in_progress"
	SlotSuspended  CategorySlot = "suspended"
)

// InteractionType tells which side of the conversation produced a message.
type InteractionType string

const (
	InteractionRecipient InteractionType = "RECIPIENT"
	InteractionModerator InteractionType = "MODERATOR"
)

// Thread is one moderation conversation between a recipient and the moderators.
// Values are snapshots: the engine never mutates a Thread it handed out.
type Thread struct {
	ID            int64      `json:"id"`
	RecipientID   string     `json:"recipient_id"`
	Status        Status     `json:"status"`
	ChannelID     string     `json:"channel_id,omitempty"`
	IsAnswered    bool       `json:"is_answered"`
	SubscriberIDs []string   `json:"subscriber_ids"`
	CreatedAt     time.Time  `json:"created_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	// Version increases with every stored write.
	Version int64 `json:"version"`
}

// Persisted reports whether the store has assigned the thread an id.
func (t Thread) Persisted() bool {
	return t.ID != 0
}

// HasChannel reports whether a relay channel is recorded for the thread.
func (t Thread) HasChannel() bool {
	return strings.TrimSpace(t.ChannelID) != ""
}

// HasSubscriber reports whether operatorID is subscribed to the thread.
func (t Thread) HasSubscriber(operatorID string) bool {
	return slices.Contains(t.SubscriberIDs, operatorID)
}

// Slot is the category a thread's relay channel belongs in.
func (t Thread) Slot() CategorySlot {
	switch {
	case t.Status == StatusSuspended:
		return SlotSuspended
	case t.IsAnswered:
		return SlotInProgress
	default:
		return SlotPending
	}
}

// Clone returns a deep copy so callers can derive a new snapshot safely.
func (t Thread) Clone() Thread {
	out := t
	out.SubscriberIDs = slices.Clone(t.SubscriberIDs)
	if t.ClosedAt != nil {
		closedAt := *t.ClosedAt
		out.ClosedAt = &closedAt
	}
	return out
}

// Attachment is a named file reference relayed with a message.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Interaction is one persisted relay event within a thread.
type Interaction struct {
	ID          int64           `json:"id"`
	ThreadID    int64           `json:"thread_id"`
	Type        InteractionType `json:"type"`
	Content     string          `json:"content"`
	Attachments []Attachment    `json:"attachments"`
	AuthorID    string          `json:"author_id"`
	Failed      bool            `json:"failed"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NormalizedMessage is the only message shape the engine consumes. Adapters
// convert platform messages into it before calling in.
type NormalizedMessage struct {
	AuthorID    string       `json:"author_id"`
	AuthorName  string       `json:"author_name,omitempty"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Validate rejects messages that carry nothing to relay.
// Empty content is fine as long as an attachment is present.
func (m NormalizedMessage) Validate() error {
	if strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0 {
		return ErrEmptyMessage
	}
	return nil
}

// DisplayName is the author identity shown in relayed messages.
func (m NormalizedMessage) DisplayName() string {
	if name := strings.TrimSpace(m.AuthorName); name != "" {
		return name
	}
	return m.AuthorID
}

// BlockStatus is the block registry's answer for a recipient.
type BlockStatus struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
}

// RecipientProfile is the platform identity of a recipient.
type RecipientProfile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// MemberProfile describes a recipient's membership in a community.
type MemberProfile struct {
	Nickname string    `json:"nickname,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}
