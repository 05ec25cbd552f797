package modmail

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by operations that require an existing record.
	// Lookups never return it; they return a nil thread instead.
	ErrNotFound = errors.New("not found")

	// ErrUnresolvedRecipient means the recipient's profile could not be fetched.
	ErrUnresolvedRecipient = errors.New("unresolved recipient")

	// ErrInvariantViolation means a transition would leave two OPEN threads
	// for the same recipient.
	ErrInvariantViolation = errors.New("another open thread exists for this recipient")

	// ErrThreadClosed is returned when a transition or relay targets a CLOSED thread.
	ErrThreadClosed = errors.New("thread is closed")

	// ErrThreadNotPersisted is returned when an operation needs a thread id
	// that the store has not assigned yet.
	ErrThreadNotPersisted = errors.New("thread has not been persisted")

	// ErrEmptyMessage rejects a message with neither content nor attachments.
	ErrEmptyMessage = errors.New("message has no content and no attachments")

	// ErrNoRelayChannel means the thread has no relay channel to mirror into.
	ErrNoRelayChannel = errors.New("thread has no relay channel")

	// ErrRelayUndelivered means the relay channel rejected a mirrored message.
	ErrRelayUndelivered = errors.New("relay channel did not accept the message")

	// ErrOpenThreadExists is returned by a Store when creating or reopening a
	// thread collides with the one-open-thread-per-recipient constraint.
	ErrOpenThreadExists = errors.New("open thread already exists for recipient")

	// ErrStaleThread is returned by a Store when a conditional update finds the
	// thread was written since it was read.
	ErrStaleThread = errors.New("thread changed concurrently")
)

// InvariantError reports the OPEN thread that blocks a transition.
type InvariantError struct {
	ThreadID     int64
	OpenThreadID int64
	RecipientID  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("thread %d cannot be reopened: recipient %s already has open thread %d, close it first",
		e.ThreadID, e.RecipientID, e.OpenThreadID)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}
