package modmail

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// step derives the next snapshot from the current one. changed is false when
// the thread is already in the requested state. A step may run more than once.
type step func(cur Thread) (next Thread, changed bool, err error)

// maxApplyAttempts bounds how often apply re-reads a thread that keeps being
// written underneath it.
const maxApplyAttempts = 3

// apply reads the thread fresh, runs fn and writes the result conditionally on
// the version it read. When another write lands first the thread is read again
// and fn re-derives the snapshot from it, so concurrent changes to other fields
// are kept.
func (e *Engine) apply(ctx context.Context, id int64, fn step) (Thread, bool, error) {
	for attempt := 1; ; attempt++ {
		cur, err := e.load(ctx, id)
		if err != nil {
			return Thread{}, false, err
		}
		next, changed, err := fn(cur)
		if err != nil || !changed {
			return cur, false, err
		}

		stored, err := e.store.UpdateThread(ctx, next)
		if err == nil {
			return stored, true, nil
		}
		if !errors.Is(err, ErrStaleThread) {
			return cur, false, fmt.Errorf("update thread %d: %w", id, err)
		}
		if attempt == maxApplyAttempts {
			return cur, false, fmt.Errorf("update thread %d: %w", id, err)
		}
		log.Debug().Int64("thread_id", id).Int("attempt", attempt).Msg("Thread changed concurrently, re-reading")
	}
}

// Close moves the thread to CLOSED and removes its relay channel. Closing a
// closed thread returns it unchanged.
func (e *Engine) Close(ctx context.Context, threadID int64) (Thread, error) {
	closed, changed, err := e.apply(ctx, threadID, func(cur Thread) (Thread, bool, error) {
		if cur.Status == StatusClosed {
			return cur, false, nil
		}
		next := cur.Clone()
		next.Status = StatusClosed
		closedAt := e.now()
		next.ClosedAt = &closedAt
		return next, true, nil
	})
	if err != nil || !changed {
		return closed, err
	}
	e.profileCache.evict(closed.ID)

	if closed.HasChannel() {
		if err := e.channels.DeleteChannel(ctx, closed.ChannelID); err != nil {
			log.Warn().Err(err).
				Int64("thread_id", closed.ID).
				Str("channel_id", closed.ChannelID).
				Msg("Failed to delete relay channel on close")
		} else {
			cleared, _, err := e.apply(ctx, closed.ID, clearChannel(closed.ChannelID))
			if err != nil {
				log.Warn().Err(err).Int64("thread_id", closed.ID).Msg("Failed to clear channel of closed thread")
			} else {
				closed = cleared
			}
		}
	}

	log.Info().
		Int64("thread_id", closed.ID).
		Str("recipient_id", closed.RecipientID).
		Msg("Closed thread")
	e.publish(ctx, EventThreadClosed, closed, nil)
	return closed, nil
}

// Suspend parks an OPEN thread. Suspending a suspended thread is a no-op.
func (e *Engine) Suspend(ctx context.Context, threadID int64) (Thread, error) {
	t, changed, err := e.apply(ctx, threadID, func(cur Thread) (Thread, bool, error) {
		switch cur.Status {
		case StatusSuspended:
			return cur, false, nil
		case StatusClosed:
			return cur, false, fmt.Errorf("suspend thread %d: %w", cur.ID, ErrThreadClosed)
		}
		next := cur.Clone()
		next.Status = StatusSuspended
		return next, true, nil
	})
	if err != nil || !changed {
		return t, err
	}

	e.moveChannel(ctx, t, SlotSuspended)
	log.Info().Int64("thread_id", t.ID).Msg("Suspended thread")
	e.publish(ctx, EventThreadSuspended, t, nil)
	return t, nil
}

// Unsuspend reopens a suspended thread. It fails with an *InvariantError when
// the recipient already has another OPEN thread.
func (e *Engine) Unsuspend(ctx context.Context, threadID int64) (Thread, error) {
	t, changed, err := e.apply(ctx, threadID, func(cur Thread) (Thread, bool, error) {
		switch cur.Status {
		case StatusOpen:
			return cur, false, nil
		case StatusClosed:
			return cur, false, fmt.Errorf("unsuspend thread %d: %w", cur.ID, ErrThreadClosed)
		}
		other, err := e.store.FindOpenThread(ctx, cur.RecipientID)
		if err != nil {
			return cur, false, fmt.Errorf("find open thread: %w", err)
		}
		if other != nil && other.ID != cur.ID {
			return cur, false, &InvariantError{ThreadID: cur.ID, OpenThreadID: other.ID, RecipientID: cur.RecipientID}
		}
		next := cur.Clone()
		next.Status = StatusOpen
		return next, true, nil
	})
	if errors.Is(err, ErrOpenThreadExists) {
		return t, e.invariantConflict(ctx, t)
	}
	if err != nil || !changed {
		return t, err
	}

	e.moveChannel(ctx, t, SlotPending)
	log.Info().Int64("thread_id", t.ID).Msg("Unsuspended thread")
	e.publish(ctx, EventThreadUnsuspended, t, nil)
	return t, nil
}

// invariantConflict builds the error for a reopen that the store refused
// because another OPEN thread won the race.
func (e *Engine) invariantConflict(ctx context.Context, t Thread) error {
	ie := &InvariantError{ThreadID: t.ID, RecipientID: t.RecipientID}
	if other, err := e.store.FindOpenThread(ctx, t.RecipientID); err == nil && other != nil {
		ie.OpenThreadID = other.ID
	}
	return ie
}

// MarkAsAnswered flags the thread as answered and moves its channel to the
// in-progress category. Closed threads are left untouched.
func (e *Engine) MarkAsAnswered(ctx context.Context, threadID int64) (Thread, error) {
	t, changed, err := e.apply(ctx, threadID, setAnswered(true))
	if err != nil || !changed {
		return t, err
	}
	e.moveChannel(ctx, t, t.Slot())
	e.publish(ctx, EventThreadAnswered, t, nil)
	return t, nil
}

func setAnswered(answered bool) step {
	return func(cur Thread) (Thread, bool, error) {
		if cur.Status == StatusClosed || cur.IsAnswered == answered {
			return cur, false, nil
		}
		next := cur.Clone()
		next.IsAnswered = answered
		return next, true, nil
	}
}

// clearChannel forgets channelID unless the thread has moved on to another channel.
func clearChannel(channelID string) step {
	return func(cur Thread) (Thread, bool, error) {
		if cur.ChannelID != channelID {
			return cur, false, nil
		}
		next := cur.Clone()
		next.ChannelID = ""
		return next, true, nil
	}
}
