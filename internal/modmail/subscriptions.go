package modmail

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
)

// Subscribe adds operatorID to the thread's subscribers. Subscribers are
// mentioned on every relayed recipient message.
func (e *Engine) Subscribe(ctx context.Context, threadID int64, operatorID string) (Thread, error) {
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return Thread{}, fmt.Errorf("subscribe: empty operator id")
	}
	t, changed, err := e.apply(ctx, threadID, func(cur Thread) (Thread, bool, error) {
		if cur.Status == StatusClosed {
			return cur, false, fmt.Errorf("subscribe to thread %d: %w", cur.ID, ErrThreadClosed)
		}
		if cur.HasSubscriber(operatorID) {
			return cur, false, nil
		}
		next := cur.Clone()
		next.SubscriberIDs = append(next.SubscriberIDs, operatorID)
		return next, true, nil
	})
	if err == nil && changed {
		log.Debug().Int64("thread_id", t.ID).Str("operator_id", operatorID).Msg("Subscribed to thread")
	}
	return t, err
}

// Unsubscribe removes operatorID from the thread's subscribers.
func (e *Engine) Unsubscribe(ctx context.Context, threadID int64, operatorID string) (Thread, error) {
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return Thread{}, fmt.Errorf("unsubscribe: empty operator id")
	}
	t, changed, err := e.apply(ctx, threadID, func(cur Thread) (Thread, bool, error) {
		if cur.Status == StatusClosed {
			return cur, false, fmt.Errorf("unsubscribe from thread %d: %w", cur.ID, ErrThreadClosed)
		}
		if !cur.HasSubscriber(operatorID) {
			return cur, false, nil
		}
		next := cur.Clone()
		next.SubscriberIDs = slices.DeleteFunc(next.SubscriberIDs, func(id string) bool { return id == operatorID })
		return next, true, nil
	})
	if err == nil && changed {
		log.Debug().Int64("thread_id", t.ID).Str("operator_id", operatorID).Msg("Unsubscribed from thread")
	}
	return t, err
}
