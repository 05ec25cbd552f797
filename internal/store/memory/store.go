package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/modmail/internal/modmail"
)

var (
	_ modmail.Store             = (*Store)(nil)
	_ modmail.RecipientRegistry = (*Store)(nil)
	_ modmail.SnippetStore      = (*Store)(nil)
	_ modmail.ThreadLog         = (*Store)(nil)
)

// Store keeps threads, interactions, blocks and snippets in process memory.
// It enforces the same constraints as the SQL stores.
type Store struct {
	mu           sync.RWMutex
	nextThread   int64
	nextInteract int64
	threads      map[int64]modmail.Thread
	interactions map[int64][]modmail.Interaction
	blocks       map[string]modmail.BlockStatus
	snippets     map[string]string
	now          func() time.Time
}

func NewStore() *Store {
	return &Store{
		threads:      make(map[int64]modmail.Thread),
		interactions: make(map[int64][]modmail.Interaction),
		blocks:       make(map[string]modmail.BlockStatus),
		snippets:     make(map[string]string),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) FindOpenThread(ctx context.Context, recipientID string) (*modmail.Thread, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.threads {
		if t.RecipientID == recipientID && t.Status == modmail.StatusOpen {
			out := t.Clone()
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) FindThreadByID(ctx context.Context, id int64) (*modmail.Thread, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[id]
	if !ok {
		return nil, nil
	}
	out := t.Clone()
	return &out, nil
}

func (s *Store) FindThreadByChannel(ctx context.Context, channelID string) (*modmail.Thread, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *modmail.Thread
	for _, t := range s.threads {
		if t.ChannelID != channelID {
			continue
		}
		// Prefer the newest thread if a channel id was ever reused.
		if found == nil || t.ID > found.ID {
			out := t.Clone()
			found = &out
		}
	}
	return found, nil
}

func (s *Store) CreateThread(ctx context.Context, thread modmail.Thread) (modmail.Thread, error) {
	if err := ctx.Err(); err != nil {
		return modmail.Thread{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if thread.Status == modmail.StatusOpen && s.hasOpenLocked(thread.RecipientID, 0) {
		return modmail.Thread{}, modmail.ErrOpenThreadExists
	}
	s.nextThread++
	stored := thread.Clone()
	stored.ID = s.nextThread
	if stored.SubscriberIDs == nil {
		stored.SubscriberIDs = []string{}
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	stored.Version = 1
	s.threads[stored.ID] = stored
	return stored.Clone(), nil
}

func (s *Store) UpdateThread(ctx context.Context, thread modmail.Thread) (modmail.Thread, error) {
	if err := ctx.Err(); err != nil {
		return modmail.Thread{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.threads[thread.ID]
	if !ok {
		return modmail.Thread{}, fmt.Errorf("thread %d: %w", thread.ID, modmail.ErrNotFound)
	}
	if cur.Version != thread.Version {
		return modmail.Thread{}, modmail.ErrStaleThread
	}
	if thread.Status == modmail.StatusOpen && s.hasOpenLocked(cur.RecipientID, cur.ID) {
		return modmail.Thread{}, modmail.ErrOpenThreadExists
	}
	next := thread.Clone()
	next.RecipientID = cur.RecipientID
	next.CreatedAt = cur.CreatedAt
	if next.SubscriberIDs == nil {
		next.SubscriberIDs = []string{}
	}
	next.Version = cur.Version + 1
	s.threads[cur.ID] = next
	return next.Clone(), nil
}

func (s *Store) hasOpenLocked(recipientID string, except int64) bool {
	for id, t := range s.threads {
		if id != except && t.RecipientID == recipientID && t.Status == modmail.StatusOpen {
			return true
		}
	}
	return false
}

func (s *Store) CreateInteraction(ctx context.Context, in modmail.Interaction) (modmail.Interaction, error) {
	if err := ctx.Err(); err != nil {
		return modmail.Interaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[in.ThreadID]; !ok {
		return modmail.Interaction{}, fmt.Errorf("thread %d: %w", in.ThreadID, modmail.ErrNotFound)
	}
	s.nextInteract++
	stored := in
	stored.ID = s.nextInteract
	stored.Attachments = slices.Clone(in.Attachments)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.interactions[in.ThreadID] = append(s.interactions[in.ThreadID], stored)
	return stored, nil
}

func (s *Store) ListInteractions(ctx context.Context, threadID int64) ([]modmail.Interaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.interactions[threadID]
	out := make([]modmail.Interaction, 0, len(src))
	for _, in := range src {
		in.Attachments = slices.Clone(in.Attachments)
		out = append(out, in)
	}
	return out, nil
}

func (s *Store) ListClosedThreadsForRecipient(ctx context.Context, recipientID string) ([]modmail.Thread, error) {
	threads, err := s.ListThreadsForRecipient(ctx, recipientID, 0)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(threads, func(t modmail.Thread) bool {
		return t.Status != modmail.StatusClosed
	}), nil
}

// ListThreadsForRecipient returns the recipient's threads newest first. A
// limit of zero or less returns all of them.
func (s *Store) ListThreadsForRecipient(ctx context.Context, recipientID string, limit int) ([]modmail.Thread, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []modmail.Thread
	for _, t := range s.threads {
		if t.RecipientID == recipientID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
