package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/modmail/internal/modmail"
)

func (s *Store) IsBlocked(ctx context.Context, recipientID string) (modmail.BlockStatus, error) {
	if err := ctx.Err(); err != nil {
		return modmail.BlockStatus{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocks[recipientID], nil
}

func (s *Store) Block(ctx context.Context, recipientID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[recipientID] = modmail.BlockStatus{Blocked: true, Reason: reason}
	return nil
}

func (s *Store) Unblock(ctx context.Context, recipientID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, recipientID)
	return nil
}

func (s *Store) GetSnippet(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.snippets[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("snippet %q: %w", name, modmail.ErrNotFound)
	}
	return content, nil
}

func (s *Store) PutSnippet(ctx context.Context, name, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snippets[strings.ToLower(name)] = content
	return nil
}

func (s *Store) DeleteSnippet(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(name)
	if _, ok := s.snippets[key]; !ok {
		return fmt.Errorf("snippet %q: %w", name, modmail.ErrNotFound)
	}
	delete(s.snippets, key)
	return nil
}

func (s *Store) ListSnippets(ctx context.Context) ([]modmail.Snippet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]modmail.Snippet, 0, len(s.snippets))
	for name, content := range s.snippets {
		out = append(out, modmail.Snippet{Name: name, Content: content})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
