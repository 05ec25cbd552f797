package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/modmail/internal/modmail"
)

func (s *Store) IsBlocked(ctx context.Context, recipientID string) (modmail.BlockStatus, error) {
	var (
		status modmail.BlockStatus
		reason sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT blocked, blocked_reason FROM recipients WHERE id = ?`), recipientID,
	).Scan(&status.Blocked, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return modmail.BlockStatus{}, nil
	}
	if err != nil {
		return modmail.BlockStatus{}, fmt.Errorf("check block status: %w", err)
	}
	status.Reason = reason.String
	return status, nil
}

func (s *Store) Block(ctx context.Context, recipientID, reason string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO recipients (id, blocked, blocked_at, blocked_reason)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET blocked = excluded.blocked, blocked_at = excluded.blocked_at, blocked_reason = excluded.blocked_reason`),
		recipientID, true, toMillis(s.now()), reason)
	if err != nil {
		return fmt.Errorf("block recipient: %w", err)
	}
	return nil
}

func (s *Store) Unblock(ctx context.Context, recipientID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE recipients
		SET blocked = ?, blocked_at = NULL, blocked_reason = NULL WHERE id = ?`),
		false, recipientID)
	if err != nil {
		return fmt.Errorf("unblock recipient: %w", err)
	}
	return nil
}

func (s *Store) GetSnippet(ctx context.Context, name string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT content FROM snippets WHERE name = ?`), strings.ToLower(name),
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("snippet %q: %w", name, modmail.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get snippet: %w", err)
	}
	return content, nil
}

func (s *Store) PutSnippet(ctx context.Context, name, content string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO snippets (name, content) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET content = excluded.content`),
		strings.ToLower(name), content)
	if err != nil {
		return fmt.Errorf("put snippet: %w", err)
	}
	return nil
}

func (s *Store) DeleteSnippet(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM snippets WHERE name = ?`), strings.ToLower(name))
	if err != nil {
		return fmt.Errorf("delete snippet: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("snippet %q: %w", name, modmail.ErrNotFound)
	}
	return nil
}

func (s *Store) ListSnippets(ctx context.Context) ([]modmail.Snippet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, content FROM snippets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list snippets: %w", err)
	}
	defer rows.Close()

	out := []modmail.Snippet{}
	for rows.Next() {
		var sn modmail.Snippet
		if err := rows.Scan(&sn.Name, &sn.Content); err != nil {
			return nil, fmt.Errorf("scan snippet: %w", err)
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}
