// Package sqlstore implements the thread store on database/sql. The postgres
// and sqlite packages open a handle, run their migrations and wrap it.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/modmail/internal/database"
	"github.com/modmail/internal/modmail"
)

var (
	_ modmail.Store             = (*Store)(nil)
	_ modmail.RecipientRegistry = (*Store)(nil)
	_ modmail.SnippetStore      = (*Store)(nil)
	_ modmail.ThreadLog         = (*Store)(nil)
)

// Store persists threads, interactions, blocks and snippets.
type Store struct {
	db         *sql.DB
	dialect    database.Dialect
	isConflict func(error) bool
	now        func() time.Time
}

// New wraps db. isConflict reports unique constraint violations for the
// driver in use.
func New(db *sql.DB, dialect database.Dialect, isConflict func(error) bool) *Store {
	return &Store{
		db:         db,
		dialect:    dialect,
		isConflict: isConflict,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites ? markers for dialects with numbered placeholders.
func (s *Store) rebind(query string) string {
	if s.dialect != database.Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

const threadColumns = `id, recipient_id, status, channel_id, is_answered, subscriber_ids, created_at, closed_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (modmail.Thread, error) {
	var (
		t           modmail.Thread
		status      string
		channelID   sql.NullString
		subscribers string
		createdAt   int64
		closedAt    sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.RecipientID, &status, &channelID, &t.IsAnswered, &subscribers, &createdAt, &closedAt, &t.Version); err != nil {
		return modmail.Thread{}, err
	}
	t.Status = modmail.Status(status)
	t.ChannelID = channelID.String
	t.CreatedAt = fromMillis(createdAt)
	if closedAt.Valid {
		ts := fromMillis(closedAt.Int64)
		t.ClosedAt = &ts
	}
	t.SubscriberIDs = []string{}
	if subscribers != "" {
		if err := json.Unmarshal([]byte(subscribers), &t.SubscriberIDs); err != nil {
			return modmail.Thread{}, fmt.Errorf("decode subscribers of thread %d: %w", t.ID, err)
		}
	}
	return t, nil
}

func encodeSubscribers(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullableChannel(id string) sql.NullString {
	id = strings.TrimSpace(id)
	return sql.NullString{String: id, Valid: id != ""}
}

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func (s *Store) findOne(ctx context.Context, where string, args ...any) (*modmail.Thread, error) {
	query := s.rebind(`SELECT ` + threadColumns + ` FROM threads WHERE ` + where + ` ORDER BY id DESC LIMIT 1`)
	t, err := scanThread(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) FindOpenThread(ctx context.Context, recipientID string) (*modmail.Thread, error) {
	return s.findOne(ctx, `recipient_id = ? AND status = ?`, recipientID, string(modmail.StatusOpen))
}

func (s *Store) FindThreadByID(ctx context.Context, id int64) (*modmail.Thread, error) {
	return s.findOne(ctx, `id = ?`, id)
}

func (s *Store) FindThreadByChannel(ctx context.Context, channelID string) (*modmail.Thread, error) {
	return s.findOne(ctx, `channel_id = ?`, channelID)
}

func (s *Store) CreateThread(ctx context.Context, thread modmail.Thread) (modmail.Thread, error) {
	if err := ctx.Err(); err != nil {
		return modmail.Thread{}, err
	}
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = s.now()
	}
	subscribers, err := encodeSubscribers(thread.SubscriberIDs)
	if err != nil {
		return modmail.Thread{}, fmt.Errorf("encode subscribers: %w", err)
	}

	query := s.rebind(`INSERT INTO threads (recipient_id, status, channel_id, is_answered, subscriber_ids, created_at, closed_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		RETURNING ` + threadColumns)
	stored, err := scanThread(s.db.QueryRowContext(ctx, query,
		thread.RecipientID,
		string(thread.Status),
		nullableChannel(thread.ChannelID),
		thread.IsAnswered,
		subscribers,
		toMillis(thread.CreatedAt),
		nullableMillis(thread.ClosedAt),
	))
	if err != nil {
		if s.isConflict(err) {
			return modmail.Thread{}, modmail.ErrOpenThreadExists
		}
		return modmail.Thread{}, fmt.Errorf("insert thread: %w", err)
	}
	return stored, nil
}

func (s *Store) UpdateThread(ctx context.Context, thread modmail.Thread) (modmail.Thread, error) {
	if err := ctx.Err(); err != nil {
		return modmail.Thread{}, err
	}
	subscribers, err := encodeSubscribers(thread.SubscriberIDs)
	if err != nil {
		return modmail.Thread{}, fmt.Errorf("encode subscribers: %w", err)
	}

	query := s.rebind(`UPDATE threads
		SET status = ?, channel_id = ?, is_answered = ?, subscriber_ids = ?, closed_at = ?, version = version + 1
		WHERE id = ? AND version = ?
		RETURNING ` + threadColumns)
	stored, err := scanThread(s.db.QueryRowContext(ctx, query,
		string(thread.Status),
		nullableChannel(thread.ChannelID),
		thread.IsAnswered,
		subscribers,
		nullableMillis(thread.ClosedAt),
		thread.ID,
		thread.Version,
	))
	if err == nil {
		return stored, nil
	}
	if s.isConflict(err) {
		return modmail.Thread{}, modmail.ErrOpenThreadExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return modmail.Thread{}, fmt.Errorf("update thread %d: %w", thread.ID, err)
	}

	existing, err := s.FindThreadByID(ctx, thread.ID)
	if err != nil {
		return modmail.Thread{}, err
	}
	if existing == nil {
		return modmail.Thread{}, fmt.Errorf("thread %d: %w", thread.ID, modmail.ErrNotFound)
	}
	return modmail.Thread{}, modmail.ErrStaleThread
}

func (s *Store) CreateInteraction(ctx context.Context, in modmail.Interaction) (modmail.Interaction, error) {
	if err := ctx.Err(); err != nil {
		return modmail.Interaction{}, err
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = s.now()
	}
	attachments := in.Attachments
	if attachments == nil {
		attachments = []modmail.Attachment{}
	}
	encoded, err := json.Marshal(attachments)
	if err != nil {
		return modmail.Interaction{}, fmt.Errorf("encode attachments: %w", err)
	}

	query := s.rebind(`INSERT INTO interactions (thread_id, type, content, attachments, author_id, failed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	if err := s.db.QueryRowContext(ctx, query,
		in.ThreadID,
		string(in.Type),
		in.Content,
		string(encoded),
		in.AuthorID,
		in.Failed,
		toMillis(in.CreatedAt),
	).Scan(&in.ID); err != nil {
		return modmail.Interaction{}, fmt.Errorf("insert interaction: %w", err)
	}
	in.CreatedAt = fromMillis(toMillis(in.CreatedAt))
	return in, nil
}

func (s *Store) ListInteractions(ctx context.Context, threadID int64) ([]modmail.Interaction, error) {
	query := s.rebind(`SELECT id, thread_id, type, content, attachments, author_id, failed, created_at
		FROM interactions WHERE thread_id = ? ORDER BY id`)
	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	out := []modmail.Interaction{}
	for rows.Next() {
		var (
			in          modmail.Interaction
			kind        string
			attachments string
			createdAt   int64
		)
		if err := rows.Scan(&in.ID, &in.ThreadID, &kind, &in.Content, &attachments, &in.AuthorID, &in.Failed, &createdAt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		in.Type = modmail.InteractionType(kind)
		in.CreatedAt = fromMillis(createdAt)
		if attachments != "" {
			if err := json.Unmarshal([]byte(attachments), &in.Attachments); err != nil {
				return nil, fmt.Errorf("decode attachments of interaction %d: %w", in.ID, err)
			}
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Store) ListClosedThreadsForRecipient(ctx context.Context, recipientID string) ([]modmail.Thread, error) {
	return s.listThreads(ctx, `recipient_id = ? AND status = ?`, 0, recipientID, string(modmail.StatusClosed))
}

// ListThreadsForRecipient returns the recipient's threads newest first. A
// limit of zero or less returns all of them.
func (s *Store) ListThreadsForRecipient(ctx context.Context, recipientID string, limit int) ([]modmail.Thread, error) {
	return s.listThreads(ctx, `recipient_id = ?`, limit, recipientID)
}

func (s *Store) listThreads(ctx context.Context, where string, limit int, args ...any) ([]modmail.Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads WHERE ` + where + ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	out := []modmail.Thread{}
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
