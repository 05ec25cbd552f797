// Package eventbus appends modmail lifecycle events to a Redis stream.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/modmail/internal/modmail"
)

var _ modmail.EventPublisher = (*Publisher)(nil)

// DefaultStream is used when no stream name is configured.
const DefaultStream = "modmail:events"

// maxStreamLen bounds the stream; trimming is approximate.
const maxStreamLen = 10000

// Publisher writes one stream entry per event.
type Publisher struct {
	client *redis.Client
	stream string
}

// Connect parses a redis:// URL and checks the server answers.
func Connect(ctx context.Context, url, stream string) (*Publisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("eventbus: redis url is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("eventbus: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("eventbus: ping redis: %w", err)
	}
	return New(client, stream), nil
}

// New wraps an existing client.
func New(client *redis.Client, stream string) *Publisher {
	if strings.TrimSpace(stream) == "" {
		stream = DefaultStream
	}
	return &Publisher{client: client, stream: stream}
}

// Stream returns the stream name entries are appended to.
func (p *Publisher) Stream() string {
	return p.stream
}

// Publish appends event. The full event is stored as JSON under "payload";
// type and ids are duplicated as plain fields for consumers that filter.
func (p *Publisher) Publish(ctx context.Context, event modmail.LifecycleEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventbus: encode event: %w", err)
	}
	values := map[string]any{
		"type":         string(event.Type),
		"thread_id":    strconv.FormatInt(event.ThreadID, 10),
		"recipient_id": event.RecipientID,
		"payload":      string(payload),
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("eventbus: xadd %s: %w", p.stream, err)
	}
	return nil
}

// Close releases the redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Decode reads an event back from a stream entry.
func Decode(msg redis.XMessage) (modmail.LifecycleEvent, error) {
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return modmail.LifecycleEvent{}, fmt.Errorf("eventbus: entry %s has no payload", msg.ID)
	}
	var event modmail.LifecycleEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return modmail.LifecycleEvent{}, fmt.Errorf("eventbus: decode entry %s: %w", msg.ID, err)
	}
	return event, nil
}
