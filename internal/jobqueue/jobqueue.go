/*
Package jobqueue provides a River-based job queue for inbound platform events.

For configuration options and tuning parameters, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"

	"github.com/modmail/internal/modmail"
)

// Handler is the part of the engine the workers drive.
type Handler interface {
	DeliverRecipientMessage(ctx context.Context, msg modmail.NormalizedMessage) (modmail.InboundResult, error)
	ReplyInChannel(ctx context.Context, channelID string, msg modmail.NormalizedMessage) (modmail.RelayResult, error)
}

// RecipientMessageArgs is a direct message received from a recipient.
type RecipientMessageArgs struct {
	DeliveryID string                    `json:"delivery_id"`
	Message    modmail.NormalizedMessage `json:"message"`
	ReceivedAt time.Time                 `json:"received_at"`
}

// Kind returns the job kind for River
func (RecipientMessageArgs) Kind() string {
	return "modmail_recipient_message"
}

// ModeratorReplyArgs is a message a moderator wrote in a relay channel.
type ModeratorReplyArgs struct {
	DeliveryID string                    `json:"delivery_id"`
	ChannelID  string                    `json:"channel_id"`
	Message    modmail.NormalizedMessage `json:"message"`
	ReceivedAt time.Time                 `json:"received_at"`
}

// Kind returns the job kind for River
func (ModeratorReplyArgs) Kind() string {
	return "modmail_moderator_reply"
}

// RecipientMessageWorker handles recipient message jobs
type RecipientMessageWorker struct {
	river.WorkerDefaults[RecipientMessageArgs]
	handler Handler
	timeout time.Duration
}

func (w *RecipientMessageWorker) Timeout(*river.Job[RecipientMessageArgs]) time.Duration {
	return w.timeout
}

func (w *RecipientMessageWorker) Work(ctx context.Context, job *river.Job[RecipientMessageArgs]) error {
	args := job.Args
	logger := log.With().
		Str("delivery_id", args.DeliveryID).
		Str("recipient_id", args.Message.AuthorID).
		Logger()

	res, err := w.handler.DeliverRecipientMessage(ctx, args.Message)
	if errors.Is(err, modmail.ErrEmptyMessage) {
		logger.Debug().Msg("Dropped empty recipient message")
		return river.JobCancel(err)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to deliver recipient message")
		return err
	}
	if res.Ensure.Blocked() {
		logger.Info().Msg("Recipient is blocked, message not relayed")
		return nil
	}
	if res.Relay != nil {
		logger.Debug().
			Int64("thread_id", res.Relay.Thread.ID).
			Int64("interaction_id", res.Relay.Interaction.ID).
			Msg("Delivered recipient message")
	}
	return nil
}

// ModeratorReplyWorker handles moderator reply jobs
type ModeratorReplyWorker struct {
	river.WorkerDefaults[ModeratorReplyArgs]
	handler Handler
	timeout time.Duration
}

func (w *ModeratorReplyWorker) Timeout(*river.Job[ModeratorReplyArgs]) time.Duration {
	return w.timeout
}

func (w *ModeratorReplyWorker) Work(ctx context.Context, job *river.Job[ModeratorReplyArgs]) error {
	args := job.Args
	logger := log.With().
		Str("delivery_id", args.DeliveryID).
		Str("channel_id", args.ChannelID).
		Logger()

	res, err := w.handler.ReplyInChannel(ctx, args.ChannelID, args.Message)
	switch {
	case errors.Is(err, modmail.ErrNotFound), errors.Is(err, modmail.ErrEmptyMessage):
		// Not a relay channel, or nothing to send.
		logger.Debug().Err(err).Msg("Ignored channel message")
		return river.JobCancel(err)
	case err != nil:
		logger.Error().Err(err).Msg("Failed to relay moderator reply")
		return err
	}
	logger.Debug().
		Int64("thread_id", res.Thread.ID).
		Int64("interaction_id", res.Interaction.ID).
		Bool("failed", res.Interaction.Failed).
		Msg("Relayed moderator reply")
	return nil
}

// NewWorkers registers the modmail workers against handler.
func NewWorkers(handler Handler, config QueueConfig) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker(workers, &RecipientMessageWorker{handler: handler, timeout: config.JobTimeout})
	river.AddWorker(workers, &ModeratorReplyWorker{handler: handler, timeout: config.JobTimeout})
	return workers
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config QueueConfig
}

// NewJobQueue creates a new job queue instance
func NewJobQueue(ctx context.Context, databaseURL string, handler Handler, config QueueConfig) (*JobQueue, error) {
	// Create a pgx connection pool
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: NewWorkers(handler, config),
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers and releases the pool
func (jq *JobQueue) Stop(ctx context.Context) error {
	err := jq.client.Stop(ctx)
	jq.pool.Close()
	return err
}

// EnqueueRecipientMessage queues a direct message and returns its delivery id.
func (jq *JobQueue) EnqueueRecipientMessage(ctx context.Context, msg modmail.NormalizedMessage) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	args := RecipientMessageArgs{
		DeliveryID: uuid.NewString(),
		Message:    msg,
		ReceivedAt: time.Now().UTC(),
	}
	if _, err := jq.client.Insert(ctx, args, jq.config.insertOpts()); err != nil {
		return "", fmt.Errorf("failed to queue recipient message: %w", err)
	}
	return args.DeliveryID, nil
}

// EnqueueModeratorReply queues a relay channel message and returns its delivery id.
func (jq *JobQueue) EnqueueModeratorReply(ctx context.Context, channelID string, msg modmail.NormalizedMessage) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	args := ModeratorReplyArgs{
		DeliveryID: uuid.NewString(),
		ChannelID:  channelID,
		Message:    msg,
		ReceivedAt: time.Now().UTC(),
	}
	if _, err := jq.client.Insert(ctx, args, jq.config.insertOpts()); err != nil {
		return "", fmt.Errorf("failed to queue moderator reply: %w", err)
	}
	return args.DeliveryID, nil
}

// Migrate applies River's schema migrations.
func Migrate(ctx context.Context, databaseURL string) (int, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return 0, fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create River migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to migrate River schema: %w", err)
	}
	return len(res.Versions), nil
}
