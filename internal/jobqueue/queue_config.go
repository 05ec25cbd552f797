/*
Package jobqueue configuration - tunable parameters for the River job queue.

Inbound platform events are queued so the HTTP adapter can acknowledge them
immediately. Jobs are inserted with a single attempt: a failed relay is not
replayed, since a partial replay could record the same interaction twice.

## Quick Configuration Reference:
- MaxWorkers bounds how many events are processed concurrently.
- JobTimeout caps one relay, including platform round trips.

## Database Requirements:
- PostgreSQL with River schema migrations applied (`modmail migrate`)
*/
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueName is the River queue inbound events go to.
const QueueName = "modmail"

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	// Number of concurrent workers processing jobs (default: 10)
	MaxWorkers int

	// Maximum time a single job can run (default: 1 minute)
	JobTimeout time.Duration

	// Attempts per job. Kept at 1; the engine does no internal retries.
	MaxAttempts int
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxWorkers:  10,
		JobTimeout:  time.Minute,
		MaxAttempts: 1,
	}
}

// WithMaxWorkers returns a copy using n workers; n <= 0 keeps the default.
func (c QueueConfig) WithMaxWorkers(n int) QueueConfig {
	if n > 0 {
		c.MaxWorkers = n
	}
	return c
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		QueueName: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}

// insertOpts applies to every job this package inserts.
func (c QueueConfig) insertOpts() *river.InsertOpts {
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &river.InsertOpts{
		Queue:       QueueName,
		MaxAttempts: attempts,
	}
}
