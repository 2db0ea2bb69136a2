// Package ports declares the interfaces of external collaborators consumed by
// the engine: the authorization decision, the work queue, the best-effort cache
// and the fire-and-forget event sink. Concrete implementations live under
// pkg/bulk/infrastructure.
package ports

import (
	"context"
	"time"

	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
)

// Authorizer supplies the boolean policy decision evaluated at submission.
// The engine consumes only the decision; policy evaluation itself is external.
type Authorizer interface {
	Authorize(ctx context.Context, actor, action, entityType string) (bool, error)
}

// BatchMessage is one unit of work on the queue: a pointer to a Batch row.
type BatchMessage struct {
	MessageID   string `json:"message_id"`
	ExecutionID string `json:"execution_id"`
	BatchID     string `json:"batch_id"`
	Sequence    int    `json:"sequence"`
	// Attempt counts deliveries of this message, starting at 1 on first receive.
	Attempt int `json:"attempt"`
}

// WorkQueue is the shared batch queue the distributed worker pool pulls from.
// Receive blocks until a message is available or ctx is done. A received message
// must be settled with exactly one of Ack, Nack or DeadLetter.
type WorkQueue interface {
	Enqueue(ctx context.Context, msg BatchMessage) error
	Receive(ctx context.Context) (BatchMessage, error)
	// Ack settles the message after successful processing.
	Ack(ctx context.Context, msg BatchMessage) error
	// Nack re-enqueues the message for another delivery after the given delay,
	// incrementing its attempt counter.
	Nack(ctx context.Context, msg BatchMessage, delay time.Duration) error
	// DeadLetter moves the message to the dead-letter store for inspection.
	DeadLetter(ctx context.Context, msg BatchMessage) error
}

// Cache is a TTL key-value store for progress checkpoints, cancellation flags
// and gate cooldowns. It is best-effort and never authoritative: every consumer
// must degrade gracefully when an entry is missing.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Forget(ctx context.Context, key string) error
	// TTL returns the remaining lifetime of a key, or zero when absent.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Notifier is the fire-and-forget event sink for lifecycle notifications.
// Implementations must not block the engine; failures are logged, never surfaced.
type Notifier interface {
	NotifySubmitted(ctx context.Context, execution *model.Execution)
	NotifyProgress(ctx context.Context, execution *model.Execution, percent float64)
	NotifyTerminal(ctx context.Context, execution *model.Execution)
	NotifyUndoCompleted(ctx context.Context, execution *model.Execution, restored, failed int)
}
