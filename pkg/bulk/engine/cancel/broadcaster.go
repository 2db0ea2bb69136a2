// Package cancel fans a cancellation request out to the distributed worker
// pool through the shared cache.
package cancel

import (
	"context"
	"time"

	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

const keyPrefix = "marlin:cancelled:"

// flagTTL bounds how long a cancellation flag lives. The durable execution
// status is the source of truth; the flag only makes workers notice sooner.
const flagTTL = 24 * time.Hour

// Broadcaster publishes and observes per-execution cancellation flags.
type Broadcaster struct {
	cache ports.Cache
}

// NewBroadcaster creates a new Broadcaster.
func NewBroadcaster(cache ports.Cache) *Broadcaster {
	return &Broadcaster{cache: cache}
}

// Signal raises the cancellation flag for an execution.
func (b *Broadcaster) Signal(ctx context.Context, executionID string) {
	if err := b.cache.Put(ctx, keyPrefix+executionID, "1", flagTTL); err != nil {
		logger.Warnf("Failed to broadcast cancellation of execution '%s': %v", executionID, err)
	}
}

// IsCancelled reports whether the flag is raised. Cache errors read as "not
// cancelled"; workers re-check the durable status at batch boundaries.
func (b *Broadcaster) IsCancelled(ctx context.Context, executionID string) bool {
	_, found, err := b.cache.Get(ctx, keyPrefix+executionID)
	if err != nil {
		return false
	}
	return found
}

// Clear drops the flag once the execution has fully drained.
func (b *Broadcaster) Clear(ctx context.Context, executionID string) {
	if err := b.cache.Forget(ctx, keyPrefix+executionID); err != nil {
		logger.Warnf("Failed to clear cancellation flag of execution '%s': %v", executionID, err)
	}
}
