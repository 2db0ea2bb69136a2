package retry

import (
	"errors"
	"time"

	"github.com/tigerroll/marlin/pkg/bulk/core/config"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
)

// RetryPolicy decides whether a failed batch is redelivered and how long to
// wait before the next attempt.
type RetryPolicy interface {
	// ShouldRetry determines if a given error is retryable.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the delay before the next delivery.
	// attempt starts at 1 for the first redelivery.
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxAttempts returns the maximum number of deliveries of one batch.
	GetMaxAttempts() int
}

// NewPolicyFromConfig builds the exponential backoff policy from the engine
// retry configuration.
func NewPolicyFromConfig(cfg *config.EngineConfig) RetryPolicy {
	return &exponentialBackoffPolicy{
		maxAttempts:     cfg.Retry.MaxAttempts,
		initialInterval: time.Duration(cfg.Retry.InitialInterval) * time.Millisecond,
		maxInterval:     time.Duration(cfg.Retry.MaxInterval) * time.Millisecond,
		factor:          cfg.Retry.Factor,
	}
}

type exponentialBackoffPolicy struct {
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	factor          float64
}

func (p *exponentialBackoffPolicy) GetMaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry reports whether the error is transient. A BulkError carries its
// own retryable flag; anything else falls back to the temporary check.
func (p *exponentialBackoffPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var be *exception.BulkError
	if errors.As(err, &be) {
		return be.IsRetryable()
	}
	return exception.IsTemporary(err)
}

func (p *exponentialBackoffPolicy) GetBackoffInterval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	interval := p.initialInterval
	for i := 1; i < attempt; i++ {
		interval = time.Duration(float64(interval) * p.factor)
		if interval >= p.maxInterval {
			return p.maxInterval
		}
	}
	if interval > p.maxInterval {
		interval = p.maxInterval
	}
	return interval
}

// Verify interfaces
var _ RetryPolicy = (*exponentialBackoffPolicy)(nil)
