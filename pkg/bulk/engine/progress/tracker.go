// Package progress maintains per-execution completion checkpoints and derives
// percentage and time-remaining estimates from them.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tigerroll/marlin/pkg/bulk/core/config"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

const moduleName = "progress"

const (
	checkpointKeyPrefix = "marlin:progress:checkpoints:"
	notifyKeyPrefix     = "marlin:progress:notified:"
)

// Tracker records completion checkpoints in the cache and reports progress.
// Checkpoints are a bounded ring: only the most recent window is kept, so the
// ETA reflects recent throughput rather than lifetime average.
type Tracker struct {
	cache    ports.Cache
	notifier ports.Notifier
	cfg      *config.ProgressConfig
}

// NewTracker creates a new Tracker.
func NewTracker(cache ports.Cache, notifier ports.Notifier, cfg *config.ProgressConfig) *Tracker {
	return &Tracker{cache: cache, notifier: notifier, cfg: cfg}
}

// Initialize seeds the checkpoint ring with a zero sample at start time.
func (t *Tracker) Initialize(ctx context.Context, execution *model.Execution) error {
	return t.store(ctx, execution.ID, []model.ProgressCheckpoint{{Count: 0, Timestamp: time.Now()}})
}

// Update appends a checkpoint for the execution's current completed count and
// emits a throttled progress notification. The notification for a terminal
// execution is always sent.
func (t *Tracker) Update(ctx context.Context, execution *model.Execution) error {
	checkpoints, err := t.load(ctx, execution.ID)
	if err != nil {
		return err
	}
	checkpoints = append(checkpoints, model.ProgressCheckpoint{
		Count:     execution.ProcessedRecords + execution.FailedRecords,
		Timestamp: time.Now(),
	})
	if window := t.cfg.CheckpointWindow; window > 0 && len(checkpoints) > window {
		checkpoints = checkpoints[len(checkpoints)-window:]
	}
	if err := t.store(ctx, execution.ID, checkpoints); err != nil {
		return err
	}

	t.notify(ctx, execution)
	return nil
}

// GetProgress returns the completion percentage, clamped to [0, 100].
// An execution with no targets reports 0 until it reaches a terminal state.
func (t *Tracker) GetProgress(execution *model.Execution) float64 {
	if execution.TotalRecords <= 0 {
		if execution.Status.IsTerminal() {
			return 100
		}
		return 0
	}
	pct := float64(execution.ProcessedRecords+execution.FailedRecords) / float64(execution.TotalRecords) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// GetEstimatedTimeRemaining derives an ETA from the checkpoint ring. It returns
// (0, false) when there are fewer than two checkpoints, when the observed rate
// is not positive, or when the execution is already terminal.
func (t *Tracker) GetEstimatedTimeRemaining(ctx context.Context, execution *model.Execution) (time.Duration, bool) {
	if execution.Status.IsTerminal() {
		return 0, false
	}
	checkpoints, err := t.load(ctx, execution.ID)
	if err != nil {
		logger.Warnf("Failed to load checkpoints for execution '%s': %v", execution.ID, err)
		return 0, false
	}
	if len(checkpoints) < 2 {
		return 0, false
	}
	first := checkpoints[0]
	last := checkpoints[len(checkpoints)-1]
	elapsed := last.Timestamp.Sub(first.Timestamp)
	done := last.Count - first.Count
	if elapsed <= 0 || done <= 0 {
		return 0, false
	}
	remaining := execution.TotalRecords - last.Count
	if remaining <= 0 {
		return 0, true
	}
	rate := float64(done) / elapsed.Seconds()
	return time.Duration(float64(remaining)/rate*float64(time.Second)), true
}

// Finish clears the checkpoint ring and sends the final, unthrottled
// notification for a terminal execution.
func (t *Tracker) Finish(ctx context.Context, execution *model.Execution) {
	t.notifier.NotifyProgress(ctx, execution, t.GetProgress(execution))
	if err := t.cache.Forget(ctx, checkpointKeyPrefix+execution.ID); err != nil {
		logger.Warnf("Failed to clear checkpoints for execution '%s': %v", execution.ID, err)
	}
	if err := t.cache.Forget(ctx, notifyKeyPrefix+execution.ID); err != nil {
		logger.Warnf("Failed to clear notification marker for execution '%s': %v", execution.ID, err)
	}
}

// notify emits at most one progress notification per configured interval.
func (t *Tracker) notify(ctx context.Context, execution *model.Execution) {
	if execution.Status.IsTerminal() {
		t.notifier.NotifyProgress(ctx, execution, t.GetProgress(execution))
		return
	}
	markerKey := notifyKeyPrefix + execution.ID
	if _, found, err := t.cache.Get(ctx, markerKey); err == nil && found {
		return
	}
	interval := time.Duration(t.cfg.NotifyIntervalSeconds) * time.Second
	if interval > 0 {
		if err := t.cache.Put(ctx, markerKey, "1", interval); err != nil {
			logger.Warnf("Failed to arm notification throttle for execution '%s': %v", execution.ID, err)
		}
	}
	t.notifier.NotifyProgress(ctx, execution, t.GetProgress(execution))
}

func (t *Tracker) load(ctx context.Context, executionID string) ([]model.ProgressCheckpoint, error) {
	raw, found, err := t.cache.Get(ctx, checkpointKeyPrefix+executionID)
	if err != nil {
		return nil, exception.NewBulkError(moduleName, fmt.Sprintf("failed to read checkpoints for execution '%s'", executionID), err, false, true)
	}
	if !found {
		return nil, nil
	}
	var checkpoints []model.ProgressCheckpoint
	if err := json.Unmarshal([]byte(raw), &checkpoints); err != nil {
		return nil, exception.NewBulkError(moduleName, fmt.Sprintf("corrupt checkpoint data for execution '%s'", executionID), err, false, false)
	}
	return checkpoints, nil
}

func (t *Tracker) store(ctx context.Context, executionID string, checkpoints []model.ProgressCheckpoint) error {
	raw, err := json.Marshal(checkpoints)
	if err != nil {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to encode checkpoints for execution '%s'", executionID), err, false, false)
	}
	ttl := time.Duration(t.cfg.CheckpointTTLMinutes) * time.Minute
	if err := t.cache.Put(ctx, checkpointKeyPrefix+executionID, string(raw), ttl); err != nil {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to write checkpoints for execution '%s'", executionID), err, false, true)
	}
	return nil
}
