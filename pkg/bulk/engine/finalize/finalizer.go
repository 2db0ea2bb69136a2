// Package finalize settles an execution once its last batch has finished.
// Both the worker pool and the dispatcher invoke it: the worker after settling
// a batch, the dispatcher after recording the batch count, so whichever of the
// two observes the fully-settled state last promotes the execution.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tigerroll/marlin/pkg/bulk/core/config"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/repository"
	"github.com/tigerroll/marlin/pkg/bulk/core/metrics"
	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
	"github.com/tigerroll/marlin/pkg/bulk/engine/progress"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

const moduleName = "finalize"

// Finalizer promotes executions to their terminal status and runs the
// terminal bookkeeping exactly once.
type Finalizer struct {
	execRepo  repository.ExecutionRepository
	batchRepo repository.BatchRepository
	tracker   *progress.Tracker
	notifier  ports.Notifier
	recorder  metrics.MetricRecorder
	cfg       *config.EngineConfig
	undoCfg   *config.UndoConfig
}

// NewFinalizer creates a new Finalizer.
func NewFinalizer(
	execRepo repository.ExecutionRepository,
	batchRepo repository.BatchRepository,
	tracker *progress.Tracker,
	notifier ports.Notifier,
	recorder metrics.MetricRecorder,
	cfg *config.EngineConfig,
	undoCfg *config.UndoConfig,
) *Finalizer {
	return &Finalizer{
		execRepo:  execRepo,
		batchRepo: batchRepo,
		tracker:   tracker,
		notifier:  notifier,
		recorder:  recorder,
		cfg:       cfg,
		undoCfg:   undoCfg,
	}
}

// FinalizeIfSettled promotes the execution to its terminal status once no
// unfinished batches remain and the batch count has been recorded. Concurrent
// finishers race on the guarded status transition; exactly one wins and runs
// the terminal bookkeeping.
func (f *Finalizer) FinalizeIfSettled(ctx context.Context, executionID string) error {
	unfinished, err := f.batchRepo.CountUnfinishedBatches(ctx, executionID)
	if err != nil {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to count unfinished batches of execution '%s'", executionID), err, false, true)
	}
	if unfinished > 0 {
		return nil
	}

	execution, err := f.execRepo.FindExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}
	if execution.Status.IsTerminal() {
		return nil
	}
	if execution.TotalBatches == 0 {
		// The dispatcher has not recorded the batch count yet; its own
		// finalize call after that write closes the race.
		return nil
	}
	if err := execution.CheckCounterInvariant(); err != nil {
		logger.Errorf("%v", err)
	}

	final := model.ExecutionStatusCompleted
	if execution.TotalRecords > 0 && f.cfg.FailureThreshold > 0 {
		ratio := float64(execution.FailedRecords) / float64(execution.TotalRecords)
		if ratio >= f.cfg.FailureThreshold {
			final = model.ExecutionStatusFailed
		}
	}

	now := time.Now()
	err = f.execRepo.TransitionStatus(ctx, executionID, model.ExecutionStatusProcessing, final, func(e *model.Execution) {
		e.EndTime = &now
		if final == model.ExecutionStatusFailed {
			e.FailureReason = fmt.Sprintf("failure threshold reached: %d of %d records failed", e.FailedRecords, e.TotalRecords)
		}
		if e.UndoEnabled && final == model.ExecutionStatusCompleted {
			expiry := now.Add(time.Duration(f.undoCfg.WindowMinutes) * time.Minute)
			e.UndoExpiresAt = &expiry
		}
	})
	if err != nil {
		if errors.Is(err, repository.ErrStatusPrecondition) {
			return nil
		}
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to finalize execution '%s'", executionID), err, false, true)
	}

	execution, err = f.execRepo.FindExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}
	logger.Infof("Execution '%s' finished as %s: %d processed, %d failed of %d",
		executionID, execution.Status, execution.ProcessedRecords, execution.FailedRecords, execution.TotalRecords)
	f.recorder.RecordExecutionEnd(ctx, execution)
	f.tracker.Finish(ctx, execution)
	f.notifier.NotifyTerminal(ctx, execution)
	return nil
}
