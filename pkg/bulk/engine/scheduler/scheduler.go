// Package scheduler activates deferred executions when their scheduled time
// arrives and runs the periodic snapshot purge.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tigerroll/marlin/pkg/bulk/core/config"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/repository"
	"github.com/tigerroll/marlin/pkg/bulk/engine/dispatcher"
	"github.com/tigerroll/marlin/pkg/bulk/engine/gate"
	"github.com/tigerroll/marlin/pkg/bulk/engine/resolver"
	"github.com/tigerroll/marlin/pkg/bulk/engine/undo"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

const moduleName = "scheduler"

// Scheduler polls for due executions and hands them to the dispatcher.
// Activation is idempotent across replicas: the SCHEDULED to PENDING promotion
// is status-guarded, so a due execution is activated exactly once.
type Scheduler struct {
	execRepo   repository.ExecutionRepository
	resolver   *resolver.Resolver
	dispatcher *dispatcher.Dispatcher
	gate       *gate.Gate
	purger     *undo.Purger
	cfg        *config.SchedulerConfig
	undoCfg    *config.UndoConfig

	wg   sync.WaitGroup
	stop context.CancelFunc
}

// NewScheduler creates a new Scheduler.
func NewScheduler(
	execRepo repository.ExecutionRepository,
	res *resolver.Resolver,
	disp *dispatcher.Dispatcher,
	g *gate.Gate,
	purger *undo.Purger,
	cfg *config.SchedulerConfig,
	undoCfg *config.UndoConfig,
) *Scheduler {
	return &Scheduler{
		execRepo:   execRepo,
		resolver:   res,
		dispatcher: disp,
		gate:       g,
		purger:     purger,
		cfg:        cfg,
		undoCfg:    undoCfg,
	}
}

// Start launches the activation and purge loops.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	s.stop = stop

	s.wg.Add(1)
	go s.activationLoop(runCtx)
	s.wg.Add(1)
	go s.purgeLoop(runCtx)
	logger.Infof("Scheduler started (poll interval %ds)", s.cfg.PollIntervalSeconds)
}

// Stop terminates the loops and waits for them to exit.
func (s *Scheduler) Stop() {
	if s.stop != nil {
		s.stop()
	}
	s.wg.Wait()
	logger.Infof("Scheduler stopped")
}

func (s *Scheduler) activationLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := time.Duration(s.cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ProcessDue(ctx, time.Now()); err != nil {
				logger.Errorf("Scheduled activation pass failed: %v", err)
			}
		}
	}
}

func (s *Scheduler) purgeLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := time.Duration(s.undoCfg.PurgeIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.purger.PurgeExpired(ctx, time.Now()); err != nil {
				logger.Errorf("Snapshot purge pass failed: %v", err)
			}
		}
	}
}

// ProcessDue activates every scheduled execution whose activation time is at or
// before now. It returns the number of executions this replica activated.
func (s *Scheduler) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.execRepo.FindDueScheduled(ctx, now)
	if err != nil {
		return 0, exception.NewBulkError(moduleName, "failed to scan for due executions", err, false, true)
	}

	activated := 0
	for _, execution := range due {
		ok, err := s.activate(ctx, execution)
		if err != nil {
			logger.Errorf("Activation of execution '%s' failed: %v", execution.ID, err)
			continue
		}
		if ok {
			activated++
		}
	}
	return activated, nil
}

// activate promotes one due execution and dispatches it. The target set is
// re-resolved at activation time: records created or deleted since submission
// change the effective targets.
func (s *Scheduler) activate(ctx context.Context, execution *model.Execution) (bool, error) {
	// The admission decision made at submission may no longer hold by the
	// time the execution comes due. A rejected execution stays SCHEDULED and
	// is retried on the next poll.
	if err := s.gate.Attempt(ctx, execution.Actor); err != nil {
		logger.Warnf("Deferring activation of execution '%s': %v", execution.ID, err)
		return false, nil
	}

	err := s.execRepo.TransitionStatus(ctx, execution.ID, model.ExecutionStatusScheduled, model.ExecutionStatusPending, nil)
	if err != nil {
		if errors.Is(err, repository.ErrStatusPrecondition) {
			// Another replica got there first, or the execution was cancelled.
			return false, nil
		}
		return false, exception.NewBulkError(moduleName, fmt.Sprintf("failed to promote execution '%s'", execution.ID), err, false, true)
	}
	execution.Status = model.ExecutionStatusPending
	logger.Infof("Activating scheduled execution '%s' (scheduled for %v)", execution.ID, execution.ScheduledAt)

	res, err := s.resolver.Resolve(ctx, execution.EntityType, execution.Filter)
	if err != nil {
		// Do not leave the row stuck in PENDING with nothing enqueued.
		now := time.Now()
		ferr := s.execRepo.TransitionStatus(ctx, execution.ID, model.ExecutionStatusPending, model.ExecutionStatusFailed, func(e *model.Execution) {
			e.FailureReason = exception.ExtractErrorMessage(err)
			e.EndTime = &now
		})
		if ferr != nil && !errors.Is(ferr, repository.ErrStatusPrecondition) {
			logger.Errorf("Failed to mark execution '%s' FAILED after resolve error: %v", execution.ID, ferr)
		}
		return true, err
	}
	if err := s.dispatcher.Dispatch(ctx, execution, res); err != nil {
		return true, err
	}
	return true, nil
}

// CancelScheduled revokes a not-yet-activated execution. Anything past
// SCHEDULED is a conflict; running executions are cancelled through the
// service, not here.
func (s *Scheduler) CancelScheduled(ctx context.Context, executionID string) error {
	err := s.execRepo.TransitionStatus(ctx, executionID, model.ExecutionStatusScheduled, model.ExecutionStatusCancelled, func(e *model.Execution) {
		now := time.Now()
		e.EndTime = &now
	})
	if err != nil {
		if errors.Is(err, repository.ErrStatusPrecondition) {
			return exception.ErrSchedulingConflict
		}
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to cancel scheduled execution '%s'", executionID), err, false, true)
	}
	logger.Infof("Cancelled scheduled execution '%s'", executionID)
	return nil
}
