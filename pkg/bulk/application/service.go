// Package application exposes the engine's use cases as one service facade:
// submit, preview, status, cancel and undo.
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tigerroll/marlin/pkg/bulk/core/action"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/repository"
	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
	"github.com/tigerroll/marlin/pkg/bulk/engine/cancel"
	"github.com/tigerroll/marlin/pkg/bulk/engine/dispatcher"
	"github.com/tigerroll/marlin/pkg/bulk/engine/gate"
	"github.com/tigerroll/marlin/pkg/bulk/engine/progress"
	"github.com/tigerroll/marlin/pkg/bulk/engine/resolver"
	"github.com/tigerroll/marlin/pkg/bulk/engine/scheduler"
	"github.com/tigerroll/marlin/pkg/bulk/engine/undo"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

const moduleName = "application"

// SubmitRequest describes one bulk operation to run.
type SubmitRequest struct {
	EntityType string
	Filter     model.TargetFilter
	Action     string
	Params     model.ActionParams
	// BatchSize is the requested chunk size; zero means the configured default.
	BatchSize int
	// EnableUndo captures pre-mutation snapshots and opens an undo window on completion.
	EnableUndo bool
	// ScheduleAt defers activation to a future time. Nil or past times run immediately.
	ScheduleAt *time.Time
	Actor      string
}

// PreviewResult is a non-mutating sample of what a submission would touch.
type PreviewResult struct {
	Total     int64
	SampleIDs []string
}

// StatusReport is the caller-facing view of one execution.
type StatusReport struct {
	Execution *model.Execution
	Percent   float64
	// ETA is the estimated time remaining; valid only when HasETA is true.
	ETA    time.Duration
	HasETA bool
	// UndoRemaining is the open undo window, zero when closed.
	UndoRemaining time.Duration
}

// Service wires the engine components behind the operations callers invoke.
type Service struct {
	execRepo   repository.ExecutionRepository
	registry   *action.Registry
	authorizer ports.Authorizer
	gate       *gate.Gate
	resolver   *resolver.Resolver
	dispatcher *dispatcher.Dispatcher
	scheduler  *scheduler.Scheduler
	tracker    *progress.Tracker
	undoMgr    *undo.Manager
	cancels    *cancel.Broadcaster
	notifier   ports.Notifier
}

// NewService creates the service facade.
func NewService(
	execRepo repository.ExecutionRepository,
	registry *action.Registry,
	authorizer ports.Authorizer,
	g *gate.Gate,
	res *resolver.Resolver,
	disp *dispatcher.Dispatcher,
	sched *scheduler.Scheduler,
	tracker *progress.Tracker,
	undoMgr *undo.Manager,
	cancels *cancel.Broadcaster,
	notifier ports.Notifier,
) *Service {
	return &Service{
		execRepo:   execRepo,
		registry:   registry,
		authorizer: authorizer,
		gate:       g,
		resolver:   res,
		dispatcher: disp,
		scheduler:  sched,
		tracker:    tracker,
		undoMgr:    undoMgr,
		cancels:    cancels,
		notifier:   notifier,
	}
}

// Submit validates, authorizes and admits a bulk operation, persists its
// execution record and starts (or schedules) the processing. It returns as
// soon as the execution is durable; batches run asynchronously. Rejections
// happen before any durable state exists.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*model.Execution, error) {
	if req.Actor == "" {
		return nil, exception.NewBulkError(moduleName, "actor must not be empty", exception.ErrSpecInvalid, false, false)
	}
	if err := req.Filter.Validate(); err != nil {
		return nil, exception.NewBulkError(moduleName, "invalid target filter", err, false, false)
	}
	if err := s.registry.Validate(req.Action, req.Params); err != nil {
		return nil, err
	}

	allowed, err := s.authorizer.Authorize(ctx, req.Actor, req.Action, req.EntityType)
	if err != nil {
		return nil, exception.NewBulkError(moduleName, "authorization check failed", err, false, true)
	}
	if !allowed {
		return nil, exception.NewBulkError(moduleName,
			fmt.Sprintf("actor '%s' may not run '%s' on entity type '%s'", req.Actor, req.Action, req.EntityType),
			exception.ErrUnauthorized, false, false)
	}

	if err := s.gate.Attempt(ctx, req.Actor); err != nil {
		return nil, err
	}

	res, err := s.resolver.Resolve(ctx, req.EntityType, req.Filter)
	if err != nil {
		return nil, err
	}

	execution := model.NewExecution(req.EntityType, req.Filter, req.Action, req.Params, req.Actor)
	execution.BatchSize = req.BatchSize
	execution.UndoEnabled = req.EnableUndo
	execution.TotalRecords = res.Total

	deferred := req.ScheduleAt != nil && req.ScheduleAt.After(time.Now())
	if deferred {
		execution.Status = model.ExecutionStatusScheduled
		execution.ScheduledAt = req.ScheduleAt
	}

	if err := s.execRepo.SaveExecution(ctx, execution); err != nil {
		return nil, exception.NewBulkError(moduleName, "failed to persist execution", err, false, true)
	}
	s.gate.RecordAdmission(ctx, req.Actor, res.Total)
	s.notifier.NotifySubmitted(ctx, execution)
	logger.Infof("Accepted execution '%s': %s on %d %s records (actor '%s', deferred=%t)",
		execution.ID, req.Action, res.Total, req.EntityType, req.Actor, deferred)

	if deferred {
		return execution, nil
	}

	if err := s.tracker.Initialize(ctx, execution); err != nil {
		logger.Warnf("Failed to initialize progress of execution '%s': %v", execution.ID, err)
	}

	// Dispatch off the request path. The target set is re-resolved inside the
	// stream, so a long enqueue does not block the caller.
	go func() {
		dctx := context.WithoutCancel(ctx)
		if err := s.dispatcher.Dispatch(dctx, execution, res); err != nil {
			logger.Errorf("Dispatch of execution '%s' failed: %v", execution.ID, err)
		}
	}()
	return execution, nil
}

// Preview reports what a filter would touch without creating any state.
func (s *Service) Preview(ctx context.Context, entityType string, filter model.TargetFilter, limit int) (*PreviewResult, error) {
	ids, total, err := s.resolver.Preview(ctx, entityType, filter, limit)
	if err != nil {
		return nil, err
	}
	return &PreviewResult{Total: total, SampleIDs: ids}, nil
}

// GetStatus returns the execution with derived progress figures.
func (s *Service) GetStatus(ctx context.Context, executionID string) (*StatusReport, error) {
	execution, err := s.execRepo.FindExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	report := &StatusReport{
		Execution:     execution,
		Percent:       s.tracker.GetProgress(execution),
		UndoRemaining: execution.UndoTimeRemaining(time.Now()),
	}
	report.ETA, report.HasETA = s.tracker.GetEstimatedTimeRemaining(ctx, execution)
	return report, nil
}

// Cancel stops an execution. Scheduled executions are revoked before they
// start; pending ones never process a record; processing ones stop at the next
// record boundary of every in-flight batch.
func (s *Service) Cancel(ctx context.Context, executionID string) error {
	execution, err := s.execRepo.FindExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}
	if execution.Status == model.ExecutionStatusScheduled {
		return s.scheduler.CancelScheduled(ctx, executionID)
	}

	now := time.Now()
	stamp := func(e *model.Execution) { e.EndTime = &now }
	for _, from := range []model.ExecutionStatus{model.ExecutionStatusPending, model.ExecutionStatusProcessing} {
		err := s.execRepo.TransitionStatus(ctx, executionID, from, model.ExecutionStatusCancelled, stamp)
		if err == nil {
			s.cancels.Signal(ctx, executionID)
			execution, err := s.execRepo.FindExecutionByID(ctx, executionID)
			if err == nil {
				logger.Infof("Cancelled execution '%s' (was %s)", executionID, from)
				s.notifier.NotifyTerminal(ctx, execution)
			}
			return nil
		}
		if !errors.Is(err, repository.ErrStatusPrecondition) {
			return exception.NewBulkError(moduleName, fmt.Sprintf("failed to cancel execution '%s'", executionID), err, false, true)
		}
	}
	return exception.NewBulkError(moduleName,
		fmt.Sprintf("execution '%s' is %s and can no longer be cancelled", executionID, execution.Status),
		exception.ErrSchedulingConflict, false, false)
}

// Undo reverses a completed execution within its undo window.
func (s *Service) Undo(ctx context.Context, executionID, actor string) (*undo.Result, error) {
	return s.undoMgr.Undo(ctx, executionID, actor)
}

// CanUndo reports undo availability together with the refusal reason.
func (s *Service) CanUndo(ctx context.Context, executionID string) (bool, exception.UndoReason, error) {
	return s.undoMgr.CanUndo(ctx, executionID)
}

// ListScheduled returns the actor's not-yet-activated executions.
func (s *Service) ListScheduled(ctx context.Context, actor string) ([]*model.Execution, error) {
	return s.execRepo.FindScheduledByActor(ctx, actor)
}
