// Package undo captures pre-mutation snapshots and reverses completed
// executions within their undo window.
package undo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/marlin/pkg/bulk/core/adapter"
	"github.com/tigerroll/marlin/pkg/bulk/core/config"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/repository"
	"github.com/tigerroll/marlin/pkg/bulk/core/metrics"
	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

const moduleName = "undo"

// Result summarizes one undo pass.
type Result struct {
	Restored int
	Failed   int
}

// Manager reverses completed executions from their snapshots. Undo is a
// one-shot operation: the first successful claim flips the execution's undo
// flag and concurrent attempts observe it as already undone.
type Manager struct {
	execRepo  repository.ExecutionRepository
	snapRepo  repository.SnapshotRepository
	store     adapter.RecordStore
	notifier  ports.Notifier
	recorder  metrics.MetricRecorder
	tracer    metrics.Tracer
	tolerance config.FailureToleranceConfig
}

// NewManager creates a new undo Manager.
func NewManager(
	execRepo repository.ExecutionRepository,
	snapRepo repository.SnapshotRepository,
	store adapter.RecordStore,
	notifier ports.Notifier,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
	engineCfg *config.EngineConfig,
) *Manager {
	return &Manager{
		execRepo:  execRepo,
		snapRepo:  snapRepo,
		store:     store,
		notifier:  notifier,
		recorder:  recorder,
		tracer:    tracer,
		tolerance: engineCfg.FailureTolerance,
	}
}

// CanUndo reports whether an undo request for the execution would be accepted,
// together with the refusal reason when it would not.
func (m *Manager) CanUndo(ctx context.Context, executionID string) (bool, exception.UndoReason, error) {
	execution, err := m.execRepo.FindExecutionByID(ctx, executionID)
	if err != nil {
		return false, "", err
	}
	reason, err := m.eligibility(ctx, execution, time.Now())
	if err != nil {
		return false, "", err
	}
	return reason == "", reason, nil
}

// GetTimeRemaining returns the remaining undo window for the execution.
func (m *Manager) GetTimeRemaining(ctx context.Context, executionID string) (time.Duration, error) {
	execution, err := m.execRepo.FindExecutionByID(ctx, executionID)
	if err != nil {
		return 0, err
	}
	return execution.UndoTimeRemaining(time.Now()), nil
}

// Undo reverses the execution's mutations from its snapshots. Each snapshot is
// applied through the inverse operation it declares and marked consumed on
// success. Per-record failures are tolerated or aborted per the configured undo
// failure tolerance; tolerated failures leave their snapshots unconsumed.
func (m *Manager) Undo(ctx context.Context, executionID, actor string) (*Result, error) {
	execution, err := m.execRepo.FindExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	reason, err := m.eligibility(ctx, execution, now)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return nil, exception.NewUndoUnavailable(reason)
	}

	if err := m.execRepo.ClaimUndo(ctx, executionID, now); err != nil {
		if errors.Is(err, repository.ErrStatusPrecondition) {
			return nil, exception.NewUndoUnavailable(exception.UndoReasonAlreadyDone)
		}
		return nil, exception.NewBulkError(moduleName, fmt.Sprintf("failed to claim undo of execution '%s'", executionID), err, false, true)
	}
	execution.UndoEnabled = false
	execution.UndoneAt = &now

	ctx, end := m.tracer.StartUndoSpan(ctx, execution)
	defer end()

	snapshots, err := m.snapRepo.FindActiveSnapshots(ctx, executionID)
	if err != nil {
		return nil, exception.NewBulkError(moduleName, fmt.Sprintf("failed to load snapshots of execution '%s'", executionID), err, false, true)
	}

	abortOnError := strings.EqualFold(m.tolerance.Undo, "abort")
	result := &Result{}
	var merr *multierror.Error
	for _, snapshot := range snapshots {
		if err := m.applySnapshot(ctx, snapshot, actor); err != nil {
			result.Failed++
			merr = multierror.Append(merr, fmt.Errorf("record '%s': %w", snapshot.RecordID, err))
			m.tracer.RecordError(ctx, moduleName, err)
			if abortOnError {
				break
			}
			continue
		}
		result.Restored++
	}

	logger.Infof("Undo of execution '%s' finished: %d restored, %d failed", executionID, result.Restored, result.Failed)
	m.recorder.RecordUndo(ctx, execution, result.Restored, result.Failed)
	m.notifier.NotifyUndoCompleted(ctx, execution, result.Restored, result.Failed)

	if err := merr.ErrorOrNil(); err != nil {
		return result, exception.NewBulkError(moduleName, fmt.Sprintf("undo of execution '%s' completed with %d failed records", executionID, result.Failed), err, false, false)
	}
	return result, nil
}

// eligibility returns the refusal reason for an undo attempt, or "" when the
// attempt may proceed.
func (m *Manager) eligibility(ctx context.Context, execution *model.Execution, now time.Time) (exception.UndoReason, error) {
	if !execution.Status.IsTerminal() {
		return exception.UndoReasonNotTerminal, nil
	}
	if execution.Status != model.ExecutionStatusCompleted {
		// Only completed executions have mutations worth reversing; a failed
		// or cancelled one never had its undo window opened.
		return exception.UndoReasonNotCompleted, nil
	}
	if execution.UndoneAt != nil {
		return exception.UndoReasonAlreadyDone, nil
	}
	if !execution.UndoEnabled {
		return exception.UndoReasonDisabled, nil
	}
	if execution.UndoExpiresAt == nil || !execution.UndoExpiresAt.After(now) {
		return exception.UndoReasonExpired, nil
	}
	count, err := m.snapRepo.CountActiveSnapshots(ctx, execution.ID)
	if err != nil {
		return "", exception.NewBulkError(moduleName, fmt.Sprintf("failed to count snapshots of execution '%s'", execution.ID), err, false, true)
	}
	if count == 0 {
		return exception.UndoReasonNoSnapshots, nil
	}
	return "", nil
}

// applySnapshot performs the inverse operation one snapshot declares and marks
// it consumed.
func (m *Manager) applySnapshot(ctx context.Context, snapshot *model.SnapshotRecord, actor string) error {
	var err error
	switch snapshot.UndoOperation {
	case model.UndoOpReinstate:
		err = m.store.Restore(ctx, snapshot.EntityType, snapshot.RecordID)
	case model.UndoOpDeleteAgain:
		err = m.store.SoftDelete(ctx, snapshot.EntityType, snapshot.RecordID)
	case model.UndoOpRevertFields:
		err = m.store.UpdateFields(ctx, snapshot.EntityType, snapshot.RecordID, snapshot.Fields)
	case model.UndoOpRecreate:
		err = m.store.Recreate(ctx, snapshot.EntityType, snapshot.RecordID, snapshot.Fields)
	default:
		err = fmt.Errorf("unknown undo operation '%s'", snapshot.UndoOperation)
	}
	if err != nil {
		return err
	}
	if err := m.snapRepo.MarkSnapshotUndone(ctx, snapshot.ID, actor); err != nil {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to mark snapshot '%s' undone", snapshot.ID), err, false, true)
	}
	return nil
}
