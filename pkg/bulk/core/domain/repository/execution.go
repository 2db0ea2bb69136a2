package repository

import (
	"context"
	"errors"
	"time"

	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
)

// ErrExecutionNotFound is returned when an Execution cannot be located by ID.
var ErrExecutionNotFound = errors.New("execution not found")

// ErrStatusPrecondition is returned when a guarded write finds the row in an
// unexpected status. Callers treat it as "someone else already moved the row":
// the write is a no-op, never a partial update.
var ErrStatusPrecondition = errors.New("execution status precondition not met")

// ExecutionRepository persists the execution ledger.
//
// Counter updates go through IncrementCounters, a single atomic
// increment-by-N statement, never a read-modify-write at the application level,
// so concurrent out-of-order batch completion cannot lose updates.
type ExecutionRepository interface {
	// SaveExecution persists a new Execution.
	SaveExecution(ctx context.Context, execution *model.Execution) error
	// UpdateExecution updates mutable Execution fields with optimistic locking on Version.
	UpdateExecution(ctx context.Context, execution *model.Execution) error
	// FindExecutionByID finds an Execution by its ID.
	FindExecutionByID(ctx context.Context, id string) (*model.Execution, error)

	// IncrementCounters atomically adds the given deltas to the processed and
	// failed counters of the execution row using a single UPDATE statement.
	IncrementCounters(ctx context.Context, executionID string, processedDelta, failedDelta int64) error

	// TransitionStatus moves the execution from one status to another.
	// The update is guarded by the expected current status in the WHERE clause;
	// when the guard does not match, ErrStatusPrecondition is returned and
	// nothing is written.
	TransitionStatus(ctx context.Context, executionID string, from, to model.ExecutionStatus, mutate func(*model.Execution)) error

	// ClaimUndo flips the execution's undo flag off and stamps UndoneAt, guarded
	// by undo_enabled still being set. ErrStatusPrecondition means another caller
	// already claimed the undo; the flip happens at most once per execution.
	ClaimUndo(ctx context.Context, executionID string, claimedAt time.Time) error

	// CountActiveByActor counts the actor's executions in a non-terminal status.
	CountActiveByActor(ctx context.Context, actor string) (int64, error)
	// FindDueScheduled returns executions in SCHEDULED status whose activation time is at or before now.
	FindDueScheduled(ctx context.Context, now time.Time) ([]*model.Execution, error)
	// FindScheduledByActor returns the actor's executions still in SCHEDULED status.
	FindScheduledByActor(ctx context.Context, actor string) ([]*model.Execution, error)
	// FindUndoEligibleBefore returns completed executions whose undo window expired before the given time.
	FindUndoEligibleBefore(ctx context.Context, cutoff time.Time) ([]*model.Execution, error)
}
