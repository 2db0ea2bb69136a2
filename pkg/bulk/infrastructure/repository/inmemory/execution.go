package inmemory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/repository"
)

// SaveExecution persists a new Execution.
// It returns an error if an Execution with the same ID already exists.
func (r *InMemoryLedgerRepository) SaveExecution(ctx context.Context, execution *model.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executions[execution.ID]; exists {
		return fmt.Errorf("Execution with ID %s already exists", execution.ID)
	}
	cloned := *execution
	r.executions[execution.ID] = &cloned
	return nil
}

// UpdateExecution updates an existing Execution.
func (r *InMemoryLedgerRepository) UpdateExecution(ctx context.Context, execution *model.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.executions[execution.ID]
	if !exists {
		return repository.ErrExecutionNotFound
	}
	if stored.Version != execution.Version {
		return fmt.Errorf("Execution with ID %s version conflict: stored %d, given %d", execution.ID, stored.Version, execution.Version)
	}
	cloned := *execution
	cloned.Version++
	cloned.LastUpdated = time.Now()
	r.executions[execution.ID] = &cloned
	execution.Version = cloned.Version
	return nil
}

// FindExecutionByID finds an Execution by its ID.
func (r *InMemoryLedgerRepository) FindExecutionByID(ctx context.Context, id string) (*model.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	execution, ok := r.executions[id]
	if !ok {
		return nil, repository.ErrExecutionNotFound
	}
	// Deep copy to prevent external modification of internal state
	cloned := *execution
	return &cloned, nil
}

// IncrementCounters atomically adds the deltas to the execution's counters.
func (r *InMemoryLedgerRepository) IncrementCounters(ctx context.Context, executionID string, processedDelta, failedDelta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[executionID]
	if !ok {
		return repository.ErrExecutionNotFound
	}
	execution.ProcessedRecords += processedDelta
	execution.FailedRecords += failedDelta
	execution.LastUpdated = time.Now()
	return nil
}

// TransitionStatus moves the execution between statuses under the status guard.
func (r *InMemoryLedgerRepository) TransitionStatus(ctx context.Context, executionID string, from, to model.ExecutionStatus, mutate func(*model.Execution)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[executionID]
	if !ok {
		return repository.ErrExecutionNotFound
	}
	if execution.Status != from {
		return repository.ErrStatusPrecondition
	}
	execution.Status = to
	execution.LastUpdated = time.Now()
	if mutate != nil {
		mutate(execution)
	}
	return nil
}

// ClaimUndo flips the undo flag off exactly once.
func (r *InMemoryLedgerRepository) ClaimUndo(ctx context.Context, executionID string, claimedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[executionID]
	if !ok {
		return repository.ErrExecutionNotFound
	}
	if !execution.UndoEnabled || execution.UndoneAt != nil {
		return repository.ErrStatusPrecondition
	}
	execution.UndoEnabled = false
	execution.UndoneAt = &claimedAt
	execution.LastUpdated = time.Now()
	return nil
}

// CountActiveByActor counts the actor's executions in a non-terminal status.
func (r *InMemoryLedgerRepository) CountActiveByActor(ctx context.Context, actor string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, e := range r.executions {
		if e.Actor == actor && !e.Status.IsTerminal() {
			count++
		}
	}
	return count, nil
}

// FindDueScheduled returns scheduled executions whose activation time has passed.
func (r *InMemoryLedgerRepository) FindDueScheduled(ctx context.Context, now time.Time) ([]*model.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []*model.Execution
	for _, e := range r.executions {
		if e.Status == model.ExecutionStatusScheduled && e.ScheduledAt != nil && !e.ScheduledAt.After(now) {
			cloned := *e
			due = append(due, &cloned)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(*due[j].ScheduledAt) })
	return due, nil
}

// FindScheduledByActor returns the actor's executions still in SCHEDULED status.
func (r *InMemoryLedgerRepository) FindScheduledByActor(ctx context.Context, actor string) ([]*model.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var scheduled []*model.Execution
	for _, e := range r.executions {
		if e.Actor == actor && e.Status == model.ExecutionStatusScheduled {
			cloned := *e
			scheduled = append(scheduled, &cloned)
		}
	}
	sort.Slice(scheduled, func(i, j int) bool { return scheduled[i].CreateTime.Before(scheduled[j].CreateTime) })
	return scheduled, nil
}

// FindUndoEligibleBefore returns terminal executions whose undo window expired
// before the cutoff and that still hold snapshots. Already purged executions
// have no snapshot rows left and drop out of the scan.
func (r *InMemoryLedgerRepository) FindUndoEligibleBefore(ctx context.Context, cutoff time.Time) ([]*model.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	withSnapshots := make(map[string]bool, len(r.snapshots))
	for _, s := range r.snapshots {
		withSnapshots[s.ExecutionID] = true
	}

	var expired []*model.Execution
	for _, e := range r.executions {
		if e.Status.IsTerminal() && e.UndoExpiresAt != nil && e.UndoExpiresAt.Before(cutoff) && withSnapshots[e.ID] {
			cloned := *e
			expired = append(expired, &cloned)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].UndoExpiresAt.Before(*expired[j].UndoExpiresAt) })
	return expired, nil
}
