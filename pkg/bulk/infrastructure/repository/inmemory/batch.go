package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/repository"
)

// SaveBatch persists a new Batch.
func (r *InMemoryLedgerRepository) SaveBatch(ctx context.Context, batch *model.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.batches[batch.ID]; exists {
		return fmt.Errorf("Batch with ID %s already exists", batch.ID)
	}
	cloned := *batch
	r.batches[batch.ID] = &cloned
	return nil
}

// UpdateBatch updates an existing Batch.
func (r *InMemoryLedgerRepository) UpdateBatch(ctx context.Context, batch *model.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.batches[batch.ID]; !exists {
		return repository.ErrBatchNotFound
	}
	cloned := *batch
	r.batches[batch.ID] = &cloned
	return nil
}

// FindBatchByID finds a Batch by its ID.
func (r *InMemoryLedgerRepository) FindBatchByID(ctx context.Context, id string) (*model.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	batch, ok := r.batches[id]
	if !ok {
		return nil, repository.ErrBatchNotFound
	}
	cloned := *batch
	return &cloned, nil
}

// FindBatchesByExecutionID returns all batches of one execution ordered by sequence.
func (r *InMemoryLedgerRepository) FindBatchesByExecutionID(ctx context.Context, executionID string) ([]*model.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var batches []*model.Batch
	for _, b := range r.batches {
		if b.ExecutionID == executionID {
			cloned := *b
			batches = append(batches, &cloned)
		}
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].Sequence < batches[j].Sequence })
	return batches, nil
}

// CountUnfinishedBatches counts batches of the execution not yet in a terminal status.
func (r *InMemoryLedgerRepository) CountUnfinishedBatches(ctx context.Context, executionID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, b := range r.batches {
		if b.ExecutionID == executionID && !b.Status.IsTerminal() {
			count++
		}
	}
	return count, nil
}
