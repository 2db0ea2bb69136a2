package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
)

// ErrBatchNotFound is returned when a Batch cannot be located by ID.
var ErrBatchNotFound = errors.New("batch not found")

// BatchRepository persists the batches of an execution.
// Batches are retained after completion for audit.
type BatchRepository interface {
	// SaveBatch persists a new Batch.
	SaveBatch(ctx context.Context, batch *model.Batch) error
	// UpdateBatch updates mutable Batch fields.
	UpdateBatch(ctx context.Context, batch *model.Batch) error
	// FindBatchByID finds a Batch by its ID.
	FindBatchByID(ctx context.Context, id string) (*model.Batch, error)
	// FindBatchesByExecutionID returns all batches of one execution ordered by sequence.
	FindBatchesByExecutionID(ctx context.Context, executionID string) ([]*model.Batch, error)
	// CountUnfinishedBatches counts batches of the execution not yet in a terminal status.
	CountUnfinishedBatches(ctx context.Context, executionID string) (int64, error)
}
