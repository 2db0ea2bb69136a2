package undo

import (
	"context"
	"errors"
	"fmt"

	"github.com/tigerroll/marlin/pkg/bulk/core/action"
	"github.com/tigerroll/marlin/pkg/bulk/core/adapter"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/repository"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
)

// Capturer persists pre-mutation snapshots for undo-enabled executions.
type Capturer struct {
	snapRepo repository.SnapshotRepository
	store    adapter.RecordStore
}

// NewCapturer creates a new Capturer.
func NewCapturer(snapRepo repository.SnapshotRepository, store adapter.RecordStore) *Capturer {
	return &Capturer{snapRepo: snapRepo, store: store}
}

// Capture fetches the fields the handler declares and persists them as a
// snapshot. It must succeed before the record is mutated: a failed capture
// fails the record, because a mutation without its snapshot cannot be undone.
// Capture is idempotent per (execution, record): a batch redelivery keeps the
// first snapshot, since the record may already hold post-mutation values.
// Executions without undo enabled skip capture entirely.
func (c *Capturer) Capture(ctx context.Context, execution *model.Execution, handler action.Handler, recordID string) error {
	if !execution.UndoEnabled {
		return nil
	}
	if _, err := c.snapRepo.FindActiveSnapshot(ctx, execution.ID, recordID); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrSnapshotNotFound) {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to check existing snapshot of record '%s'", recordID), err, false, true)
	}
	fields := handler.DeclareUndoFields(execution.Params)
	record, err := c.store.Fetch(ctx, execution.EntityType, recordID, fields)
	if err != nil {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to capture record '%s' of entity type '%s'", recordID, execution.EntityType), err, false, true)
	}
	snapshot := model.NewSnapshotRecord(execution.ID, execution.EntityType, recordID, handler.UndoOperationType(), model.FieldMap(record))
	if err := c.snapRepo.SaveSnapshot(ctx, snapshot); err != nil {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to persist snapshot for record '%s'", recordID), err, false, true)
	}
	return nil
}
