package repository

import (
	"context"
	"errors"
	"time"

	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
)

// ErrSnapshotNotFound is returned when a SnapshotRecord cannot be located.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotRepository persists pre-mutation snapshots used for undo.
type SnapshotRepository interface {
	// SaveSnapshot persists a new SnapshotRecord. Saving a second non-undone
	// snapshot for the same (execution, record) pair is an error.
	SaveSnapshot(ctx context.Context, snapshot *model.SnapshotRecord) error
	// MarkSnapshotUndone flags one snapshot as consumed by an undo pass.
	MarkSnapshotUndone(ctx context.Context, snapshotID, actor string) error
	// FindActiveSnapshot returns the non-undone snapshot of one (execution,
	// record) pair, or ErrSnapshotNotFound when none exists.
	FindActiveSnapshot(ctx context.Context, executionID, recordID string) (*model.SnapshotRecord, error)
	// FindActiveSnapshots returns the non-undone snapshots of one execution in capture order.
	FindActiveSnapshots(ctx context.Context, executionID string) ([]*model.SnapshotRecord, error)
	// CountActiveSnapshots counts the non-undone snapshots of one execution.
	CountActiveSnapshots(ctx context.Context, executionID string) (int64, error)
	// PurgeExpired deletes non-undone snapshots of executions whose undo window
	// closed before the cutoff, returning the purged records so the retention
	// layer can archive them first. Retention is a policy decision, not a
	// correctness one.
	PurgeExpired(ctx context.Context, executionID string, cutoff time.Time) ([]*model.SnapshotRecord, error)
}
