package inmemory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/repository"
)

// SaveSnapshot persists a new SnapshotRecord. A second non-undone snapshot of
// the same (execution, record) pair is rejected.
func (r *InMemoryLedgerRepository) SaveSnapshot(ctx context.Context, snapshot *model.SnapshotRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.snapshots {
		if s.ExecutionID == snapshot.ExecutionID && s.RecordID == snapshot.RecordID && !s.Undone {
			return fmt.Errorf("active snapshot for record %s of execution %s already exists", snapshot.RecordID, snapshot.ExecutionID)
		}
	}
	cloned := *snapshot
	cloned.Fields = snapshot.Fields.Copy()
	r.snapshots[snapshot.ID] = &cloned
	return nil
}

// MarkSnapshotUndone flags one snapshot as consumed by an undo pass.
func (r *InMemoryLedgerRepository) MarkSnapshotUndone(ctx context.Context, snapshotID, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot, ok := r.snapshots[snapshotID]
	if !ok {
		return repository.ErrSnapshotNotFound
	}
	snapshot.MarkUndone(actor)
	return nil
}

// FindActiveSnapshot returns the non-undone snapshot of one (execution, record) pair.
func (r *InMemoryLedgerRepository) FindActiveSnapshot(ctx context.Context, executionID, recordID string) (*model.SnapshotRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.snapshots {
		if s.ExecutionID == executionID && s.RecordID == recordID && !s.Undone {
			cloned := *s
			cloned.Fields = s.Fields.Copy()
			return &cloned, nil
		}
	}
	return nil, repository.ErrSnapshotNotFound
}

// FindActiveSnapshots returns the non-undone snapshots of one execution in capture order.
func (r *InMemoryLedgerRepository) FindActiveSnapshots(ctx context.Context, executionID string) ([]*model.SnapshotRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var snapshots []*model.SnapshotRecord
	for _, s := range r.snapshots {
		if s.ExecutionID == executionID && !s.Undone {
			cloned := *s
			cloned.Fields = s.Fields.Copy()
			snapshots = append(snapshots, &cloned)
		}
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].CreateTime.Before(snapshots[j].CreateTime) })
	return snapshots, nil
}

// CountActiveSnapshots counts the non-undone snapshots of one execution.
func (r *InMemoryLedgerRepository) CountActiveSnapshots(ctx context.Context, executionID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, s := range r.snapshots {
		if s.ExecutionID == executionID && !s.Undone {
			count++
		}
	}
	return count, nil
}

// PurgeExpired removes the execution's snapshots captured before the cutoff
// and returns them.
func (r *InMemoryLedgerRepository) PurgeExpired(ctx context.Context, executionID string, cutoff time.Time) ([]*model.SnapshotRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var purged []*model.SnapshotRecord
	for id, s := range r.snapshots {
		if s.ExecutionID == executionID && s.CreateTime.Before(cutoff) {
			purged = append(purged, s)
			delete(r.snapshots, id)
		}
	}
	sort.Slice(purged, func(i, j int) bool { return purged[i].CreateTime.Before(purged[j].CreateTime) })
	return purged, nil
}
