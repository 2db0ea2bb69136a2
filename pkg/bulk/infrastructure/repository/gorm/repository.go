package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	config "github.com/tigerroll/marlin/pkg/bulk/core/config"
	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	repository "github.com/tigerroll/marlin/pkg/bulk/core/domain/repository"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
)

const moduleName = "gorm_repository"

// GormLedgerRepository implements the ledger repositories on one GORM
// connection. Counter updates and status transitions are single guarded UPDATE
// statements; the database serializes concurrent writers.
type GormLedgerRepository struct {
	db *gorm.DB
	// compressThreshold is the snapshot payload size above which captures are
	// gzip-compressed at rest.
	compressThreshold int
}

// NewGormLedgerRepository creates a new GormLedgerRepository.
func NewGormLedgerRepository(db *gorm.DB, undoCfg *config.UndoConfig) *GormLedgerRepository {
	return &GormLedgerRepository{db: db, compressThreshold: undoCfg.CompressThresholdBytes}
}

// --- ExecutionRepository implementation ---

// SaveExecution persists a new Execution.
func (r *GormLedgerRepository) SaveExecution(ctx context.Context, execution *model.Execution) error {
	entity := fromDomainExecution(execution)
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to save Execution (ID: %s)", execution.ID), err, false, true)
	}
	return nil
}

// UpdateExecution updates an Execution with optimistic locking on Version.
func (r *GormLedgerRepository) UpdateExecution(ctx context.Context, execution *model.Execution) error {
	originalVersion := execution.Version
	execution.Version++
	execution.LastUpdated = time.Now()
	entity := fromDomainExecution(execution)

	result := r.db.WithContext(ctx).
		Model(&ExecutionEntity{}).
		Where("id = ? AND version = ?", execution.ID, originalVersion).
		Select("*").Omit("id", "create_time").
		Updates(entity)
	if result.Error != nil {
		execution.Version = originalVersion
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to update Execution (ID: %s)", execution.ID), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		execution.Version = originalVersion
		return exception.NewBulkError(moduleName,
			fmt.Sprintf("optimistic lock conflict updating Execution (ID: %s, version: %d)", execution.ID, originalVersion), nil, false, true)
	}
	return nil
}

// FindExecutionByID finds an Execution by its ID.
func (r *GormLedgerRepository) FindExecutionByID(ctx context.Context, id string) (*model.Execution, error) {
	var entity ExecutionEntity
	err := r.db.WithContext(ctx).First(&entity, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrExecutionNotFound
		}
		return nil, exception.NewBulkError(moduleName, fmt.Sprintf("failed to find Execution (ID: %s)", id), err, false, true)
	}
	return toDomainExecution(&entity), nil
}

// IncrementCounters adds the deltas to the counter columns in one UPDATE.
func (r *GormLedgerRepository) IncrementCounters(ctx context.Context, executionID string, processedDelta, failedDelta int64) error {
	result := r.db.WithContext(ctx).
		Model(&ExecutionEntity{}).
		Where("id = ?", executionID).
		Updates(map[string]interface{}{
			"processed_records": gorm.Expr("processed_records + ?", processedDelta),
			"failed_records":    gorm.Expr("failed_records + ?", failedDelta),
			"last_updated":      time.Now(),
		})
	if result.Error != nil {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to increment counters of Execution (ID: %s)", executionID), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		return repository.ErrExecutionNotFound
	}
	return nil
}

// TransitionStatus performs the from-status guarded transition. The row is
// loaded, mutated and written back inside one transaction; the guard in the
// UPDATE's WHERE clause decides the race.
func (r *GormLedgerRepository) TransitionStatus(ctx context.Context, executionID string, from, to model.ExecutionStatus, mutate func(*model.Execution)) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entity ExecutionEntity
		if err := tx.First(&entity, "id = ?", executionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repository.ErrExecutionNotFound
			}
			return exception.NewBulkError(moduleName, fmt.Sprintf("failed to load Execution (ID: %s)", executionID), err, false, true)
		}
		if entity.Status != from {
			return repository.ErrStatusPrecondition
		}

		execution := toDomainExecution(&entity)
		execution.Status = to
		execution.LastUpdated = time.Now()
		if mutate != nil {
			mutate(execution)
		}
		updated := fromDomainExecution(execution)

		result := tx.Model(&ExecutionEntity{}).
			Where("id = ? AND status = ?", executionID, from).
			Select("*").Omit("id", "create_time").
			Updates(updated)
		if result.Error != nil {
			return exception.NewBulkError(moduleName, fmt.Sprintf("failed to transition Execution (ID: %s) %s -> %s", executionID, from, to), result.Error, false, true)
		}
		if result.RowsAffected == 0 {
			return repository.ErrStatusPrecondition
		}
		return nil
	})
}

// ClaimUndo flips the undo flag off exactly once via a guarded UPDATE.
func (r *GormLedgerRepository) ClaimUndo(ctx context.Context, executionID string, claimedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&ExecutionEntity{}).
		Where("id = ? AND undo_enabled = ? AND undone_at IS NULL", executionID, true).
		Updates(map[string]interface{}{
			"undo_enabled": false,
			"undone_at":    claimedAt,
			"last_updated": time.Now(),
		})
	if result.Error != nil {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to claim undo of Execution (ID: %s)", executionID), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		return repository.ErrStatusPrecondition
	}
	return nil
}

// CountActiveByActor counts the actor's executions in a non-terminal status.
func (r *GormLedgerRepository) CountActiveByActor(ctx context.Context, actor string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ExecutionEntity{}).
		Where("actor = ? AND status NOT IN ?", actor, terminalExecutionStatuses()).
		Count(&count).Error
	if err != nil {
		return 0, exception.NewBulkError(moduleName, fmt.Sprintf("failed to count active executions of actor '%s'", actor), err, false, true)
	}
	return count, nil
}

// FindDueScheduled returns scheduled executions whose activation time has passed.
func (r *GormLedgerRepository) FindDueScheduled(ctx context.Context, now time.Time) ([]*model.Execution, error) {
	var entities []ExecutionEntity
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", model.ExecutionStatusScheduled, now).
		Order("scheduled_at ASC").
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewBulkError(moduleName, "failed to find due scheduled executions", err, false, true)
	}
	return toDomainExecutions(entities), nil
}

// FindScheduledByActor returns the actor's executions still in SCHEDULED status.
func (r *GormLedgerRepository) FindScheduledByActor(ctx context.Context, actor string) ([]*model.Execution, error) {
	var entities []ExecutionEntity
	err := r.db.WithContext(ctx).
		Where("actor = ? AND status = ?", actor, model.ExecutionStatusScheduled).
		Order("create_time ASC").
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewBulkError(moduleName, fmt.Sprintf("failed to find scheduled executions of actor '%s'", actor), err, false, true)
	}
	return toDomainExecutions(entities), nil
}

// FindUndoEligibleBefore returns terminal executions whose undo window expired
// before the cutoff and that still hold snapshots. Already purged executions
// have no snapshot rows left and drop out of the scan.
func (r *GormLedgerRepository) FindUndoEligibleBefore(ctx context.Context, cutoff time.Time) ([]*model.Execution, error) {
	var entities []ExecutionEntity
	err := r.db.WithContext(ctx).
		Where("status IN ? AND undo_expires_at < ? AND id IN (SELECT execution_id FROM bulk_snapshot)",
			terminalExecutionStatuses(), cutoff).
		Order("undo_expires_at ASC").
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewBulkError(moduleName, "failed to find executions with expired undo windows", err, false, true)
	}
	return toDomainExecutions(entities), nil
}

func toDomainExecutions(entities []ExecutionEntity) []*model.Execution {
	executions := make([]*model.Execution, 0, len(entities))
	for i := range entities {
		executions = append(executions, toDomainExecution(&entities[i]))
	}
	return executions
}

func terminalExecutionStatuses() []model.ExecutionStatus {
	return []model.ExecutionStatus{
		model.ExecutionStatusCompleted,
		model.ExecutionStatusFailed,
		model.ExecutionStatusCancelled,
	}
}

// --- BatchRepository implementation ---

// SaveBatch persists a new Batch.
func (r *GormLedgerRepository) SaveBatch(ctx context.Context, batch *model.Batch) error {
	entity := fromDomainBatch(batch)
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to save Batch (ID: %s)", batch.ID), err, false, true)
	}
	return nil
}

// UpdateBatch updates mutable Batch fields.
func (r *GormLedgerRepository) UpdateBatch(ctx context.Context, batch *model.Batch) error {
	batch.LastUpdated = time.Now()
	entity := fromDomainBatch(batch)
	result := r.db.WithContext(ctx).
		Model(&BatchEntity{}).
		Where("id = ?", batch.ID).
		Select("*").Omit("id", "execution_id", "sequence", "create_time").
		Updates(entity)
	if result.Error != nil {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to update Batch (ID: %s)", batch.ID), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		return repository.ErrBatchNotFound
	}
	return nil
}

// FindBatchByID finds a Batch by its ID.
func (r *GormLedgerRepository) FindBatchByID(ctx context.Context, id string) (*model.Batch, error) {
	var entity BatchEntity
	err := r.db.WithContext(ctx).First(&entity, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrBatchNotFound
		}
		return nil, exception.NewBulkError(moduleName, fmt.Sprintf("failed to find Batch (ID: %s)", id), err, false, true)
	}
	return toDomainBatch(&entity), nil
}

// FindBatchesByExecutionID returns all batches of one execution ordered by sequence.
func (r *GormLedgerRepository) FindBatchesByExecutionID(ctx context.Context, executionID string) ([]*model.Batch, error) {
	var entities []BatchEntity
	err := r.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("sequence ASC").
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewBulkError(moduleName, fmt.Sprintf("failed to find batches of Execution (ID: %s)", executionID), err, false, true)
	}
	batches := make([]*model.Batch, 0, len(entities))
	for i := range entities {
		batches = append(batches, toDomainBatch(&entities[i]))
	}
	return batches, nil
}

// CountUnfinishedBatches counts batches of the execution not yet in a terminal status.
func (r *GormLedgerRepository) CountUnfinishedBatches(ctx context.Context, executionID string) (int64, error) {
	terminal := []model.BatchStatus{model.BatchStatusCompleted, model.BatchStatusFailed, model.BatchStatusCancelled}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&BatchEntity{}).
		Where("execution_id = ? AND status NOT IN ?", executionID, terminal).
		Count(&count).Error
	if err != nil {
		return 0, exception.NewBulkError(moduleName, fmt.Sprintf("failed to count unfinished batches of Execution (ID: %s)", executionID), err, false, true)
	}
	return count, nil
}

// --- SnapshotRepository implementation ---

// SaveSnapshot persists a new SnapshotRecord.
func (r *GormLedgerRepository) SaveSnapshot(ctx context.Context, snapshot *model.SnapshotRecord) error {
	entity, err := fromDomainSnapshot(snapshot, r.compressThreshold)
	if err != nil {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to encode Snapshot (ID: %s)", snapshot.ID), err, false, false)
	}
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to save Snapshot (ID: %s)", snapshot.ID), err, false, true)
	}
	return nil
}

// MarkSnapshotUndone flags one snapshot as consumed by an undo pass.
func (r *GormLedgerRepository) MarkSnapshotUndone(ctx context.Context, snapshotID, actor string) error {
	result := r.db.WithContext(ctx).
		Model(&SnapshotEntity{}).
		Where("id = ?", snapshotID).
		Updates(map[string]interface{}{
			"undone":    true,
			"undone_at": time.Now(),
			"undone_by": actor,
		})
	if result.Error != nil {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to mark Snapshot (ID: %s) undone", snapshotID), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		return repository.ErrSnapshotNotFound
	}
	return nil
}

// FindActiveSnapshot returns the non-undone snapshot of one (execution, record) pair.
func (r *GormLedgerRepository) FindActiveSnapshot(ctx context.Context, executionID, recordID string) (*model.SnapshotRecord, error) {
	var entity SnapshotEntity
	err := r.db.WithContext(ctx).
		Where("execution_id = ? AND record_id = ? AND undone = ?", executionID, recordID, false).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSnapshotNotFound
		}
		return nil, exception.NewBulkError(moduleName, fmt.Sprintf("failed to find snapshot of record '%s' in Execution (ID: %s)", recordID, executionID), err, false, true)
	}
	snapshot, err := toDomainSnapshot(&entity)
	if err != nil {
		return nil, exception.NewBulkError(moduleName, fmt.Sprintf("failed to decode Snapshot (ID: %s)", entity.ID), err, false, false)
	}
	return snapshot, nil
}

// FindActiveSnapshots returns the non-undone snapshots of one execution in capture order.
func (r *GormLedgerRepository) FindActiveSnapshots(ctx context.Context, executionID string) ([]*model.SnapshotRecord, error) {
	var entities []SnapshotEntity
	err := r.db.WithContext(ctx).
		Where("execution_id = ? AND undone = ?", executionID, false).
		Order("create_time ASC").
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewBulkError(moduleName, fmt.Sprintf("failed to find snapshots of Execution (ID: %s)", executionID), err, false, true)
	}
	snapshots := make([]*model.SnapshotRecord, 0, len(entities))
	for i := range entities {
		snapshot, err := toDomainSnapshot(&entities[i])
		if err != nil {
			return nil, exception.NewBulkError(moduleName, fmt.Sprintf("failed to decode Snapshot (ID: %s)", entities[i].ID), err, false, false)
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

// CountActiveSnapshots counts the non-undone snapshots of one execution.
func (r *GormLedgerRepository) CountActiveSnapshots(ctx context.Context, executionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&SnapshotEntity{}).
		Where("execution_id = ? AND undone = ?", executionID, false).
		Count(&count).Error
	if err != nil {
		return 0, exception.NewBulkError(moduleName, fmt.Sprintf("failed to count snapshots of Execution (ID: %s)", executionID), err, false, true)
	}
	return count, nil
}

// PurgeExpired removes the execution's snapshots captured before the cutoff and returns them.
func (r *GormLedgerRepository) PurgeExpired(ctx context.Context, executionID string, cutoff time.Time) ([]*model.SnapshotRecord, error) {
	var purged []*model.SnapshotRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entities []SnapshotEntity
		if err := tx.Where("execution_id = ? AND create_time < ?", executionID, cutoff).
			Order("create_time ASC").
			Find(&entities).Error; err != nil {
			return err
		}
		for i := range entities {
			snapshot, err := toDomainSnapshot(&entities[i])
			if err != nil {
				return err
			}
			purged = append(purged, snapshot)
		}
		return tx.Where("execution_id = ? AND create_time < ?", executionID, cutoff).
			Delete(&SnapshotEntity{}).Error
	})
	if err != nil {
		return nil, exception.NewBulkError(moduleName, fmt.Sprintf("failed to purge snapshots of Execution (ID: %s)", executionID), err, false, true)
	}
	return purged, nil
}

// Verify interfaces
var (
	_ repository.ExecutionRepository = (*GormLedgerRepository)(nil)
	_ repository.BatchRepository     = (*GormLedgerRepository)(nil)
	_ repository.SnapshotRepository  = (*GormLedgerRepository)(nil)
)
