package undo

import (
	"context"
	"fmt"
	"time"

	"github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/repository"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

// SnapshotArchiver moves purged snapshots to long-term storage before they are
// deleted from the ledger.
type SnapshotArchiver interface {
	Archive(ctx context.Context, executionID string, snapshots []*model.SnapshotRecord) error
}

// Purger removes snapshots whose undo window has expired. When an archiver is
// configured the purged snapshots are archived first; an archival failure skips
// the purge of that execution so no capture is lost.
type Purger struct {
	execRepo repository.ExecutionRepository
	snapRepo repository.SnapshotRepository
	archiver SnapshotArchiver
}

// NewPurger creates a new Purger. archiver may be nil to purge without archiving.
func NewPurger(execRepo repository.ExecutionRepository, snapRepo repository.SnapshotRepository, archiver SnapshotArchiver) *Purger {
	return &Purger{execRepo: execRepo, snapRepo: snapRepo, archiver: archiver}
}

// PurgeExpired scans for executions whose undo window closed before now and
// removes their snapshots. It returns the number of snapshots purged.
func (p *Purger) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	executions, err := p.execRepo.FindUndoEligibleBefore(ctx, now)
	if err != nil {
		return 0, exception.NewBulkError(moduleName, "failed to scan for expired undo windows", err, false, true)
	}

	purged := 0
	for _, execution := range executions {
		n, err := p.purgeExecution(ctx, execution)
		if err != nil {
			logger.Errorf("Snapshot purge of execution '%s' failed: %v", execution.ID, err)
			continue
		}
		purged += n
	}
	if purged > 0 {
		logger.Infof("Purged %d expired snapshots across %d executions", purged, len(executions))
	}
	return purged, nil
}

func (p *Purger) purgeExecution(ctx context.Context, execution *model.Execution) (int, error) {
	if p.archiver != nil {
		// Archive before deleting. Consumed snapshots were already applied by an
		// undo pass, so only the still-active captures are worth keeping.
		snapshots, err := p.snapRepo.FindActiveSnapshots(ctx, execution.ID)
		if err != nil {
			return 0, exception.NewBulkError(moduleName, fmt.Sprintf("failed to load snapshots of execution '%s'", execution.ID), err, false, true)
		}
		if len(snapshots) > 0 {
			if err := p.archiver.Archive(ctx, execution.ID, snapshots); err != nil {
				return 0, exception.NewBulkError(moduleName, fmt.Sprintf("failed to archive snapshots of execution '%s'", execution.ID), err, false, true)
			}
		}
	}

	cutoff := time.Now()
	if execution.UndoExpiresAt != nil {
		cutoff = *execution.UndoExpiresAt
	}
	purged, err := p.snapRepo.PurgeExpired(ctx, execution.ID, cutoff)
	if err != nil {
		return 0, exception.NewBulkError(moduleName, fmt.Sprintf("failed to purge snapshots of execution '%s'", execution.ID), err, false, true)
	}
	return len(purged), nil
}
