// Package inmemory provides map-backed implementations of the ledger
// repositories, used by tests and single-process deployments.
package inmemory

import (
	"sync"

	"github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/repository"
)

// InMemoryLedgerRepository holds the whole ledger behind one mutex. The mutex
// makes IncrementCounters and TransitionStatus atomic, matching the guarantees
// of the SQL implementation.
type InMemoryLedgerRepository struct {
	mu         sync.RWMutex
	executions map[string]*model.Execution
	batches    map[string]*model.Batch
	snapshots  map[string]*model.SnapshotRecord
}

// NewInMemoryLedgerRepository creates an empty ledger.
func NewInMemoryLedgerRepository() *InMemoryLedgerRepository {
	return &InMemoryLedgerRepository{
		executions: make(map[string]*model.Execution),
		batches:    make(map[string]*model.Batch),
		snapshots:  make(map[string]*model.SnapshotRecord),
	}
}

// Verify interfaces
var (
	_ repository.ExecutionRepository = (*InMemoryLedgerRepository)(nil)
	_ repository.BatchRepository     = (*InMemoryLedgerRepository)(nil)
	_ repository.SnapshotRepository  = (*InMemoryLedgerRepository)(nil)
)
