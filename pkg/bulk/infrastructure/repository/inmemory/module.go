package inmemory

import (
	"go.uber.org/fx"

	"github.com/tigerroll/marlin/pkg/bulk/core/domain/repository"
)

// Module provides the in-memory ledger as all three repository interfaces.
var Module = fx.Options(
	fx.Provide(
		NewInMemoryLedgerRepository,
		func(r *InMemoryLedgerRepository) repository.ExecutionRepository { return r },
		func(r *InMemoryLedgerRepository) repository.BatchRepository { return r },
		func(r *InMemoryLedgerRepository) repository.SnapshotRepository { return r },
	),
)
