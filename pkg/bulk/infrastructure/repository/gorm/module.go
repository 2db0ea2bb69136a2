package gorm

import (
	"go.uber.org/fx"
	gormdb "gorm.io/gorm"

	config "github.com/tigerroll/marlin/pkg/bulk/core/config"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/repository"
)

// NewLedgerDB opens the ledger connection named by the infrastructure
// configuration and runs the embedded migrations against it.
func NewLedgerDB(cfg *config.Config) (*gormdb.DB, error) {
	name := cfg.Marlin.Infrastructure.LedgerDBRef
	db, err := Open(cfg, name)
	if err != nil {
		return nil, err
	}
	dbConfig, err := DecodeDatabaseConfig(cfg, name)
	if err != nil {
		return nil, err
	}
	if err := MigrateLedger(db, dbConfig.Type); err != nil {
		return nil, err
	}
	return db, nil
}

// Module provides the GORM-backed ledger as all three repository interfaces.
var Module = fx.Options(
	fx.Provide(
		NewLedgerDB,
		NewGormLedgerRepository,
		func(r *GormLedgerRepository) repository.ExecutionRepository { return r },
		func(r *GormLedgerRepository) repository.BatchRepository { return r },
		func(r *GormLedgerRepository) repository.SnapshotRepository { return r },
	),
)
