package gormstore

import (
	"go.uber.org/fx"
	gormdb "gorm.io/gorm"

	"github.com/tigerroll/marlin/pkg/bulk/core/adapter"
	config "github.com/tigerroll/marlin/pkg/bulk/core/config"
	gormrepo "github.com/tigerroll/marlin/pkg/bulk/infrastructure/repository/gorm"
)

// targetDB names the fx value carrying the target-side connection, which is
// distinct from the ledger connection.
type targetDB struct {
	fx.Out
	DB *gormdb.DB `name:"target_db"`
}

// NewTargetDB opens the connection holding the target entities.
func NewTargetDB(cfg *config.Config) (targetDB, error) {
	db, err := gormrepo.Open(cfg, cfg.Marlin.Infrastructure.TargetDBRef)
	if err != nil {
		return targetDB{}, err
	}
	return targetDB{DB: db}, nil
}

// Module provides the GORM target source and record store.
var Module = fx.Options(
	fx.Provide(
		NewTargetDB,
		fx.Annotate(NewGormTargetSource, fx.ParamTags(`name:"target_db"`)),
		fx.Annotate(NewGormRecordStore, fx.ParamTags(`name:"target_db"`)),
		func(s *GormTargetSource) adapter.TargetSource { return s },
		func(s *GormRecordStore) adapter.RecordStore { return s },
	),
)
