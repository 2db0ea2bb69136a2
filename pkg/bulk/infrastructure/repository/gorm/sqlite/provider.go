// Package sqlite registers the SQLite dialector with the GORM ledger layer.
package sqlite

import (
	"errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	gormrepo "github.com/tigerroll/marlin/pkg/bulk/infrastructure/repository/gorm"
)

func init() {
	gormrepo.RegisterDialector("sqlite", func(cfg gormrepo.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		// GORM's SQLite dialector expects the file path directly.
		return sqlite.Open(cfg.Database), nil
	})
}
