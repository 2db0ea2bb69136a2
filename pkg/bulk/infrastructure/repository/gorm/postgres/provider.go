// Package postgres registers the PostgreSQL dialector with the GORM ledger layer.
package postgres

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	gormrepo "github.com/tigerroll/marlin/pkg/bulk/infrastructure/repository/gorm"
)

func init() {
	gormrepo.RegisterDialector("postgres", func(cfg gormrepo.DatabaseConfig) (gorm.Dialector, error) {
		return postgres.Open(connectionString(cfg)), nil
	})
}

// connectionString generates the DSN format expected by gorm.io/driver/postgres.
func connectionString(c gormrepo.DatabaseConfig) string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode)
}
