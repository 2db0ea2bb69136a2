// Package mysql registers the MySQL dialector with the GORM ledger layer.
package mysql

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	gormrepo "github.com/tigerroll/marlin/pkg/bulk/infrastructure/repository/gorm"
)

func init() {
	gormrepo.RegisterDialector("mysql", func(cfg gormrepo.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(connectionString(cfg)), nil
	})
}

// connectionString generates the DSN format expected by gorm.io/driver/mysql.
func connectionString(c gormrepo.DatabaseConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}
