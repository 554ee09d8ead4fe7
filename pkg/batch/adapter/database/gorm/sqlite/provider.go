// Package sqlite provides the GORM DBProvider for SQLite databases.
package sqlite

import (
	"errors"
	"strings"

	"github.com/tigerroll/riskbatch/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/riskbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/riskbatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(ConnectionString(cfg)), nil
	})
}

// SQLiteDBProvider implements database.DBProvider for SQLite connections.
type SQLiteDBProvider struct {
	*gormadapter.BaseProvider
}

// ConnectionString returns the SQLite DSN. Foreign keys are switched on unless the path already carries options.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	if strings.Contains(c.Database, "?") {
		return c.Database
	}
	return c.Database + "?_foreign_keys=on"
}

// NewProvider creates the SQLite DBProvider.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &SQLiteDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "sqlite")}
}
