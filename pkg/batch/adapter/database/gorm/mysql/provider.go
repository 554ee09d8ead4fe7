// Package mysql provides the GORM DBProvider for MySQL databases.
package mysql

import (
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/tigerroll/riskbatch/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/riskbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/riskbatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func init() {
	gormadapter.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	})
}

// MySQLDBProvider implements database.DBProvider for MySQL connections.
type MySQLDBProvider struct {
	*gormadapter.BaseProvider
}

// ConnectionString builds the DSN with go-sql-driver's Config so credentials are escaped correctly.
// Instants are parsed as UTC.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	port := c.Port
	if port == 0 {
		port = 3306
	}
	dsn := mysqldriver.NewConfig()
	dsn.User = c.User
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", c.Host, port)
	dsn.DBName = c.Database
	dsn.ParseTime = true
	dsn.MultiStatements = true
	dsn.Params = map[string]string{"charset": "utf8mb4"}
	return dsn.FormatDSN()
}

// NewProvider creates the MySQL DBProvider.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &MySQLDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "mysql")}
}
