// Package database defines the database connection abstractions used by the risk store.
package database

import (
	"context"
	"database/sql"

	dbconfig "github.com/tigerroll/riskbatch/pkg/batch/adapter/database/config"
	coreAdapter "github.com/tigerroll/riskbatch/pkg/batch/core/adapter"
	"github.com/tigerroll/riskbatch/pkg/batch/core/tx"
)

// DBConnection represents a named, pooled database connection.
type DBConnection interface {
	coreAdapter.ResourceConnection
	tx.Executor

	// IsTableNotExistError reports whether err means a table is missing (schema not migrated).
	IsTableNotExistError(err error) bool
	// IsUniqueViolation reports whether err is a unique constraint violation.
	IsUniqueViolation(err error) bool
	// RefreshConnection pings the pool, re-establishing it if necessary.
	RefreshConnection(ctx context.Context) error
	// Config returns the database configuration associated with this connection.
	Config() dbconfig.DatabaseConfig
	// GetSQLDB returns the underlying *sql.DB connection.
	GetSQLDB() (*sql.DB, error)
}

// DBConnectionResolver resolves a healthy database connection by name.
type DBConnectionResolver interface {
	coreAdapter.ResourceConnectionResolver

	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}

// DBProvider provides database connections of one database type.
type DBProvider interface {
	// GetConnection retrieves a database connection with the specified name.
	GetConnection(name string) (DBConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the database type handled by this provider (e.g. "sqlite").
	Type() string
	// ForceReconnect closes and re-opens the named connection.
	ForceReconnect(name string) (DBConnection, error)
}

// DBProviderGroup is the Fx value group collecting every DBProvider.
const DBProviderGroup = "db_providers"
