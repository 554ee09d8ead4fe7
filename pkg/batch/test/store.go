// Package test holds fixtures shared by the tests of the risk store and its components.
package test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riskbatch/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/riskbatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/riskbatch/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	tx "github.com/tigerroll/riskbatch/pkg/batch/core/tx"
	sqlrepo "github.com/tigerroll/riskbatch/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/riskbatch/pkg/batch/infrastructure/schema"
)

// RiskDBName is the connection name used by the test store.
const RiskDBName = "risk"

// RiskStore is a migrated in-memory SQLite risk store.
type RiskStore struct {
	Config    *config.Config
	Conn      database.DBConnection
	Resolver  database.DBConnectionResolver
	Repo      *sqlrepo.SQLRiskRepository
	TxManager tx.TransactionManager
}

// NewRiskStore opens a private in-memory database, applies the schema and wires the repository.
// The pool holds a single connection so that every statement sees the same memory database.
func NewRiskStore(t testing.TB) *RiskStore {
	t.Helper()

	cfg := config.NewConfig()
	cfg.RiskBatch.AdapterConfigs = map[string]interface{}{
		RiskDBName: map[string]interface{}{
			"type":     "sqlite",
			"database": "file:risk_" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=on",
			"pool": map[string]interface{}{
				"max_open_conns": 1,
				"max_idle_conns": 1,
			},
		},
	}
	cfg.RiskBatch.Batch.BulkChunkSize = 3

	provider := sqlite.NewProvider(cfg)
	t.Cleanup(func() { _ = provider.CloseAll() })

	resolver := gormadapter.NewGormDBConnectionResolver(gormadapter.ResolverParams{
		DBProviders: []database.DBProvider{provider},
		Cfg:         cfg,
	})
	conn, err := resolver.ResolveDBConnection(context.Background(), RiskDBName)
	require.NoError(t, err)
	require.NoError(t, schema.NewMigrator(conn).Up(context.Background()))

	return &RiskStore{
		Config:    cfg,
		Conn:      conn,
		Resolver:  resolver,
		Repo:      sqlrepo.NewSQLRiskRepository(resolver, RiskDBName, cfg.RiskBatch.Batch.BulkChunkSize),
		TxManager: gormadapter.NewGormTransactionManagerFactory(resolver).NewTransactionManager(conn),
	}
}
