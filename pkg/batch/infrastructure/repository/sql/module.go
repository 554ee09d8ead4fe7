package sql

import (
	"go.uber.org/fx"

	coreAdapter "github.com/tigerroll/riskbatch/pkg/batch/core/adapter"
	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	repository "github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"
)

// RepositoryParams are the Fx inputs of NewRiskRepositoryFromConfig.
type RepositoryParams struct {
	fx.In
	Resolver coreAdapter.ResourceConnectionResolver
	Cfg      *config.Config
}

// NewRiskRepositoryFromConfig binds the repository to the connection named by riskbatch.infrastructure.risk_db_ref.
func NewRiskRepositoryFromConfig(p RepositoryParams) repository.RiskRepository {
	dbName := p.Cfg.RiskBatch.Infrastructure.RiskDBRef
	logger.Debugf("Risk repository bound to database connection '%s'.", dbName)
	return NewSQLRiskRepository(p.Resolver, dbName, p.Cfg.RiskBatch.Batch.BulkChunkSize)
}

// Module provides the SQL risk repository.
var Module = fx.Options(
	fx.Provide(NewRiskRepositoryFromConfig),
)
