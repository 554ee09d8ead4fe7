package usecase

import (
	"go.uber.org/fx"

	"github.com/tigerroll/riskbatch/pkg/batch/component/classify"
	"github.com/tigerroll/riskbatch/pkg/batch/component/export"
	"github.com/tigerroll/riskbatch/pkg/batch/component/writer"
	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	"github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/riskbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/riskbatch/pkg/batch/core/tx"
)

// RiskTxManagerParams are the Fx inputs of NewRiskTransactionManager.
type RiskTxManagerParams struct {
	fx.In
	Factory tx.TransactionManagerFactory
	Cfg     *config.InfrastructureConfig
}

// namedConnection stands in for a connection that is only known by name until a transaction begins.
type namedConnection string

func (c namedConnection) Close() error { return nil }
func (c namedConnection) Type() string { return "database" }
func (c namedConnection) Name() string { return string(c) }

// NewRiskTransactionManager binds a TransactionManager to the risk database connection. The
// connection itself is resolved lazily, so building the graph does not touch the database.
func NewRiskTransactionManager(p RiskTxManagerParams) tx.TransactionManager {
	return p.Factory.NewTransactionManager(namedConnection(p.Cfg.RiskDBRef))
}

// NewBatchWriter wires the writer over the risk store.
func NewBatchWriter(tm tx.TransactionManager, repo repository.RiskRepository, recorder metrics.MetricRecorder, tracer metrics.Tracer) *writer.BatchWriter {
	return writer.NewBatchWriter(tm, repo, classify.NewClassifier(classify.NewConverterRegistry()), recorder, tracer)
}

// Module provides the run lifecycle, the result explorer and the run exporter.
var Module = fx.Options(
	fx.Provide(NewRiskTransactionManager),
	fx.Provide(NewBatchWriter),
	fx.Provide(fx.Annotate(
		NewDefaultRunManager,
		fx.As(new(RunLifecycle)),
	)),
	fx.Provide(fx.Annotate(
		NewSimpleResultExplorer,
		fx.As(new(ResultExplorer)),
	)),
	fx.Provide(func(repo repository.RiskRepository) export.Source { return repo }),
	fx.Provide(export.NewParquetExporter),
)
