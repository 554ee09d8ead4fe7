// Package app assembles the Fx graph of the risk batch writer.
package app

import (
	"context"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/riskbatch/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/riskbatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/riskbatch/pkg/batch/adapter/database/gorm/mysql"
	"github.com/tigerroll/riskbatch/pkg/batch/adapter/database/gorm/postgres"
	"github.com/tigerroll/riskbatch/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/riskbatch/pkg/batch/adapter/storage"
	"github.com/tigerroll/riskbatch/pkg/batch/adapter/storage/gcs"
	"github.com/tigerroll/riskbatch/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/riskbatch/pkg/batch/core/application/usecase"
	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	"github.com/tigerroll/riskbatch/pkg/batch/infrastructure/metrics"
	sqlrepo "github.com/tigerroll/riskbatch/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/riskbatch/pkg/batch/infrastructure/schema"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"
)

// DBProviderModules maps the names accepted in DB_ADAPTERS to their provider modules.
var DBProviderModules = map[string]fx.Option{
	"sqlite":   sqlite.Module,
	"postgres": postgres.Module,
	"mysql":    mysql.Module,
}

// StorageProviderModules maps the names accepted in STORAGE_ADAPTERS to their provider modules.
var StorageProviderModules = map[string]fx.Option{
	"local": local.Module,
	"gcs":   gcs.Module,
}

// StopTimeout bounds the shutdown hooks (telemetry flush, metrics push, connection close).
const StopTimeout = 15 * time.Second

// selectModules picks the modules named in the comma separated environment variable env,
// falling back to defaults when it is unset.
func selectModules(env, defaults string, modules map[string]fx.Option) []fx.Option {
	names := os.Getenv(env)
	if names == "" {
		names = defaults
	}
	var options []fx.Option
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		module, ok := modules[name]
		if !ok {
			logger.Warnf("%s: adapter '%s' is not supported. Skipping.", env, name)
			continue
		}
		options = append(options, module)
		logger.Debugf("%s: adapter '%s' registered.", env, name)
	}
	return options
}

// NewRiskMigrator resolves the risk database connection and returns its schema migrator.
func NewRiskMigrator(ctx context.Context, resolver database.DBConnectionResolver, cfg *config.InfrastructureConfig) (*schema.Migrator, error) {
	conn, err := resolver.ResolveDBConnection(ctx, cfg.RiskDBRef)
	if err != nil {
		return nil, err
	}
	return schema.NewMigrator(conn), nil
}

// Options returns the whole application graph.
func Options(envFilePath string, embeddedConfig config.EmbeddedConfig) fx.Option {
	return fx.Options(
		fx.Supply(
			embeddedConfig,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),
		logger.Module,
		config.Module,
		metrics.Module,

		fx.Options(selectModules("DB_ADAPTERS", "sqlite,postgres,mysql", DBProviderModules)...),
		gormadapter.Module,
		fx.Options(selectModules("STORAGE_ADAPTERS", "local,gcs", StorageProviderModules)...),
		storage.Module,

		sqlrepo.Module,
		usecase.Module,
	)
}

// Execute builds the graph, fills targets, starts the application, runs fn and stops the
// application again. Stop errors are logged; fn's error is returned.
func Execute(ctx context.Context, options fx.Option, fn func(ctx context.Context) error, targets ...interface{}) error {
	application := fx.New(options, fx.Populate(targets...))
	if err := application.Err(); err != nil {
		return err
	}
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), StopTimeout)
		defer cancel()
		if err := application.Stop(stopCtx); err != nil {
			logger.Errorf("Application stop: %v", err)
		}
	}()
	return fn(ctx)
}
