package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/riskbatch/pkg/batch/adapter/database"
	coreAdapter "github.com/tigerroll/riskbatch/pkg/batch/core/adapter"
)

// closeProviders closes every provider's connections when the application stops.
func closeProviders(lc fx.Lifecycle, p ResolverParams) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			var result *multierror.Error
			for _, provider := range p.DBProviders {
				if err := provider.CloseAll(); err != nil {
					result = multierror.Append(result, err)
				}
			}
			return result.ErrorOrNil()
		},
	})
}

// Module provides the connection resolver and the transaction manager factory.
// Concrete DBProviders are contributed by the dialect sub-packages.
var Module = fx.Options(
	fx.Provide(NewGormTransactionManagerFactory),
	fx.Provide(fx.Annotate(
		NewGormDBConnectionResolver,
		fx.As(new(database.DBConnectionResolver)),
		fx.As(new(coreAdapter.ResourceConnectionResolver)),
	)),
	fx.Invoke(closeProviders),
)
