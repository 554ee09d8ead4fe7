package storage

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	storageConfig "github.com/tigerroll/riskbatch/pkg/batch/adapter/storage/config"
	coreAdapter "github.com/tigerroll/riskbatch/pkg/batch/core/adapter"
	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"
)

// ResolverParams are the Fx inputs of NewConnectionResolver.
type ResolverParams struct {
	fx.In
	Providers []StorageProvider `group:"storage_providers"`
	Cfg       *config.Config
}

// ConnectionResolver picks the provider of a named connection by the type in its configuration.
type ConnectionResolver struct {
	providers map[string]StorageProvider
	cfg       *config.Config
}

// NewConnectionResolver indexes the provided StorageProviders by storage type.
func NewConnectionResolver(p ResolverParams) *ConnectionResolver {
	providers := make(map[string]StorageProvider, len(p.Providers))
	for _, provider := range p.Providers {
		providers[provider.Type()] = provider
	}
	return &ConnectionResolver{providers: providers, cfg: p.Cfg}
}

// ResolveStorageConnection returns the connection called name.
func (r *ConnectionResolver) ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error) {
	sc, err := storageConfig.Lookup(r.cfg, name)
	if err != nil {
		return nil, fmt.Errorf("StorageConnectionResolver: %w", err)
	}
	provider, ok := r.providers[sc.Type]
	if !ok {
		return nil, fmt.Errorf("StorageConnectionResolver: no storage provider for type '%s' (connection '%s')", sc.Type, name)
	}
	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("StorageConnectionResolver: failed to get connection '%s' from provider '%s': %w", name, sc.Type, err)
	}
	return conn, nil
}

// ResolveConnection implements coreAdapter.ResourceConnectionResolver.
func (r *ConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveStorageConnection(ctx, name)
}

// CloseAll closes the connections of every provider.
func (r *ConnectionResolver) CloseAll() error {
	var result *multierror.Error
	for typ, provider := range r.providers {
		if err := provider.CloseAll(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing %s storage connections: %w", typ, err))
		}
	}
	if result.ErrorOrNil() == nil {
		logger.Debugf("All storage connections closed.")
	}
	return result.ErrorOrNil()
}

func closeOnStop(lc fx.Lifecycle, r *ConnectionResolver) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return r.CloseAll() },
	})
}

// Module provides the StorageConnectionResolver. Backends contribute their providers through
// the storage_providers group.
var Module = fx.Options(
	fx.Provide(NewConnectionResolver),
	fx.Provide(func(r *ConnectionResolver) StorageConnectionResolver { return r }),
	fx.Invoke(closeOnStop),
)
