package storage

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	storageConfig "github.com/tigerroll/riskbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"
)

// OpenFunc opens a connection of one storage type from its decoded configuration.
type OpenFunc func(cfg storageConfig.StorageConfig, name string) (StorageConnection, error)

// BaseProvider caches the open connections of one storage type. Backends supply the OpenFunc.
type BaseProvider struct {
	cfg         *config.Config
	typ         string
	open        OpenFunc
	connections map[string]StorageConnection
	mu          sync.RWMutex
}

var _ StorageProvider = (*BaseProvider)(nil)

// NewBaseProvider creates a provider of storage type typ.
func NewBaseProvider(cfg *config.Config, typ string, open OpenFunc) *BaseProvider {
	return &BaseProvider{
		cfg:         cfg,
		typ:         typ,
		open:        open,
		connections: make(map[string]StorageConnection),
	}
}

// Type returns the storage type.
func (p *BaseProvider) Type() string {
	return p.typ
}

// GetConnection returns the named connection, opening it on first use.
func (p *BaseProvider) GetConnection(name string) (StorageConnection, error) {
	p.mu.RLock()
	conn, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok = p.connections[name]; ok {
		return conn, nil
	}
	return p.openAndStore(name)
}

func (p *BaseProvider) openAndStore(name string) (StorageConnection, error) {
	sc, err := storageConfig.Lookup(p.cfg, name)
	if err != nil {
		return nil, err
	}
	if sc.Type != p.typ {
		return nil, fmt.Errorf("storage config type mismatch for '%s': expected '%s', got '%s'", name, p.typ, sc.Type)
	}
	conn, err := p.open(sc, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage connection '%s': %w", p.typ, name, err)
	}
	p.connections[name] = conn
	logger.Debugf("Opened storage connection '%s' (%s).", name, p.typ)
	return conn, nil
}

// ForceReconnect closes the named connection, if open, and opens it again.
func (p *BaseProvider) ForceReconnect(name string) (StorageConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.connections[name]; ok {
		if err := conn.Close(); err != nil {
			logger.Warnf("Failed to close storage connection '%s' before reconnect: %v", name, err)
		}
		delete(p.connections, name)
	}
	return p.openAndStore(name)
}

// CloseAll closes every open connection and reports every failure.
func (p *BaseProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close '%s': %w", name, err))
		}
		delete(p.connections, name)
	}
	return result.ErrorOrNil()
}
