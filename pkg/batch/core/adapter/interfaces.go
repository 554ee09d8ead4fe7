// Package adapter defines the resource abstractions shared by the database and storage adapters.
package adapter

import (
	"context"
)

// ResourceConnection represents a generic connection to any resource (e.g. database, storage).
type ResourceConnection interface {
	// Close closes the resource connection.
	Close() error
	// Type returns the type of the resource (e.g. "sqlite", "gcs").
	Type() string
	// Name returns the configured connection name (e.g. "risk", "export").
	Name() string
}

// ResourceProvider provides named resource connections based on configuration.
type ResourceProvider interface {
	GetConnection(name string) (ResourceConnection, error)
	CloseAll() error
	Type() string
	Name() string
}

// ResourceConnectionResolver resolves a connection instance by name, re-establishing it if necessary.
type ResourceConnectionResolver interface {
	ResolveConnection(ctx context.Context, name string) (ResourceConnection, error)
}
