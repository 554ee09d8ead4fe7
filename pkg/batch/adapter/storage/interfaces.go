// Package storage defines the object storage abstractions used to publish run exports.
// Concrete backends (local directory, GCS bucket) live in sub-packages and register a StorageProvider.
package storage

import (
	"context"
	"io"

	coreAdapter "github.com/tigerroll/riskbatch/pkg/batch/core/adapter"
)

// StorageProviderGroup is the Fx value group collecting every StorageProvider.
const StorageProviderGroup = "storage_providers"

// StorageExecutor defines the object operations of a storage backend.
type StorageExecutor interface {
	// Upload writes data to objectName in bucket. An empty bucket means the connection's default bucket.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens objectName in bucket. The caller closes the returned reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object below prefix, stopping at the first error fn returns.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes objectName. Deleting a missing object is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// StorageConnection is a named connection to one storage backend.
type StorageConnection interface {
	coreAdapter.ResourceConnection
	StorageExecutor
}

// StorageProvider opens and caches the connections of one storage type.
type StorageProvider interface {
	// GetConnection returns the named connection, opening it on first use.
	GetConnection(name string) (StorageConnection, error)
	// CloseAll closes every connection opened by this provider.
	CloseAll() error
	// Type returns the storage type handled by this provider (e.g. "local", "gcs").
	Type() string
	// ForceReconnect closes and re-opens the named connection.
	ForceReconnect(name string) (StorageConnection, error)
}

// StorageConnectionResolver resolves a storage connection by its configured name.
type StorageConnectionResolver interface {
	coreAdapter.ResourceConnectionResolver

	ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error)
}
