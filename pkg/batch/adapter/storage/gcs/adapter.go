// Package gcs stores objects in Google Cloud Storage buckets.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tigerroll/riskbatch/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/riskbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"
)

// ProviderType is the storage type served by this package.
const ProviderType = "gcs"

// Adapter implements storage.StorageConnection on a GCS client.
type Adapter struct {
	client *gcstorage.Client
	cfg    storageConfig.StorageConfig
	name   string
}

var _ storage.StorageConnection = (*Adapter)(nil)

// ClientOptions builds the client options of cfg: an explicit credentials file and endpoint
// when configured, application default credentials otherwise.
func ClientOptions(cfg storageConfig.StorageConfig) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		if cfg.CredentialsFile == "" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}
	return opts
}

// NewAdapter creates a GCS client for cfg.
func NewAdapter(cfg storageConfig.StorageConfig, name string) (storage.StorageConnection, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("gcs storage '%s': bucket_name must be set", name)
	}
	client, err := gcstorage.NewClient(context.Background(), ClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage '%s': failed to create client: %w", name, err)
	}
	return &Adapter{client: client, cfg: cfg, name: name}, nil
}

func (a *Adapter) Close() error { return a.client.Close() }
func (a *Adapter) Type() string { return ProviderType }
func (a *Adapter) Name() string { return a.name }

func (a *Adapter) bucket(name string) *gcstorage.BucketHandle {
	if name == "" {
		name = a.cfg.BucketName
	}
	return a.client.Bucket(name)
}

// Upload streams data into objectName.
func (a *Adapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	w := a.bucket(bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload gs object '%s': %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize gs object '%s': %w", objectName, err)
	}
	logger.Debugf("GCS storage '%s': wrote %s.", a.name, objectName)
	return nil
}

// Download opens a reader on objectName.
func (a *Adapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	r, err := a.bucket(bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs object '%s': %w", objectName, err)
	}
	return r, nil
}

// ListObjects pages through the objects below prefix.
func (a *Adapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	it := a.bucket(bucket).Objects(ctx, &gcstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list gs objects with prefix '%s': %w", prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

// DeleteObject removes objectName.
func (a *Adapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	err := a.bucket(bucket).Object(objectName).Delete(ctx)
	if errors.Is(err, gcstorage.ErrObjectNotExist) {
		logger.Warnf("GCS storage '%s': %s does not exist.", a.name, objectName)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete gs object '%s': %w", objectName, err)
	}
	return nil
}

// NewProvider returns the provider of GCS connections.
func NewProvider(cfg *config.Config) *storage.BaseProvider {
	return storage.NewBaseProvider(cfg, ProviderType, NewAdapter)
}
