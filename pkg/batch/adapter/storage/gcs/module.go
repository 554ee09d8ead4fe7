package gcs

import (
	"go.uber.org/fx"

	"github.com/tigerroll/riskbatch/pkg/batch/adapter/storage"
)

// Module contributes the GCS StorageProvider to the storage_providers group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewProvider,
		fx.As(new(storage.StorageProvider)),
		fx.ResultTags(`group:"storage_providers"`),
	)),
)
