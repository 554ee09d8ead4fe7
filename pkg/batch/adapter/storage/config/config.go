// Package config decodes the named storage connections under riskbatch.storage.
package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	coreConfig "github.com/tigerroll/riskbatch/pkg/batch/core/config"
)

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	Type            string `yaml:"type"`             // "local" or "gcs".
	BucketName      string `yaml:"bucket_name"`      // Default bucket for operations that pass none.
	CredentialsFile string `yaml:"credentials_file"` // Service account key for GCS. Empty uses application default credentials.
	BaseDir         string `yaml:"base_dir"`         // Root directory of the local backend.
	Endpoint        string `yaml:"endpoint"`         // Overrides the GCS API endpoint, e.g. for an emulator.
}

// Decode converts one raw entry of riskbatch.storage into a StorageConfig.
func Decode(name string, raw interface{}) (StorageConfig, error) {
	var cfg StorageConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return cfg, fmt.Errorf("failed to create decoder for storage config '%s': %w", name, err)
	}
	if err := decoder.Decode(raw); err != nil {
		return cfg, fmt.Errorf("failed to decode storage config '%s': %w", name, err)
	}
	if cfg.Type == "" {
		return cfg, fmt.Errorf("storage config '%s' has no type", name)
	}
	return cfg, nil
}

// Lookup finds and decodes the storage connection called name.
func Lookup(cfg *coreConfig.Config, name string) (StorageConfig, error) {
	raw, ok := cfg.RiskBatch.StorageConfigs[name]
	if !ok {
		return StorageConfig{}, fmt.Errorf("storage connection '%s' not found in configuration", name)
	}
	return Decode(name, raw)
}
