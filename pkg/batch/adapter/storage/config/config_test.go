package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storageConfig "github.com/tigerroll/riskbatch/pkg/batch/adapter/storage/config"
)

func TestDecode(t *testing.T) {
	cfg, err := storageConfig.Decode("export", map[string]interface{}{
		"type":        "gcs",
		"bucket_name": "risk-exports",
		"endpoint":    "http://localhost:4443",
	})
	require.NoError(t, err)
	assert.Equal(t, storageConfig.StorageConfig{Type: "gcs", BucketName: "risk-exports", Endpoint: "http://localhost:4443"}, cfg)

	_, err = storageConfig.Decode("export", map[string]interface{}{"base_dir": "/tmp"})
	assert.ErrorContains(t, err, "has no type")
}
