package gcs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	storageConfig "github.com/tigerroll/riskbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/riskbatch/pkg/batch/adapter/storage/gcs"
)

func TestClientOptions(t *testing.T) {
	cases := []struct {
		name string
		cfg  storageConfig.StorageConfig
		want int
	}{
		{"application default credentials", storageConfig.StorageConfig{}, 0},
		{"credentials file", storageConfig.StorageConfig{CredentialsFile: "/secrets/sa.json"}, 1},
		{"emulator", storageConfig.StorageConfig{Endpoint: "http://localhost:4443/storage/v1/"}, 2},
		{"endpoint with credentials", storageConfig.StorageConfig{CredentialsFile: "/secrets/sa.json", Endpoint: "https://storage.example.com"}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Len(t, gcs.ClientOptions(tc.cfg), tc.want)
		})
	}
}

func TestNewAdapter_RequiresBucket(t *testing.T) {
	_, err := gcs.NewAdapter(storageConfig.StorageConfig{Type: gcs.ProviderType}, "archive")
	assert.ErrorContains(t, err, "bucket_name must be set")
}
