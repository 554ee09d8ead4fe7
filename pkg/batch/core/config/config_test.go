package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/exception"
)

const sampleYAML = `
riskbatch:
  system:
    timezone: Europe/London
    logging:
      level: debug
  batch:
    run_creation_mode: create_new
    bulk_chunk_size: 250
  infrastructure:
    risk_db_ref: riskdb
  telemetry:
    metrics_backend: none
  database:
    riskdb:
      type: sqlite
      database: ${RISKBATCH_TEST_DB_PATH:-/tmp/default.db}
  storage:
    export:
      type: local
      base_dir: /tmp/exports
`

func TestNewConfigDefaults(t *testing.T) {
	cfg := config.NewConfig()

	assert.Equal(t, "UTC", cfg.RiskBatch.System.Timezone)
	assert.Equal(t, "INFO", cfg.RiskBatch.System.Logging.Level)
	assert.Equal(t, config.RunCreationAuto, cfg.RiskBatch.Batch.RunCreationMode)
	assert.Equal(t, 2, cfg.RiskBatch.Batch.DimensionRetryAttempts)
	assert.Equal(t, 255, cfg.RiskBatch.Batch.FailureMessageLimit)
	assert.Equal(t, 2000, cfg.RiskBatch.Batch.FailureStackTraceLimit)
	assert.Equal(t, "risk", cfg.RiskBatch.Infrastructure.RiskDBRef)
	assert.NoError(t, config.Validate(cfg))
}

func TestLoadConfigMergesYAMLOntoDefaults(t *testing.T) {
	cfg, err := config.LoadConfig("", config.EmbeddedConfig(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "Europe/London", cfg.RiskBatch.System.Timezone)
	assert.Equal(t, "DEBUG", cfg.RiskBatch.System.Logging.Level)
	assert.Equal(t, config.RunCreationCreateNew, cfg.RiskBatch.Batch.RunCreationMode)
	assert.Equal(t, 250, cfg.RiskBatch.Batch.BulkChunkSize)
	// untouched defaults survive the merge
	assert.Equal(t, 2, cfg.RiskBatch.Batch.DimensionRetryAttempts)
	assert.Equal(t, "riskdb", cfg.RiskBatch.Infrastructure.RiskDBRef)
	assert.Equal(t, "none", cfg.RiskBatch.Telemetry.MetricsBackend)

	db, ok := cfg.RiskBatch.AdapterConfigs["riskdb"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "/tmp/default.db", db["database"])
	assert.Contains(t, cfg.RiskBatch.StorageConfigs, "export")
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("RISKBATCH_TEST_DB_PATH", "/data/risk.db")
	t.Setenv("RISKBATCH_BATCH_BULK_CHUNK_SIZE", "1000")
	t.Setenv("RISKBATCH_TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("RISKBATCH_DATABASE_RISKDB_POOL_MAX", "4")

	cfg, err := config.LoadConfig("", config.EmbeddedConfig(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.RiskBatch.Batch.BulkChunkSize)
	assert.Equal(t, "collector:4317", cfg.RiskBatch.Telemetry.OTLP.Endpoint)
	db := cfg.RiskBatch.AdapterConfigs["riskdb"].(map[string]interface{})
	assert.Equal(t, "/data/risk.db", db["database"])
	assert.Equal(t, "4", db["pool_max"])
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	raw := `
riskbatch:
  batch:
    run_creation_mode: sometimes
  telemetry:
    metrics_backend: statsd
`
	_, err := config.LoadConfig("", config.EmbeddedConfig(raw))
	require.Error(t, err)
	assert.True(t, exception.IsBatchError(err))
	assert.Contains(t, err.Error(), "RunCreationMode")
	assert.Contains(t, err.Error(), "MetricsBackend")
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	_, err := config.LoadConfig("", config.EmbeddedConfig("riskbatch: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal embedded config")
}

func TestOsEnvironmentExpander(t *testing.T) {
	t.Setenv("RISKBATCH_TEST_HOST", "db.internal")
	e := config.NewOsEnvironmentExpander()

	out, err := e.Expand([]byte("host: ${RISKBATCH_TEST_HOST}\nport: ${RISKBATCH_TEST_PORT:-5432}\npass: pa$word"))
	require.NoError(t, err)
	assert.Equal(t, "host: db.internal\nport: 5432\npass: pa$word", string(out))
}
