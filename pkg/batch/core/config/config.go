// Package config provides the configuration model of the risk batch writer and its loader.
package config

// EmbeddedConfig holds the raw YAML configuration, typically embedded into the binary by main.
type EmbeddedConfig []byte

// LogLevel names a logging verbosity. GORM and the application logger share these names.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelFatal  LogLevel = "FATAL"
	LogLevelSilent LogLevel = "SILENT"
)

// Run creation modes accepted in BatchConfig.RunCreationMode.
const (
	RunCreationAuto               = "AUTO"
	RunCreationCreateNew          = "CREATE_NEW"
	RunCreationReuseExisting      = "REUSE_EXISTING"
	RunCreationCreateNewOverwrite = "CREATE_NEW_OVERWRITE"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the application log level.
	Level string `yaml:"level" validate:"oneof=DEBUG INFO WARN ERROR FATAL"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	// Timezone is used to render instants in CLI output (e.g. "UTC", "Europe/London").
	Timezone string        `yaml:"timezone" validate:"required"`
	Logging  LoggingConfig `yaml:"logging"`
}

// BatchConfig tunes the result writer.
type BatchConfig struct {
	// RunCreationMode is the mode used by callers that do not pass one explicitly.
	RunCreationMode string `yaml:"run_creation_mode" validate:"oneof=AUTO CREATE_NEW REUSE_EXISTING CREATE_NEW_OVERWRITE"`
	// DimensionRetryAttempts bounds the insert/reselect loop of the dimension cache.
	DimensionRetryAttempts int `yaml:"dimension_retry_attempts" validate:"min=1,max=10"`
	// FailureMessageLimit truncates compute failure messages.
	FailureMessageLimit int `yaml:"failure_message_limit" validate:"min=1"`
	// FailureStackTraceLimit truncates compute failure stack traces.
	FailureStackTraceLimit int `yaml:"failure_stack_trace_limit" validate:"min=1"`
	// BulkChunkSize is the number of rows per bulk INSERT statement.
	BulkChunkSize int `yaml:"bulk_chunk_size" validate:"min=1,max=10000"`
	// DisableStatusCache makes every status lookup hit the store.
	DisableStatusCache bool `yaml:"disable_status_cache"`
}

// InfrastructureConfig names the connections the writer uses.
type InfrastructureConfig struct {
	// RiskDBRef is the name of the database connection holding the risk schema.
	RiskDBRef string `yaml:"risk_db_ref" validate:"required"`
	// ExportStorageRef is the name of the storage connection used by run exports.
	ExportStorageRef string `yaml:"export_storage_ref"`
	// ExportBaseDir is the object prefix under which exports are written.
	ExportBaseDir string `yaml:"export_base_dir"`
	// ExportCompression is the parquet codec of exported objects: SNAPPY, GZIP or NONE.
	ExportCompression string `yaml:"export_compression" validate:"oneof=SNAPPY GZIP NONE"`
	// ExportConcurrency bounds the number of calculation configurations exported at once.
	ExportConcurrency int `yaml:"export_concurrency" validate:"min=1,max=64"`
}

// OTLPConfig configures the OpenTelemetry exporters. An empty endpoint disables OTLP export.
type OTLPConfig struct {
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol" validate:"oneof=grpc http"`
	Insecure bool   `yaml:"insecure"`
}

// TelemetryConfig selects the metrics backend and tracing export.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name" validate:"required"`
	// MetricsBackend is one of "prometheus", "otel" or "none".
	MetricsBackend string     `yaml:"metrics_backend" validate:"oneof=prometheus otel none"`
	OTLP           OTLPConfig `yaml:"otlp"`
	// PushgatewayURL, when set, receives the Prometheus metrics on shutdown.
	PushgatewayURL string `yaml:"pushgateway_url"`
	// MetricsTextfile, when set, receives the Prometheus metrics on shutdown in the text exposition format.
	MetricsTextfile string `yaml:"metrics_textfile"`
}

// RiskBatchConfig holds everything under the "riskbatch" top-level key.
type RiskBatchConfig struct {
	System         SystemConfig         `yaml:"system"`
	Batch          BatchConfig          `yaml:"batch"`
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	// AdapterConfigs holds the named database connection settings, decoded by the database adapters.
	AdapterConfigs map[string]interface{} `yaml:"database"`
	// StorageConfigs holds the named storage connection settings, decoded by the storage adapters.
	StorageConfigs map[string]interface{} `yaml:"storage"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	RiskBatch RiskBatchConfig `yaml:"riskbatch"`
	// EmbeddedConfig holds the source the configuration was loaded from.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		RiskBatch: RiskBatchConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: string(LogLevelInfo)},
			},
			Batch: BatchConfig{
				RunCreationMode:        RunCreationAuto,
				DimensionRetryAttempts: 2,
				FailureMessageLimit:    255,
				FailureStackTraceLimit: 2000,
				BulkChunkSize:          500,
			},
			Infrastructure: InfrastructureConfig{
				RiskDBRef:         "risk",
				ExportStorageRef:  "export",
				ExportBaseDir:     "exports",
				ExportCompression: "SNAPPY",
				ExportConcurrency: 4,
			},
			Telemetry: TelemetryConfig{
				ServiceName:    "riskbatch",
				MetricsBackend: "prometheus",
				OTLP:           OTLPConfig{Protocol: "grpc"},
			},
			AdapterConfigs: map[string]interface{}{},
			StorageConfigs: map[string]interface{}{},
		},
	}
}
