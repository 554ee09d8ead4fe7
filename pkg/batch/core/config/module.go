package config

import "go.uber.org/fx"

// NewLoggingConfigProvider extracts *LoggingConfig from *Config.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.RiskBatch.System.Logging
}

// NewBatchConfigProvider extracts *BatchConfig from *Config so writer components depend only on their tuning.
func NewBatchConfigProvider(cfg *Config) *BatchConfig {
	return &cfg.RiskBatch.Batch
}

// NewInfrastructureConfigProvider extracts *InfrastructureConfig from *Config.
func NewInfrastructureConfigProvider(cfg *Config) *InfrastructureConfig {
	return &cfg.RiskBatch.Infrastructure
}

// NewTelemetryConfigProvider extracts *TelemetryConfig from *Config.
func NewTelemetryConfigProvider(cfg *Config) *TelemetryConfig {
	return &cfg.RiskBatch.Telemetry
}

// Module provides the loaded configuration and its sections.
var Module = fx.Options(
	fx.Provide(func() EnvironmentExpander {
		return NewOsEnvironmentExpander()
	}),
	fx.Provide(NewConfigProvider),
	fx.Provide(NewLoggingConfigProvider),
	fx.Provide(NewBatchConfigProvider),
	fx.Provide(NewInfrastructureConfigProvider),
	fx.Provide(NewTelemetryConfigProvider),
)
