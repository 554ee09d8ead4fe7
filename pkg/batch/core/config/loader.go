package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/riskbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"

	"go.uber.org/fx"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	Expander       EnvironmentExpander `optional:"true"`
	EnvFilePath    string              `name:"envFilePath" optional:"true"`
}

// loadConfig builds a Config from defaults, the .env file, the embedded YAML and the environment, in that order.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}

	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}
	raw, err := expander.Expand(embeddedConfig)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to expand environment placeholders", err, false, false)
	}

	cfg := NewConfig()

	var yamlConfig Config
	if err := yaml.Unmarshal(raw, &yamlConfig); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err, false, false)
	}
	mergeConfig(cfg, &yamlConfig)

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
	}

	cfg.RiskBatch.System.Logging.Level = strings.ToUpper(cfg.RiskBatch.System.Logging.Level)
	cfg.RiskBatch.Batch.RunCreationMode = strings.ToUpper(cfg.RiskBatch.Batch.RunCreationMode)
	cfg.RiskBatch.Telemetry.OTLP.Protocol = strings.ToLower(cfg.RiskBatch.Telemetry.OTLP.Protocol)
	cfg.RiskBatch.Infrastructure.ExportCompression = strings.ToUpper(cfg.RiskBatch.Infrastructure.ExportCompression)
	cfg.EmbeddedConfig = embeddedConfig

	if err := Validate(cfg); err != nil {
		return nil, exception.NewBatchError(moduleName, "configuration is invalid", err, false, false)
	}
	return cfg, nil
}

// LoadConfig loads configuration without the Fx container. The CLI and tests use it directly.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig, nil)
}

// NewConfigProvider is an Fx provider that loads *Config and applies the configured log level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig, params.Expander)
	if err != nil {
		return nil, err
	}
	logger.SetLogLevel(cfg.RiskBatch.System.Logging.Level)
	logger.Debugf("Log level set to: %s", cfg.RiskBatch.System.Logging.Level)
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags of cfg and reports every violation at once.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	var result *multierror.Error
	for _, fe := range verrs {
		result = multierror.Append(result, fmt.Errorf("%s: failed '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return result.ErrorOrNil()
}

// mergeConfig copies every non-zero value of source onto dest.
func mergeConfig(dest, source *Config) {
	d, s := &dest.RiskBatch, &source.RiskBatch

	mergeString(&d.System.Timezone, s.System.Timezone)
	mergeString(&d.System.Logging.Level, s.System.Logging.Level)

	mergeString(&d.Batch.RunCreationMode, s.Batch.RunCreationMode)
	mergeInt(&d.Batch.DimensionRetryAttempts, s.Batch.DimensionRetryAttempts)
	mergeInt(&d.Batch.FailureMessageLimit, s.Batch.FailureMessageLimit)
	mergeInt(&d.Batch.FailureStackTraceLimit, s.Batch.FailureStackTraceLimit)
	mergeInt(&d.Batch.BulkChunkSize, s.Batch.BulkChunkSize)
	if s.Batch.DisableStatusCache {
		d.Batch.DisableStatusCache = true
	}

	mergeString(&d.Infrastructure.RiskDBRef, s.Infrastructure.RiskDBRef)
	mergeString(&d.Infrastructure.ExportStorageRef, s.Infrastructure.ExportStorageRef)
	mergeString(&d.Infrastructure.ExportBaseDir, s.Infrastructure.ExportBaseDir)
	mergeString(&d.Infrastructure.ExportCompression, s.Infrastructure.ExportCompression)
	mergeInt(&d.Infrastructure.ExportConcurrency, s.Infrastructure.ExportConcurrency)

	mergeString(&d.Telemetry.ServiceName, s.Telemetry.ServiceName)
	mergeString(&d.Telemetry.MetricsBackend, s.Telemetry.MetricsBackend)
	mergeString(&d.Telemetry.OTLP.Endpoint, s.Telemetry.OTLP.Endpoint)
	mergeString(&d.Telemetry.OTLP.Protocol, s.Telemetry.OTLP.Protocol)
	mergeString(&d.Telemetry.PushgatewayURL, s.Telemetry.PushgatewayURL)
	mergeString(&d.Telemetry.MetricsTextfile, s.Telemetry.MetricsTextfile)
	if s.Telemetry.OTLP.Insecure {
		d.Telemetry.OTLP.Insecure = true
	}

	d.AdapterConfigs = mergeMap(d.AdapterConfigs, s.AdapterConfigs)
	d.StorageConfigs = mergeMap(d.StorageConfigs, s.StorageConfigs)
}

func mergeString(dest *string, src string) {
	if src != "" {
		*dest = src
	}
}

func mergeInt(dest *int, src int) {
	if src != 0 {
		*dest = src
	}
}

func mergeMap(dest, src map[string]interface{}) map[string]interface{} {
	if dest == nil {
		dest = make(map[string]interface{}, len(src))
	}
	for k, v := range src {
		dest[k] = v
	}
	return dest
}

// loadStructFromEnv overrides struct fields from environment variables named after the upper-cased
// yaml tag path, e.g. RISKBATCH_BATCH_BULK_CHUNK_SIZE.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		switch {
		case field.Kind() == reflect.Struct:
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
		case field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Interface:
			loadMapFromEnv(field, envVarName+"_")
		default:
			envValue, exists := os.LookupEnv(envVarName)
			if !exists {
				continue
			}
			if err := setField(field, envValue); err != nil {
				return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
			}
		}
	}
	return nil
}

// loadMapFromEnv applies variables such as RISKBATCH_DATABASE_RISK_HOST=db to a map of named adapter
// configs: the first segment after the prefix selects the entry, the rest is the lower-cased key.
// Values stay strings; adapters decode them with weakly typed mapstructure.
func loadMapFromEnv(mapField reflect.Value, prefix string) {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyAndField := strings.SplitN(parts[0], "_", 2)
		if len(keyAndField) != 2 || keyAndField[0] == "" || keyAndField[1] == "" {
			continue
		}
		name := strings.ToLower(keyAndField[0])
		key := strings.ToLower(keyAndField[1])

		entry := map[string]interface{}{}
		if existing := mapField.MapIndex(reflect.ValueOf(name)); existing.IsValid() {
			if m, ok := existing.Interface().(map[string]interface{}); ok {
				entry = m
			}
		}
		entry[key] = parts[1]
		mapField.SetMapIndex(reflect.ValueOf(name), reflect.ValueOf(entry))
	}
}

// setField sets a string, integer, float or bool field from its string form.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}
