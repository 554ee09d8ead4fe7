package metrics

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	metrics "github.com/tigerroll/riskbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"
)

// NewTelemetryProvider builds the providers and flushes them when the application stops.
func NewTelemetryProvider(lc fx.Lifecycle, cfg *config.TelemetryConfig) (*Telemetry, error) {
	t, err := NewTelemetry(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: t.Shutdown})
	return t, nil
}

// NewMetricRecorderProvider selects the recorder named by the metrics backend.
// A Prometheus recorder publishes its registry to the configured Pushgateway and textfile on stop.
func NewMetricRecorderProvider(lc fx.Lifecycle, cfg *config.TelemetryConfig, t *Telemetry) (metrics.MetricRecorder, error) {
	switch cfg.MetricsBackend {
	case "otel":
		rec, err := NewOTelRecorder(t.MeterProvider.Meter(InstrumentationName))
		if err != nil {
			return nil, err
		}
		return rec, nil
	case "none":
		return metrics.NewNoOpMetricRecorder(), nil
	}

	r := NewPrometheusRecorder()
	if cfg.PushgatewayURL != "" || cfg.MetricsTextfile != "" {
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
			return publish(ctx, r, cfg)
		}})
	}
	return r, nil
}

func publish(ctx context.Context, r *PrometheusRecorder, cfg *config.TelemetryConfig) error {
	var result *multierror.Error
	if cfg.PushgatewayURL != "" {
		if err := r.Push(ctx, cfg.PushgatewayURL, cfg.ServiceName); err != nil {
			result = multierror.Append(result, err)
		} else {
			logger.Debugf("Metrics: pushed to %s.", cfg.PushgatewayURL)
		}
	}
	if cfg.MetricsTextfile != "" {
		if err := r.WriteTextfile(cfg.MetricsTextfile); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// NewTracerProvider returns an OpenTelemetry tracer when spans are exported, otherwise a no-op tracer.
func NewTracerProvider(t *Telemetry) metrics.Tracer {
	if !t.Exporting() {
		return metrics.NewNoOpTracer()
	}
	return NewOpenTelemetryTracer(t.TracerProvider)
}

// Module provides the telemetry providers, the MetricRecorder and the Tracer.
var Module = fx.Options(
	fx.Provide(NewTelemetryProvider),
	fx.Provide(NewMetricRecorderProvider),
	fx.Provide(NewTracerProvider),
)
