package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder is an implementation of MetricRecorder that does nothing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordRunStart(context.Context, model.RunCreationMode, model.RunOutcome)  {}
func (r *NoOpMetricRecorder) RecordRunEnd(context.Context, int64)                                      {}
func (r *NoOpMetricRecorder) RecordWrite(context.Context, WriteStats, time.Duration, error)            {}
func (r *NoOpMetricRecorder) RecordCacheLookup(context.Context, string, bool)                          {}
func (r *NoOpMetricRecorder) RecordStatusTransition(context.Context, model.Status, model.Status, int)  {}
func (r *NoOpMetricRecorder) RecordExport(context.Context, int, time.Duration, error)                  {}
func (r *NoOpMetricRecorder) RecordDuration(context.Context, string, time.Duration, map[string]string) {}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// --- NoOpTracer ---

// NoOpTracer is an implementation of Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

func (t *NoOpTracer) StartSpan(ctx context.Context, _ string, _ map[string]interface{}) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) RecordError(context.Context, string, error) {}

func (t *NoOpTracer) RecordEvent(context.Context, string, map[string]interface{}) {}

var _ Tracer = (*NoOpTracer)(nil)
