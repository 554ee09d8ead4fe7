package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/riskbatch/pkg/batch/core/metrics"
)

// InstrumentationName names the meter and tracer of the writer.
const InstrumentationName = "github.com/tigerroll/riskbatch"

// OTelRecorder is an OpenTelemetry metrics implementation of metrics.MetricRecorder.
type OTelRecorder struct {
	runStarts         otelmetric.Int64Counter
	runEnds           otelmetric.Int64Counter
	writeDuration     otelmetric.Float64Histogram
	writeTargets      otelmetric.Int64Counter
	writeRows         otelmetric.Int64Counter
	cacheLookups      otelmetric.Int64Counter
	statusTransitions otelmetric.Int64Counter
	exportDuration    otelmetric.Float64Histogram
	exportObjects     otelmetric.Int64Counter
	operationDuration otelmetric.Float64Histogram
}

// NewOTelRecorder creates the instruments on meter.
func NewOTelRecorder(meter otelmetric.Meter) (*OTelRecorder, error) {
	r := &OTelRecorder{}
	var err error

	if r.runStarts, err = meter.Int64Counter("riskbatch.run.starts",
		otelmetric.WithDescription("Run starts by creation mode and outcome.")); err != nil {
		return nil, err
	}
	if r.runEnds, err = meter.Int64Counter("riskbatch.run.ends",
		otelmetric.WithDescription("Completed runs.")); err != nil {
		return nil, err
	}
	if r.writeDuration, err = meter.Float64Histogram("riskbatch.write.duration",
		otelmetric.WithDescription("Duration of batch writes."), otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.writeTargets, err = meter.Int64Counter("riskbatch.write.targets",
		otelmetric.WithDescription("Targets written by outcome.")); err != nil {
		return nil, err
	}
	if r.writeRows, err = meter.Int64Counter("riskbatch.write.rows",
		otelmetric.WithDescription("Rows written by table kind.")); err != nil {
		return nil, err
	}
	if r.cacheLookups, err = meter.Int64Counter("riskbatch.cache.lookups",
		otelmetric.WithDescription("Memo lookups by cache and result.")); err != nil {
		return nil, err
	}
	if r.statusTransitions, err = meter.Int64Counter("riskbatch.status.transitions",
		otelmetric.WithDescription("Status rows moved between statuses.")); err != nil {
		return nil, err
	}
	if r.exportDuration, err = meter.Float64Histogram("riskbatch.export.duration",
		otelmetric.WithDescription("Duration of run exports."), otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.exportObjects, err = meter.Int64Counter("riskbatch.export.objects",
		otelmetric.WithDescription("Objects written by run exports.")); err != nil {
		return nil, err
	}
	if r.operationDuration, err = meter.Float64Histogram("riskbatch.operation.duration",
		otelmetric.WithDescription("Duration of named operations."), otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *OTelRecorder) RecordRunStart(ctx context.Context, mode model.RunCreationMode, outcome model.RunOutcome) {
	r.runStarts.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.String("outcome", string(outcome)),
	))
}

func (r *OTelRecorder) RecordRunEnd(ctx context.Context, runID int64) {
	r.runEnds.Add(ctx, 1)
}

func (r *OTelRecorder) RecordWrite(ctx context.Context, stats metrics.WriteStats, duration time.Duration, err error) {
	r.writeDuration.Record(ctx, duration.Seconds(), otelmetric.WithAttributes(attribute.String("result", resultLabel(err))))
	if err != nil {
		return
	}

	for outcome, n := range map[string]int{
		"success": stats.SuccessfulTargets,
		"failure": stats.FailedTargets,
		"skipped": stats.SkippedTargets,
	} {
		if n > 0 {
			r.writeTargets.Add(ctx, int64(n), otelmetric.WithAttributes(attribute.String("outcome", outcome)))
		}
	}
	for kind, n := range map[string]int{
		"value":          stats.Values,
		"failure":        stats.Failures,
		"failure_reason": stats.FailureReasons,
		"status_insert":  stats.StatusInserts,
		"status_update":  stats.StatusUpdates,
	} {
		if n > 0 {
			r.writeRows.Add(ctx, int64(n), otelmetric.WithAttributes(attribute.String("kind", kind)))
		}
	}
}

func (r *OTelRecorder) RecordCacheLookup(ctx context.Context, cache string, hit bool) {
	r.cacheLookups.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("cache", cache),
		attribute.Bool("hit", hit),
	))
}

func (r *OTelRecorder) RecordStatusTransition(ctx context.Context, from, to model.Status, count int) {
	if count <= 0 {
		return
	}
	r.statusTransitions.Add(ctx, int64(count), otelmetric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func (r *OTelRecorder) RecordExport(ctx context.Context, objects int, duration time.Duration, err error) {
	r.exportDuration.Record(ctx, duration.Seconds(), otelmetric.WithAttributes(attribute.String("result", resultLabel(err))))
	if objects > 0 {
		r.exportObjects.Add(ctx, int64(objects))
	}
}

func (r *OTelRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("name", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.operationDuration.Record(ctx, duration.Seconds(), otelmetric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OTelRecorder)(nil)
