package metrics

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"

	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/riskbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Run metrics
	runStartCounter *prometheus.CounterVec
	runEndCounter   prometheus.Counter

	// Write metrics
	writeDurationSeconds *prometheus.HistogramVec
	writeTargetCounter   *prometheus.CounterVec
	writeRowCounter      *prometheus.CounterVec

	cacheLookupCounter      *prometheus.CounterVec
	statusTransitionCounter *prometheus.CounterVec

	exportDurationSeconds *prometheus.HistogramVec
	exportObjectCounter   prometheus.Counter

	operationDurationSeconds *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a PrometheusRecorder backed by its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		runStartCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskbatch_run_start_total",
			Help: "Total number of run starts by creation mode and outcome.",
		}, []string{"mode", "outcome"}),
		runEndCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskbatch_run_end_total",
			Help: "Total number of completed runs.",
		}),
		writeDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "riskbatch_write_duration_seconds",
			Help:    "Duration of batch writes.",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
		writeTargetCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskbatch_write_targets_total",
			Help: "Total (calculation configuration, target) pairs written, by outcome.",
		}, []string{"outcome"}), // outcome: success, failure, skipped
		writeRowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskbatch_write_rows_total",
			Help: "Total rows written, by table kind.",
		}, []string{"kind"}),
		cacheLookupCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskbatch_cache_lookup_total",
			Help: "Total memo lookups by cache and result.",
		}, []string{"cache", "result"}),
		statusTransitionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskbatch_status_transition_total",
			Help: "Total status rows moved between statuses.",
		}, []string{"from", "to"}),
		exportDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "riskbatch_export_duration_seconds",
			Help:    "Duration of run exports.",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
		exportObjectCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskbatch_export_objects_total",
			Help: "Total objects written by run exports.",
		}),
		operationDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "riskbatch_operation_duration_seconds",
			Help:    "Duration of named operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name", "tags"}),
	}

	registry.MustRegister(r.runStartCounter)
	registry.MustRegister(r.runEndCounter)
	registry.MustRegister(r.writeDurationSeconds)
	registry.MustRegister(r.writeTargetCounter)
	registry.MustRegister(r.writeRowCounter)
	registry.MustRegister(r.cacheLookupCounter)
	registry.MustRegister(r.statusTransitionCounter)
	registry.MustRegister(r.exportDurationSeconds)
	registry.MustRegister(r.exportObjectCounter)
	registry.MustRegister(r.operationDurationSeconds)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes the current metrics in the text exposition format, for a node exporter textfile collector.
func (r *PrometheusRecorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

// Push sends the current metrics to a Pushgateway under the given job name.
func (r *PrometheusRecorder) Push(ctx context.Context, url, job string) error {
	return push.New(url, job).Gatherer(r.registry).PushContext(ctx)
}

func (r *PrometheusRecorder) RecordRunStart(ctx context.Context, mode model.RunCreationMode, outcome model.RunOutcome) {
	r.runStartCounter.WithLabelValues(string(mode), string(outcome)).Inc()
	logger.Debugf("Metrics: run start (%s) -> %s.", mode, outcome)
}

func (r *PrometheusRecorder) RecordRunEnd(ctx context.Context, runID int64) {
	r.runEndCounter.Inc()
	logger.Debugf("Metrics: run %d ended.", runID)
}

// RecordWrite records the duration of a write. Row and target counters only move for committed writes.
func (r *PrometheusRecorder) RecordWrite(ctx context.Context, stats metrics.WriteStats, duration time.Duration, err error) {
	r.writeDurationSeconds.WithLabelValues(resultLabel(err)).Observe(duration.Seconds())
	if err != nil {
		return
	}

	r.writeTargetCounter.WithLabelValues("success").Add(float64(stats.SuccessfulTargets))
	r.writeTargetCounter.WithLabelValues("failure").Add(float64(stats.FailedTargets))
	r.writeTargetCounter.WithLabelValues("skipped").Add(float64(stats.SkippedTargets))

	r.writeRowCounter.WithLabelValues("value").Add(float64(stats.Values))
	r.writeRowCounter.WithLabelValues("failure").Add(float64(stats.Failures))
	r.writeRowCounter.WithLabelValues("failure_reason").Add(float64(stats.FailureReasons))
	r.writeRowCounter.WithLabelValues("status_insert").Add(float64(stats.StatusInserts))
	r.writeRowCounter.WithLabelValues("status_update").Add(float64(stats.StatusUpdates))
}

func (r *PrometheusRecorder) RecordCacheLookup(ctx context.Context, cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookupCounter.WithLabelValues(cache, result).Inc()
}

func (r *PrometheusRecorder) RecordStatusTransition(ctx context.Context, from, to model.Status, count int) {
	if count <= 0 {
		return
	}
	r.statusTransitionCounter.WithLabelValues(string(from), string(to)).Add(float64(count))
}

func (r *PrometheusRecorder) RecordExport(ctx context.Context, objects int, duration time.Duration, err error) {
	r.exportDurationSeconds.WithLabelValues(resultLabel(err)).Observe(duration.Seconds())
	r.exportObjectCounter.Add(float64(objects))
}

// RecordDuration records the execution time of a named operation. Tags are folded into one
// "k=v,k=v" label so the label set stays fixed.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDurationSeconds.WithLabelValues(name, foldTags(tags)).Observe(duration.Seconds())
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func foldTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(tags))
	for k, v := range tags {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
