package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
)

// WriteStats summarizes what one batch write staged and applied.
type WriteStats struct {
	// Targets is the number of (calculation configuration, target) pairs in the batch.
	Targets           int
	SuccessfulTargets int
	FailedTargets     int
	// SkippedTargets were successful but already stored as SUCCESS.
	SkippedTargets int
	Values         int
	Failures       int
	FailureReasons int
	StatusInserts  int
	StatusUpdates  int
}

// MetricRecorder is an abstract interface for recording metrics of the risk writer.
//
// Implementations exist for Prometheus and OpenTelemetry metrics; NoOpMetricRecorder is used when
// metrics are disabled and in tests.
type MetricRecorder interface {
	// RecordRunStart records which transition a start performed.
	RecordRunStart(ctx context.Context, mode model.RunCreationMode, outcome model.RunOutcome)

	// RecordRunEnd records the completion of a run.
	RecordRunEnd(ctx context.Context, runID int64)

	// RecordWrite records one batch write. err is nil when the write committed.
	RecordWrite(ctx context.Context, stats WriteStats, duration time.Duration, err error)

	// RecordCacheLookup records a memo lookup of the named cache (e.g. "value_name", "status").
	RecordCacheLookup(ctx context.Context, cache string, hit bool)

	// RecordStatusTransition records count status rows moving from one status to another.
	// Newly inserted rows move from NOT_RUNNING.
	RecordStatusTransition(ctx context.Context, from, to model.Status, count int)

	// RecordExport records one run export and the number of objects written.
	RecordExport(ctx context.Context, objects int, duration time.Duration, err error)

	// RecordDuration records the execution time of a named operation.
	//
	// tags: additional attributes, e.g. `{"operation": "delete_run"}`.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
