// Package writer persists result batches: values of successful targets, failures with their root
// causes for failed targets, and the status of every target, all in one transaction per batch.
package writer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/riskbatch/pkg/batch/component/classify"
	"github.com/tigerroll/riskbatch/pkg/batch/component/status"
	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/riskbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/riskbatch/pkg/batch/core/tx"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"
)

const moduleName = "writer"

// BatchWriter writes result batches of a run.
type BatchWriter struct {
	txManager  tx.TransactionManager
	results    repository.ResultRepository
	classifier *classify.Classifier
	recorder   metrics.MetricRecorder
	tracer     metrics.Tracer
	now        func() time.Time
}

// NewBatchWriter creates a BatchWriter.
//
// Parameters:
//
//	txManager: Begins the transaction each batch is written in.
//	results: Receives the value, failure and failure reason rows.
//	classifier: Converts payloads and classifies targets.
//	recorder, tracer: Telemetry sinks; nil selects the no-op implementations.
func NewBatchWriter(txManager tx.TransactionManager, results repository.ResultRepository, classifier *classify.Classifier, recorder metrics.MetricRecorder, tracer metrics.Tracer) *BatchWriter {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &BatchWriter{
		txManager:  txManager,
		results:    results,
		classifier: classifier,
		recorder:   recorder,
		tracer:     tracer,
		now:        time.Now,
	}
}

// Write persists batch for the run of scope in a single transaction.
//
// Targets whose results all converted are stored as values and marked SUCCESS, unless they already
// are SUCCESS, in which case they are skipped. Targets with any failed or unconvertible value get one
// failure row per such value, linked to its root causes, and are marked FAILURE. Any error rolls the
// whole batch back; ids interned by the rolled back transaction are discarded from the caches.
func (w *BatchWriter) Write(ctx context.Context, scope *RunScope, batch model.ResultBatch) (metrics.WriteStats, error) {
	var stats metrics.WriteStats
	if batch.IsEmpty() {
		logger.Debugf("Writer: empty batch for run %d, nothing to write.", scope.RunID)
		return stats, nil
	}

	correlationID := uuid.NewString()
	ctx, end := w.tracer.StartSpan(ctx, "riskbatch.write", map[string]interface{}{
		"run_id":         scope.RunID,
		"correlation_id": correlationID,
		"entries":        len(batch.Entries),
	})
	defer end()

	start := w.now()
	var transitions []status.Transition
	err := tx.RunInTx(ctx, w.txManager, func(ctx context.Context) error {
		var werr error
		stats, transitions, werr = w.write(ctx, scope, batch)
		return werr
	})
	w.recorder.RecordWrite(ctx, stats, w.now().Sub(start), err)
	if err != nil {
		w.tracer.RecordError(ctx, moduleName, err)
		logger.Errorf("Writer[%s]: batch for run %d rolled back: %v", correlationID, scope.RunID, err)
		return stats, err
	}

	for _, t := range transitions {
		w.recorder.RecordStatusTransition(ctx, t.From, t.To, t.Count)
	}
	w.tracer.RecordEvent(ctx, "riskbatch.write.committed", map[string]interface{}{
		"values":   stats.Values,
		"failures": stats.Failures,
		"skipped":  stats.SkippedTargets,
	})
	logger.Infof("Writer[%s]: run %d stored %d values and %d failures for %d targets (%d successful, %d failed, %d skipped).",
		correlationID, scope.RunID, stats.Values, stats.Failures, stats.Targets,
		stats.SuccessfulTargets, stats.FailedTargets, stats.SkippedTargets)
	return stats, nil
}

type resolvedTarget struct {
	classify.Target
	calcConfigID int64
	targetID     int64
}

// staged collects the rows of one batch before they are inserted.
type staged struct {
	values   []*repository.ValueRecord
	failures []*repository.FailureRecord
	// causes[i] holds the compute failure ids of failures[i].
	causes      [][]int64
	calcConfigs []int64
	statuses    map[int64]map[int64]model.Status
}

func (w *BatchWriter) write(ctx context.Context, scope *RunScope, batch model.ResultBatch) (metrics.WriteStats, []status.Transition, error) {
	var stats metrics.WriteStats

	results := make([]model.ComputedValueResult, len(batch.Entries))
	for i, e := range batch.Entries {
		results[i] = e.Result
	}
	causes, err := scope.Failures.Aggregate(ctx, results)
	if err != nil {
		return stats, nil, err
	}

	targets, err := w.resolveTargets(ctx, scope, w.classifier.Classify(batch))
	if err != nil {
		return stats, nil, err
	}
	stats.Targets = len(targets)

	current, err := w.currentStatuses(ctx, scope, targets)
	if err != nil {
		return stats, nil, err
	}

	evalInstant := batch.EvaluationInstant
	if evalInstant.IsZero() {
		evalInstant = w.now()
	}
	evalInstant = evalInstant.UTC()

	rows := &staged{statuses: make(map[int64]map[int64]model.Status)}
	for _, t := range targets {
		if current[t.calcConfigID][t.targetID] == model.StatusSuccess {
			stats.SkippedTargets++
			if t.Outcome == classify.Failed {
				logger.Warnf("Writer: %s in %s failed but is already stored as SUCCESS; keeping the stored values.", t.Spec, t.CalculationConfiguration)
			}
			continue
		}

		if t.Outcome == classify.Successful {
			if err := w.stageValues(ctx, scope, t, evalInstant, rows); err != nil {
				return stats, nil, err
			}
			stats.SuccessfulTargets++
		} else {
			if err := w.stageFailures(ctx, scope, t, evalInstant, causes, rows); err != nil {
				return stats, nil, err
			}
			stats.FailedTargets++
		}

		byTarget, ok := rows.statuses[t.calcConfigID]
		if !ok {
			byTarget = make(map[int64]model.Status)
			rows.statuses[t.calcConfigID] = byTarget
			rows.calcConfigs = append(rows.calcConfigs, t.calcConfigID)
		}
		byTarget[t.targetID] = t.Outcome.Status()
	}

	if err := w.refreshTargets(ctx, scope, batch.Targets); err != nil {
		return stats, nil, err
	}

	if err := w.insert(ctx, rows, &stats); err != nil {
		return stats, nil, err
	}

	var transitions []status.Transition
	for _, calcConfigID := range rows.calcConfigs {
		res, err := scope.Statuses.Upsert(ctx, calcConfigID, rows.statuses[calcConfigID])
		if err != nil {
			return stats, nil, err
		}
		stats.StatusInserts += res.Inserted
		stats.StatusUpdates += res.Updated
		transitions = append(transitions, res.Transitions...)
	}
	return stats, transitions, nil
}

func (w *BatchWriter) resolveTargets(ctx context.Context, scope *RunScope, targets []classify.Target) ([]resolvedTarget, error) {
	out := make([]resolvedTarget, 0, len(targets))
	for _, t := range targets {
		calcConfigID, err := scope.Dimensions.CalculationConfiguration(ctx, scope.RunID, t.CalculationConfiguration)
		if err != nil {
			return nil, err
		}
		targetID, err := scope.Dimensions.ComputationTarget(ctx, t.Spec)
		if err != nil {
			return nil, err
		}
		out = append(out, resolvedTarget{Target: t, calcConfigID: calcConfigID, targetID: targetID})
	}
	return out, nil
}

func (w *BatchWriter) currentStatuses(ctx context.Context, scope *RunScope, targets []resolvedTarget) (map[int64]map[int64]model.Status, error) {
	idsByConfig := make(map[int64][]int64)
	for _, t := range targets {
		idsByConfig[t.calcConfigID] = append(idsByConfig[t.calcConfigID], t.targetID)
	}
	out := make(map[int64]map[int64]model.Status, len(idsByConfig))
	for calcConfigID, ids := range idsByConfig {
		statuses, err := scope.Statuses.Statuses(ctx, calcConfigID, ids)
		if err != nil {
			return nil, err
		}
		out[calcConfigID] = statuses
	}
	return out, nil
}

func (w *BatchWriter) resultKey(ctx context.Context, scope *RunScope, t resolvedTarget, result model.ComputedValueResult) (repository.ResultKey, error) {
	key := repository.ResultKey{
		RunID:                      scope.RunID,
		CalculationConfigurationID: t.calcConfigID,
		ComputationTargetID:        t.targetID,
	}
	var err error
	d := scope.Dimensions
	spec := result.Specification
	if key.ValueNameID, err = d.ValueName(ctx, spec.ValueName); err != nil {
		return key, err
	}
	if key.ValueRequirementID, err = d.ValueRequirement(ctx, result.Requirement); err != nil {
		return key, err
	}
	if key.ValueSpecificationID, err = d.ValueSpecification(ctx, spec); err != nil {
		return key, err
	}
	if key.FunctionUniqueID, err = d.FunctionUniqueID(ctx, spec.FunctionUniqueID); err != nil {
		return key, err
	}
	if key.ComputeNodeID, err = d.ComputeNode(ctx, result.ComputeNodeID); err != nil {
		return key, err
	}
	return key, nil
}

func (w *BatchWriter) stageValues(ctx context.Context, scope *RunScope, t resolvedTarget, evalInstant time.Time, rows *staged) error {
	for _, v := range t.Values {
		key, err := w.resultKey(ctx, scope, t, v.Result)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(v.Scalars))
		for name := range v.Scalars {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			scalarKey := key
			if scalarKey.ValueNameID, err = scope.Dimensions.ValueName(ctx, name); err != nil {
				return err
			}
			rows.values = append(rows.values, &repository.ValueRecord{
				ResultKey:   scalarKey,
				Value:       v.Scalars[name],
				EvalInstant: evalInstant,
			})
		}
	}
	return nil
}

// stageFailures records the failed values of t. Values of t that succeeded get no row.
func (w *BatchWriter) stageFailures(ctx context.Context, scope *RunScope, t resolvedTarget, evalInstant time.Time, causes map[string][]int64, rows *staged) error {
	for _, v := range t.Values {
		if !v.Failed() {
			continue
		}
		key, err := w.resultKey(ctx, scope, t, v.Result)
		if err != nil {
			return err
		}
		logger.Debugf("Writer: failure of %s (%s).", v.Result.Specification, v.Result.InvocationResult)
		rows.failures = append(rows.failures, &repository.FailureRecord{ResultKey: key, EvalInstant: evalInstant})
		rows.causes = append(rows.causes, causes[v.Result.Specification.Key()])
	}
	return nil
}

func (w *BatchWriter) refreshTargets(ctx context.Context, scope *RunScope, targets []model.ComputationTarget) error {
	for _, target := range targets {
		id, err := scope.Dimensions.ComputationTarget(ctx, target.Spec)
		if err != nil {
			return err
		}
		if err := scope.Dimensions.RefreshTarget(ctx, id, target); err != nil {
			return err
		}
	}
	return nil
}

func (w *BatchWriter) insert(ctx context.Context, rows *staged, stats *metrics.WriteStats) error {
	if len(rows.values) > 0 {
		n, err := w.results.InsertValues(ctx, rows.values)
		if err := checkInserted("value", n, len(rows.values), err); err != nil {
			return err
		}
		stats.Values = len(rows.values)
	}

	if len(rows.failures) == 0 {
		return nil
	}
	n, err := w.results.InsertFailures(ctx, rows.failures)
	if err := checkInserted("failure", n, len(rows.failures), err); err != nil {
		return err
	}
	stats.Failures = len(rows.failures)

	var reasons []*repository.FailureReasonRecord
	for i, f := range rows.failures {
		for _, computeFailureID := range rows.causes[i] {
			reasons = append(reasons, &repository.FailureReasonRecord{FailureID: f.ID, ComputeFailureID: computeFailureID})
		}
	}
	if len(reasons) == 0 {
		return nil
	}
	n, err = w.results.InsertFailureReasons(ctx, reasons)
	if err := checkInserted("failure reason", n, len(reasons), err); err != nil {
		return err
	}
	stats.FailureReasons = len(reasons)
	return nil
}

func checkInserted(kind string, affected int64, expected int, err error) error {
	if err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to insert %s rows", kind), err, false, false)
	}
	if affected != int64(expected) {
		return exception.NewConsistencyViolation(moduleName,
			fmt.Sprintf("%s insert affected %d rows, expected %d", kind, affected, expected), nil)
	}
	return nil
}
