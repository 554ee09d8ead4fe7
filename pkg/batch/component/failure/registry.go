// Package failure deduplicates compute failures and aggregates the root causes of failed values.
package failure

import (
	"context"
	"sort"

	"github.com/tigerroll/riskbatch/pkg/batch/component/dimension"
	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/riskbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"
)

// Registry stores each distinct compute failure once and remembers its id for the life of the run.
type Registry struct {
	failures     *dimension.Interner[model.ComputeFailureKey]
	messageLimit int
	stackLimit   int
}

// NewRegistry creates a Registry over store with the truncation limits of cfg.
func NewRegistry(store repository.DimensionStore[model.ComputeFailureKey], cfg *config.BatchConfig, recorder metrics.MetricRecorder) *Registry {
	return &Registry{
		failures:     dimension.NewInterner("compute_failure", store, cfg.DimensionRetryAttempts, recorder),
		messageLimit: cfg.FailureMessageLimit,
		stackLimit:   cfg.FailureStackTraceLimit,
	}
}

// Normalize truncates the message and stack trace to the configured limits, counted in characters.
// Two occurrences of a failure that differ only past the limits normalize to the same key.
func (r *Registry) Normalize(key model.ComputeFailureKey) model.ComputeFailureKey {
	key.Message = truncate(key.Message, r.messageLimit)
	key.StackTrace = truncate(key.StackTrace, r.stackLimit)
	return key
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// GetOrCreate returns the stored failure for the normalized key, creating it on first sight.
func (r *Registry) GetOrCreate(ctx context.Context, key model.ComputeFailureKey) (model.ComputeFailure, error) {
	key = r.Normalize(key)
	id, err := r.failures.Resolve(ctx, key)
	if err != nil {
		return model.ComputeFailure{}, err
	}
	return model.ComputeFailure{ID: id, ComputeFailureKey: key}, nil
}

// KeyOf returns the failure key of a value whose function threw. A result without exception
// information is recorded with model.NoLoggingInformation in every descriptive field.
func KeyOf(result model.ComputedValueResult) model.ComputeFailureKey {
	key := model.ComputeFailureKey{
		FunctionID:     result.Specification.FunctionUniqueID,
		ExceptionClass: model.NoLoggingInformation,
		Message:        model.NoLoggingInformation,
		StackTrace:     model.NoLoggingInformation,
	}
	if ex := result.Exception; ex != nil {
		key.ExceptionClass = ex.Class
		key.Message = ex.Message
		key.StackTrace = ex.StackTrace
	}
	return key
}

// Causes maps the key of a failed value specification (model.ValueSpecification.Key) to the sorted ids of
// the compute failures that originally caused it.
type Causes map[string][]int64

// Of returns the cause ids recorded for spec.
func (c Causes) Of(spec model.ValueSpecification) []int64 {
	return c[spec.Key()]
}

// Aggregate computes the root causes of every failed result in results.
//
// A value whose function threw is caused by its own failure. A value with missing inputs is caused
// by the union of the causes of each missing input: the input's own causes when the input failed in
// this batch, otherwise a synthesized "Missing input" failure. Chains of missing inputs therefore
// collapse onto the original failures however deep they are. Successful results have no entry.
func (r *Registry) Aggregate(ctx context.Context, results []model.ComputedValueResult) (Causes, error) {
	a := &aggregation{
		registry: r,
		bySpec:   make(map[string]*model.ComputedValueResult, len(results)),
		causes:   make(Causes),
		visiting: make(map[string]bool),
	}
	for i := range results {
		key := results[i].Specification.Key()
		// a failure of the spec in any calculation configuration wins over a success in another
		if prev, dup := a.bySpec[key]; !dup || prev.Succeeded() {
			a.bySpec[key] = &results[i]
		}
	}
	for i := range results {
		if _, err := a.resolve(ctx, &results[i]); err != nil {
			return nil, err
		}
	}
	return a.causes, nil
}

type aggregation struct {
	registry *Registry
	bySpec   map[string]*model.ComputedValueResult
	causes   Causes
	visiting map[string]bool
}

func (a *aggregation) resolve(ctx context.Context, result *model.ComputedValueResult) ([]int64, error) {
	key := result.Specification.Key()
	if ids, done := a.causes[key]; done {
		return ids, nil
	}

	var ids []int64
	switch result.InvocationResult {
	case model.InvocationFunctionThrewException:
		cf, err := a.registry.GetOrCreate(ctx, KeyOf(*result))
		if err != nil {
			return nil, err
		}
		ids = []int64{cf.ID}

	case model.InvocationMissingInputs:
		a.visiting[key] = true
		set := make(map[int64]struct{})
		for _, input := range result.MissingInputs {
			inputIDs, err := a.inputCauses(ctx, input)
			if err != nil {
				return nil, err
			}
			for _, id := range inputIDs {
				set[id] = struct{}{}
			}
		}
		delete(a.visiting, key)
		ids = make([]int64, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	default:
		return nil, nil
	}

	a.causes[key] = ids
	return ids, nil
}

func (a *aggregation) inputCauses(ctx context.Context, input model.ValueSpecification) ([]int64, error) {
	key := input.Key()
	if upstream, ok := a.bySpec[key]; ok && !upstream.Succeeded() {
		if a.visiting[key] {
			logger.Warnf("Failure: missing-input cycle through %s, recording it as a missing input.", input)
		} else {
			ids, err := a.resolve(ctx, upstream)
			if err != nil {
				return nil, err
			}
			if len(ids) > 0 {
				return ids, nil
			}
		}
	}
	cf, err := a.registry.GetOrCreate(ctx, model.MissingInputFailureKey(input))
	if err != nil {
		return nil, err
	}
	return []int64{cf.ID}, nil
}
