// Package dimension interns the recurring structural values of a result batch into surrogate ids.
package dimension

import (
	"context"
	"errors"
	"fmt"

	"github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/riskbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/memo"
)

const moduleName = "dimension"

var errConflictInvisible = errors.New("insert reported a conflicting row that is not visible")

// Interner resolves natural keys of one dimension table to surrogate ids.
//
// Resolution checks the memo first. On a miss it inserts the key; when the insert loses to an existing
// row (another writer created it concurrently, or it existed already) the id is reselected. The
// insert/reselect pair runs at most attempts times before the last error is surfaced.
//
// Ids resolved inside a transaction stay private to it until it commits.
type Interner[K comparable] struct {
	name     string
	store    repository.DimensionStore[K]
	ids      *memo.Staged[K, int64]
	attempts int
	recorder metrics.MetricRecorder
}

// NewInterner creates an Interner over store.
//
// Parameters:
//
//	name: The dimension name used in logs and cache metrics, e.g. "value_name".
//	store: The table the keys are interned into.
//	attempts: The insert/reselect budget. Values below 1 are treated as 1.
//	recorder: Receives one cache lookup per Resolve call.
func NewInterner[K comparable](name string, store repository.DimensionStore[K], attempts int, recorder metrics.MetricRecorder) *Interner[K] {
	if attempts < 1 {
		attempts = 1
	}
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &Interner[K]{
		name:     name,
		store:    store,
		ids:      memo.New[K, int64](),
		attempts: attempts,
		recorder: recorder,
	}
}

// Name returns the dimension name.
func (i *Interner[K]) Name() string {
	return i.name
}

// Resolve returns the surrogate id of key, creating the row when it does not exist yet.
func (i *Interner[K]) Resolve(ctx context.Context, key K) (int64, error) {
	if id, ok := i.ids.Get(ctx, key); ok {
		i.recorder.RecordCacheLookup(ctx, i.name, true)
		return id, nil
	}
	i.recorder.RecordCacheLookup(ctx, i.name, false)

	var lastErr error
	for attempt := 1; attempt <= i.attempts; attempt++ {
		outcome, err := i.store.Insert(ctx, key)
		if err != nil {
			logger.Debugf("Dimension %s: insert of %v failed (attempt %d/%d): %v", i.name, key, attempt, i.attempts, err)
			lastErr = err
			continue
		}
		if outcome.Inserted {
			i.ids.Put(ctx, key, outcome.ID)
			return outcome.ID, nil
		}

		id, found, err := i.store.Select(ctx, key)
		if err != nil {
			logger.Debugf("Dimension %s: reselect of %v failed (attempt %d/%d): %v", i.name, key, attempt, i.attempts, err)
			lastErr = err
			continue
		}
		if found {
			i.ids.Put(ctx, key, id)
			return id, nil
		}
		lastErr = errConflictInvisible
	}

	return 0, exception.NewDimensionUnresolvable(moduleName,
		fmt.Sprintf("could not resolve %s %v after %d attempts", i.name, key, i.attempts), lastErr)
}

// Lookup returns the id of key without creating a row. found is false when the key was never interned.
func (i *Interner[K]) Lookup(ctx context.Context, key K) (id int64, found bool, err error) {
	if id, ok := i.ids.Get(ctx, key); ok {
		i.recorder.RecordCacheLookup(ctx, i.name, true)
		return id, true, nil
	}
	i.recorder.RecordCacheLookup(ctx, i.name, false)

	id, found, err = i.store.Select(ctx, key)
	if err != nil {
		return 0, false, exception.NewBatchError(moduleName, fmt.Sprintf("failed to look up %s %v", i.name, key), err, false, true)
	}
	if found {
		i.ids.Put(ctx, key, id)
	}
	return id, found, nil
}

// Size returns the number of committed memo entries.
func (i *Interner[K]) Size() int {
	return i.ids.Len()
}
