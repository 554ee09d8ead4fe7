// Package status tracks the outcome of every (calculation configuration, target) pair of a run.
package status

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/riskbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/memo"
)

const moduleName = "status"

type key struct {
	calcConfigID int64
	targetID     int64
}

// entry is a cached row. A zero id is the "known absent" marker: the store was asked and had no row.
type entry struct {
	id     int64
	status model.Status
}

var absent = entry{status: model.StatusNotRunning}

// Transition counts rows moved from one status to another by an Upsert.
type Transition struct {
	From  model.Status
	To    model.Status
	Count int
}

// UpsertResult reports what an Upsert applied.
type UpsertResult struct {
	Inserted    int
	Updated     int
	Transitions []Transition
}

// Tracker answers status lookups from a per-run cache and applies status changes in bulk.
type Tracker struct {
	runID    int64
	repo     repository.StatusRepository
	cache    *memo.Staged[key, entry]
	disabled bool
	recorder metrics.MetricRecorder
}

// NewTracker creates a Tracker for run runID. With cfg.DisableStatusCache every lookup reads the store.
func NewTracker(runID int64, repo repository.StatusRepository, cfg *config.BatchConfig, recorder metrics.MetricRecorder) *Tracker {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &Tracker{
		runID:    runID,
		repo:     repo,
		cache:    memo.New[key, entry](),
		disabled: cfg.DisableStatusCache,
		recorder: recorder,
	}
}

// Status returns the status of one target, NOT_RUNNING when it has no row.
func (t *Tracker) Status(ctx context.Context, calcConfigID, targetID int64) (model.Status, error) {
	statuses, err := t.Statuses(ctx, calcConfigID, []int64{targetID})
	if err != nil {
		return "", err
	}
	return statuses[targetID], nil
}

// Statuses returns the status of every target in targetIDs. Targets missing from the cache are
// read from the store in one query.
func (t *Tracker) Statuses(ctx context.Context, calcConfigID int64, targetIDs []int64) (map[int64]model.Status, error) {
	entries, err := t.lookup(ctx, calcConfigID, targetIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]model.Status, len(entries))
	for id, e := range entries {
		out[id] = e.status
	}
	return out, nil
}

func (t *Tracker) lookup(ctx context.Context, calcConfigID int64, targetIDs []int64) (map[int64]entry, error) {
	out := make(map[int64]entry, len(targetIDs))
	var misses []int64
	for _, targetID := range targetIDs {
		if _, seen := out[targetID]; seen {
			continue
		}
		if !t.disabled {
			if e, ok := t.cache.Get(ctx, key{calcConfigID, targetID}); ok {
				t.recorder.RecordCacheLookup(ctx, "status", true)
				out[targetID] = e
				continue
			}
			t.recorder.RecordCacheLookup(ctx, "status", false)
		}
		out[targetID] = absent
		misses = append(misses, targetID)
	}
	if len(misses) == 0 {
		return out, nil
	}

	rows, err := t.repo.FindStatuses(ctx, calcConfigID, misses)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to read statuses of calculation configuration %d", calcConfigID), err, false, true)
	}
	for _, targetID := range misses {
		e := absent
		if row, ok := rows[targetID]; ok {
			e = entry{id: row.ID, status: row.Status}
		}
		out[targetID] = e
		t.remember(ctx, calcConfigID, targetID, e)
	}
	logger.Debugf("Status: read %d of %d targets of calculation configuration %d from the store.", len(rows), len(misses), calcConfigID)
	return out, nil
}

func (t *Tracker) remember(ctx context.Context, calcConfigID, targetID int64, e entry) {
	if t.disabled {
		return
	}
	t.cache.Put(ctx, key{calcConfigID, targetID}, e)
}

// Upsert records statusByTarget for one calculation configuration.
//
// Targets without a row are inserted in one bulk statement. Targets with a row whose status differs
// are updated with one compare-and-set statement per (old, new) status pair. Every statement must
// affect exactly as many rows as were submitted, otherwise a ConsistencyViolation is returned and the
// caller's transaction has to roll back. A failed statement also drops the cached statuses of its
// targets, so a retry reads what another writer stored.
func (t *Tracker) Upsert(ctx context.Context, calcConfigID int64, statusByTarget map[int64]model.Status) (UpsertResult, error) {
	var result UpsertResult
	if len(statusByTarget) == 0 {
		return result, nil
	}

	targetIDs := make([]int64, 0, len(statusByTarget))
	for id := range statusByTarget {
		targetIDs = append(targetIDs, id)
	}
	sort.Slice(targetIDs, func(i, j int) bool { return targetIDs[i] < targetIDs[j] })

	known, err := t.lookup(ctx, calcConfigID, targetIDs)
	if err != nil {
		return result, err
	}

	var inserts []*repository.StatusRecord
	updates := make(map[transition][]int64)
	updatedTargets := make(map[transition][]int64)
	moved := make(map[[2]model.Status]int)
	for _, targetID := range targetIDs {
		want := statusByTarget[targetID]
		current := known[targetID]
		switch {
		case current.id == 0:
			inserts = append(inserts, &repository.StatusRecord{
				RunID:                      t.runID,
				CalculationConfigurationID: calcConfigID,
				TargetID:                   targetID,
				Status:                     want,
			})
			moved[[2]model.Status{model.StatusNotRunning, want}]++
		case current.status != want:
			tr := transition{from: current.status, to: want}
			updates[tr] = append(updates[tr], current.id)
			updatedTargets[tr] = append(updatedTargets[tr], targetID)
			moved[[2]model.Status{current.status, want}]++
		}
	}

	if len(inserts) > 0 {
		n, err := t.repo.InsertStatuses(ctx, inserts)
		if err != nil {
			t.forgetRecords(calcConfigID, inserts)
			return result, exception.NewBatchError(moduleName, "failed to insert status rows", err, false, false)
		}
		if n != int64(len(inserts)) {
			t.forgetRecords(calcConfigID, inserts)
			return result, exception.NewConsistencyViolation(moduleName,
				fmt.Sprintf("status insert affected %d rows, expected %d", n, len(inserts)), nil)
		}
		for _, row := range inserts {
			t.remember(ctx, calcConfigID, row.TargetID, entry{id: row.ID, status: row.Status})
		}
		result.Inserted = len(inserts)
	}

	for _, tr := range sortedTransitions(updates) {
		ids := updates[tr]
		n, err := t.repo.UpdateStatuses(ctx, tr.from, tr.to, ids)
		if err != nil {
			t.forget(calcConfigID, updatedTargets[tr])
			return result, exception.NewBatchError(moduleName, "failed to update status rows", err, false, false)
		}
		if n != int64(len(ids)) {
			t.forget(calcConfigID, updatedTargets[tr])
			return result, exception.NewConsistencyViolation(moduleName,
				fmt.Sprintf("status update from %s to %s affected %d rows, expected %d", tr.from, tr.to, n, len(ids)), nil)
		}
		result.Updated += len(ids)
	}
	for _, targetID := range targetIDs {
		if current := known[targetID]; current.id != 0 && current.status != statusByTarget[targetID] {
			t.remember(ctx, calcConfigID, targetID, entry{id: current.id, status: statusByTarget[targetID]})
		}
	}

	for pair, count := range moved {
		result.Transitions = append(result.Transitions, Transition{From: pair[0], To: pair[1], Count: count})
	}
	sort.Slice(result.Transitions, func(i, j int) bool {
		a, b := result.Transitions[i], result.Transitions[j]
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
	return result, nil
}

type transition struct {
	from model.Status
	to   model.Status
}

func sortedTransitions(m map[transition][]int64) []transition {
	out := make([]transition, 0, len(m))
	for tr := range m {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].from != out[j].from {
			return out[i].from < out[j].from
		}
		return out[i].to < out[j].to
	})
	return out
}

func (t *Tracker) forget(calcConfigID int64, targetIDs []int64) {
	for _, targetID := range targetIDs {
		t.cache.Forget(key{calcConfigID, targetID})
	}
}

func (t *Tracker) forgetRecords(calcConfigID int64, rows []*repository.StatusRecord) {
	for _, row := range rows {
		t.cache.Forget(key{calcConfigID, row.TargetID})
	}
}

// Forget drops every cached status. Used when the run restarts.
func (t *Tracker) Forget() {
	t.cache.Reset()
}
