package writer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riskbatch/pkg/batch/component/classify"
	"github.com/tigerroll/riskbatch/pkg/batch/component/writer"
	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/riskbatch/pkg/batch/test"
)

type fixture struct {
	store  *test.RiskStore
	runID  int64
	scope  *writer.RunScope
	writer *writer.BatchWriter
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithResults(t, nil)
}

// newFixtureWithResults stores a run and builds a writer whose result rows go to results, or to the
// store when results is nil.
func newFixtureWithResults(t *testing.T, results func(repository.RiskRepository) repository.ResultRepository) *fixture {
	t.Helper()
	store := test.NewRiskStore(t)
	run := &model.RiskRun{
		Identity:                  test.RunRequest(model.RunCreationCreateNew, nil).Identity,
		SnapshotMode:              model.SnapshotModePrepared,
		Parameters:                model.RunParameters{},
		CalculationConfigurations: map[string]int64{},
	}
	require.NoError(t, store.Repo.SaveRun(context.Background(), run))

	var resultRepo repository.ResultRepository = store.Repo
	if results != nil {
		resultRepo = results(store.Repo)
	}
	return &fixture{
		store:  store,
		runID:  run.ID,
		scope:  writer.NewRunScope(run.ID, store.Repo, &store.Config.RiskBatch.Batch, nil),
		writer: writer.NewBatchWriter(store.TxManager, resultRepo, classify.NewClassifier(nil), nil, nil),
	}
}

func (f *fixture) counts(t *testing.T) (values, failures, reasons int64) {
	t.Helper()
	ctx := context.Background()
	filter := repository.CountFilter{RunID: &f.runID}
	values, err := f.store.Repo.CountValues(ctx, filter)
	require.NoError(t, err)
	failures, err = f.store.Repo.CountFailures(ctx, filter)
	require.NoError(t, err)
	reasons, err = f.store.Repo.CountFailureReasons(ctx, filter)
	require.NoError(t, err)
	return values, failures, reasons
}

func (f *fixture) status(t *testing.T, calcConfig string, target model.ComputationTargetSpec) model.Status {
	t.Helper()
	s, err := f.store.Repo.FindStatus(context.Background(), f.runID, calcConfig, target)
	require.NoError(t, err)
	return s
}

func TestBatchWriter_EmptyBatch(t *testing.T) {
	f := newFixture(t)
	stats, err := f.writer.Write(context.Background(), f.scope, test.Batch())
	require.NoError(t, err)
	assert.Zero(t, stats)
}

func TestBatchWriter_StoresSuccessfulTargets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t1, t2 := test.Trade("T1"), test.Trade("T2")

	stats, err := f.writer.Write(ctx, f.scope, test.Batch(
		test.Success("Default", test.Spec("PV", t1), 100.0),
		test.Success("Default", test.Spec("Bucketed", t1), map[string]float64{"1Y": 1, "2Y": 2}),
		test.Success("Default", test.Spec("PV", t2), 200.0),
	))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Targets)
	assert.Equal(t, 2, stats.SuccessfulTargets)
	assert.Equal(t, 4, stats.Values)
	assert.Equal(t, 2, stats.StatusInserts)

	values, failures, _ := f.counts(t)
	assert.Equal(t, int64(4), values)
	assert.Zero(t, failures)
	assert.Equal(t, model.StatusSuccess, f.status(t, "Default", t1))

	v, found, err := f.store.Repo.FindValue(ctx, f.runID, "Default", "PV[2Y]", t1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2.0, v.Value)
	assert.Equal(t, "host-a/0/1", v.ComputeNode)
}

func TestBatchWriter_RewritingASuccessfulTargetIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := test.Batch(test.Success("Default", test.Spec("PV", test.Trade("T1")), 1.0))

	_, err := f.writer.Write(ctx, f.scope, batch)
	require.NoError(t, err)
	stats, err := f.writer.Write(ctx, f.scope, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SkippedTargets)
	assert.Zero(t, stats.Values)

	// a later failure of the same target does not override the stored success
	stats, err = f.writer.Write(ctx, f.scope, test.Batch(test.Threw("Default", test.Spec("PV", test.Trade("T1")), "E", "late")))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SkippedTargets)

	values, failures, _ := f.counts(t)
	assert.Equal(t, int64(1), values)
	assert.Zero(t, failures)
	assert.Equal(t, model.StatusSuccess, f.status(t, "Default", test.Trade("T1")))
}

func TestBatchWriter_MixedTargetStoresOnlyFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := test.Trade("X")
	failed := test.Spec("Delta", x)

	stats, err := f.writer.Write(ctx, f.scope, test.Batch(
		test.Success("Default", test.Spec("PV", x), 5.0),
		test.Threw("Default", failed, "ArithmeticException", "divide by zero"),
		test.Missing("Default", test.Spec("Gamma", x), failed),
	))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FailedTargets)
	assert.Zero(t, stats.Values)
	assert.Equal(t, 2, stats.Failures)
	assert.Equal(t, 2, stats.FailureReasons)

	values, failures, reasons := f.counts(t)
	assert.Zero(t, values)
	assert.Equal(t, int64(2), failures)
	assert.Equal(t, int64(2), reasons)
	assert.Equal(t, model.StatusFailure, f.status(t, "Default", x))

	computeFailures, err := f.store.Repo.CountComputeFailures(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), computeFailures, "Gamma is caused by the failure of Delta")

	errs, total, err := f.store.Repo.FindErrors(ctx, f.runID, model.Paging{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	for _, e := range errs {
		require.Len(t, e.Causes, 1)
		assert.Equal(t, "ArithmeticException", e.Causes[0].ExceptionClass)
	}
}

func TestBatchWriter_SuccessAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trade := test.Trade("T1")

	_, err := f.writer.Write(ctx, f.scope, test.Batch(test.Threw("Default", test.Spec("PV", trade), "E", "first try")))
	require.NoError(t, err)
	stats, err := f.writer.Write(ctx, f.scope, test.Batch(test.Success("Default", test.Spec("PV", trade), 3.0)))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.StatusUpdates)

	values, failures, _ := f.counts(t)
	assert.Equal(t, int64(1), values)
	assert.Equal(t, int64(1), failures, "failures of earlier attempts stay until the run restarts")
	assert.Equal(t, model.StatusSuccess, f.status(t, "Default", trade))
}

func TestBatchWriter_RedeliveredFailureIsStoredAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trade := test.Trade("T1")

	for range 2 {
		stats, err := f.writer.Write(ctx, f.scope, test.Batch(test.Threw("Default", test.Spec("PV", trade), "E", "boom")))
		require.NoError(t, err)
		assert.Equal(t, 1, stats.FailedTargets)
		assert.Zero(t, stats.StatusUpdates, "FAILURE to FAILURE is not a status change")
	}

	values, failures, reasons := f.counts(t)
	assert.Zero(t, values)
	assert.Equal(t, int64(2), failures, "failures are not deduplicated within a run")
	assert.Equal(t, int64(2), reasons)
	assert.Equal(t, model.StatusFailure, f.status(t, "Default", trade))
}

// storedTarget reads the display name and properties of the trade target value back from the store.
func (f *fixture) storedTarget(t *testing.T, value string) (string, map[string]string) {
	t.Helper()
	ctx := context.Background()
	var targets []struct {
		ID   int64
		Name *string
	}
	require.NoError(t, f.store.Conn.QueryRaw(ctx, &targets, "SELECT id, name FROM rsk_computation_target WHERE id_value = ?", value))
	require.Len(t, targets, 1)
	var props []struct {
		PropertyKey   string
		PropertyValue string
	}
	require.NoError(t, f.store.Conn.QueryRaw(ctx, &props,
		"SELECT property_key, property_value FROM rsk_target_property WHERE target_id = ?", targets[0].ID))

	name := ""
	if targets[0].Name != nil {
		name = *targets[0].Name
	}
	out := make(map[string]string, len(props))
	for _, p := range props {
		out[p.PropertyKey] = p.PropertyValue
	}
	return name, out
}

func TestBatchWriter_TargetMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := test.Batch(test.Success("Default", test.Spec("PV", test.Trade("T1")), 1.0))
	batch.Targets = []model.ComputationTarget{{
		Spec:       test.Trade("T1"),
		Name:       "Swap 10Y",
		Properties: map[string]string{"Desk": "Rates"},
	}}

	_, err := f.writer.Write(ctx, f.scope, batch)
	require.NoError(t, err)
	name, props := f.storedTarget(t, "T1")
	assert.Equal(t, "Swap 10Y", name)
	assert.Equal(t, map[string]string{"Desk": "Rates"}, props)

	// renamed and re-booked: the target row is refreshed even though its results are skipped
	batch.Targets[0].Name = "Swap 10Y EUR"
	batch.Targets[0].Properties = map[string]string{"Desk": "Credit", "Book": "B1"}
	stats, err := f.writer.Write(ctx, f.scope, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SkippedTargets)

	name, props = f.storedTarget(t, "T1")
	assert.Equal(t, "Swap 10Y EUR", name)
	assert.Equal(t, map[string]string{"Desk": "Credit", "Book": "B1"}, props)
}

// shortValues loses one value row on every insert.
type shortValues struct {
	repository.ResultRepository
}

func (s shortValues) InsertValues(ctx context.Context, rows []*repository.ValueRecord) (int64, error) {
	n, err := s.ResultRepository.InsertValues(ctx, rows)
	return n - 1, err
}

func TestBatchWriter_ConsistencyViolationRollsBack(t *testing.T) {
	f := newFixtureWithResults(t, func(repo repository.RiskRepository) repository.ResultRepository {
		return shortValues{repo}
	})
	ctx := context.Background()
	trade := test.Trade("T1")

	_, err := f.writer.Write(ctx, f.scope, test.Batch(
		test.Success("Default", test.Spec("PV", trade), 1.0),
		test.Success("Default", test.Spec("Delta", trade), 2.0),
	))
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrConsistencyViolation)

	values, _, _ := f.counts(t)
	assert.Zero(t, values)
	assert.Equal(t, model.StatusNotRunning, f.status(t, "Default", trade))
	assert.Zero(t, f.scope.Dimensions.Sizes()["value_name"], "ids of the rolled back batch are discarded")
}

func TestBatchWriter_StaleStatusOfAnotherWriterRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := writer.NewRunScope(f.runID, f.store.Repo, &f.store.Config.RiskBatch.Batch, nil)
	spec := test.Spec("PV", test.Trade("T1"))
	failed := test.Batch(test.Threw("Default", spec, "E", "first try"))
	succeeded := test.Batch(test.Success("Default", spec, 1.0))

	for _, scope := range []*writer.RunScope{f.scope, other} {
		_, err := f.writer.Write(ctx, scope, failed)
		require.NoError(t, err)
	}
	_, err := f.writer.Write(ctx, f.scope, succeeded)
	require.NoError(t, err)

	// other still remembers FAILURE for T1
	_, err = f.writer.Write(ctx, other, succeeded)
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrConsistencyViolation)

	values, _, _ := f.counts(t)
	assert.Equal(t, int64(1), values)

	stats, err := f.writer.Write(ctx, other, succeeded)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SkippedTargets, "the retry reads the stored SUCCESS")
	values, _, _ = f.counts(t)
	assert.Equal(t, int64(1), values)
	assert.Equal(t, model.StatusSuccess, f.status(t, "Default", test.Trade("T1")))
}
