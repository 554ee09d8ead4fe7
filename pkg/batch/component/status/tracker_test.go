package status_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riskbatch/pkg/batch/component/dimension"
	"github.com/tigerroll/riskbatch/pkg/batch/component/status"
	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/riskbatch/pkg/batch/test"
)

type fixture struct {
	store        *test.RiskStore
	runID        int64
	calcConfigID int64
	targets      []int64
}

// newFixture stores a run with one calculation configuration and n trade targets.
func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	ctx := context.Background()
	store := test.NewRiskStore(t)

	run := &model.RiskRun{
		Identity:                  test.RunRequest(model.RunCreationCreateNew, nil).Identity,
		SnapshotMode:              model.SnapshotModePrepared,
		Parameters:                model.RunParameters{},
		CalculationConfigurations: map[string]int64{},
	}
	require.NoError(t, store.Repo.SaveRun(ctx, run))

	dims := dimension.NewCache(store.Repo, &store.Config.RiskBatch.Batch, nil)
	calcConfigID, err := dims.CalculationConfiguration(ctx, run.ID, "Default")
	require.NoError(t, err)

	f := &fixture{store: store, runID: run.ID, calcConfigID: calcConfigID}
	for i := 0; i < n; i++ {
		id, err := dims.ComputationTarget(ctx, test.Trade(string(rune('A'+i))))
		require.NoError(t, err)
		f.targets = append(f.targets, id)
	}
	return f
}

func (f *fixture) tracker(disableCache bool) *status.Tracker {
	cfg := f.store.Config.RiskBatch.Batch
	cfg.DisableStatusCache = disableCache
	return status.NewTracker(f.runID, f.store.Repo, &cfg, nil)
}

func TestTracker_UnknownTargetsAreNotRunning(t *testing.T) {
	f := newFixture(t, 2)
	tr := f.tracker(false)

	got, err := tr.Statuses(context.Background(), f.calcConfigID, f.targets)
	require.NoError(t, err)
	assert.Equal(t, map[int64]model.Status{
		f.targets[0]: model.StatusNotRunning,
		f.targets[1]: model.StatusNotRunning,
	}, got)
}

func TestTracker_UpsertInsertsThenUpdates(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	tr := f.tracker(false)
	a, b, c := f.targets[0], f.targets[1], f.targets[2]

	res, err := tr.Upsert(ctx, f.calcConfigID, map[int64]model.Status{a: model.StatusSuccess, b: model.StatusFailure})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Zero(t, res.Updated)
	assert.Equal(t, []status.Transition{
		{From: model.StatusNotRunning, To: model.StatusFailure, Count: 1},
		{From: model.StatusNotRunning, To: model.StatusSuccess, Count: 1},
	}, res.Transitions)

	res, err = tr.Upsert(ctx, f.calcConfigID, map[int64]model.Status{a: model.StatusSuccess, b: model.StatusSuccess, c: model.StatusFailure})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Updated, "an unchanged status is not rewritten")

	// a fresh tracker reads what the first one wrote
	got, err := f.tracker(false).Statuses(ctx, f.calcConfigID, f.targets)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, got[a])
	assert.Equal(t, model.StatusSuccess, got[b])
	assert.Equal(t, model.StatusFailure, got[c])

	stored, err := f.store.Repo.FindStatus(ctx, f.runID, "Default", test.Trade("B"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, stored)
}

func TestTracker_WithoutCacheSeesForeignWrites(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	target := f.targets[0]

	cached := f.tracker(false)
	uncached := f.tracker(true)
	for _, tr := range []*status.Tracker{cached, uncached} {
		s, err := tr.Status(ctx, f.calcConfigID, target)
		require.NoError(t, err)
		require.Equal(t, model.StatusNotRunning, s)
	}

	_, err := f.tracker(false).Upsert(ctx, f.calcConfigID, map[int64]model.Status{target: model.StatusFailure})
	require.NoError(t, err)

	s, err := uncached.Status(ctx, f.calcConfigID, target)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailure, s)

	s, err = cached.Status(ctx, f.calcConfigID, target)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotRunning, s, "the cached absence is served until Forget")

	cached.Forget()
	s, err = cached.Status(ctx, f.calcConfigID, target)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailure, s)
}

type mockStatusRepository struct {
	mock.Mock
}

func (m *mockStatusRepository) FindStatuses(ctx context.Context, calcConfigID int64, targetIDs []int64) (map[int64]repository.StatusRecord, error) {
	args := m.Called(ctx, calcConfigID, targetIDs)
	return args.Get(0).(map[int64]repository.StatusRecord), args.Error(1)
}

func (m *mockStatusRepository) InsertStatuses(ctx context.Context, rows []*repository.StatusRecord) (int64, error) {
	args := m.Called(ctx, rows)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStatusRepository) UpdateStatuses(ctx context.Context, from, to model.Status, ids []int64) (int64, error) {
	args := m.Called(ctx, from, to, ids)
	return args.Get(0).(int64), args.Error(1)
}

func TestTracker_ShortInsertIsAConsistencyViolation(t *testing.T) {
	repo := new(mockStatusRepository)
	repo.On("FindStatuses", mock.Anything, int64(1), []int64{10, 11}).Return(map[int64]repository.StatusRecord{}, nil)
	repo.On("InsertStatuses", mock.Anything, mock.Anything).Return(int64(1), nil)

	tr := status.NewTracker(7, repo, &config.BatchConfig{}, nil)
	_, err := tr.Upsert(context.Background(), 1, map[int64]model.Status{10: model.StatusSuccess, 11: model.StatusSuccess})
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrConsistencyViolation)
	repo.AssertExpectations(t)
}

func TestTracker_ShortUpdateIsAConsistencyViolation(t *testing.T) {
	repo := new(mockStatusRepository)
	repo.On("FindStatuses", mock.Anything, int64(1), []int64{10}).Return(map[int64]repository.StatusRecord{
		10: {ID: 100, RunID: 7, CalculationConfigurationID: 1, TargetID: 10, Status: model.StatusFailure},
	}, nil)
	repo.On("UpdateStatuses", mock.Anything, model.StatusFailure, model.StatusSuccess, []int64{100}).Return(int64(0), nil)

	tr := status.NewTracker(7, repo, &config.BatchConfig{}, nil)
	_, err := tr.Upsert(context.Background(), 1, map[int64]model.Status{10: model.StatusSuccess})
	assert.ErrorIs(t, err, exception.ErrConsistencyViolation)
	repo.AssertNotCalled(t, "InsertStatuses", mock.Anything, mock.Anything)
}

func TestTracker_StaleCacheIsAConsistencyViolationAndIsDropped(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	target := f.targets[0]

	_, err := f.tracker(false).Upsert(ctx, f.calcConfigID, map[int64]model.Status{target: model.StatusFailure})
	require.NoError(t, err)

	stale := f.tracker(false)
	s, err := stale.Status(ctx, f.calcConfigID, target)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailure, s)

	// another writer moves the target on
	_, err = f.tracker(false).Upsert(ctx, f.calcConfigID, map[int64]model.Status{target: model.StatusSuccess})
	require.NoError(t, err)

	_, err = stale.Upsert(ctx, f.calcConfigID, map[int64]model.Status{target: model.StatusSuccess})
	assert.ErrorIs(t, err, exception.ErrConsistencyViolation)

	s, err = stale.Status(ctx, f.calcConfigID, target)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, s, "the failed update drops the cached status")
}
