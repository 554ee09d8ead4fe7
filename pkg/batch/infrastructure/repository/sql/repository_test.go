package sql_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	testify_mock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/riskbatch/pkg/batch/core/tx"
	sqlrepo "github.com/tigerroll/riskbatch/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/riskbatch/pkg/batch/test"
)

func newRun(valuation time.Time, params model.RunParameters) *model.RiskRun {
	now := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)
	return &model.RiskRun{
		Identity: model.RunIdentity{
			ValuationTime:     valuation,
			VersionCorrection: "LATEST",
			ViewDefinitionUID: "DbVwd~EOD",
			MarketDataUID:     "DbSnp~1",
		},
		Name:                      "eod",
		SnapshotMode:              model.SnapshotModePrepared,
		CreateInstant:             now,
		StartInstant:              now,
		Parameters:                params,
		CalculationConfigurations: map[string]int64{},
	}
}

func TestSQLRiskRepository_SaveAndFindRuns(t *testing.T) {
	store := test.NewRiskStore(t)
	ctx := context.Background()
	valuation := time.Date(2026, 3, 31, 17, 30, 0, 0, time.UTC)

	first := newRun(valuation, model.RunParameters{"a": "1", "b": "2"})
	require.NoError(t, store.Repo.SaveRun(ctx, first))
	require.NotZero(t, first.ID)
	second := newRun(valuation, model.RunParameters{})
	require.NoError(t, store.Repo.SaveRun(ctx, second))
	other := newRun(valuation.Add(24*time.Hour), nil)
	require.NoError(t, store.Repo.SaveRun(ctx, other))

	runs, err := store.Repo.FindRunsByIdentity(ctx, first.Identity)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, first.ID, runs[0].ID, "oldest first")
	assert.Equal(t, model.RunParameters{"a": "1", "b": "2"}, runs[0].Parameters)
	assert.True(t, runs[0].Identity.ValuationTime.Equal(valuation))
	assert.Equal(t, "eod", runs[0].Name)
	assert.False(t, runs[0].Complete)

	_, err = store.Repo.FindRunByID(ctx, 999)
	assert.ErrorIs(t, err, exception.ErrRunNotFound)
}

func TestSQLRiskRepository_RestartEndAndSearch(t *testing.T) {
	store := test.NewRiskStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC)

	var ids []int64
	for day := 0; day < 4; day++ {
		run := newRun(base.AddDate(0, 0, day), nil)
		require.NoError(t, store.Repo.SaveRun(ctx, run))
		ids = append(ids, run.ID)
	}
	end := base.AddDate(0, 1, 0)
	require.NoError(t, store.Repo.EndRun(ctx, ids[1], end))

	ended, err := store.Repo.FindRunByID(ctx, ids[1])
	require.NoError(t, err)
	assert.True(t, ended.Complete)
	require.NotNil(t, ended.EndInstant)
	assert.True(t, ended.EndInstant.Equal(end))

	ended.NumRestarts = 1
	ended.StartInstant = end.Add(time.Hour)
	require.NoError(t, store.Repo.RestartRun(ctx, ended))
	restarted, err := store.Repo.FindRunByID(ctx, ids[1])
	require.NoError(t, err)
	assert.False(t, restarted.Complete)
	assert.Nil(t, restarted.EndInstant)
	assert.Equal(t, 1, restarted.NumRestarts)

	from, to := base.AddDate(0, 0, 1), base.AddDate(0, 0, 2)
	result, err := store.Repo.SearchRuns(ctx, model.RunSearchFilter{ValuationFrom: &from, ValuationTo: &to}, model.Paging{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Total)
	require.Len(t, result.Runs, 2)
	assert.Equal(t, ids[1], result.Runs[0].ID)

	result, err = store.Repo.SearchRuns(ctx, model.RunSearchFilter{}, model.Paging{First: 3, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.Total)
	require.Len(t, result.Runs, 1)
	assert.Equal(t, ids[3], result.Runs[0].ID)

	result, err = store.Repo.SearchRuns(ctx, model.RunSearchFilter{}, model.Paging{First: 2})
	require.NoError(t, err)
	assert.Len(t, result.Runs, 2)

	assert.ErrorIs(t, store.Repo.EndRun(ctx, 999, end), exception.ErrRunNotFound)
	unknown := newRun(base, nil)
	unknown.ID = 999
	assert.ErrorIs(t, store.Repo.RestartRun(ctx, unknown), exception.ErrRunNotFound)
}

func TestSQLRiskRepository_DimensionInsertReportsExistingRows(t *testing.T) {
	store := test.NewRiskStore(t)
	ctx := context.Background()
	names := store.Repo.ValueNames()

	outcome, err := names.Insert(ctx, "PV")
	require.NoError(t, err)
	require.True(t, outcome.Inserted)

	again, err := names.Insert(ctx, "PV")
	require.NoError(t, err)
	assert.Equal(t, repository.AlreadyExists, again)

	id, found, err := names.Select(ctx, "PV")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, outcome.ID, id)
}

func TestSQLRiskRepository_StatusesAcrossChunks(t *testing.T) {
	store := test.NewRiskStore(t)
	ctx := context.Background()
	run := newRun(time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, store.Repo.SaveRun(ctx, run))

	cc, err := store.Repo.CalculationConfigurations().Insert(ctx, repository.CalculationConfigurationKey{RunID: run.ID, Name: "Default"})
	require.NoError(t, err)

	// the test store uses chunks of 3 rows
	var rows []*repository.StatusRecord
	var targetIDs []int64
	for i := 0; i < 7; i++ {
		target, err := store.Repo.ComputationTargets().Insert(ctx, test.Trade(string(rune('A'+i))))
		require.NoError(t, err)
		targetIDs = append(targetIDs, target.ID)
		rows = append(rows, &repository.StatusRecord{RunID: run.ID, CalculationConfigurationID: cc.ID, TargetID: target.ID, Status: model.StatusFailure})
	}
	n, err := store.Repo.InsertStatuses(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	for _, row := range rows {
		assert.NotZero(t, row.ID)
	}

	found, err := store.Repo.FindStatuses(ctx, cc.ID, targetIDs)
	require.NoError(t, err)
	assert.Len(t, found, 7)

	ids := []int64{rows[0].ID, rows[4].ID, rows[6].ID, rows[2].ID}
	n, err = store.Repo.UpdateStatuses(ctx, model.StatusFailure, model.StatusSuccess, ids)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	// rows already moved on are not touched again
	n, err = store.Repo.UpdateStatuses(ctx, model.StatusFailure, model.StatusSuccess, []int64{rows[0].ID, rows[1].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	found, err = store.Repo.FindStatuses(ctx, cc.ID, targetIDs[:3])
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, found[targetIDs[0]].Status)
	assert.Equal(t, model.StatusSuccess, found[targetIDs[1]].Status)
}

func TestSQLRiskRepository_SaveRunChecksParameterCount(t *testing.T) {
	repo := sqlrepo.NewSQLRiskRepository(nil, test.RiskDBName, 10)
	mockTx := new(test.MockTx)
	mockTx.On("ExecuteUpdate", testify_mock.Anything, testify_mock.Anything, "CREATE", "rsk_run", testify_mock.Anything).Return(int64(1), nil)
	mockTx.On("ExecuteBulkInsert", testify_mock.Anything, testify_mock.Anything, "rsk_run_property", 10).Return(int64(1), nil)

	ctx := tx.WithTx(context.Background(), mockTx)
	err := repo.SaveRun(ctx, newRun(time.Now(), model.RunParameters{"a": "1", "b": "2"}))
	assert.ErrorIs(t, err, exception.ErrConsistencyViolation)
	mockTx.AssertExpectations(t)
}

func TestSQLRiskRepository_EndRunOfMissingRun(t *testing.T) {
	repo := sqlrepo.NewSQLRiskRepository(nil, test.RiskDBName, 10)
	mockTx := new(test.MockTx)
	mockTx.On("ExecuteRaw", testify_mock.Anything, testify_mock.Anything, testify_mock.Anything).Return(int64(0), nil)
	mockTx.On("Count", testify_mock.Anything, testify_mock.Anything, map[string]interface{}{"id": int64(12)}).Return(int64(0), nil)

	ctx := tx.WithTx(context.Background(), mockTx)
	assert.ErrorIs(t, repo.EndRun(ctx, 12, time.Now()), exception.ErrRunNotFound)
}

func TestSQLRiskRepository_EndRunWithoutChangedRows(t *testing.T) {
	repo := sqlrepo.NewSQLRiskRepository(nil, test.RiskDBName, 10)
	mockTx := new(test.MockTx)
	mockTx.On("ExecuteRaw", testify_mock.Anything, testify_mock.Anything, testify_mock.Anything).Return(int64(0), nil)
	mockTx.On("Count", testify_mock.Anything, testify_mock.Anything, testify_mock.Anything).Return(int64(1), nil)

	ctx := tx.WithTx(context.Background(), mockTx)
	assert.NoError(t, repo.EndRun(ctx, 12, time.Now()))
}

func TestSQLRiskRepository_ErrorsAreWrapped(t *testing.T) {
	repo := sqlrepo.NewSQLRiskRepository(nil, test.RiskDBName, 10)
	cause := errors.New("disk full")
	mockTx := new(test.MockTx)
	mockTx.On("ExecuteRaw", testify_mock.Anything, testify_mock.Anything, testify_mock.Anything).Return(int64(0), cause)

	ctx := tx.WithTx(context.Background(), mockTx)
	err := repo.EndRun(ctx, 12, time.Now())
	assert.ErrorIs(t, err, cause)
	assert.True(t, exception.IsTemporary(err))
}
