package dimension_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riskbatch/pkg/batch/component/dimension"
	"github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/riskbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/exception"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Insert(ctx context.Context, key string) (repository.InsertOutcome, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(repository.InsertOutcome), args.Error(1)
}

func (m *mockStore) Select(ctx context.Context, key string) (int64, bool, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

// lookupCounter counts cache lookups per outcome.
type lookupCounter struct {
	metrics.NoOpMetricRecorder
	hits, misses int
}

func (c *lookupCounter) RecordCacheLookup(_ context.Context, _ string, hit bool) {
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

func TestInterner_ResolveInsertsOnceAndMemoizes(t *testing.T) {
	store := new(mockStore)
	store.On("Insert", mock.Anything, "PV").Return(repository.Inserted(11), nil).Once()
	counter := &lookupCounter{}
	in := dimension.NewInterner[string]("value_name", store, 3, counter)

	for i := 0; i < 3; i++ {
		id, err := in.Resolve(context.Background(), "PV")
		require.NoError(t, err)
		assert.Equal(t, int64(11), id)
	}

	store.AssertExpectations(t)
	assert.Equal(t, 1, in.Size())
	assert.Equal(t, 2, counter.hits)
	assert.Equal(t, 1, counter.misses)
}

func TestInterner_ResolveReselectsWhenRowExists(t *testing.T) {
	store := new(mockStore)
	store.On("Insert", mock.Anything, "PV").Return(repository.AlreadyExists, nil).Once()
	store.On("Select", mock.Anything, "PV").Return(int64(4), true, nil).Once()
	in := dimension.NewInterner[string]("value_name", store, 3, nil)

	id, err := in.Resolve(context.Background(), "PV")
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)
	store.AssertExpectations(t)
}

func TestInterner_ResolveRetriesTransientErrors(t *testing.T) {
	store := new(mockStore)
	store.On("Insert", mock.Anything, "PV").Return(repository.InsertOutcome{}, errors.New("deadlock")).Twice()
	store.On("Insert", mock.Anything, "PV").Return(repository.Inserted(9), nil).Once()
	in := dimension.NewInterner[string]("value_name", store, 3, nil)

	id, err := in.Resolve(context.Background(), "PV")
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
	store.AssertNumberOfCalls(t, "Insert", 3)
}

func TestInterner_ResolveGivesUpAfterBudget(t *testing.T) {
	cause := errors.New("connection reset")
	store := new(mockStore)
	store.On("Insert", mock.Anything, "PV").Return(repository.InsertOutcome{}, cause)
	in := dimension.NewInterner[string]("value_name", store, 2, nil)

	_, err := in.Resolve(context.Background(), "PV")
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrDimensionUnresolvable)
	assert.ErrorIs(t, err, cause)
	store.AssertNumberOfCalls(t, "Insert", 2)
	assert.Zero(t, in.Size())
}

func TestInterner_ResolveConflictThatNeverBecomesVisible(t *testing.T) {
	store := new(mockStore)
	store.On("Insert", mock.Anything, "PV").Return(repository.AlreadyExists, nil)
	store.On("Select", mock.Anything, "PV").Return(int64(0), false, nil)
	in := dimension.NewInterner[string]("value_name", store, 3, nil)

	_, err := in.Resolve(context.Background(), "PV")
	assert.ErrorIs(t, err, exception.ErrDimensionUnresolvable)
	store.AssertNumberOfCalls(t, "Select", 3)
}

func TestInterner_BudgetBelowOneStillTriesOnce(t *testing.T) {
	store := new(mockStore)
	store.On("Insert", mock.Anything, "PV").Return(repository.Inserted(1), nil).Once()
	in := dimension.NewInterner[string]("value_name", store, 0, nil)

	id, err := in.Resolve(context.Background(), "PV")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestInterner_LookupDoesNotCreate(t *testing.T) {
	store := new(mockStore)
	store.On("Select", mock.Anything, "Delta").Return(int64(0), false, nil).Once()
	store.On("Select", mock.Anything, "PV").Return(int64(5), true, nil).Once()
	in := dimension.NewInterner[string]("value_name", store, 3, nil)

	_, found, err := in.Lookup(context.Background(), "Delta")
	require.NoError(t, err)
	assert.False(t, found)

	id, found, err := in.Lookup(context.Background(), "PV")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(5), id)

	// memoized by the successful lookup
	id, err = in.Resolve(context.Background(), "PV")
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)

	store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}

func TestComputeHostOf(t *testing.T) {
	assert.Equal(t, "host-a", dimension.ComputeHostOf("host-a/0/1"))
	assert.Equal(t, "host-b", dimension.ComputeHostOf("host-b"))
}
