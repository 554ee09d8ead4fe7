package failure_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riskbatch/pkg/batch/component/failure"
	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/riskbatch/pkg/batch/test"
)

func newRegistry(t *testing.T) (*failure.Registry, *test.RiskStore) {
	store := test.NewRiskStore(t)
	return failure.NewRegistry(store.Repo.ComputeFailures(), &store.Config.RiskBatch.Batch, nil), store
}

// newTruncatingRegistry keeps 16 characters of messages and 8 of stack traces.
func newTruncatingRegistry(t *testing.T) (*failure.Registry, *test.RiskStore) {
	store := test.NewRiskStore(t)
	cfg := store.Config.RiskBatch.Batch
	cfg.FailureMessageLimit = 16
	cfg.FailureStackTraceLimit = 8
	return failure.NewRegistry(store.Repo.ComputeFailures(), &cfg, nil), store
}

func results(entries ...model.ResultEntry) []model.ComputedValueResult {
	out := make([]model.ComputedValueResult, len(entries))
	for i, e := range entries {
		out[i] = e.Result
	}
	return out
}

func TestRegistry_NormalizeTruncatesByCharacter(t *testing.T) {
	reg, _ := newTruncatingRegistry(t)

	key := reg.Normalize(model.ComputeFailureKey{
		FunctionID:     "fn",
		ExceptionClass: "IllegalStateException",
		Message:        strings.Repeat("é", 20),
		StackTrace:     "at a.b.c(Unknown Source)",
	})
	assert.Equal(t, strings.Repeat("é", 16), key.Message)
	assert.Equal(t, "at a.b.c", key.StackTrace)
	assert.Equal(t, "IllegalStateException", key.ExceptionClass)
}

func TestRegistry_GetOrCreateDeduplicatesAfterTruncation(t *testing.T) {
	reg, store := newTruncatingRegistry(t)
	ctx := context.Background()

	a, err := reg.GetOrCreate(ctx, model.ComputeFailureKey{FunctionID: "fn", ExceptionClass: "E", Message: "curve missing for USD-LIBOR", StackTrace: "s"})
	require.NoError(t, err)
	b, err := reg.GetOrCreate(ctx, model.ComputeFailureKey{FunctionID: "fn", ExceptionClass: "E", Message: "curve missing for USD-SOFR", StackTrace: "s"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	n, err := store.Repo.CountComputeFailures(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestKeyOf_WithoutExceptionInformation(t *testing.T) {
	entry := test.Threw("Default", test.Spec("PV", test.Trade("T1")), "E", "m")
	entry.Result.Exception = nil

	key := failure.KeyOf(entry.Result)
	assert.Equal(t, test.DefaultFunction, key.FunctionID)
	assert.Equal(t, model.NoLoggingInformation, key.ExceptionClass)
	assert.Equal(t, model.NoLoggingInformation, key.Message)
	assert.Equal(t, model.NoLoggingInformation, key.StackTrace)
}

func TestRegistry_AggregateCollapsesMissingInputChains(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	trade := test.Trade("T1")
	a := test.Spec("A", trade)
	b := test.Spec("B", trade)
	c := test.Spec("C", trade)
	ok := test.Spec("OK", trade)

	causes, err := reg.Aggregate(ctx, results(
		test.Missing("Default", c, b),
		test.Missing("Default", b, a),
		test.Threw("Default", a, "ArithmeticException", "divide by zero"),
		test.Success("Default", ok, 1.0),
	))
	require.NoError(t, err)

	require.Len(t, causes.Of(a), 1)
	assert.Equal(t, causes.Of(a), causes.Of(b))
	assert.Equal(t, causes.Of(a), causes.Of(c))
	assert.Nil(t, causes.Of(ok))
}

func TestRegistry_AggregateSynthesizesAbsentInputs(t *testing.T) {
	reg, store := newRegistry(t)
	ctx := context.Background()

	trade := test.Trade("T1")
	thrown := test.Spec("Thrown", trade)
	absent := test.Spec("Absent", trade)
	succeeded := test.Spec("Succeeded", trade)
	target := test.Spec("PV", trade)

	causes, err := reg.Aggregate(ctx, results(
		test.Threw("Default", thrown, "E", "bad"),
		test.Success("Default", succeeded, 2.0),
		test.Missing("Default", target, thrown, absent, succeeded),
	))
	require.NoError(t, err)

	ids := causes.Of(target)
	require.Len(t, ids, 3, "thrown input, absent input and an input that succeeded but was reported missing")
	assert.Contains(t, ids, causes.Of(thrown)[0])
	assert.IsIncreasing(t, ids)

	n, err := store.Repo.CountComputeFailures(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRegistry_AggregateUsesTheFailedEntryOfASpecSeenTwice(t *testing.T) {
	reg, store := newRegistry(t)
	ctx := context.Background()

	trade := test.Trade("T1")
	upstream := test.Spec("A", trade)
	downstream := test.Spec("B", trade)

	causes, err := reg.Aggregate(ctx, results(
		test.Success("Default", upstream, 1.0),
		test.Threw("Stress", upstream, "E", "boom"),
		test.Missing("Stress", downstream, upstream),
	))
	require.NoError(t, err)

	require.Len(t, causes.Of(upstream), 1)
	assert.Equal(t, causes.Of(upstream), causes.Of(downstream))

	n, err := store.Repo.CountComputeFailures(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "no synthesized missing input for an input that threw")
}

func TestRegistry_AggregateSurvivesCycles(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	trade := test.Trade("T1")
	x := test.Spec("X", trade)
	y := test.Spec("Y", trade)

	causes, err := reg.Aggregate(ctx, results(
		test.Missing("Default", x, y),
		test.Missing("Default", y, x),
	))
	require.NoError(t, err)
	assert.Len(t, causes.Of(x), 1)
	assert.Len(t, causes.Of(y), 1)
}
