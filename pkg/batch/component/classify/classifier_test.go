package classify_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riskbatch/pkg/batch/component/classify"
	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/riskbatch/pkg/batch/test"
)

type notional float64

func TestConverterRegistry_BuiltIns(t *testing.T) {
	reg := classify.NewConverterRegistry()

	cases := []struct {
		name    string
		payload interface{}
		want    map[string]float64
	}{
		{"float", 1.5, map[string]float64{"PV": 1.5}},
		{"int", int32(-3), map[string]float64{"PV": -3}},
		{"named float", notional(2), map[string]float64{"PV": 2}},
		{"decimal", decimal.RequireFromString("12.25"), map[string]float64{"PV": 12.25}},
		{"map", map[string]float64{"1Y": 0.1, "5Y": 0.5}, map[string]float64{"PV[1Y]": 0.1, "PV[5Y]": 0.5}},
		{"labelled vector", model.LabelledVector{Labels: []string{"EUR"}, Values: []float64{4}}, map[string]float64{"PV[EUR]": 4}},
		{"scalar set", model.ScalarSet{"Delta": 1, "Gamma": 2}, map[string]float64{"Delta": 1, "Gamma": 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conv, ok := reg.Lookup(tc.payload)
			require.True(t, ok)
			got, err := conv.Convert("PV", tc.payload)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, ok := reg.Lookup("text")
	assert.False(t, ok)
	_, ok = reg.Lookup(nil)
	assert.False(t, ok)
}

func TestConverterRegistry_Register(t *testing.T) {
	reg := classify.NewConverterRegistry()
	reg.Register("", classify.ConverterFunc(func(valueName string, payload interface{}) (map[string]float64, error) {
		return map[string]float64{valueName: float64(len(payload.(string)))}, nil
	}))

	conv, ok := reg.Lookup("four")
	require.True(t, ok)
	got, err := conv.Convert("Len", "four")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"Len": 4}, got)
}

func TestClassifier_OneBadValueFailsTheTarget(t *testing.T) {
	c := classify.NewClassifier(nil)
	t1, t2 := test.Trade("T1"), test.Trade("T2")

	targets := c.Classify(test.Batch(
		test.Success("Default", test.Spec("PV", t1), 1.0),
		test.Success("Default", test.Spec("Delta", t1), "not a number"),
		test.Success("Default", test.Spec("PV", t2), 2.0),
		test.Success("Stress", test.Spec("PV", t1), 3.0),
	))

	require.Len(t, targets, 3)
	assert.Equal(t, "Default", targets[0].CalculationConfiguration)
	assert.Equal(t, t1, targets[0].Spec)
	assert.Equal(t, classify.Failed, targets[0].Outcome)
	assert.Equal(t, model.StatusFailure, targets[0].Outcome.Status())
	require.Len(t, targets[0].Values, 2)
	assert.False(t, targets[0].Values[0].Failed())
	assert.True(t, targets[0].Values[1].Failed())
	assert.Contains(t, targets[0].Values[1].Problem, "no converter")

	assert.Equal(t, classify.Successful, targets[1].Outcome)
	assert.Equal(t, "Stress", targets[2].CalculationConfiguration)
	assert.Equal(t, classify.Successful, targets[2].Outcome)
}

func TestClassifier_FailedInvocationsAndNonFiniteValues(t *testing.T) {
	c := classify.NewClassifier(classify.NewConverterRegistry())
	trade := test.Trade("T1")

	targets := c.Classify(test.Batch(
		test.Threw("Default", test.Spec("PV", trade), "E", "m"),
		test.Success("Other", test.Spec("PV", trade), math.NaN()),
		test.Success("Third", test.Spec("PV", trade), model.LabelledVector{Labels: []string{"a", "b"}, Values: []float64{1}}),
		test.Success("Fourth", test.Spec("PV", trade), map[string]float64{}),
	))
	require.Len(t, targets, 4)
	for _, target := range targets {
		assert.Equal(t, classify.Failed, target.Outcome, target.CalculationConfiguration)
	}
	assert.Empty(t, targets[0].Values[0].Problem, "a thrown exception is not a conversion problem")
	assert.Contains(t, targets[1].Values[0].Problem, "NaN")
	assert.Contains(t, targets[2].Values[0].Problem, "2 labels but 1 values")
	assert.Equal(t, "payload converted to no scalars", targets[3].Values[0].Problem)
}

func TestClassifier_TinyMagnitudesBecomeZero(t *testing.T) {
	c := classify.NewClassifier(nil)
	targets := c.Classify(test.Batch(test.Success("Default", test.Spec("PV", test.Trade("T1")), 1e-320)))

	require.Len(t, targets, 1)
	assert.Equal(t, classify.Successful, targets[0].Outcome)
	assert.Equal(t, map[string]float64{"PV": 0}, targets[0].Values[0].Scalars)
	assert.Equal(t, -2.5, classify.EnsureStorablePrecision(-2.5))
	assert.Equal(t, "FAILED", classify.Failed.String())
}
