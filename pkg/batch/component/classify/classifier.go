// Package classify decides, per target, whether the results of a batch can be stored as values.
package classify

import (
	"fmt"
	"math"

	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"
)

// MinStorableMagnitude is the smallest magnitude stored as is. Smaller magnitudes underflow in common
// databases and are stored as 0.
const MinStorableMagnitude = 1e-300

// Outcome is the classification of a whole target.
type Outcome int

const (
	Successful Outcome = iota
	Failed
)

func (o Outcome) String() string {
	if o == Successful {
		return "SUCCESSFUL"
	}
	return "FAILED"
}

// Status is the status recorded for a target with this outcome.
func (o Outcome) Status() model.Status {
	if o == Successful {
		return model.StatusSuccess
	}
	return model.StatusFailure
}

// Value is one result of a target after conversion.
type Value struct {
	Result model.ComputedValueResult
	// Scalars holds the converted payload. It is nil when the value cannot be stored.
	Scalars map[string]float64
	// Problem explains why a successful invocation is not storable.
	Problem string
}

// Failed reports whether this value is recorded as a failure of its target.
func (v Value) Failed() bool {
	return v.Scalars == nil
}

// Target groups the results of one target within one calculation configuration.
type Target struct {
	CalculationConfiguration string
	Spec                     model.ComputationTargetSpec
	Outcome                  Outcome
	Values                   []Value
}

// Classifier converts payloads and classifies targets as a conjunction over their values: one failed
// or unconvertible value fails the whole target.
type Classifier struct {
	converters *ConverterRegistry
}

// NewClassifier creates a Classifier using converters.
func NewClassifier(converters *ConverterRegistry) *Classifier {
	if converters == nil {
		converters = NewConverterRegistry()
	}
	return &Classifier{converters: converters}
}

type groupKey struct {
	calcConfig string
	target     model.ComputationTargetSpec
}

// Classify groups batch by (calculation configuration, target) in order of first appearance and
// classifies every group.
func (c *Classifier) Classify(batch model.ResultBatch) []Target {
	index := make(map[groupKey]int)
	var targets []Target
	for _, e := range batch.Entries {
		k := groupKey{e.CalculationConfiguration, e.Result.Specification.Target}
		i, ok := index[k]
		if !ok {
			i = len(targets)
			index[k] = i
			targets = append(targets, Target{CalculationConfiguration: k.calcConfig, Spec: k.target, Outcome: Successful})
		}
		v := c.convert(e.Result)
		if v.Failed() {
			targets[i].Outcome = Failed
		}
		targets[i].Values = append(targets[i].Values, v)
	}
	return targets
}

func (c *Classifier) convert(result model.ComputedValueResult) Value {
	v := Value{Result: result}
	if !result.Succeeded() {
		return v
	}

	conv, ok := c.converters.Lookup(result.Value)
	if !ok {
		v.Problem = fmt.Sprintf("no converter for %T", result.Value)
		logger.Infof("Classify: %s for %s.", v.Problem, result.Specification)
		return v
	}
	scalars, err := conv.Convert(result.Specification.ValueName, result.Value)
	if err != nil {
		v.Problem = err.Error()
		logger.Infof("Classify: cannot convert %s: %v.", result.Specification, err)
		return v
	}
	if len(scalars) == 0 {
		v.Problem = "payload converted to no scalars"
		return v
	}
	for name, f := range scalars {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			v.Problem = fmt.Sprintf("scalar %s is %v", name, f)
			logger.Infof("Classify: %s of %s is not storable.", v.Problem, result.Specification)
			return v
		}
		scalars[name] = EnsureStorablePrecision(f)
	}
	v.Scalars = scalars
	return v
}

// EnsureStorablePrecision maps magnitudes below MinStorableMagnitude to 0.
func EnsureStorablePrecision(f float64) float64 {
	if math.Abs(f) < MinStorableMagnitude {
		return 0
	}
	return f
}
