package test

import (
	"time"

	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
)

// DefaultFunction is the function id used by the result builders.
const DefaultFunction = "fn/PresentValue"

// Trade returns a trade target with the given id value.
func Trade(value string) model.ComputationTargetSpec {
	return model.ComputationTargetSpec{Type: model.TargetTrade, Scheme: "TST", Value: value}
}

// Spec returns a specification of valueName on target with a currency property.
func Spec(valueName string, target model.ComputationTargetSpec) model.ValueSpecification {
	return model.ValueSpecification{
		ValueName:        valueName,
		Target:           target,
		Properties:       model.ValueProperties{"Currency": {"USD"}},
		FunctionUniqueID: DefaultFunction,
	}
}

func requirementOf(spec model.ValueSpecification) model.ValueRequirement {
	return model.ValueRequirement{ValueName: spec.ValueName, Target: spec.Target}
}

// Success returns an entry whose invocation succeeded with payload.
func Success(calcConfig string, spec model.ValueSpecification, payload interface{}) model.ResultEntry {
	return model.ResultEntry{
		CalculationConfiguration: calcConfig,
		Result: model.ComputedValueResult{
			Specification:    spec,
			Requirement:      requirementOf(spec),
			InvocationResult: model.InvocationSuccess,
			Value:            payload,
			ComputeNodeID:    "host-a/0/1",
		},
	}
}

// Threw returns an entry whose function threw exceptionClass with message.
func Threw(calcConfig string, spec model.ValueSpecification, exceptionClass, message string) model.ResultEntry {
	return model.ResultEntry{
		CalculationConfiguration: calcConfig,
		Result: model.ComputedValueResult{
			Specification:    spec,
			Requirement:      requirementOf(spec),
			InvocationResult: model.InvocationFunctionThrewException,
			ComputeNodeID:    "host-a/0/1",
			Exception: &model.ExceptionInfo{
				Class:      exceptionClass,
				Message:    message,
				StackTrace: "at " + spec.FunctionUniqueID,
			},
		},
	}
}

// Missing returns an entry that failed because inputs were unavailable.
func Missing(calcConfig string, spec model.ValueSpecification, inputs ...model.ValueSpecification) model.ResultEntry {
	return model.ResultEntry{
		CalculationConfiguration: calcConfig,
		Result: model.ComputedValueResult{
			Specification:    spec,
			Requirement:      requirementOf(spec),
			InvocationResult: model.InvocationMissingInputs,
			MissingInputs:    inputs,
		},
	}
}

// Batch wraps entries into a batch evaluated at a fixed instant.
func Batch(entries ...model.ResultEntry) model.ResultBatch {
	return model.ResultBatch{
		Entries:           entries,
		EvaluationInstant: time.Date(2026, 3, 31, 18, 0, 0, 0, time.UTC),
	}
}

// RunRequest returns a request for a fixed identity with the given mode and parameters.
func RunRequest(mode model.RunCreationMode, params model.RunParameters, calcConfigs ...string) model.RunRequest {
	if len(calcConfigs) == 0 {
		calcConfigs = []string{"Default"}
	}
	return model.RunRequest{
		Identity: model.RunIdentity{
			ValuationTime:     time.Date(2026, 3, 31, 17, 30, 0, 0, time.UTC),
			VersionCorrection: "LATEST",
			ViewDefinitionUID: "DbVwd~EOD",
			MarketDataUID:     "DbSnp~1",
		},
		Name:                      "eod",
		SnapshotMode:              model.SnapshotModePrepared,
		Parameters:                params,
		CalculationConfigurations: calcConfigs,
		Mode:                      mode,
	}
}
