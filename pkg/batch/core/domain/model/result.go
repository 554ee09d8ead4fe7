package model

import "time"

// InvocationResult is the outcome of one function invocation.
type InvocationResult string

const (
	InvocationSuccess                InvocationResult = "SUCCESS"
	InvocationFunctionThrewException InvocationResult = "FUNCTION_THREW_EXCEPTION"
	InvocationMissingInputs          InvocationResult = "MISSING_INPUTS"
)

// NoLoggingInformation replaces the exception fields of a failure that carries no log.
const NoLoggingInformation = "No logging information available"

// ExceptionInfo describes the exception a function threw.
type ExceptionInfo struct {
	Class      string
	Message    string
	StackTrace string
}

// ComputedValueResult is one value emitted by the engine.
type ComputedValueResult struct {
	Specification    ValueSpecification
	Requirement      ValueRequirement
	InvocationResult InvocationResult
	// Value is the opaque payload of a successful invocation.
	Value interface{}
	// ComputeNodeID identifies the node that ran the function, e.g. "host-a/0/1".
	ComputeNodeID string
	// Exception is set for FUNCTION_THREW_EXCEPTION; nil means the engine captured no log.
	Exception *ExceptionInfo
	// MissingInputs lists the inputs that were unavailable, for MISSING_INPUTS.
	MissingInputs []ValueSpecification
}

// Succeeded reports whether the invocation succeeded.
func (r ComputedValueResult) Succeeded() bool {
	return r.InvocationResult == InvocationSuccess
}

// ResultEntry is a computed value within one calculation configuration.
type ResultEntry struct {
	CalculationConfiguration string
	Result                   ComputedValueResult
}

// ResultBatch is the unit handed to the writer. Each batch is written in its own transaction.
type ResultBatch struct {
	Entries []ResultEntry
	// Targets optionally carries display names and properties for the targets in Entries.
	Targets []ComputationTarget
	// EvaluationInstant stamps every stored value; the zero value means "now".
	EvaluationInstant time.Time
}

// IsEmpty reports whether the batch carries no results.
func (b ResultBatch) IsEmpty() bool {
	return len(b.Entries) == 0
}

// Status is the recorded outcome of a (calculation configuration, target) pair.
type Status string

const (
	StatusSuccess    Status = "SUCCESS"
	StatusFailure    Status = "FAILURE"
	StatusRunning    Status = "RUNNING"
	StatusNotRunning Status = "NOT_RUNNING"
)

// ComputeFailureKey is the natural key of a deduplicated root-cause failure.
type ComputeFailureKey struct {
	FunctionID     string
	ExceptionClass string
	Message        string
	StackTrace     string
}

// ComputeFailure is a stored ComputeFailureKey.
type ComputeFailure struct {
	ID int64
	ComputeFailureKey
}

// MissingInputFailureKey synthesizes the cause recorded for an input that is absent from every cache.
func MissingInputFailureKey(input ValueSpecification) ComputeFailureKey {
	return ComputeFailureKey{
		FunctionID:     "N/A",
		ExceptionClass: "N/A",
		Message:        "Missing input " + input.String(),
		StackTrace:     "N/A",
	}
}

// LabelledVector is a payload of numbers indexed by label, e.g. bucketed sensitivities.
// It is stored as one scalar per label named "valueName[label]".
type LabelledVector struct {
	Labels []string
	Values []float64
}

// ScalarSet is a payload that already consists of named scalars; its names are stored as they are.
type ScalarSet map[string]float64
