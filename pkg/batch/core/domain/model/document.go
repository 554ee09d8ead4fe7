package model

import "time"

// RunSearchFilter selects runs by valuation time and completion.
type RunSearchFilter struct {
	ValuationFrom *time.Time
	ValuationTo   *time.Time
	Complete      *bool
}

// Paging selects a window of a result list. A non-positive Size means everything from First on.
type Paging struct {
	First int
	Size  int
}

// RunSearchResult is one page of runs plus the total count matching the filter.
type RunSearchResult struct {
	Runs  []*RiskRun
	Total int64
}

// StoredValue is one persisted scalar.
type StoredValue struct {
	ID                       int64
	CalculationConfiguration string
	ValueName                string
	Target                   ComputationTargetSpec
	SpecificationForm        string
	FunctionUniqueID         string
	ComputeNode              string
	Value                    float64
	EvalInstant              time.Time
}

// StoredError is one persisted failure with its root causes.
type StoredError struct {
	ID                       int64
	CalculationConfiguration string
	ValueName                string
	Target                   ComputationTargetSpec
	FunctionUniqueID         string
	ComputeNode              string
	EvalInstant              time.Time
	Causes                   []ComputeFailureKey
}

// RunDocument is a run together with a page of its values and errors.
type RunDocument struct {
	Run         *RiskRun
	Status      string
	Values      []StoredValue
	TotalValues int64
	Errors      []StoredError
	TotalErrors int64
}
