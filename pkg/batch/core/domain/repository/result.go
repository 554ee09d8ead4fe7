package repository

import (
	"context"
	"time"

	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
)

// StatusRecord is one row of the status table.
type StatusRecord struct {
	ID                         int64
	RunID                      int64
	CalculationConfigurationID int64
	TargetID                   int64
	Status                     model.Status
}

// ResultKey carries the surrogate ids shared by value and failure rows.
type ResultKey struct {
	RunID                      int64
	CalculationConfigurationID int64
	ValueNameID                int64
	ValueRequirementID         int64
	ValueSpecificationID       int64
	FunctionUniqueID           int64
	ComputationTargetID        int64
	ComputeNodeID              int64
}

// ValueRecord is one stored numeric scalar. ValueNameID refers to the scalar's own name.
type ValueRecord struct {
	ResultKey
	Value       float64
	EvalInstant time.Time
}

// FailureRecord is one stored failed value. ID is filled in on insert.
type FailureRecord struct {
	ID int64
	ResultKey
	EvalInstant time.Time
}

// FailureReasonRecord links a failure to one of its root causes.
type FailureReasonRecord struct {
	FailureID        int64
	ComputeFailureID int64
}

// StatusRepository reads and writes per (calculation configuration, target) statuses.
type StatusRepository interface {
	// FindStatuses returns the stored rows for the given targets of one calculation configuration, keyed by target id.
	FindStatuses(ctx context.Context, calcConfigID int64, targetIDs []int64) (map[int64]StatusRecord, error)
	// InsertStatuses inserts rows and fills in their ids. It returns the number of rows inserted.
	InsertStatuses(ctx context.Context, rows []*StatusRecord) (int64, error)
	// UpdateStatuses moves the rows with the given ids from status from to status to. Rows whose stored
	// status is no longer from are left alone, so the returned count is short when the caller read stale state.
	UpdateStatuses(ctx context.Context, from, to model.Status, ids []int64) (int64, error)
}

// ResultRepository appends value and failure rows.
type ResultRepository interface {
	InsertValues(ctx context.Context, rows []*ValueRecord) (int64, error)
	// InsertFailures inserts rows and fills in their ids.
	InsertFailures(ctx context.Context, rows []*FailureRecord) (int64, error)
	InsertFailureReasons(ctx context.Context, rows []*FailureReasonRecord) (int64, error)
}

// CountFilter narrows a count to one run when RunID is non-nil.
type CountFilter struct {
	RunID *int64
}

// ResultQueryRepository answers the read accessors over stored results.
type ResultQueryRepository interface {
	CountValues(ctx context.Context, filter CountFilter) (int64, error)
	CountFailures(ctx context.Context, filter CountFilter) (int64, error)
	CountFailureReasons(ctx context.Context, filter CountFilter) (int64, error)
	CountComputeFailures(ctx context.Context) (int64, error)

	// FindValue returns the value named valueName stored for target in the run's calculation configuration.
	FindValue(ctx context.Context, runID int64, calcConfig, valueName string, target model.ComputationTargetSpec) (value *model.StoredValue, found bool, err error)
	// FindStatus returns the stored status of target, NOT_RUNNING when no row exists.
	FindStatus(ctx context.Context, runID int64, calcConfig string, target model.ComputationTargetSpec) (model.Status, error)
	// FindValues pages through the values of a run ordered by id.
	FindValues(ctx context.Context, runID int64, paging model.Paging) ([]model.StoredValue, int64, error)
	// FindErrors pages through the failures of a run ordered by id, each with its root causes.
	FindErrors(ctx context.Context, runID int64, paging model.Paging) ([]model.StoredError, int64, error)
	// FindValuesByCalculationConfiguration streams every value of one calculation configuration of a run.
	FindValuesByCalculationConfiguration(ctx context.Context, runID int64, calcConfig string) ([]model.StoredValue, error)
}
