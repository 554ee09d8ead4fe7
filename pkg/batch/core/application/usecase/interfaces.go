package usecase

import (
	"context"

	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/riskbatch/pkg/batch/core/metrics"
)

// RunLifecycle starts, feeds and finishes risk runs.
type RunLifecycle interface {
	// StartRun creates or restarts the run of req according to its creation mode.
	// An empty mode selects the configured default.
	StartRun(ctx context.Context, req model.RunRequest) (*model.RiskRun, model.RunOutcome, error)

	// Write persists one result batch of a started run in its own transaction.
	Write(ctx context.Context, runID int64, batch model.ResultBatch) (metrics.WriteStats, error)

	// EndRun marks the run complete. It does not guard against ending a run twice.
	EndRun(ctx context.Context, runID int64) error

	// DeleteRun removes the run and everything stored for it.
	DeleteRun(ctx context.Context, runID int64) error

	// ItemsToExecute returns, in input order, the targets of calcConfig that are not stored as SUCCESS.
	ItemsToExecute(ctx context.Context, runID int64, calcConfig string, targets []model.ComputationTargetSpec) ([]model.ComputationTargetSpec, error)
}

// ResultExplorer queries stored runs and results.
type ResultExplorer interface {
	// NumRiskValues counts value rows, of one run when runID is non-nil.
	NumRiskValues(ctx context.Context, runID *int64) (int64, error)
	NumRiskFailures(ctx context.Context, runID *int64) (int64, error)
	NumFailureReasons(ctx context.Context, runID *int64) (int64, error)
	// NumComputeFailures counts the shared compute failure rows.
	NumComputeFailures(ctx context.Context) (int64, error)

	// Value returns the value valueName stored for target.
	Value(ctx context.Context, runID int64, calcConfig, valueName string, target model.ComputationTargetSpec) (*model.StoredValue, bool, error)
	// Status returns the stored status of target, NOT_RUNNING when there is none.
	Status(ctx context.Context, runID int64, calcConfig string, target model.ComputationTargetSpec) (model.Status, error)

	SearchRuns(ctx context.Context, filter model.RunSearchFilter, paging model.Paging) (model.RunSearchResult, error)
	// GetRun returns the run with one page of its values and one page of its errors.
	GetRun(ctx context.Context, runID int64, paging model.Paging) (*model.RunDocument, error)
}
