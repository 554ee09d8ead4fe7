package usecase

import (
	"context"

	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
)

// SimpleResultExplorer implements ResultExplorer directly on the risk store.
type SimpleResultExplorer struct {
	repo repository.RiskRepository
}

var _ ResultExplorer = (*SimpleResultExplorer)(nil)

// NewSimpleResultExplorer creates a SimpleResultExplorer.
func NewSimpleResultExplorer(repo repository.RiskRepository) *SimpleResultExplorer {
	return &SimpleResultExplorer{repo: repo}
}

func (e *SimpleResultExplorer) NumRiskValues(ctx context.Context, runID *int64) (int64, error) {
	return e.repo.CountValues(ctx, repository.CountFilter{RunID: runID})
}

func (e *SimpleResultExplorer) NumRiskFailures(ctx context.Context, runID *int64) (int64, error) {
	return e.repo.CountFailures(ctx, repository.CountFilter{RunID: runID})
}

func (e *SimpleResultExplorer) NumFailureReasons(ctx context.Context, runID *int64) (int64, error) {
	return e.repo.CountFailureReasons(ctx, repository.CountFilter{RunID: runID})
}

func (e *SimpleResultExplorer) NumComputeFailures(ctx context.Context) (int64, error) {
	return e.repo.CountComputeFailures(ctx)
}

func (e *SimpleResultExplorer) Value(ctx context.Context, runID int64, calcConfig, valueName string, target model.ComputationTargetSpec) (*model.StoredValue, bool, error) {
	return e.repo.FindValue(ctx, runID, calcConfig, valueName, target)
}

func (e *SimpleResultExplorer) Status(ctx context.Context, runID int64, calcConfig string, target model.ComputationTargetSpec) (model.Status, error) {
	return e.repo.FindStatus(ctx, runID, calcConfig, target)
}

func (e *SimpleResultExplorer) SearchRuns(ctx context.Context, filter model.RunSearchFilter, paging model.Paging) (model.RunSearchResult, error) {
	return e.repo.SearchRuns(ctx, filter, paging)
}

// GetRun loads the run, then one page of its values and one page of its errors.
func (e *SimpleResultExplorer) GetRun(ctx context.Context, runID int64, paging model.Paging) (*model.RunDocument, error) {
	run, err := e.repo.FindRunByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	values, totalValues, err := e.repo.FindValues(ctx, runID, paging)
	if err != nil {
		return nil, err
	}
	errs, totalErrors, err := e.repo.FindErrors(ctx, runID, paging)
	if err != nil {
		return nil, err
	}
	return &model.RunDocument{
		Run:         run,
		Status:      run.State(),
		Values:      values,
		TotalValues: totalValues,
		Errors:      errs,
		TotalErrors: totalErrors,
	}, nil
}
