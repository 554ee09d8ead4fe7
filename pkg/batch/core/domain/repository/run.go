package repository

import (
	"context"
	"time"

	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
)

// RunRepository persists risk run records.
type RunRepository interface {
	// SaveRun inserts run with its parameters and fills in run.ID.
	SaveRun(ctx context.Context, run *model.RiskRun) error
	// FindRunsByIdentity returns every run recorded for identity, oldest first.
	FindRunsByIdentity(ctx context.Context, identity model.RunIdentity) ([]*model.RiskRun, error)
	// FindRunByID returns the run or an error matching exception.ErrRunNotFound.
	FindRunByID(ctx context.Context, runID int64) (*model.RiskRun, error)
	// RestartRun persists the restart fields of run: start instant, restart count, cleared end, not complete.
	RestartRun(ctx context.Context, run *model.RiskRun) error
	// EndRun sets the end instant and completion flag. It returns exception.ErrRunNotFound for unknown ids.
	EndRun(ctx context.Context, runID int64, end time.Time) error
	// DeleteRunFailures removes every failure reason and failure row of the run.
	DeleteRunFailures(ctx context.Context, runID int64) (failures int64, reasons int64, err error)
	// DeleteRun removes the run and every row that refers to it.
	DeleteRun(ctx context.Context, runID int64) error
	// SearchRuns returns one page of runs matching filter, ordered by valuation time, and the total count.
	SearchRuns(ctx context.Context, filter model.RunSearchFilter, paging model.Paging) (model.RunSearchResult, error)
}

// RiskRepository is everything the risk store offers, as implemented by the SQL repository.
type RiskRepository interface {
	DimensionRepository
	StatusRepository
	ResultRepository
	ResultQueryRepository
	RunRepository
}
