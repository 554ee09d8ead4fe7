package writer

import (
	"github.com/tigerroll/riskbatch/pkg/batch/component/dimension"
	"github.com/tigerroll/riskbatch/pkg/batch/component/failure"
	"github.com/tigerroll/riskbatch/pkg/batch/component/status"
	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	"github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/riskbatch/pkg/batch/core/metrics"
)

// RunScope holds the caches of one run. Every writer of the run shares the same scope.
type RunScope struct {
	RunID      int64
	Dimensions *dimension.Cache
	Failures   *failure.Registry
	Statuses   *status.Tracker
}

// NewRunScope creates empty caches for run runID over repo.
func NewRunScope(runID int64, repo repository.RiskRepository, cfg *config.BatchConfig, recorder metrics.MetricRecorder) *RunScope {
	return &RunScope{
		RunID:      runID,
		Dimensions: dimension.NewCache(repo, cfg, recorder),
		Failures:   failure.NewRegistry(repo.ComputeFailures(), cfg, recorder),
		Statuses:   status.NewTracker(runID, repo, cfg, recorder),
	}
}
