// Package usecase implements the run lifecycle and the read side of the risk store.
package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tigerroll/riskbatch/pkg/batch/component/writer"
	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/riskbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/riskbatch/pkg/batch/core/tx"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"
)

const moduleName = "lifecycle"

// DefaultRunManager implements RunLifecycle. It keeps one writer.RunScope per run started or
// written by this process.
type DefaultRunManager struct {
	repo      repository.RiskRepository
	txManager tx.TransactionManager
	writer    *writer.BatchWriter
	cfg       *config.BatchConfig
	recorder  metrics.MetricRecorder
	tracer    metrics.Tracer
	now       func() time.Time

	mu     sync.Mutex
	scopes map[int64]*writer.RunScope
}

var _ RunLifecycle = (*DefaultRunManager)(nil)

// NewDefaultRunManager creates a DefaultRunManager.
func NewDefaultRunManager(
	repo repository.RiskRepository,
	txManager tx.TransactionManager,
	batchWriter *writer.BatchWriter,
	cfg *config.BatchConfig,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *DefaultRunManager {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &DefaultRunManager{
		repo:      repo,
		txManager: txManager,
		writer:    batchWriter,
		cfg:       cfg,
		recorder:  recorder,
		tracer:    tracer,
		now:       time.Now,
		scopes:    make(map[int64]*writer.RunScope),
	}
}

// StartRun creates or restarts a run in one transaction.
//
//   - CREATE_NEW always inserts a fresh run.
//   - CREATE_NEW_OVERWRITE deletes every run of the identity, then inserts a fresh one.
//   - AUTO restarts the latest run of the identity when its parameters equal the requested ones,
//     fails with ErrConfigurationMismatch when they differ, and inserts a fresh run when there is none.
//   - REUSE_EXISTING restarts the latest run of the identity and fails with ErrRunNotFound when there is none.
//
// A restart resets the start instant, increments the restart count, clears the end instant and
// deletes the failure rows of the run. Values are kept. The requested calculation configurations
// are recorded for the run, and the run gets fresh caches.
func (m *DefaultRunManager) StartRun(ctx context.Context, req model.RunRequest) (*model.RiskRun, model.RunOutcome, error) {
	mode := req.Mode
	if mode == "" {
		mode = model.RunCreationMode(m.cfg.RunCreationMode)
	}
	if !mode.Valid() {
		return nil, "", exception.NewInvalidArgument(moduleName, fmt.Sprintf("unknown run creation mode %q", mode))
	}

	ctx, end := m.tracer.StartSpan(ctx, "riskbatch.run.start", map[string]interface{}{
		"mode":     string(mode),
		"identity": req.Identity.String(),
	})
	defer end()

	var (
		run     *model.RiskRun
		outcome model.RunOutcome
		scope   *writer.RunScope
		deleted []int64
	)
	err := tx.RunInTx(ctx, m.txManager, func(ctx context.Context) error {
		var err error
		run, outcome, deleted, err = m.startInTx(ctx, mode, req)
		if err != nil {
			return err
		}
		scope = writer.NewRunScope(run.ID, m.repo, m.cfg, m.recorder)
		for _, name := range req.CalculationConfigurations {
			id, err := scope.Dimensions.CalculationConfiguration(ctx, run.ID, name)
			if err != nil {
				return err
			}
			run.CalculationConfigurations[name] = id
		}
		return nil
	})
	if err != nil {
		m.tracer.RecordError(ctx, moduleName, err)
		logger.Errorf("Lifecycle: start of %s in mode %s failed: %v", req.Identity, mode, err)
		return nil, "", err
	}

	m.mu.Lock()
	for _, id := range deleted {
		delete(m.scopes, id)
	}
	m.scopes[run.ID] = scope
	m.mu.Unlock()

	m.recorder.RecordRunStart(ctx, mode, outcome)
	m.tracer.RecordEvent(ctx, "riskbatch.run."+string(outcome), map[string]interface{}{"run_id": run.ID})
	logger.Infof("Lifecycle: %s %s (mode %s).", outcome, run, mode)
	return run, outcome, nil
}

func (m *DefaultRunManager) startInTx(ctx context.Context, mode model.RunCreationMode, req model.RunRequest) (*model.RiskRun, model.RunOutcome, []int64, error) {
	switch mode {
	case model.RunCreationCreateNew:
		run, err := m.createRun(ctx, req)
		return run, model.RunCreated, nil, err

	case model.RunCreationCreateNewOverwrite:
		existing, err := m.repo.FindRunsByIdentity(ctx, req.Identity)
		if err != nil {
			return nil, "", nil, err
		}
		deleted := make([]int64, 0, len(existing))
		for _, old := range existing {
			if err := m.repo.DeleteRun(ctx, old.ID); err != nil {
				return nil, "", nil, err
			}
			deleted = append(deleted, old.ID)
			logger.Infof("Lifecycle: deleted run %d before overwrite.", old.ID)
		}
		run, err := m.createRun(ctx, req)
		if err != nil {
			return nil, "", nil, err
		}
		if len(deleted) > 0 {
			return run, model.RunOverwritten, deleted, nil
		}
		return run, model.RunCreated, nil, nil
	}

	existing, err := m.repo.FindRunsByIdentity(ctx, req.Identity)
	if err != nil {
		return nil, "", nil, err
	}
	if len(existing) == 0 {
		if mode == model.RunCreationReuseExisting {
			return nil, "", nil, exception.NewRunIdentityNotFound(moduleName, req.Identity.String())
		}
		run, err := m.createRun(ctx, req)
		return run, model.RunCreated, nil, err
	}

	run := existing[len(existing)-1]
	if mode == model.RunCreationAuto {
		if diff := run.Parameters.SymmetricDifference(req.Parameters); len(diff) > 0 {
			return nil, "", nil, exception.NewConfigurationMismatch(moduleName,
				fmt.Sprintf("parameters of run %d differ from the requested ones in: %s", run.ID, strings.Join(diff, ", ")))
		}
	}
	if err := m.restartRun(ctx, run); err != nil {
		return nil, "", nil, err
	}
	return run, model.RunRestarted, nil, nil
}

func (m *DefaultRunManager) createRun(ctx context.Context, req model.RunRequest) (*model.RiskRun, error) {
	now := m.now().UTC()
	run := &model.RiskRun{
		Identity:                  req.Identity,
		Name:                      req.Name,
		SnapshotMode:              req.SnapshotMode,
		CreateInstant:             now,
		StartInstant:              now,
		Parameters:                req.Parameters.Copy(),
		CalculationConfigurations: make(map[string]int64),
	}
	if run.SnapshotMode == "" {
		run.SnapshotMode = model.SnapshotModePrepared
	}
	if err := m.repo.SaveRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (m *DefaultRunManager) restartRun(ctx context.Context, run *model.RiskRun) error {
	run.StartInstant = m.now().UTC()
	run.NumRestarts++
	run.EndInstant = nil
	run.Complete = false
	if err := m.repo.RestartRun(ctx, run); err != nil {
		return err
	}
	failures, reasons, err := m.repo.DeleteRunFailures(ctx, run.ID)
	if err != nil {
		return err
	}
	logger.Debugf("Lifecycle: restart of run %d removed %d failures and %d failure reasons.", run.ID, failures, reasons)
	return nil
}

// scope returns the caches of runID, creating them for a run this process has not started.
func (m *DefaultRunManager) scope(ctx context.Context, runID int64) (*writer.RunScope, error) {
	m.mu.Lock()
	s, ok := m.scopes[runID]
	m.mu.Unlock()
	if ok {
		return s, nil
	}

	if _, err := m.repo.FindRunByID(ctx, runID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.scopes[runID]; ok {
		return s, nil
	}
	s = writer.NewRunScope(runID, m.repo, m.cfg, m.recorder)
	m.scopes[runID] = s
	return s, nil
}

func (m *DefaultRunManager) forget(runID int64) {
	m.mu.Lock()
	delete(m.scopes, runID)
	m.mu.Unlock()
}

// Write delegates to the BatchWriter with the caches of the run.
func (m *DefaultRunManager) Write(ctx context.Context, runID int64, batch model.ResultBatch) (metrics.WriteStats, error) {
	s, err := m.scope(ctx, runID)
	if err != nil {
		return metrics.WriteStats{}, err
	}
	return m.writer.Write(ctx, s, batch)
}

// EndRun sets the end instant and the completion flag of the run.
func (m *DefaultRunManager) EndRun(ctx context.Context, runID int64) error {
	if err := m.repo.EndRun(ctx, runID, m.now().UTC()); err != nil {
		return err
	}
	m.forget(runID)
	m.recorder.RecordRunEnd(ctx, runID)
	logger.Infof("Lifecycle: run %d complete.", runID)
	return nil
}

// DeleteRun removes the run and every row referring to it in one transaction.
func (m *DefaultRunManager) DeleteRun(ctx context.Context, runID int64) error {
	start := m.now()
	err := tx.RunInTx(ctx, m.txManager, func(ctx context.Context) error {
		return m.repo.DeleteRun(ctx, runID)
	})
	m.recorder.RecordDuration(ctx, "riskbatch.run.delete", m.now().Sub(start), map[string]string{"ok": fmt.Sprint(err == nil)})
	if err != nil {
		return err
	}
	m.forget(runID)
	logger.Infof("Lifecycle: run %d deleted.", runID)
	return nil
}

// ItemsToExecute filters targets down to those without a SUCCESS status. Unknown configurations
// and targets have no status, so they are always returned. No dimension rows are created.
func (m *DefaultRunManager) ItemsToExecute(ctx context.Context, runID int64, calcConfig string, targets []model.ComputationTargetSpec) ([]model.ComputationTargetSpec, error) {
	s, err := m.scope(ctx, runID)
	if err != nil {
		return nil, err
	}
	calcConfigID, found, err := s.Dimensions.LookupCalculationConfiguration(ctx, runID, calcConfig)
	if err != nil {
		return nil, err
	}
	if !found {
		return append([]model.ComputationTargetSpec(nil), targets...), nil
	}

	ids := make([]int64, len(targets))
	var known []int64
	for i, target := range targets {
		id, found, err := s.Dimensions.LookupComputationTarget(ctx, target)
		if err != nil {
			return nil, err
		}
		if found {
			ids[i] = id
			known = append(known, id)
		}
	}
	statuses, err := s.Statuses.Statuses(ctx, calcConfigID, known)
	if err != nil {
		return nil, err
	}

	out := make([]model.ComputationTargetSpec, 0, len(targets))
	for i, target := range targets {
		if ids[i] != 0 && statuses[ids[i]] == model.StatusSuccess {
			continue
		}
		out = append(out, target)
	}
	logger.Debugf("Lifecycle: %d of %d targets of %s in run %d still to execute.", len(out), len(targets), calcConfig, runID)
	return out, nil
}
