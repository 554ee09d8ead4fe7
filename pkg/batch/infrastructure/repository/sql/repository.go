// Package sql implements the risk store on top of the tx.Executor abstraction.
package sql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tigerroll/riskbatch/pkg/batch/adapter/database"
	coreAdapter "github.com/tigerroll/riskbatch/pkg/batch/core/adapter"
	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/riskbatch/pkg/batch/core/tx"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"
)

const defaultChunkSize = 500

// SQLRiskRepository implements repository.RiskRepository.
// Every method joins the transaction carried by ctx, if any, and otherwise runs on the pooled connection.
type SQLRiskRepository struct {
	dbResolver coreAdapter.ResourceConnectionResolver
	// dbName is the name of the database connection holding the risk schema (e.g. "risk").
	dbName    string
	chunkSize int

	calcConfigs    *dimensionStore[repository.CalculationConfigurationKey, *CalculationConfigurationEntity]
	valueNames     *dimensionStore[string, *ValueNameEntity]
	requirements   *dimensionStore[string, *ValueRequirementEntity]
	specifications *dimensionStore[string, *ValueSpecificationEntity]
	functions      *dimensionStore[string, *FunctionUniqueIDEntity]
	hosts          *dimensionStore[string, *ComputeHostEntity]
	nodes          *dimensionStore[repository.ComputeNodeKey, *ComputeNodeEntity]
	targets        *dimensionStore[model.ComputationTargetSpec, *ComputationTargetEntity]
	failures       *dimensionStore[model.ComputeFailureKey, *ComputeFailureEntity]
}

var _ repository.RiskRepository = (*SQLRiskRepository)(nil)

// NewSQLRiskRepository creates a repository on the named connection.
// chunkSize bounds the rows per bulk statement; non-positive values fall back to 500.
func NewSQLRiskRepository(dbResolver coreAdapter.ResourceConnectionResolver, dbName string, chunkSize int) *SQLRiskRepository {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	r := &SQLRiskRepository{
		dbResolver: dbResolver,
		dbName:     dbName,
		chunkSize:  chunkSize,
	}
	r.initDimensions()
	return r
}

// getDBConnection resolves the DBConnection used when no transaction is active.
func (r *SQLRiskRepository) getDBConnection(ctx context.Context) (database.DBConnection, error) {
	connAsResource, err := r.dbResolver.ResolveConnection(ctx, r.dbName)
	if err != nil {
		return nil, exception.NewBatchError("SQLRiskRepository", fmt.Sprintf("Failed to resolve DB connection '%s'", r.dbName), err, false, false)
	}
	conn, ok := connAsResource.(database.DBConnection)
	if !ok {
		return nil, exception.NewBatchError("SQLRiskRepository", fmt.Sprintf("Resolved connection '%s' is not a database.DBConnection", r.dbName), nil, false, false)
	}
	return conn, nil
}

// executor returns the transaction in ctx, or the pooled connection.
func (r *SQLRiskRepository) executor(ctx context.Context) (tx.Executor, error) {
	if t, ok := tx.FromContext(ctx); ok {
		return t, nil
	}
	return r.getDBConnection(ctx)
}

type uniqueViolationClassifier interface {
	IsUniqueViolation(err error) bool
}

// isUniqueViolation classifies err with the dialect rules of the transaction or connection.
func (r *SQLRiskRepository) isUniqueViolation(ctx context.Context, err error) bool {
	if t, ok := tx.FromContext(ctx); ok {
		if c, ok := t.(uniqueViolationClassifier); ok {
			return c.IsUniqueViolation(err)
		}
	}
	conn, connErr := r.getDBConnection(ctx)
	if connErr != nil {
		return false
	}
	return conn.IsUniqueViolation(err)
}

// chunks splits ids into slices of at most r.chunkSize.
func (r *SQLRiskRepository) chunks(ids []int64) [][]int64 {
	var out [][]int64
	for start := 0; start < len(ids); start += r.chunkSize {
		end := start + r.chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

// --- RunRepository implementation ---

func (r *SQLRiskRepository) SaveRun(ctx context.Context, run *model.RiskRun) error {
	const op = "SQLRiskRepository.SaveRun"
	executor, err := r.executor(ctx)
	if err != nil {
		return err
	}

	entity := fromDomainRun(run)
	entity.ID = 0
	if _, err := executor.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil); err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to save run %s", run.Identity), err, false, true)
	}
	run.ID = entity.ID

	if len(run.Parameters) == 0 {
		return nil
	}
	props := make([]RunPropertyEntity, 0, len(run.Parameters))
	for k, v := range run.Parameters {
		props = append(props, RunPropertyEntity{RunID: run.ID, PropertyKey: k, PropertyValue: v})
	}
	n, err := executor.ExecuteBulkInsert(ctx, &props, RunPropertyEntity{}.TableName(), r.chunkSize)
	if err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to save parameters of run %d", run.ID), err, false, true)
	}
	if n != int64(len(props)) {
		return exception.NewConsistencyViolation(op, fmt.Sprintf("inserted %d of %d parameters of run %d", n, len(props), run.ID), nil)
	}
	return nil
}

func (r *SQLRiskRepository) FindRunsByIdentity(ctx context.Context, identity model.RunIdentity) ([]*model.RiskRun, error) {
	const op = "SQLRiskRepository.FindRunsByIdentity"
	executor, err := r.executor(ctx)
	if err != nil {
		return nil, err
	}

	var entities []RunEntity
	if err := executor.ExecuteQueryAdvanced(ctx, &entities, map[string]interface{}{"identity_hash": identityHash(identity)}, "id ASC", 0, 0); err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find runs for %s", identity), err, false, true)
	}
	return r.hydrateRuns(ctx, executor, entities)
}

func (r *SQLRiskRepository) FindRunByID(ctx context.Context, runID int64) (*model.RiskRun, error) {
	const op = "SQLRiskRepository.FindRunByID"
	executor, err := r.executor(ctx)
	if err != nil {
		return nil, err
	}

	var entities []RunEntity
	if err := executor.ExecuteQuery(ctx, &entities, map[string]interface{}{"id": runID}); err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find run %d", runID), err, false, true)
	}
	if len(entities) == 0 {
		return nil, exception.NewRunNotFound(op, runID)
	}
	runs, err := r.hydrateRuns(ctx, executor, entities)
	if err != nil {
		return nil, err
	}
	return runs[0], nil
}

// hydrateRuns loads the parameters and calculation configurations of each run.
func (r *SQLRiskRepository) hydrateRuns(ctx context.Context, executor tx.Executor, entities []RunEntity) ([]*model.RiskRun, error) {
	const op = "SQLRiskRepository.hydrateRuns"
	if len(entities) == 0 {
		return nil, nil
	}

	runs := make([]*model.RiskRun, 0, len(entities))
	byID := make(map[int64]*model.RiskRun, len(entities))
	ids := make([]int64, 0, len(entities))
	for i := range entities {
		run := toDomainRun(&entities[i])
		runs = append(runs, run)
		byID[run.ID] = run
		ids = append(ids, run.ID)
	}

	var props []RunPropertyEntity
	if err := executor.ExecuteQuery(ctx, &props, map[string]interface{}{"run_id": ids}); err != nil {
		return nil, exception.NewBatchError(op, "failed to load run parameters", err, false, true)
	}
	for _, p := range props {
		byID[p.RunID].Parameters[p.PropertyKey] = p.PropertyValue
	}

	var configs []CalculationConfigurationEntity
	if err := executor.ExecuteQuery(ctx, &configs, map[string]interface{}{"run_id": ids}); err != nil {
		return nil, exception.NewBatchError(op, "failed to load calculation configurations", err, false, true)
	}
	for _, c := range configs {
		byID[c.RunID].CalculationConfigurations[c.Name] = c.ID
	}
	return runs, nil
}

func (r *SQLRiskRepository) RestartRun(ctx context.Context, run *model.RiskRun) error {
	const op = "SQLRiskRepository.RestartRun"
	executor, err := r.executor(ctx)
	if err != nil {
		return err
	}

	rowsAffected, err := executor.ExecuteRaw(ctx,
		"UPDATE rsk_run SET start_instant = ?, num_restarts = ?, end_instant = NULL, complete = ? WHERE id = ?",
		run.StartInstant.UTC(), run.NumRestarts, false, run.ID)
	if err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to restart run %d", run.ID), err, false, true)
	}
	if rowsAffected == 0 {
		return exception.NewRunNotFound(op, run.ID)
	}
	return nil
}

func (r *SQLRiskRepository) EndRun(ctx context.Context, runID int64, end time.Time) error {
	const op = "SQLRiskRepository.EndRun"
	executor, err := r.executor(ctx)
	if err != nil {
		return err
	}

	rowsAffected, err := executor.ExecuteRaw(ctx,
		"UPDATE rsk_run SET end_instant = ?, complete = ? WHERE id = ?",
		end.UTC(), true, runID)
	if err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to end run %d", runID), err, false, true)
	}
	if rowsAffected == 0 {
		// MySQL reports changed rows, so an identical update also lands here.
		count, err := executor.Count(ctx, &RunEntity{}, map[string]interface{}{"id": runID})
		if err != nil {
			return exception.NewBatchError(op, fmt.Sprintf("failed to check run %d", runID), err, false, true)
		}
		if count == 0 {
			return exception.NewRunNotFound(op, runID)
		}
	}
	return nil
}

func (r *SQLRiskRepository) DeleteRunFailures(ctx context.Context, runID int64) (int64, int64, error) {
	const op = "SQLRiskRepository.DeleteRunFailures"
	executor, err := r.executor(ctx)
	if err != nil {
		return 0, 0, err
	}

	reasons, err := executor.ExecuteRaw(ctx,
		"DELETE FROM rsk_failure_reason WHERE rsk_failure_id IN (SELECT id FROM rsk_failure WHERE run_id = ?)", runID)
	if err != nil {
		return 0, 0, exception.NewBatchError(op, fmt.Sprintf("failed to delete failure reasons of run %d", runID), err, false, true)
	}
	failures, err := executor.ExecuteUpdate(ctx, &FailureEntity{}, "DELETE", FailureEntity{}.TableName(), map[string]interface{}{"run_id": runID})
	if err != nil {
		return 0, 0, exception.NewBatchError(op, fmt.Sprintf("failed to delete failures of run %d", runID), err, false, true)
	}
	logger.Debugf("Deleted %d failures and %d failure reasons of run %d.", failures, reasons, runID)
	return failures, reasons, nil
}

func (r *SQLRiskRepository) DeleteRun(ctx context.Context, runID int64) error {
	const op = "SQLRiskRepository.DeleteRun"
	executor, err := r.executor(ctx)
	if err != nil {
		return err
	}

	if _, _, err := r.DeleteRunFailures(ctx, runID); err != nil {
		return err
	}
	byRun := map[string]interface{}{"run_id": runID}
	for _, entity := range []interface {
		TableName() string
	}{&ValueEntity{}, &RunStatusEntity{}, &CalculationConfigurationEntity{}, &RunPropertyEntity{}} {
		if _, err := executor.ExecuteUpdate(ctx, entity, "DELETE", entity.TableName(), byRun); err != nil {
			return exception.NewBatchError(op, fmt.Sprintf("failed to delete %s rows of run %d", entity.TableName(), runID), err, false, true)
		}
	}

	rowsAffected, err := executor.ExecuteUpdate(ctx, &RunEntity{}, "DELETE", RunEntity{}.TableName(), map[string]interface{}{"id": runID})
	if err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to delete run %d", runID), err, false, true)
	}
	if rowsAffected == 0 {
		return exception.NewRunNotFound(op, runID)
	}
	return nil
}

func (r *SQLRiskRepository) SearchRuns(ctx context.Context, filter model.RunSearchFilter, paging model.Paging) (model.RunSearchResult, error) {
	const op = "SQLRiskRepository.SearchRuns"
	executor, err := r.executor(ctx)
	if err != nil {
		return model.RunSearchResult{}, err
	}

	var conds []string
	var args []interface{}
	if filter.ValuationFrom != nil {
		conds = append(conds, "valuation_time >= ?")
		args = append(args, filter.ValuationFrom.UTC())
	}
	if filter.ValuationTo != nil {
		conds = append(conds, "valuation_time <= ?")
		args = append(args, filter.ValuationTo.UTC())
	}
	if filter.Complete != nil {
		conds = append(conds, "complete = ?")
		args = append(args, *filter.Complete)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := executor.QueryRaw(ctx, &total, "SELECT COUNT(*) FROM rsk_run"+where, args...); err != nil {
		return model.RunSearchResult{}, exception.NewBatchError(op, "failed to count runs", err, false, true)
	}

	stmt := "SELECT * FROM rsk_run" + where + " ORDER BY valuation_time ASC, id ASC"
	if paging.Size > 0 {
		stmt += " LIMIT ? OFFSET ?"
		args = append(args, paging.Size, paging.First)
	}
	var entities []RunEntity
	if err := executor.QueryRaw(ctx, &entities, stmt, args...); err != nil {
		return model.RunSearchResult{}, exception.NewBatchError(op, "failed to search runs", err, false, true)
	}
	if paging.Size <= 0 && paging.First > 0 {
		if paging.First >= len(entities) {
			entities = nil
		} else {
			entities = entities[paging.First:]
		}
	}

	runs, err := r.hydrateRuns(ctx, executor, entities)
	if err != nil {
		return model.RunSearchResult{}, err
	}
	return model.RunSearchResult{Runs: runs, Total: total}, nil
}
