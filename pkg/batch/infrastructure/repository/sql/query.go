package sql

import (
	"context"
	"fmt"

	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/exception"
)

const valueSelect = `SELECT v.id, cc.name AS calc_config, vn.name AS value_name,
	t.target_type, t.id_scheme, t.id_value, t.id_version,
	vs.synthetic_form AS specification_form, f.unique_id AS function_unique_id,
	n.node_name AS compute_node, v.value, v.eval_instant
FROM rsk_value v
JOIN rsk_calculation_configuration cc ON cc.id = v.calculation_configuration_id
JOIN rsk_value_name vn ON vn.id = v.value_name_id
JOIN rsk_computation_target t ON t.id = v.computation_target_id
JOIN rsk_value_specification vs ON vs.id = v.value_specification_id
JOIN rsk_function_unique_id f ON f.id = v.function_unique_id
LEFT JOIN rsk_compute_node n ON n.id = v.compute_node_id`

const errorSelect = `SELECT rf.id, cc.name AS calc_config, vn.name AS value_name,
	t.target_type, t.id_scheme, t.id_value, t.id_version,
	f.unique_id AS function_unique_id, n.node_name AS compute_node, rf.eval_instant
FROM rsk_failure rf
JOIN rsk_calculation_configuration cc ON cc.id = rf.calculation_configuration_id
JOIN rsk_value_name vn ON vn.id = rf.value_name_id
JOIN rsk_computation_target t ON t.id = rf.computation_target_id
JOIN rsk_function_unique_id f ON f.id = rf.function_unique_id
LEFT JOIN rsk_compute_node n ON n.id = rf.compute_node_id`

func byRun(filter repository.CountFilter) map[string]interface{} {
	if filter.RunID == nil {
		return nil
	}
	return map[string]interface{}{"run_id": *filter.RunID}
}

// --- ResultQueryRepository implementation ---

func (r *SQLRiskRepository) CountValues(ctx context.Context, filter repository.CountFilter) (int64, error) {
	executor, err := r.executor(ctx)
	if err != nil {
		return 0, err
	}
	n, err := executor.Count(ctx, &ValueEntity{}, byRun(filter))
	if err != nil {
		return 0, exception.NewBatchError("SQLRiskRepository.CountValues", "failed to count values", err, false, true)
	}
	return n, nil
}

func (r *SQLRiskRepository) CountFailures(ctx context.Context, filter repository.CountFilter) (int64, error) {
	executor, err := r.executor(ctx)
	if err != nil {
		return 0, err
	}
	n, err := executor.Count(ctx, &FailureEntity{}, byRun(filter))
	if err != nil {
		return 0, exception.NewBatchError("SQLRiskRepository.CountFailures", "failed to count failures", err, false, true)
	}
	return n, nil
}

func (r *SQLRiskRepository) CountFailureReasons(ctx context.Context, filter repository.CountFilter) (int64, error) {
	const op = "SQLRiskRepository.CountFailureReasons"
	executor, err := r.executor(ctx)
	if err != nil {
		return 0, err
	}

	var n int64
	if filter.RunID == nil {
		n, err = executor.Count(ctx, &FailureReasonEntity{}, nil)
	} else {
		err = executor.QueryRaw(ctx, &n,
			"SELECT COUNT(*) FROM rsk_failure_reason fr JOIN rsk_failure rf ON rf.id = fr.rsk_failure_id WHERE rf.run_id = ?",
			*filter.RunID)
	}
	if err != nil {
		return 0, exception.NewBatchError(op, "failed to count failure reasons", err, false, true)
	}
	return n, nil
}

func (r *SQLRiskRepository) CountComputeFailures(ctx context.Context) (int64, error) {
	executor, err := r.executor(ctx)
	if err != nil {
		return 0, err
	}
	n, err := executor.Count(ctx, &ComputeFailureEntity{}, nil)
	if err != nil {
		return 0, exception.NewBatchError("SQLRiskRepository.CountComputeFailures", "failed to count compute failures", err, false, true)
	}
	return n, nil
}

func (r *SQLRiskRepository) FindValue(ctx context.Context, runID int64, calcConfig, valueName string, target model.ComputationTargetSpec) (*model.StoredValue, bool, error) {
	const op = "SQLRiskRepository.FindValue"
	executor, err := r.executor(ctx)
	if err != nil {
		return nil, false, err
	}

	var rows []valueView
	stmt := valueSelect + `
WHERE v.run_id = ? AND cc.name = ? AND vn.name = ?
	AND t.target_type = ? AND t.id_scheme = ? AND t.id_value = ? AND t.id_version = ?
ORDER BY v.id DESC LIMIT 1`
	if err := executor.QueryRaw(ctx, &rows, stmt, runID, calcConfig, valueName,
		string(target.Type), target.Scheme, target.Value, target.Version); err != nil {
		return nil, false, exception.NewBatchError(op, fmt.Sprintf("failed to read %s of %s in run %d", valueName, target, runID), err, false, true)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	v := rows[0].toDomain()
	return &v, true, nil
}

func (r *SQLRiskRepository) FindStatus(ctx context.Context, runID int64, calcConfig string, target model.ComputationTargetSpec) (model.Status, error) {
	const op = "SQLRiskRepository.FindStatus"
	executor, err := r.executor(ctx)
	if err != nil {
		return "", err
	}

	var statuses []string
	stmt := `SELECT s.status FROM rsk_run_status s
JOIN rsk_calculation_configuration cc ON cc.id = s.calculation_configuration_id
JOIN rsk_computation_target t ON t.id = s.computation_target_id
WHERE cc.run_id = ? AND cc.name = ?
	AND t.target_type = ? AND t.id_scheme = ? AND t.id_value = ? AND t.id_version = ?`
	if err := executor.QueryRaw(ctx, &statuses, stmt, runID, calcConfig,
		string(target.Type), target.Scheme, target.Value, target.Version); err != nil {
		return "", exception.NewBatchError(op, fmt.Sprintf("failed to read status of %s in run %d", target, runID), err, false, true)
	}
	if len(statuses) == 0 {
		return model.StatusNotRunning, nil
	}
	return model.Status(statuses[0]), nil
}

// pageClause appends LIMIT/OFFSET for paging; an unbounded page on MySQL still needs a LIMIT.
func pageClause(paging model.Paging) (string, []interface{}) {
	if paging.Size <= 0 && paging.First <= 0 {
		return "", nil
	}
	size := int64(paging.Size)
	if size <= 0 {
		size = 1<<62 - 1
	}
	return " LIMIT ? OFFSET ?", []interface{}{size, paging.First}
}

func (r *SQLRiskRepository) FindValues(ctx context.Context, runID int64, paging model.Paging) ([]model.StoredValue, int64, error) {
	const op = "SQLRiskRepository.FindValues"
	executor, err := r.executor(ctx)
	if err != nil {
		return nil, 0, err
	}

	total, err := executor.Count(ctx, &ValueEntity{}, map[string]interface{}{"run_id": runID})
	if err != nil {
		return nil, 0, exception.NewBatchError(op, fmt.Sprintf("failed to count values of run %d", runID), err, false, true)
	}

	limit, limitArgs := pageClause(paging)
	var rows []valueView
	if err := executor.QueryRaw(ctx, &rows, valueSelect+" WHERE v.run_id = ? ORDER BY v.id"+limit, append([]interface{}{runID}, limitArgs...)...); err != nil {
		return nil, 0, exception.NewBatchError(op, fmt.Sprintf("failed to read values of run %d", runID), err, false, true)
	}
	values := make([]model.StoredValue, 0, len(rows))
	for _, row := range rows {
		values = append(values, row.toDomain())
	}
	return values, total, nil
}

func (r *SQLRiskRepository) FindErrors(ctx context.Context, runID int64, paging model.Paging) ([]model.StoredError, int64, error) {
	const op = "SQLRiskRepository.FindErrors"
	executor, err := r.executor(ctx)
	if err != nil {
		return nil, 0, err
	}

	total, err := executor.Count(ctx, &FailureEntity{}, map[string]interface{}{"run_id": runID})
	if err != nil {
		return nil, 0, exception.NewBatchError(op, fmt.Sprintf("failed to count failures of run %d", runID), err, false, true)
	}

	limit, limitArgs := pageClause(paging)
	var rows []errorView
	if err := executor.QueryRaw(ctx, &rows, errorSelect+" WHERE rf.run_id = ? ORDER BY rf.id"+limit, append([]interface{}{runID}, limitArgs...)...); err != nil {
		return nil, 0, exception.NewBatchError(op, fmt.Sprintf("failed to read failures of run %d", runID), err, false, true)
	}
	if len(rows) == 0 {
		return nil, total, nil
	}

	errs := make([]model.StoredError, 0, len(rows))
	index := make(map[int64]int, len(rows))
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		index[row.ID] = len(errs)
		errs = append(errs, row.toDomain())
		ids = append(ids, row.ID)
	}

	for _, chunk := range r.chunks(ids) {
		var causes []causeView
		stmt := `SELECT fr.rsk_failure_id, cf.function_id, cf.exception_class, cf.error_msg, cf.stack_trace
FROM rsk_failure_reason fr
JOIN rsk_compute_failure cf ON cf.id = fr.compute_failure_id
WHERE fr.rsk_failure_id IN ? ORDER BY fr.id`
		if err := executor.QueryRaw(ctx, &causes, stmt, chunk); err != nil {
			return nil, 0, exception.NewBatchError(op, fmt.Sprintf("failed to read failure causes of run %d", runID), err, false, true)
		}
		for _, c := range causes {
			i := index[c.RskFailureID]
			errs[i].Causes = append(errs[i].Causes, model.ComputeFailureKey{
				FunctionID:     c.FunctionID,
				ExceptionClass: c.ExceptionClass,
				Message:        c.ErrorMsg,
				StackTrace:     c.StackTrace,
			})
		}
	}
	return errs, total, nil
}

func (r *SQLRiskRepository) FindValuesByCalculationConfiguration(ctx context.Context, runID int64, calcConfig string) ([]model.StoredValue, error) {
	const op = "SQLRiskRepository.FindValuesByCalculationConfiguration"
	executor, err := r.executor(ctx)
	if err != nil {
		return nil, err
	}

	var rows []valueView
	if err := executor.QueryRaw(ctx, &rows, valueSelect+" WHERE v.run_id = ? AND cc.name = ? ORDER BY v.id", runID, calcConfig); err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to read values of %s in run %d", calcConfig, runID), err, false, true)
	}
	values := make([]model.StoredValue, 0, len(rows))
	for _, row := range rows {
		values = append(values, row.toDomain())
	}
	return values, nil
}
