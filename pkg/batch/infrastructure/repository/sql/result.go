package sql

import (
	"context"
	"fmt"

	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/exception"
)

// --- StatusRepository implementation ---

func (r *SQLRiskRepository) FindStatuses(ctx context.Context, calcConfigID int64, targetIDs []int64) (map[int64]repository.StatusRecord, error) {
	const op = "SQLRiskRepository.FindStatuses"
	out := make(map[int64]repository.StatusRecord, len(targetIDs))
	if len(targetIDs) == 0 {
		return out, nil
	}
	executor, err := r.executor(ctx)
	if err != nil {
		return nil, err
	}

	for _, chunk := range r.chunks(targetIDs) {
		var rows []RunStatusEntity
		query := map[string]interface{}{
			"calculation_configuration_id": calcConfigID,
			"computation_target_id":        chunk,
		}
		if err := executor.ExecuteQuery(ctx, &rows, query); err != nil {
			return nil, exception.NewBatchError(op, fmt.Sprintf("failed to read statuses of calculation configuration %d", calcConfigID), err, false, true)
		}
		for _, row := range rows {
			out[row.ComputationTargetID] = toStatusRecord(row)
		}
	}
	return out, nil
}

func (r *SQLRiskRepository) InsertStatuses(ctx context.Context, rows []*repository.StatusRecord) (int64, error) {
	const op = "SQLRiskRepository.InsertStatuses"
	if len(rows) == 0 {
		return 0, nil
	}
	executor, err := r.executor(ctx)
	if err != nil {
		return 0, err
	}

	entities := make([]RunStatusEntity, len(rows))
	for i, row := range rows {
		entities[i] = RunStatusEntity{
			RunID:                      row.RunID,
			CalculationConfigurationID: row.CalculationConfigurationID,
			ComputationTargetID:        row.TargetID,
			Status:                     string(row.Status),
		}
	}
	n, err := executor.ExecuteBulkInsert(ctx, &entities, RunStatusEntity{}.TableName(), r.chunkSize)
	if err != nil {
		return 0, exception.NewBatchError(op, fmt.Sprintf("failed to insert %d status rows", len(rows)), err, false, true)
	}
	for i := range entities {
		rows[i].ID = entities[i].ID
	}
	return n, nil
}

func (r *SQLRiskRepository) UpdateStatuses(ctx context.Context, from, to model.Status, ids []int64) (int64, error) {
	const op = "SQLRiskRepository.UpdateStatuses"
	if len(ids) == 0 {
		return 0, nil
	}
	executor, err := r.executor(ctx)
	if err != nil {
		return 0, err
	}

	// version always changes, so MySQL's changed-rows count equals the matched rows.
	var total int64
	for _, chunk := range r.chunks(ids) {
		n, err := executor.ExecuteRaw(ctx,
			"UPDATE rsk_run_status SET status = ?, version = version + 1 WHERE id IN ? AND status = ?", string(to), chunk, string(from))
		if err != nil {
			return total, exception.NewBatchError(op, fmt.Sprintf("failed to move %d status rows from %s to %s", len(chunk), from, to), err, false, true)
		}
		total += n
	}
	return total, nil
}

// --- ResultRepository implementation ---

func (r *SQLRiskRepository) InsertValues(ctx context.Context, rows []*repository.ValueRecord) (int64, error) {
	const op = "SQLRiskRepository.InsertValues"
	if len(rows) == 0 {
		return 0, nil
	}
	executor, err := r.executor(ctx)
	if err != nil {
		return 0, err
	}

	entities := make([]ValueEntity, len(rows))
	for i, row := range rows {
		entities[i] = fromValueRecord(row)
	}
	n, err := executor.ExecuteBulkInsert(ctx, &entities, ValueEntity{}.TableName(), r.chunkSize)
	if err != nil {
		return 0, exception.NewBatchError(op, fmt.Sprintf("failed to insert %d values", len(rows)), err, false, true)
	}
	return n, nil
}

func (r *SQLRiskRepository) InsertFailures(ctx context.Context, rows []*repository.FailureRecord) (int64, error) {
	const op = "SQLRiskRepository.InsertFailures"
	if len(rows) == 0 {
		return 0, nil
	}
	executor, err := r.executor(ctx)
	if err != nil {
		return 0, err
	}

	entities := make([]FailureEntity, len(rows))
	for i, row := range rows {
		entities[i] = fromFailureRecord(row)
	}
	n, err := executor.ExecuteBulkInsert(ctx, &entities, FailureEntity{}.TableName(), r.chunkSize)
	if err != nil {
		return 0, exception.NewBatchError(op, fmt.Sprintf("failed to insert %d failures", len(rows)), err, false, true)
	}
	for i := range entities {
		rows[i].ID = entities[i].ID
	}
	return n, nil
}

func (r *SQLRiskRepository) InsertFailureReasons(ctx context.Context, rows []*repository.FailureReasonRecord) (int64, error) {
	const op = "SQLRiskRepository.InsertFailureReasons"
	if len(rows) == 0 {
		return 0, nil
	}
	executor, err := r.executor(ctx)
	if err != nil {
		return 0, err
	}

	entities := make([]FailureReasonEntity, len(rows))
	for i, row := range rows {
		entities[i] = FailureReasonEntity{RskFailureID: row.FailureID, ComputeFailureID: row.ComputeFailureID}
	}
	n, err := executor.ExecuteBulkInsert(ctx, &entities, FailureReasonEntity{}.TableName(), r.chunkSize)
	if err != nil {
		return 0, exception.NewBatchError(op, fmt.Sprintf("failed to insert %d failure reasons", len(rows)), err, false, true)
	}
	return n, nil
}
