package sql

import (
	"context"
	"fmt"

	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/exception"
)

// internedEntity is a row of an interning table.
type internedEntity interface {
	TableName() string
	PrimaryKey() int64
}

// dimensionStore implements repository.DimensionStore for one interning table.
type dimensionStore[K comparable, E internedEntity] struct {
	repo            *SQLRiskRepository
	table           string
	conflictColumns []string
	toEntity        func(K) E
	naturalKey      func(K) map[string]interface{}
}

func (s *dimensionStore[K, E]) Insert(ctx context.Context, key K) (repository.InsertOutcome, error) {
	const op = "SQLRiskRepository.InsertDimension"
	executor, err := s.repo.executor(ctx)
	if err != nil {
		return repository.InsertOutcome{}, err
	}

	entity := s.toEntity(key)
	rowsAffected, err := executor.ExecuteUpsert(ctx, entity, s.table, s.conflictColumns, nil)
	if err != nil {
		if s.repo.isUniqueViolation(ctx, err) {
			return repository.AlreadyExists, nil
		}
		return repository.InsertOutcome{}, exception.NewBatchError(op, fmt.Sprintf("failed to insert %s row for %v", s.table, key), err, false, true)
	}
	if rowsAffected == 0 || entity.PrimaryKey() == 0 {
		return repository.AlreadyExists, nil
	}
	return repository.Inserted(entity.PrimaryKey()), nil
}

func (s *dimensionStore[K, E]) Select(ctx context.Context, key K) (int64, bool, error) {
	const op = "SQLRiskRepository.SelectDimension"
	executor, err := s.repo.executor(ctx)
	if err != nil {
		return 0, false, err
	}

	var rows []E
	if err := executor.ExecuteQueryAdvanced(ctx, &rows, s.naturalKey(key), "id ASC", 1, 0); err != nil {
		return 0, false, exception.NewBatchError(op, fmt.Sprintf("failed to select %s row for %v", s.table, key), err, false, true)
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].PrimaryKey(), true, nil
}

func (r *SQLRiskRepository) initDimensions() {
	r.calcConfigs = &dimensionStore[repository.CalculationConfigurationKey, *CalculationConfigurationEntity]{
		repo:            r,
		table:           CalculationConfigurationEntity{}.TableName(),
		conflictColumns: []string{"run_id", "name"},
		toEntity: func(k repository.CalculationConfigurationKey) *CalculationConfigurationEntity {
			return &CalculationConfigurationEntity{RunID: k.RunID, Name: k.Name}
		},
		naturalKey: func(k repository.CalculationConfigurationKey) map[string]interface{} {
			return map[string]interface{}{"run_id": k.RunID, "name": k.Name}
		},
	}
	r.valueNames = &dimensionStore[string, *ValueNameEntity]{
		repo:            r,
		table:           ValueNameEntity{}.TableName(),
		conflictColumns: []string{"name"},
		toEntity:        func(k string) *ValueNameEntity { return &ValueNameEntity{Name: k} },
		naturalKey:      func(k string) map[string]interface{} { return map[string]interface{}{"name": k} },
	}
	r.requirements = &dimensionStore[string, *ValueRequirementEntity]{
		repo:            r,
		table:           ValueRequirementEntity{}.TableName(),
		conflictColumns: []string{"form_hash"},
		toEntity: func(k string) *ValueRequirementEntity {
			return &ValueRequirementEntity{SyntheticForm: k, FormHash: hashOf(k)}
		},
		naturalKey: func(k string) map[string]interface{} { return map[string]interface{}{"form_hash": hashOf(k)} },
	}
	r.specifications = &dimensionStore[string, *ValueSpecificationEntity]{
		repo:            r,
		table:           ValueSpecificationEntity{}.TableName(),
		conflictColumns: []string{"form_hash"},
		toEntity: func(k string) *ValueSpecificationEntity {
			return &ValueSpecificationEntity{SyntheticForm: k, FormHash: hashOf(k)}
		},
		naturalKey: func(k string) map[string]interface{} { return map[string]interface{}{"form_hash": hashOf(k)} },
	}
	r.functions = &dimensionStore[string, *FunctionUniqueIDEntity]{
		repo:            r,
		table:           FunctionUniqueIDEntity{}.TableName(),
		conflictColumns: []string{"unique_id"},
		toEntity:        func(k string) *FunctionUniqueIDEntity { return &FunctionUniqueIDEntity{UniqueID: k} },
		naturalKey:      func(k string) map[string]interface{} { return map[string]interface{}{"unique_id": k} },
	}
	r.hosts = &dimensionStore[string, *ComputeHostEntity]{
		repo:            r,
		table:           ComputeHostEntity{}.TableName(),
		conflictColumns: []string{"host_name"},
		toEntity:        func(k string) *ComputeHostEntity { return &ComputeHostEntity{HostName: k} },
		naturalKey:      func(k string) map[string]interface{} { return map[string]interface{}{"host_name": k} },
	}
	r.nodes = &dimensionStore[repository.ComputeNodeKey, *ComputeNodeEntity]{
		repo:            r,
		table:           ComputeNodeEntity{}.TableName(),
		conflictColumns: []string{"compute_host_id", "node_name"},
		toEntity: func(k repository.ComputeNodeKey) *ComputeNodeEntity {
			return &ComputeNodeEntity{ComputeHostID: k.HostID, NodeName: k.NodeID}
		},
		naturalKey: func(k repository.ComputeNodeKey) map[string]interface{} {
			return map[string]interface{}{"compute_host_id": k.HostID, "node_name": k.NodeID}
		},
	}
	r.targets = &dimensionStore[model.ComputationTargetSpec, *ComputationTargetEntity]{
		repo:            r,
		table:           ComputationTargetEntity{}.TableName(),
		conflictColumns: []string{"target_type", "id_scheme", "id_value", "id_version"},
		toEntity: func(k model.ComputationTargetSpec) *ComputationTargetEntity {
			return &ComputationTargetEntity{TargetType: string(k.Type), IDScheme: k.Scheme, IDValue: k.Value, IDVersion: k.Version}
		},
		naturalKey: func(k model.ComputationTargetSpec) map[string]interface{} {
			return map[string]interface{}{"target_type": string(k.Type), "id_scheme": k.Scheme, "id_value": k.Value, "id_version": k.Version}
		},
	}
	r.failures = &dimensionStore[model.ComputeFailureKey, *ComputeFailureEntity]{
		repo:            r,
		table:           ComputeFailureEntity{}.TableName(),
		conflictColumns: []string{"key_hash"},
		toEntity: func(k model.ComputeFailureKey) *ComputeFailureEntity {
			return &ComputeFailureEntity{
				FunctionID:     k.FunctionID,
				ExceptionClass: k.ExceptionClass,
				ErrorMsg:       k.Message,
				StackTrace:     k.StackTrace,
				KeyHash:        computeFailureHash(k),
			}
		},
		naturalKey: func(k model.ComputeFailureKey) map[string]interface{} {
			return map[string]interface{}{"key_hash": computeFailureHash(k)}
		},
	}
}

// --- DimensionRepository implementation ---

func (r *SQLRiskRepository) CalculationConfigurations() repository.DimensionStore[repository.CalculationConfigurationKey] {
	return r.calcConfigs
}

func (r *SQLRiskRepository) ValueNames() repository.DimensionStore[string] { return r.valueNames }

func (r *SQLRiskRepository) ValueRequirements() repository.DimensionStore[string] {
	return r.requirements
}

func (r *SQLRiskRepository) ValueSpecifications() repository.DimensionStore[string] {
	return r.specifications
}

func (r *SQLRiskRepository) FunctionUniqueIDs() repository.DimensionStore[string] { return r.functions }

func (r *SQLRiskRepository) ComputeHosts() repository.DimensionStore[string] { return r.hosts }

func (r *SQLRiskRepository) ComputeNodes() repository.DimensionStore[repository.ComputeNodeKey] {
	return r.nodes
}

func (r *SQLRiskRepository) ComputationTargets() repository.DimensionStore[model.ComputationTargetSpec] {
	return r.targets
}

func (r *SQLRiskRepository) ComputeFailures() repository.DimensionStore[model.ComputeFailureKey] {
	return r.failures
}

func (r *SQLRiskRepository) RefreshTargetName(ctx context.Context, targetID int64, name string) error {
	const op = "SQLRiskRepository.RefreshTargetName"
	executor, err := r.executor(ctx)
	if err != nil {
		return err
	}

	// Only rows whose stored name differs are touched.
	if _, err := executor.ExecuteRaw(ctx,
		"UPDATE rsk_computation_target SET name = ? WHERE id = ? AND (name IS NULL OR name <> ?)",
		name, targetID, name); err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to refresh name of target %d", targetID), err, false, true)
	}
	return nil
}

func (r *SQLRiskRepository) UpsertTargetProperties(ctx context.Context, targetID int64, properties map[string]string) error {
	const op = "SQLRiskRepository.UpsertTargetProperties"
	if len(properties) == 0 {
		return nil
	}
	executor, err := r.executor(ctx)
	if err != nil {
		return err
	}

	rows := make([]TargetPropertyEntity, 0, len(properties))
	for k, v := range properties {
		rows = append(rows, TargetPropertyEntity{TargetID: targetID, PropertyKey: k, PropertyValue: v})
	}
	if _, err := executor.ExecuteUpsert(ctx, &rows, TargetPropertyEntity{}.TableName(), []string{"target_id", "property_key"}, []string{"property_value"}); err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to store properties of target %d", targetID), err, false, true)
	}
	return nil
}
