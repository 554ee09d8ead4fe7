package sql

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
)

// hashOf returns the hex sha256 of the NUL-separated parts.
func hashOf(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// identityHash is the lookup key of a run identity. Valuation times are compared at microsecond precision.
func identityHash(id model.RunIdentity) string {
	return hashOf(
		id.ValuationTime.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
		id.VersionCorrection,
		id.ViewDefinitionUID,
		id.MarketDataUID,
	)
}

func computeFailureHash(key model.ComputeFailureKey) string {
	return hashOf(key.FunctionID, key.ExceptionClass, key.Message, key.StackTrace)
}

func fromDomainRun(run *model.RiskRun) *RunEntity {
	var end *time.Time
	if run.EndInstant != nil {
		t := run.EndInstant.UTC()
		end = &t
	}
	return &RunEntity{
		ID:                run.ID,
		IdentityHash:      identityHash(run.Identity),
		ValuationTime:     run.Identity.ValuationTime.UTC().Truncate(time.Microsecond),
		VersionCorrection: run.Identity.VersionCorrection,
		ViewDefinitionUID: run.Identity.ViewDefinitionUID,
		MarketDataUID:     run.Identity.MarketDataUID,
		Name:              run.Name,
		SnapshotMode:      string(run.SnapshotMode),
		CreateInstant:     run.CreateInstant.UTC(),
		StartInstant:      run.StartInstant.UTC(),
		EndInstant:        end,
		NumRestarts:       run.NumRestarts,
		Complete:          run.Complete,
		ParametersHash:    run.Parameters.Hash(),
	}
}

func toDomainRun(e *RunEntity) *model.RiskRun {
	return &model.RiskRun{
		ID: e.ID,
		Identity: model.RunIdentity{
			ValuationTime:     e.ValuationTime.UTC(),
			VersionCorrection: e.VersionCorrection,
			ViewDefinitionUID: e.ViewDefinitionUID,
			MarketDataUID:     e.MarketDataUID,
		},
		Name:                      e.Name,
		SnapshotMode:              model.SnapshotMode(e.SnapshotMode),
		CreateInstant:             e.CreateInstant,
		StartInstant:              e.StartInstant,
		EndInstant:                e.EndInstant,
		NumRestarts:               e.NumRestarts,
		Complete:                  e.Complete,
		Parameters:                model.RunParameters{},
		CalculationConfigurations: map[string]int64{},
	}
}

func nodeRef(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func fromValueRecord(r *repository.ValueRecord) ValueEntity {
	return ValueEntity{
		RunID:                      r.RunID,
		CalculationConfigurationID: r.CalculationConfigurationID,
		ValueNameID:                r.ValueNameID,
		ValueRequirementID:         r.ValueRequirementID,
		ValueSpecificationID:       r.ValueSpecificationID,
		FunctionUniqueID:           r.FunctionUniqueID,
		ComputationTargetID:        r.ComputationTargetID,
		ComputeNodeID:              nodeRef(r.ComputeNodeID),
		Value:                      r.Value,
		EvalInstant:                r.EvalInstant.UTC(),
	}
}

func fromFailureRecord(r *repository.FailureRecord) FailureEntity {
	return FailureEntity{
		RunID:                      r.RunID,
		CalculationConfigurationID: r.CalculationConfigurationID,
		ValueNameID:                r.ValueNameID,
		ValueRequirementID:         r.ValueRequirementID,
		ValueSpecificationID:       r.ValueSpecificationID,
		FunctionUniqueID:           r.FunctionUniqueID,
		ComputationTargetID:        r.ComputationTargetID,
		ComputeNodeID:              nodeRef(r.ComputeNodeID),
		EvalInstant:                r.EvalInstant.UTC(),
	}
}

func toStatusRecord(e RunStatusEntity) repository.StatusRecord {
	return repository.StatusRecord{
		ID:                         e.ID,
		RunID:                      e.RunID,
		CalculationConfigurationID: e.CalculationConfigurationID,
		TargetID:                   e.ComputationTargetID,
		Status:                     model.Status(e.Status),
	}
}

// valueView is one row of the joined value query.
type valueView struct {
	ID                int64
	CalcConfig        string
	ValueName         string
	TargetType        string
	IDScheme          string `gorm:"column:id_scheme"`
	IDValue           string `gorm:"column:id_value"`
	IDVersion         string `gorm:"column:id_version"`
	SpecificationForm string
	FunctionUniqueID  string `gorm:"column:function_unique_id"`
	ComputeNode       *string
	Value             float64
	EvalInstant       time.Time
}

func (v valueView) toDomain() model.StoredValue {
	node := ""
	if v.ComputeNode != nil {
		node = *v.ComputeNode
	}
	return model.StoredValue{
		ID:                       v.ID,
		CalculationConfiguration: v.CalcConfig,
		ValueName:                v.ValueName,
		Target:                   targetSpec(v.TargetType, v.IDScheme, v.IDValue, v.IDVersion),
		SpecificationForm:        v.SpecificationForm,
		FunctionUniqueID:         v.FunctionUniqueID,
		ComputeNode:              node,
		Value:                    v.Value,
		EvalInstant:              v.EvalInstant,
	}
}

// errorView is one row of the joined failure query.
type errorView struct {
	ID               int64
	CalcConfig       string
	ValueName        string
	TargetType       string
	IDScheme         string `gorm:"column:id_scheme"`
	IDValue          string `gorm:"column:id_value"`
	IDVersion        string `gorm:"column:id_version"`
	FunctionUniqueID string `gorm:"column:function_unique_id"`
	ComputeNode      *string
	EvalInstant      time.Time
}

func (v errorView) toDomain() model.StoredError {
	node := ""
	if v.ComputeNode != nil {
		node = *v.ComputeNode
	}
	return model.StoredError{
		ID:                       v.ID,
		CalculationConfiguration: v.CalcConfig,
		ValueName:                v.ValueName,
		Target:                   targetSpec(v.TargetType, v.IDScheme, v.IDValue, v.IDVersion),
		FunctionUniqueID:         v.FunctionUniqueID,
		ComputeNode:              node,
		EvalInstant:              v.EvalInstant,
	}
}

// causeView is one root cause of a failure.
type causeView struct {
	RskFailureID   int64
	FunctionID     string
	ExceptionClass string
	ErrorMsg       string
	StackTrace     string
}

func targetSpec(targetType, scheme, value, version string) model.ComputationTargetSpec {
	return model.ComputationTargetSpec{
		Type:    model.ComputationTargetType(targetType),
		Scheme:  scheme,
		Value:   value,
		Version: version,
	}
}
