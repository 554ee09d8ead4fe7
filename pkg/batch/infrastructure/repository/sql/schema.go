package sql

import "time"

// RunEntity is the persistence model of a risk run.
type RunEntity struct {
	ID                int64 `gorm:"primaryKey;autoIncrement"`
	IdentityHash      string
	ValuationTime     time.Time
	VersionCorrection string
	ViewDefinitionUID string
	MarketDataUID     string
	Name              string
	SnapshotMode      string
	CreateInstant     time.Time
	StartInstant      time.Time
	EndInstant        *time.Time
	NumRestarts       int
	Complete          bool
	ParametersHash    string
}

func (RunEntity) TableName() string { return "rsk_run" }

// RunPropertyEntity is one run parameter.
type RunPropertyEntity struct {
	ID            int64 `gorm:"primaryKey;autoIncrement"`
	RunID         int64
	PropertyKey   string
	PropertyValue string
}

func (RunPropertyEntity) TableName() string { return "rsk_run_property" }

// CalculationConfigurationEntity interns a configuration name within a run.
type CalculationConfigurationEntity struct {
	ID    int64 `gorm:"primaryKey;autoIncrement"`
	RunID int64
	Name  string
}

func (CalculationConfigurationEntity) TableName() string    { return "rsk_calculation_configuration" }
func (e *CalculationConfigurationEntity) PrimaryKey() int64 { return e.ID }

// ValueNameEntity interns a value name.
type ValueNameEntity struct {
	ID   int64 `gorm:"primaryKey;autoIncrement"`
	Name string
}

func (ValueNameEntity) TableName() string    { return "rsk_value_name" }
func (e *ValueNameEntity) PrimaryKey() int64 { return e.ID }

// ValueRequirementEntity interns the synthetic form of a requirement's constraints.
type ValueRequirementEntity struct {
	ID            int64 `gorm:"primaryKey;autoIncrement"`
	SyntheticForm string
	FormHash      string
}

func (ValueRequirementEntity) TableName() string    { return "rsk_value_requirement" }
func (e *ValueRequirementEntity) PrimaryKey() int64 { return e.ID }

// ValueSpecificationEntity interns the synthetic form of a specification's properties.
type ValueSpecificationEntity struct {
	ID            int64 `gorm:"primaryKey;autoIncrement"`
	SyntheticForm string
	FormHash      string
}

func (ValueSpecificationEntity) TableName() string    { return "rsk_value_specification" }
func (e *ValueSpecificationEntity) PrimaryKey() int64 { return e.ID }

// FunctionUniqueIDEntity interns a function identifier.
type FunctionUniqueIDEntity struct {
	ID       int64 `gorm:"primaryKey;autoIncrement"`
	UniqueID string
}

func (FunctionUniqueIDEntity) TableName() string    { return "rsk_function_unique_id" }
func (e *FunctionUniqueIDEntity) PrimaryKey() int64 { return e.ID }

// ComputeHostEntity interns a host name.
type ComputeHostEntity struct {
	ID       int64 `gorm:"primaryKey;autoIncrement"`
	HostName string
}

func (ComputeHostEntity) TableName() string    { return "rsk_compute_host" }
func (e *ComputeHostEntity) PrimaryKey() int64 { return e.ID }

// ComputeNodeEntity interns a compute node below its host.
type ComputeNodeEntity struct {
	ID            int64 `gorm:"primaryKey;autoIncrement"`
	ComputeHostID int64
	NodeName      string
}

func (ComputeNodeEntity) TableName() string    { return "rsk_compute_node" }
func (e *ComputeNodeEntity) PrimaryKey() int64 { return e.ID }

// ComputationTargetEntity interns a target identity. Name is the refreshable display name.
type ComputationTargetEntity struct {
	ID         int64 `gorm:"primaryKey;autoIncrement"`
	TargetType string
	IDScheme   string `gorm:"column:id_scheme"`
	IDValue    string `gorm:"column:id_value"`
	IDVersion  string `gorm:"column:id_version"`
	Name       *string
}

func (ComputationTargetEntity) TableName() string    { return "rsk_computation_target" }
func (e *ComputationTargetEntity) PrimaryKey() int64 { return e.ID }

// TargetPropertyEntity is one property of a computation target.
type TargetPropertyEntity struct {
	ID            int64 `gorm:"primaryKey;autoIncrement"`
	TargetID      int64
	PropertyKey   string
	PropertyValue string
}

func (TargetPropertyEntity) TableName() string { return "rsk_target_property" }

// ComputeFailureEntity is a deduplicated root-cause failure. KeyHash covers all four key columns.
type ComputeFailureEntity struct {
	ID             int64 `gorm:"primaryKey;autoIncrement"`
	FunctionID     string
	ExceptionClass string
	ErrorMsg       string
	StackTrace     string
	KeyHash        string
}

func (ComputeFailureEntity) TableName() string    { return "rsk_compute_failure" }
func (e *ComputeFailureEntity) PrimaryKey() int64 { return e.ID }

// RunStatusEntity is the status of one (calculation configuration, target) pair.
type RunStatusEntity struct {
	ID                         int64 `gorm:"primaryKey;autoIncrement"`
	RunID                      int64
	CalculationConfigurationID int64
	ComputationTargetID        int64
	Status                     string
	Version                    int
}

func (RunStatusEntity) TableName() string { return "rsk_run_status" }

// ValueEntity is one stored scalar.
type ValueEntity struct {
	ID                         int64 `gorm:"primaryKey;autoIncrement"`
	RunID                      int64
	CalculationConfigurationID int64
	ValueNameID                int64
	ValueRequirementID         int64
	ValueSpecificationID       int64
	FunctionUniqueID           int64
	ComputationTargetID        int64
	ComputeNodeID              *int64
	Value                      float64
	EvalInstant                time.Time
}

func (ValueEntity) TableName() string { return "rsk_value" }

// FailureEntity is one failed value.
type FailureEntity struct {
	ID                         int64 `gorm:"primaryKey;autoIncrement"`
	RunID                      int64
	CalculationConfigurationID int64
	ValueNameID                int64
	ValueRequirementID         int64
	ValueSpecificationID       int64
	FunctionUniqueID           int64
	ComputationTargetID        int64
	ComputeNodeID              *int64
	EvalInstant                time.Time
}

func (FailureEntity) TableName() string { return "rsk_failure" }

// FailureReasonEntity links a failure to a compute failure.
type FailureReasonEntity struct {
	ID               int64 `gorm:"primaryKey;autoIncrement"`
	RskFailureID     int64
	ComputeFailureID int64
}

func (FailureReasonEntity) TableName() string { return "rsk_failure_reason" }
