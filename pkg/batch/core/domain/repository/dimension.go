package repository

import (
	"context"

	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
)

// InsertOutcome is the tagged result of an attempt to create a dimension row.
// Inserted reports whether this call created the row; when it is false the natural key already
// existed and ID is zero, so the caller has to reselect.
type InsertOutcome struct {
	Inserted bool
	ID       int64
}

// Inserted returns the outcome of a successful insert.
func Inserted(id int64) InsertOutcome { return InsertOutcome{Inserted: true, ID: id} }

// AlreadyExists is the outcome of an insert that lost to an existing row.
var AlreadyExists = InsertOutcome{}

// DimensionStore interns natural keys of type K into surrogate ids.
type DimensionStore[K comparable] interface {
	// Insert tries to create the row for key. A uniqueness conflict is not an error, it is AlreadyExists.
	Insert(ctx context.Context, key K) (InsertOutcome, error)
	// Select returns the id stored for key. found is false when no such row is visible.
	Select(ctx context.Context, key K) (id int64, found bool, err error)
}

// CalculationConfigurationKey is the natural key of a calculation configuration, scoped to its run.
type CalculationConfigurationKey struct {
	RunID int64
	Name  string
}

// ComputeNodeKey is the natural key of a compute node below its host.
type ComputeNodeKey struct {
	HostID int64
	NodeID string
}

// DimensionRepository groups the interning tables.
type DimensionRepository interface {
	CalculationConfigurations() DimensionStore[CalculationConfigurationKey]
	ValueNames() DimensionStore[string]
	// ValueRequirements and ValueSpecifications are keyed by the synthetic form of a property set.
	ValueRequirements() DimensionStore[string]
	ValueSpecifications() DimensionStore[string]
	FunctionUniqueIDs() DimensionStore[string]
	ComputeHosts() DimensionStore[string]
	ComputeNodes() DimensionStore[ComputeNodeKey]
	ComputationTargets() DimensionStore[model.ComputationTargetSpec]
	ComputeFailures() DimensionStore[model.ComputeFailureKey]

	// RefreshTargetName stores name as the display name of target id when it differs.
	RefreshTargetName(ctx context.Context, targetID int64, name string) error
	// UpsertTargetProperties stores properties of target id, replacing values of existing keys.
	UpsertTargetProperties(ctx context.Context, targetID int64, properties map[string]string) error
}
