package dimension

import (
	"context"
	"fmt"
	"strings"

	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/riskbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/memo"
)

// Cache interns every dimension a batch write needs. One Cache serves one run and is safe for
// concurrent use by all writers of that run.
type Cache struct {
	calcConfigs    *Interner[repository.CalculationConfigurationKey]
	valueNames     *Interner[string]
	requirements   *Interner[string]
	specifications *Interner[string]
	functions      *Interner[string]
	hosts          *Interner[string]
	nodes          *Interner[repository.ComputeNodeKey]
	targets        *Interner[model.ComputationTargetSpec]

	repo        repository.DimensionRepository
	targetNames *memo.Staged[int64, string]
}

// NewCache creates a Cache over repo with the retry budget of cfg.
func NewCache(repo repository.DimensionRepository, cfg *config.BatchConfig, recorder metrics.MetricRecorder) *Cache {
	attempts := cfg.DimensionRetryAttempts
	return &Cache{
		calcConfigs:    NewInterner("calculation_configuration", repo.CalculationConfigurations(), attempts, recorder),
		valueNames:     NewInterner("value_name", repo.ValueNames(), attempts, recorder),
		requirements:   NewInterner("value_requirement", repo.ValueRequirements(), attempts, recorder),
		specifications: NewInterner("value_specification", repo.ValueSpecifications(), attempts, recorder),
		functions:      NewInterner("function_unique_id", repo.FunctionUniqueIDs(), attempts, recorder),
		hosts:          NewInterner("compute_host", repo.ComputeHosts(), attempts, recorder),
		nodes:          NewInterner("compute_node", repo.ComputeNodes(), attempts, recorder),
		targets:        NewInterner("computation_target", repo.ComputationTargets(), attempts, recorder),
		repo:           repo,
		targetNames:    memo.New[int64, string](),
	}
}

// CalculationConfiguration returns the id of the named configuration of run runID.
func (c *Cache) CalculationConfiguration(ctx context.Context, runID int64, name string) (int64, error) {
	return c.calcConfigs.Resolve(ctx, repository.CalculationConfigurationKey{RunID: runID, Name: name})
}

func (c *Cache) ValueName(ctx context.Context, name string) (int64, error) {
	return c.valueNames.Resolve(ctx, name)
}

// ValueRequirement interns the synthetic form of the requirement's constraints.
func (c *Cache) ValueRequirement(ctx context.Context, req model.ValueRequirement) (int64, error) {
	return c.requirements.Resolve(ctx, req.SyntheticForm())
}

// ValueSpecification interns the synthetic form of the specification's properties.
func (c *Cache) ValueSpecification(ctx context.Context, spec model.ValueSpecification) (int64, error) {
	return c.specifications.Resolve(ctx, spec.SyntheticForm())
}

func (c *Cache) FunctionUniqueID(ctx context.Context, functionID string) (int64, error) {
	return c.functions.Resolve(ctx, functionID)
}

// ComputeHostOf returns the host part of a node id: "host-a" for "host-a/0/1".
// An id without "/" is its own host.
func ComputeHostOf(nodeID string) string {
	if i := strings.Index(nodeID, "/"); i >= 0 {
		return nodeID[:i]
	}
	return nodeID
}

// ComputeNode interns the node and its host. An empty node id resolves to 0, meaning "no node".
func (c *Cache) ComputeNode(ctx context.Context, nodeID string) (int64, error) {
	if nodeID == "" {
		return 0, nil
	}
	hostID, err := c.hosts.Resolve(ctx, ComputeHostOf(nodeID))
	if err != nil {
		return 0, err
	}
	return c.nodes.Resolve(ctx, repository.ComputeNodeKey{HostID: hostID, NodeID: nodeID})
}

func (c *Cache) ComputationTarget(ctx context.Context, spec model.ComputationTargetSpec) (int64, error) {
	return c.targets.Resolve(ctx, spec)
}

// LookupComputationTarget returns the id of spec without creating it.
func (c *Cache) LookupComputationTarget(ctx context.Context, spec model.ComputationTargetSpec) (int64, bool, error) {
	return c.targets.Lookup(ctx, spec)
}

// LookupCalculationConfiguration returns the id of the named configuration without creating it.
func (c *Cache) LookupCalculationConfiguration(ctx context.Context, runID int64, name string) (int64, bool, error) {
	return c.calcConfigs.Lookup(ctx, repository.CalculationConfigurationKey{RunID: runID, Name: name})
}

// RefreshTarget stores the display name of target when it changed since the last refresh through
// this cache, and upserts its properties.
func (c *Cache) RefreshTarget(ctx context.Context, targetID int64, target model.ComputationTarget) error {
	if target.Name != "" {
		if known, ok := c.targetNames.Get(ctx, targetID); !ok || known != target.Name {
			if err := c.repo.RefreshTargetName(ctx, targetID, target.Name); err != nil {
				return exception.NewBatchError(moduleName, fmt.Sprintf("failed to refresh name of %s", target.Spec), err, false, true)
			}
			c.targetNames.Put(ctx, targetID, target.Name)
			logger.Debugf("Dimension: target %s named %q.", target.Spec, target.Name)
		}
	}
	if len(target.Properties) > 0 {
		if err := c.repo.UpsertTargetProperties(ctx, targetID, target.Properties); err != nil {
			return exception.NewBatchError(moduleName, fmt.Sprintf("failed to store properties of %s", target.Spec), err, false, true)
		}
	}
	return nil
}

// Sizes reports the committed memo size per dimension.
func (c *Cache) Sizes() map[string]int {
	return map[string]int{
		c.calcConfigs.Name():    c.calcConfigs.Size(),
		c.valueNames.Name():     c.valueNames.Size(),
		c.requirements.Name():   c.requirements.Size(),
		c.specifications.Name(): c.specifications.Size(),
		c.functions.Name():      c.functions.Size(),
		c.hosts.Name():          c.hosts.Size(),
		c.nodes.Name():          c.nodes.Size(),
		c.targets.Name():        c.targets.Size(),
	}
}
