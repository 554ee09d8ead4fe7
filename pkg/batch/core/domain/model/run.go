package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// RunCreationMode decides what StartRun does when a run with the same identity already exists.
type RunCreationMode string

const (
	// RunCreationAuto restarts a matching run, or creates one when none exists.
	RunCreationAuto RunCreationMode = "AUTO"
	// RunCreationCreateNew always creates a fresh run.
	RunCreationCreateNew RunCreationMode = "CREATE_NEW"
	// RunCreationReuseExisting restarts a matching run and fails when none exists.
	RunCreationReuseExisting RunCreationMode = "REUSE_EXISTING"
	// RunCreationCreateNewOverwrite deletes every run with the identity, then creates a fresh one.
	RunCreationCreateNewOverwrite RunCreationMode = "CREATE_NEW_OVERWRITE"
)

// Valid reports whether m is a known creation mode.
func (m RunCreationMode) Valid() bool {
	switch m {
	case RunCreationAuto, RunCreationCreateNew, RunCreationReuseExisting, RunCreationCreateNewOverwrite:
		return true
	}
	return false
}

// SnapshotMode records how the market data of a run was sourced. It is stored, not interpreted.
type SnapshotMode string

const (
	SnapshotModePrepared     SnapshotMode = "PREPARED"
	SnapshotModeWriteThrough SnapshotMode = "WRITE_THROUGH"
)

// RunIdentity identifies a batch execution. Two starts with equal identities refer to the same run.
type RunIdentity struct {
	ValuationTime     time.Time
	VersionCorrection string
	ViewDefinitionUID string
	MarketDataUID     string
}

// String renders the identity for logs.
func (id RunIdentity) String() string {
	return fmt.Sprintf("%s@%s vc=%s md=%s", id.ViewDefinitionUID, id.ValuationTime.UTC().Format(time.RFC3339Nano), id.VersionCorrection, id.MarketDataUID)
}

// RunParameters is the key/value property bag of a run.
type RunParameters map[string]string

// Equal reports whether both bags hold the same keys with the same values.
func (p RunParameters) Equal(other RunParameters) bool {
	return len(p.SymmetricDifference(other)) == 0
}

// SymmetricDifference lists, sorted, every "key=value" entry present in exactly one of the two bags.
func (p RunParameters) SymmetricDifference(other RunParameters) []string {
	var diff []string
	for k, v := range p {
		if ov, ok := other[k]; !ok || ov != v {
			diff = append(diff, k+"="+v)
		}
	}
	for k, v := range other {
		if pv, ok := p[k]; !ok || pv != v {
			diff = append(diff, k+"="+v)
		}
	}
	sort.Strings(diff)
	return diff
}

// Hash returns a stable sha256 over the sorted entries.
func (p RunParameters) Hash() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	hasher := sha256.New()
	for _, k := range keys {
		hasher.Write([]byte(k))
		hasher.Write([]byte{0})
		hasher.Write([]byte(p[k]))
		hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// Copy returns an independent copy.
func (p RunParameters) Copy() RunParameters {
	out := make(RunParameters, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// RunRequest describes the run a caller wants to start.
type RunRequest struct {
	Identity                  RunIdentity
	Name                      string
	SnapshotMode              SnapshotMode
	Parameters                RunParameters
	CalculationConfigurations []string
	Mode                      RunCreationMode
}

// RiskRun is a stored batch execution.
type RiskRun struct {
	ID            int64
	Identity      RunIdentity
	Name          string
	SnapshotMode  SnapshotMode
	CreateInstant time.Time
	StartInstant  time.Time
	// EndInstant is nil until the run completes.
	EndInstant  *time.Time
	NumRestarts int
	Complete    bool
	Parameters  RunParameters
	// CalculationConfigurations maps configuration names to their surrogate ids.
	CalculationConfigurations map[string]int64
}

// RunOutcome reports which transition StartRun performed.
type RunOutcome string

const (
	RunCreated     RunOutcome = "created"
	RunRestarted   RunOutcome = "restarted"
	RunOverwritten RunOutcome = "overwritten"
)

// CalculationConfigurationNames returns the configuration names of the run, sorted.
func (r *RiskRun) CalculationConfigurationNames() []string {
	names := make([]string, 0, len(r.CalculationConfigurations))
	for name := range r.CalculationConfigurations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// State returns "COMPLETE" or "RUNNING".
func (r *RiskRun) State() string {
	if r.Complete {
		return "COMPLETE"
	}
	return "RUNNING"
}

// String renders the run for logs.
func (r *RiskRun) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "RiskRun[id=%d %s restarts=%d %s", r.ID, r.Identity, r.NumRestarts, r.State())
	if r.Name != "" {
		fmt.Fprintf(&sb, " name=%s", r.Name)
	}
	sb.WriteString("]")
	return sb.String()
}
