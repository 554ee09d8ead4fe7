package model

import (
	"fmt"
	"sort"
	"strings"
)

// ComputationTargetType is the kind of entity a value is computed about.
type ComputationTargetType string

const (
	TargetPortfolioNode ComputationTargetType = "PORTFOLIO_NODE"
	TargetPosition      ComputationTargetType = "POSITION"
	TargetTrade         ComputationTargetType = "TRADE"
	TargetSecurity      ComputationTargetType = "SECURITY"
	TargetPrimitive     ComputationTargetType = "PRIMITIVE"
)

// ComputationTargetSpec identifies a target by type and unique identifier. It is comparable and used as a map key.
type ComputationTargetSpec struct {
	Type    ComputationTargetType
	Scheme  string
	Value   string
	Version string
}

// UniqueID renders the identifier as "Scheme~Value" or "Scheme~Value~Version".
func (s ComputationTargetSpec) UniqueID() string {
	if s.Version == "" {
		return s.Scheme + "~" + s.Value
	}
	return s.Scheme + "~" + s.Value + "~" + s.Version
}

func (s ComputationTargetSpec) String() string {
	return fmt.Sprintf("CTSpec[%s, %s]", s.Type, s.UniqueID())
}

// ComputationTarget is a target plus its optional metadata.
type ComputationTarget struct {
	Spec       ComputationTargetSpec
	Name       string
	Properties map[string]string
}

// ValueProperties is the property set qualifying a value, e.g. {"Currency": ["USD"]}.
type ValueProperties map[string][]string

// SyntheticForm returns the canonical rendering used as the natural key of specifications and requirements.
// Keys and values are sorted so that equal sets always render identically; the empty set renders as "{}".
func (p ValueProperties) SyntheticForm() string {
	if len(p) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(",")
		}
		values := append([]string(nil), p[k]...)
		sort.Strings(values)
		sb.WriteString(k)
		sb.WriteString("=[")
		sb.WriteString(strings.Join(values, ","))
		sb.WriteString("]")
	}
	sb.WriteString("}")
	return sb.String()
}

// ValueRequirement describes a value the engine was asked to produce.
type ValueRequirement struct {
	ValueName   string
	Target      ComputationTargetSpec
	Constraints ValueProperties
}

// SyntheticForm is the natural key of the requirement dimension.
func (r ValueRequirement) SyntheticForm() string {
	return r.Constraints.SyntheticForm()
}

// ValueSpecification describes a value the engine actually produced.
type ValueSpecification struct {
	ValueName        string
	Target           ComputationTargetSpec
	Properties       ValueProperties
	FunctionUniqueID string
}

// SyntheticForm is the natural key of the specification dimension.
func (s ValueSpecification) SyntheticForm() string {
	return s.Properties.SyntheticForm()
}

// Key identifies the specification within a batch. Specifications with equal keys are the same value.
func (s ValueSpecification) Key() string {
	return s.ValueName + "|" + s.Target.Type.String() + "|" + s.Target.UniqueID() + "|" + s.Properties.SyntheticForm() + "|" + s.FunctionUniqueID
}

func (s ValueSpecification) String() string {
	return fmt.Sprintf("VSpec[%s, %s, %s]", s.ValueName, s.Target, s.Properties.SyntheticForm())
}

func (t ComputationTargetType) String() string {
	return string(t)
}
