// Package schedule maps elapsed training steps to the number of synapses that
// should survive the next pruning event.
package schedule

import (
	"fmt"
	"math"
	"strings"
)

const (
	PolicyLinear    = "linear"
	PolicyGeometric = "geometric"
	PolicyConstant  = "constant"

	DefaultLinearPerInterval = 2
	DefaultGeometricFraction = 0.1
)

// Params are the graph and configuration values every policy works from.
type Params struct {
	TotalInitialSynapses int
	MinSynapsesToKeep    int
	StartPruningAt       int
	PruneInterval        int
}

func (p Params) Validate() error {
	if p.TotalInitialSynapses < 0 {
		return fmt.Errorf("total initial synapses must be >= 0, got %d", p.TotalInitialSynapses)
	}
	if p.MinSynapsesToKeep < 0 {
		return fmt.Errorf("min synapses to keep must be >= 0, got %d", p.MinSynapsesToKeep)
	}
	if p.StartPruningAt < 0 {
		return fmt.Errorf("start pruning at must be >= 0, got %d", p.StartPruningAt)
	}
	if p.PruneInterval <= 0 {
		return fmt.Errorf("prune interval must be > 0, got %d", p.PruneInterval)
	}
	return nil
}

// Intervals is the number of prune boundaries reached at step: zero before
// StartPruningAt, one at StartPruningAt, and one more every PruneInterval.
func (p Params) Intervals(step int) int {
	if step < p.StartPruningAt || p.PruneInterval <= 0 {
		return 0
	}
	return (step-p.StartPruningAt)/p.PruneInterval + 1
}

// ShouldPrune reports whether step falls on a prune boundary.
func (p Params) ShouldPrune(step int) bool {
	if step < p.StartPruningAt || p.PruneInterval <= 0 {
		return false
	}
	return (step-p.StartPruningAt)%p.PruneInterval == 0
}

func (p Params) floor() int {
	if p.MinSynapsesToKeep > p.TotalInitialSynapses {
		return p.TotalInitialSynapses
	}
	return p.MinSynapsesToKeep
}

// Policy returns a target that is monotone non-increasing in step, never
// below MinSynapsesToKeep (unless the graph started smaller), and depends
// only on step.
type Policy interface {
	Name() string
	Target(step int) int
}

// LinearPolicy removes PerInterval synapses at every boundary.
type LinearPolicy struct {
	Params
	PerInterval int
}

func (LinearPolicy) Name() string { return PolicyLinear }

func (p LinearPolicy) Target(step int) int {
	target := p.TotalInitialSynapses - p.Intervals(step)*p.PerInterval
	if floor := p.floor(); target < floor {
		return floor
	}
	return target
}

// GeometricPolicy removes Fraction of the still prunable synapses (those above
// the floor) at every boundary.
type GeometricPolicy struct {
	Params
	Fraction float64
}

func (GeometricPolicy) Name() string { return PolicyGeometric }

func (p GeometricPolicy) Target(step int) int {
	floor := p.floor()
	k := p.Intervals(step)
	if k == 0 {
		return p.TotalInitialSynapses
	}
	prunable := float64(p.TotalInitialSynapses - floor)
	remaining := prunable * math.Pow(1-p.Fraction, float64(k))
	return floor + int(math.Floor(remaining))
}

// ConstantPolicy never asks for pruning.
type ConstantPolicy struct {
	Params
}

func (ConstantPolicy) Name() string { return PolicyConstant }

func (p ConstantPolicy) Target(int) int { return p.TotalInitialSynapses }

// PolicyFromConfig builds a named policy. For linear, param is the number of
// synapses removed per interval; for geometric it is the removed fraction.
// Zero selects the default.
func PolicyFromConfig(name string, param float64, params Params) (Policy, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	switch NormalizePolicyName(name) {
	case PolicyLinear:
		per := int(param)
		if param == 0 {
			per = DefaultLinearPerInterval
		}
		if per < 0 {
			return nil, fmt.Errorf("linear schedule removal count must be >= 0, got %v", param)
		}
		return LinearPolicy{Params: params, PerInterval: per}, nil
	case PolicyGeometric:
		fraction := param
		if fraction == 0 {
			fraction = DefaultGeometricFraction
		}
		if fraction < 0 || fraction > 1 {
			return nil, fmt.Errorf("geometric schedule fraction must be in [0,1], got %v", param)
		}
		return GeometricPolicy{Params: params, Fraction: fraction}, nil
	case PolicyConstant:
		return ConstantPolicy{Params: params}, nil
	default:
		return nil, fmt.Errorf("unsupported prune schedule: %s", name)
	}
}

func NormalizePolicyName(name string) string {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "", PolicyLinear, "const_count":
		return PolicyLinear
	case PolicyGeometric, "exponential":
		return PolicyGeometric
	case PolicyConstant, "none":
		return PolicyConstant
	default:
		return n
	}
}
