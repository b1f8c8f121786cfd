// Package utility maintains the per-synapse importance estimates that pruning
// ranks by. Every estimator only reads and writes active synapses.
package utility

import (
	"fmt"
	"math"

	"prunenet/internal/graph"
)

// ValidateDecay checks that decay is a proper exponential decay factor.
func ValidateDecay(decay float64) error {
	if !(decay > 0 && decay < 1) {
		return fmt.Errorf("trace decay rate must be in (0,1), got %v", decay)
	}
	return nil
}

func decayed(trace, decay, sample float64) float64 {
	return trace*decay + (1-decay)*sample
}

// UpdateActivationTraces folds |source activation * weight| of the last
// forward pass into each active synapse's activation trace.
func UpdateActivationTraces(g *graph.Graph, decay float64) {
	for _, id := range g.ActiveSynapses() {
		s := g.Synapse(id)
		src := g.Neuron(s.Source)
		s.ActivationTrace = decayed(s.ActivationTrace, decay, math.Abs(src.Activation*s.Weight))
	}
}

// UpdateGradientTraces folds the magnitude of the gradient consumed by the
// last weight update into each active synapse's gradient trace.
func UpdateGradientTraces(g *graph.Graph, decay float64) {
	for _, id := range g.ActiveSynapses() {
		s := g.Synapse(id)
		s.GradientTrace = decayed(s.GradientTrace, decay, math.Abs(s.LastGradient))
	}
}
