package utility

import (
	"math"

	"prunenet/internal/graph"
)

// UpdateUtilityPropagation pushes importance from the outputs back toward the
// inputs. Each output neuron carries utility 1. A synapse receives the share
// of its target's utility proportional to |source activation trace * weight|
// among the target's enabled inputs, and a neuron's utility is the sum of the
// shares its outgoing synapses received. Synapse scores are decayed traces of
// those shares, so a strong synapse feeding a neuron nobody listens to loses
// value over time.
//
// Forward must have populated activations for the current sample.
func UpdateUtilityPropagation(g *graph.Graph, decay float64) {
	layers := g.Layers()
	for _, layer := range layers {
		for _, id := range layer {
			n := g.Neuron(id)
			if !n.Alive {
				continue
			}
			n.ActivationTrace = decayed(n.ActivationTrace, decay, math.Abs(n.Activation))
		}
	}

	shares := make([]float64, g.SynapseCount())
	last := len(layers) - 1
	for l := last; l >= 0; l-- {
		for _, id := range layers[l] {
			n := g.Neuron(id)
			if !n.Alive {
				n.Utility = 0
				continue
			}
			if n.IsOutput {
				n.Utility = 1
			} else {
				total := 0.0
				for _, sid := range n.Outgoing {
					if g.Synapse(sid).Enabled {
						total += shares[sid]
					}
				}
				n.Utility = total
			}
			if l == 0 {
				continue
			}
			distributeUtility(g, n, shares, decay)
		}
	}
}

func distributeUtility(g *graph.Graph, n *graph.Neuron, shares []float64, decay float64) {
	total := 0.0
	for _, sid := range n.Incoming {
		s := g.Synapse(sid)
		if !s.Enabled {
			continue
		}
		total += math.Abs(g.Neuron(s.Source).ActivationTrace * s.Weight)
	}
	for _, sid := range n.Incoming {
		s := g.Synapse(sid)
		if !s.Enabled {
			continue
		}
		share := 0.0
		if total > 0 {
			share = n.Utility * math.Abs(g.Neuron(s.Source).ActivationTrace*s.Weight) / total
		}
		shares[sid] = share
		s.UtilityScore = decayed(s.UtilityScore, decay, share)
	}
}
