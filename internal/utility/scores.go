package utility

import (
	"math"
	"math/rand"

	"prunenet/internal/graph"
)

// ScoreFunc returns one importance score per id, aligned with ids. Lower
// scores are pruned first.
type ScoreFunc func(g *graph.Graph, ids []graph.SynapseID) []float64

func fieldScores(field func(s *graph.Synapse) float64) ScoreFunc {
	return func(g *graph.Graph, ids []graph.SynapseID) []float64 {
		out := make([]float64, len(ids))
		for i, id := range ids {
			out[i] = field(g.Synapse(id))
		}
		return out
	}
}

var (
	ActivationTraceScores = fieldScores(func(s *graph.Synapse) float64 { return s.ActivationTrace })
	GradientTraceScores   = fieldScores(func(s *graph.Synapse) float64 { return s.GradientTrace })
	PropagatedScores      = fieldScores(func(s *graph.Synapse) float64 { return s.UtilityScore })
	DropoutScores         = fieldScores(func(s *graph.Synapse) float64 { return s.DropoutUtility })
	WeightMagnitudeScores = fieldScores(func(s *graph.Synapse) float64 { return math.Abs(s.Weight) })
)

// RandomScores draws a fresh uniform score per synapse on every call.
func RandomScores(rng *rand.Rand) ScoreFunc {
	return func(_ *graph.Graph, ids []graph.SynapseID) []float64 {
		out := make([]float64, len(ids))
		for i := range out {
			out[i] = rng.Float64()
		}
		return out
	}
}
