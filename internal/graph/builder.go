package graph

import (
	"errors"
	"math"
	"math/rand"
)

// FullyConnected builds an unsealed graph connecting every neuron of each
// layer to every neuron of the next one, with weights drawn from a scaled
// normal distribution (He scaling, sqrt(2/fan_in)) and zero biases.
func FullyConnected(layerSizes []int, hiddenActivation string, rng *rand.Rand) (*Graph, error) {
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	g, err := New(layerSizes, hiddenActivation)
	if err != nil {
		return nil, err
	}
	for l := 1; l < len(g.layers); l++ {
		scale := math.Sqrt(2.0 / float64(len(g.layers[l-1])))
		for _, dst := range g.layers[l] {
			for _, src := range g.layers[l-1] {
				if _, err := g.Connect(src, dst, rng.NormFloat64()*scale); err != nil {
					return nil, err
				}
			}
		}
	}
	return g, nil
}
