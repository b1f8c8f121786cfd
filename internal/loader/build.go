package loader

import (
	"fmt"
	"math"
	"sort"

	"prunenet/internal/graph"
)

// BuildOptions control how a module becomes a graph.
type BuildOptions struct {
	HiddenActivation  string
	InputFeatures     int
	UtilityToKeep     float64
	MinSynapsesToKeep int
}

// Build creates one synapse per weight of m, then keeps the strongest
// synapses by |weight| until their share of the total |weight| mass reaches
// UtilityToKeep. Every output neuron keeps a path of strongest incoming
// synapses back to the input layer. The remaining synapses are disabled,
// cascading through hidden neurons left without inputs, and the graph is
// sealed with the survivors as its initial synapse count.
func Build(m Module, opts BuildOptions) (*graph.Graph, error) {
	if err := m.Validate(opts.InputFeatures); err != nil {
		return nil, err
	}
	if !(opts.UtilityToKeep > 0 && opts.UtilityToKeep <= 1) {
		return nil, fmt.Errorf("utility to keep must be in (0,1], got %v", opts.UtilityToKeep)
	}

	g, err := graph.New(m.LayerSizes(opts.InputFeatures), opts.HiddenActivation)
	if err != nil {
		return nil, err
	}
	layers := g.Layers()
	for i, layer := range m.Layers {
		src, dst := layers[i], layers[i+1]
		for out, row := range layer.Weight {
			for in, w := range row {
				if _, err := g.Connect(src[in], dst[out], w); err != nil {
					return nil, err
				}
			}
			if layer.Bias != nil {
				if err := g.SetBias(dst[out], layer.Bias[out]); err != nil {
					return nil, err
				}
			}
		}
	}

	if opts.UtilityToKeep < 1 {
		keep := keptByMass(g, opts.UtilityToKeep)
		for _, out := range g.Outputs() {
			protectPath(g, out, keep)
		}
		var drop []graph.SynapseID
		for id := 0; id < g.SynapseCount(); id++ {
			if !keep[graph.SynapseID(id)] {
				drop = append(drop, graph.SynapseID(id))
			}
		}
		if len(drop) > 0 {
			if _, err := g.Disable(drop...); err != nil {
				return nil, fmt.Errorf("seed graph: %w", err)
			}
		}
	}

	if err := g.Seal(opts.MinSynapsesToKeep); err != nil {
		return nil, err
	}
	return g, nil
}

func keptByMass(g *graph.Graph, fraction float64) map[graph.SynapseID]bool {
	ids := make([]graph.SynapseID, g.SynapseCount())
	var total float64
	for i := range ids {
		ids[i] = graph.SynapseID(i)
		total += math.Abs(g.Synapse(ids[i]).Weight)
	}
	sort.SliceStable(ids, func(a, b int) bool {
		return math.Abs(g.Synapse(ids[a]).Weight) > math.Abs(g.Synapse(ids[b]).Weight)
	})

	keep := make(map[graph.SynapseID]bool)
	want := fraction * total
	var mass float64
	for _, id := range ids {
		if mass >= want && len(keep) > 0 {
			break
		}
		keep[id] = true
		mass += math.Abs(g.Synapse(id).Weight)
	}
	return keep
}

// protectPath walks back from n along its strongest incoming synapse until it
// reaches the input layer, marking every step as kept.
func protectPath(g *graph.Graph, n graph.NeuronID, keep map[graph.SynapseID]bool) {
	for {
		neuron := g.Neuron(n)
		if neuron.IsInput || len(neuron.Incoming) == 0 {
			return
		}
		best := neuron.Incoming[0]
		for _, id := range neuron.Incoming[1:] {
			if math.Abs(g.Synapse(id).Weight) > math.Abs(g.Synapse(best).Weight) {
				best = id
			}
		}
		keep[best] = true
		n = g.Synapse(best).Source
	}
}
