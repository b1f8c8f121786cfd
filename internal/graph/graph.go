// Package graph holds the live pruning graph: an arena of neurons and synapses
// addressed by stable integer handles, the index of still-enabled synapses, and
// the signal propagation that runs over it.
//
// A Graph is not safe for concurrent mutation. Evaluate may run concurrently
// with itself while no mutating method is in flight.
package graph

import (
	"errors"
	"fmt"

	"prunenet/internal/nn"
)

var (
	ErrDimensionMismatch   = errors.New("dimension mismatch")
	ErrStructuralInvariant = errors.New("structural invariant violation")
	ErrSealed              = errors.New("graph is sealed")
	ErrNotSealed           = errors.New("graph is not sealed")
	ErrStalePlan           = errors.New("removal plan is stale")
)

type NeuronID int

type SynapseID int

type Synapse struct {
	ID     SynapseID
	Source NeuronID
	Target NeuronID
	Weight float64
	// Enabled flips to false exactly once.
	Enabled bool

	ActivationTrace float64
	GradientTrace   float64
	UtilityScore    float64
	DropoutUtility  float64

	// Gradient accumulates between weight updates; LastGradient keeps the
	// value consumed by the most recent update.
	Gradient     float64
	LastGradient float64
}

type Neuron struct {
	ID       NeuronID
	Layer    int
	Bias     float64
	IsInput  bool
	IsOutput bool
	Alive    bool

	Activation    float64
	PreActivation float64
	Delta         float64
	BiasGradient  float64

	ActivationTrace float64
	Utility         float64

	Incoming []SynapseID
	Outgoing []SynapseID
}

type Graph struct {
	layers   [][]NeuronID
	neurons  []Neuron
	synapses []Synapse
	active   activeSet

	hidden nn.Activation
	output nn.Activation

	sealed       bool
	version      uint64
	totalInitial int
	minKeep      int
}

// New allocates one neuron per unit of each layer. The first layer is the
// input layer and the last one the output layer. Hidden layers use
// hiddenActivation; the output layer is linear.
func New(layerSizes []int, hiddenActivation string) (*Graph, error) {
	if len(layerSizes) < 2 {
		return nil, fmt.Errorf("at least two layers are required, got %d", len(layerSizes))
	}
	hidden, err := nn.GetActivation(hiddenActivation)
	if err != nil {
		return nil, err
	}
	output, err := nn.GetActivation(nn.ActivationLinear)
	if err != nil {
		return nil, err
	}

	g := &Graph{
		layers: make([][]NeuronID, len(layerSizes)),
		hidden: hidden,
		output: output,
	}
	last := len(layerSizes) - 1
	for l, size := range layerSizes {
		if size <= 0 {
			return nil, fmt.Errorf("layer %d must have at least one neuron, got %d", l, size)
		}
		g.layers[l] = make([]NeuronID, 0, size)
		for i := 0; i < size; i++ {
			id := NeuronID(len(g.neurons))
			g.neurons = append(g.neurons, Neuron{
				ID:       id,
				Layer:    l,
				IsInput:  l == 0,
				IsOutput: l == last,
				Alive:    true,
			})
			g.layers[l] = append(g.layers[l], id)
		}
	}
	return g, nil
}

// Connect adds an enabled synapse from src to dst. dst must sit in a later
// layer than src.
func (g *Graph) Connect(src, dst NeuronID, weight float64) (SynapseID, error) {
	if g.sealed {
		return 0, ErrSealed
	}
	if !g.validNeuron(src) || !g.validNeuron(dst) {
		return 0, fmt.Errorf("unknown neuron in connection %d -> %d", src, dst)
	}
	if g.neurons[dst].Layer <= g.neurons[src].Layer {
		return 0, fmt.Errorf("connection %d -> %d must point to a later layer", src, dst)
	}

	id := SynapseID(len(g.synapses))
	g.synapses = append(g.synapses, Synapse{
		ID:      id,
		Source:  src,
		Target:  dst,
		Weight:  weight,
		Enabled: true,
	})
	g.neurons[src].Outgoing = append(g.neurons[src].Outgoing, id)
	g.neurons[dst].Incoming = append(g.neurons[dst].Incoming, id)
	g.active.add(id)
	g.version++
	return id, nil
}

func (g *Graph) SetBias(id NeuronID, bias float64) error {
	if !g.validNeuron(id) {
		return fmt.Errorf("unknown neuron %d", id)
	}
	if g.neurons[id].IsInput {
		return fmt.Errorf("input neuron %d has no bias", id)
	}
	g.neurons[id].Bias = bias
	return nil
}

// Seal fixes the topology. Hidden neurons that never received an enabled
// input are pruned together with their outgoing synapses, every output neuron
// must keep an input, and the surviving synapse count becomes the initial
// total used by pruning schedules.
func (g *Graph) Seal(minSynapsesToKeep int) error {
	if g.sealed {
		return ErrSealed
	}
	if minSynapsesToKeep < 0 {
		return fmt.Errorf("min synapses to keep must be >= 0, got %d", minSynapsesToKeep)
	}

	plan := g.NewPlan()
	for l := 1; l < len(g.layers); l++ {
		for _, id := range g.layers[l] {
			n := &g.neurons[id]
			if !plan.alive(id, nil) || plan.liveIncoming(n, nil) > 0 {
				continue
			}
			if n.IsOutput {
				return fmt.Errorf("%w: output neuron %d has no enabled input", ErrStructuralInvariant, id)
			}
			closure, err := plan.killNeuron(id)
			if err != nil {
				return err
			}
			plan.Accept(closure)
		}
	}
	if _, err := g.Commit(plan); err != nil {
		return err
	}

	g.sealed = true
	g.totalInitial = g.active.len()
	g.minKeep = minSynapsesToKeep
	return nil
}

func (g *Graph) Sealed() bool { return g.sealed }

func (g *Graph) validNeuron(id NeuronID) bool {
	return id >= 0 && int(id) < len(g.neurons)
}

func (g *Graph) validSynapse(id SynapseID) bool {
	return id >= 0 && int(id) < len(g.synapses)
}

// Neuron returns the arena record for id, or nil when id is unknown.
func (g *Graph) Neuron(id NeuronID) *Neuron {
	if !g.validNeuron(id) {
		return nil
	}
	return &g.neurons[id]
}

// Synapse returns the arena record for id, or nil when id is unknown.
// Callers must not flip Enabled directly; use Disable.
func (g *Graph) Synapse(id SynapseID) *Synapse {
	if !g.validSynapse(id) {
		return nil
	}
	return &g.synapses[id]
}

// Layers returns the layer index. The slices are owned by the graph.
func (g *Graph) Layers() [][]NeuronID { return g.layers }

func (g *Graph) LayerSizes() []int {
	sizes := make([]int, len(g.layers))
	for i, layer := range g.layers {
		sizes[i] = len(layer)
	}
	return sizes
}

func (g *Graph) Inputs() []NeuronID  { return g.layers[0] }
func (g *Graph) Outputs() []NeuronID { return g.layers[len(g.layers)-1] }
func (g *Graph) InputSize() int      { return len(g.layers[0]) }
func (g *Graph) OutputSize() int     { return len(g.layers[len(g.layers)-1]) }
func (g *Graph) NeuronCount() int    { return len(g.neurons) }
func (g *Graph) SynapseCount() int   { return len(g.synapses) }
func (g *Graph) ActiveCount() int    { return g.active.len() }

func (g *Graph) TotalInitialSynapses() int { return g.totalInitial }
func (g *Graph) MinSynapsesToKeep() int    { return g.minKeep }
func (g *Graph) HiddenActivation() string  { return g.hidden.Name }

// ActiveSynapses returns the enabled synapse handles in ascending order.
func (g *Graph) ActiveSynapses() []SynapseID {
	return g.active.sorted()
}

func (g *Graph) LiveNeurons() int {
	count := 0
	for i := range g.neurons {
		if g.neurons[i].Alive {
			count++
		}
	}
	return count
}

func (g *Graph) activationFor(layer int) nn.Activation {
	if layer == len(g.layers)-1 {
		return g.output
	}
	return g.hidden
}
