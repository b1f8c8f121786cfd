package graph

import "fmt"

// Forward assigns inputs to the input layer and propagates activations layer
// by layer through enabled synapses. Dead neurons output zero.
func (g *Graph) Forward(inputs []float64) error {
	if len(inputs) != g.InputSize() {
		return fmt.Errorf("%w: got %d inputs, input layer has %d neurons", ErrDimensionMismatch, len(inputs), g.InputSize())
	}

	for i, id := range g.Inputs() {
		g.neurons[id].Activation = inputs[i]
	}
	for l := 1; l < len(g.layers); l++ {
		act := g.activationFor(l)
		for _, id := range g.layers[l] {
			n := &g.neurons[id]
			if !n.Alive {
				n.PreActivation = 0
				n.Activation = 0
				continue
			}
			total := n.Bias
			for _, sid := range n.Incoming {
				s := &g.synapses[sid]
				if !s.Enabled {
					continue
				}
				total += g.neurons[s.Source].Activation * s.Weight
			}
			n.PreActivation = total
			n.Activation = act.Func(total)
		}
	}
	return nil
}

// Predictions returns the output layer activations of the last Forward call.
func (g *Graph) Predictions() []float64 {
	outputs := g.Outputs()
	out := make([]float64, len(outputs))
	for i, id := range outputs {
		out[i] = g.neurons[id].Activation
	}
	return out
}

// Backward computes squared-error deltas against targets and accumulates a
// gradient on every enabled synapse. Forward must have run for the current
// sample.
func (g *Graph) Backward(targets []float64) error {
	if len(targets) != g.OutputSize() {
		return fmt.Errorf("%w: got %d targets, output layer has %d neurons", ErrDimensionMismatch, len(targets), g.OutputSize())
	}

	last := len(g.layers) - 1
	for i, id := range g.layers[last] {
		n := &g.neurons[id]
		n.Delta = (n.Activation - targets[i]) * g.output.Derivative(n.PreActivation)
	}
	for l := last - 1; l >= 1; l-- {
		for _, id := range g.layers[l] {
			n := &g.neurons[id]
			if !n.Alive {
				n.Delta = 0
				continue
			}
			downstream := 0.0
			for _, sid := range n.Outgoing {
				s := &g.synapses[sid]
				if !s.Enabled {
					continue
				}
				downstream += g.neurons[s.Target].Delta * s.Weight
			}
			n.Delta = downstream * g.hidden.Derivative(n.PreActivation)
		}
	}

	for l := 1; l <= last; l++ {
		for _, id := range g.layers[l] {
			n := &g.neurons[id]
			if !n.Alive {
				continue
			}
			n.BiasGradient += n.Delta
			for _, sid := range n.Incoming {
				s := &g.synapses[sid]
				if !s.Enabled {
					continue
				}
				s.Gradient += n.Delta * g.neurons[s.Source].Activation
			}
		}
	}
	return nil
}

// UpdateWeights applies one gradient step to enabled synapses and live biases,
// then clears the accumulators.
func (g *Graph) UpdateWeights(stepSize float64) {
	for _, sid := range g.active.ids {
		s := &g.synapses[sid]
		s.Weight -= stepSize * s.Gradient
		s.LastGradient = s.Gradient
		s.Gradient = 0
	}
	for i := range g.neurons {
		n := &g.neurons[i]
		if n.IsInput || !n.Alive {
			continue
		}
		n.Bias -= stepSize * n.BiasGradient
		n.BiasGradient = 0
	}
}

// Evaluate runs a forward pass into a scratch buffer, treating every synapse
// with silenced[id] set as disabled, and returns the outputs. The graph is not
// modified. A nil silenced slice evaluates the network as is.
func (g *Graph) Evaluate(inputs []float64, silenced []bool) ([]float64, error) {
	values, err := g.EvaluateNeurons(inputs, silenced)
	if err != nil {
		return nil, err
	}
	outputs := g.Outputs()
	out := make([]float64, len(outputs))
	for i, id := range outputs {
		out[i] = values[id]
	}
	return out, nil
}

// EvaluateNeurons is Evaluate returning the activation of every neuron,
// indexed by NeuronID.
func (g *Graph) EvaluateNeurons(inputs []float64, silenced []bool) ([]float64, error) {
	if len(inputs) != g.InputSize() {
		return nil, fmt.Errorf("%w: got %d inputs, input layer has %d neurons", ErrDimensionMismatch, len(inputs), g.InputSize())
	}
	if silenced != nil && len(silenced) != len(g.synapses) {
		return nil, fmt.Errorf("%w: silence mask has %d entries, graph has %d synapses", ErrDimensionMismatch, len(silenced), len(g.synapses))
	}

	values := make([]float64, g.NeuronCount())
	for i, id := range g.Inputs() {
		values[id] = inputs[i]
	}
	for l := 1; l < len(g.layers); l++ {
		act := g.activationFor(l)
		for _, id := range g.layers[l] {
			n := &g.neurons[id]
			if !n.Alive {
				continue
			}
			total := n.Bias
			for _, sid := range n.Incoming {
				s := &g.synapses[sid]
				if !s.Enabled || (silenced != nil && silenced[sid]) {
					continue
				}
				total += values[s.Source] * s.Weight
			}
			values[id] = act.Func(total)
		}
	}
	return values, nil
}
