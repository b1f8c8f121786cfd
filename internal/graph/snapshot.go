package graph

import (
	"fmt"

	"prunenet/internal/model"
)

// Snapshot captures topology, weights, biases and estimator state. Transient
// propagation values and gradient accumulators are not part of it.
func (g *Graph) Snapshot(id string) model.NetworkSnapshot {
	snap := model.NetworkSnapshot{
		ID:                   id,
		HiddenActivation:     g.hidden.Name,
		OutputActivation:     g.output.Name,
		LayerSizes:           g.LayerSizes(),
		Neurons:              make([]model.Neuron, len(g.neurons)),
		Synapses:             make([]model.Synapse, len(g.synapses)),
		TotalInitialSynapses: g.totalInitial,
		MinSynapsesToKeep:    g.minKeep,
	}
	for i, n := range g.neurons {
		snap.Neurons[i] = model.Neuron{
			ID:              int(n.ID),
			Layer:           n.Layer,
			Bias:            n.Bias,
			Alive:           n.Alive,
			ActivationTrace: n.ActivationTrace,
			Utility:         n.Utility,
		}
	}
	for i, s := range g.synapses {
		snap.Synapses[i] = model.Synapse{
			ID:              int(s.ID),
			From:            int(s.Source),
			To:              int(s.Target),
			Weight:          s.Weight,
			Enabled:         s.Enabled,
			ActivationTrace: s.ActivationTrace,
			GradientTrace:   s.GradientTrace,
			UtilityScore:    s.UtilityScore,
			DropoutUtility:  s.DropoutUtility,
		}
	}
	return snap
}

// FromSnapshot rebuilds a sealed graph. Enabled and alive flags are restored
// as recorded rather than recomputed, so a live non-input neuron without an
// enabled input is rejected.
func FromSnapshot(snap model.NetworkSnapshot) (*Graph, error) {
	g, err := New(snap.LayerSizes, snap.HiddenActivation)
	if err != nil {
		return nil, err
	}
	if len(snap.Neurons) != g.NeuronCount() {
		return nil, fmt.Errorf("snapshot %s: %d neurons recorded, layer sizes imply %d", snap.ID, len(snap.Neurons), g.NeuronCount())
	}

	for i, rec := range snap.Neurons {
		n := &g.neurons[i]
		if rec.ID != i || rec.Layer != n.Layer {
			return nil, fmt.Errorf("snapshot %s: neuron %d out of order", snap.ID, rec.ID)
		}
		n.Bias = rec.Bias
		n.Alive = rec.Alive || n.IsInput
		n.ActivationTrace = rec.ActivationTrace
		n.Utility = rec.Utility
	}
	for i, rec := range snap.Synapses {
		if rec.ID != i {
			return nil, fmt.Errorf("snapshot %s: synapse %d out of order", snap.ID, rec.ID)
		}
		id, err := g.Connect(NeuronID(rec.From), NeuronID(rec.To), rec.Weight)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", snap.ID, err)
		}
		s := &g.synapses[id]
		s.ActivationTrace = rec.ActivationTrace
		s.GradientTrace = rec.GradientTrace
		s.UtilityScore = rec.UtilityScore
		s.DropoutUtility = rec.DropoutUtility
		if !rec.Enabled {
			s.Enabled = false
			g.active.remove(id)
		}
	}

	for i := range g.neurons {
		n := &g.neurons[i]
		if n.IsInput {
			continue
		}
		live := 0
		for _, sid := range n.Incoming {
			if g.synapses[sid].Enabled {
				live++
			}
		}
		if n.Alive {
			if live == 0 {
				return nil, fmt.Errorf("%w: snapshot %s live neuron %d has no enabled input", ErrStructuralInvariant, snap.ID, n.ID)
			}
			continue
		}
		for _, sid := range n.Outgoing {
			if g.synapses[sid].Enabled {
				return nil, fmt.Errorf("%w: snapshot %s dead neuron %d keeps enabled synapse %d", ErrStructuralInvariant, snap.ID, n.ID, sid)
			}
		}
	}

	g.sealed = true
	g.totalInitial = snap.TotalInitialSynapses
	g.minKeep = snap.MinSynapsesToKeep
	g.version++
	return g, nil
}
