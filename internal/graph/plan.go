package graph

import "fmt"

// Closure is the set of synapses and neurons that disabling one synapse
// removes once the cascade has run: a hidden neuron left without an enabled
// input dies and takes its outgoing synapses with it.
type Closure struct {
	Synapses []SynapseID
	Neurons  []NeuronID
}

func (c Closure) Empty() bool { return len(c.Synapses) == 0 && len(c.Neurons) == 0 }

// Removal reports what a committed plan disabled, in commit order.
type Removal struct {
	Synapses []SynapseID
	Neurons  []NeuronID
}

// Plan accumulates disables against a snapshot of the graph without touching
// it. Nothing changes until Commit, which either applies the whole plan or
// nothing.
type Plan struct {
	g        *Graph
	version  uint64
	disabled map[SynapseID]struct{}
	dead     map[NeuronID]struct{}
	synapses []SynapseID
	neurons  []NeuronID
}

func (g *Graph) NewPlan() *Plan {
	return &Plan{
		g:        g,
		version:  g.version,
		disabled: make(map[SynapseID]struct{}),
		dead:     make(map[NeuronID]struct{}),
	}
}

// Len is the number of synapses the plan disables.
func (p *Plan) Len() int { return len(p.synapses) }

// Remaining is the active synapse count the graph would have after Commit.
func (p *Plan) Remaining() int { return p.g.active.len() - len(p.synapses) }

// Preview computes the closure of disabling id on top of what the plan already
// holds. An already disabled synapse yields an empty closure. Disconnecting an
// output neuron is reported as ErrStructuralInvariant.
func (p *Plan) Preview(id SynapseID) (Closure, error) {
	if !p.g.validSynapse(id) {
		return Closure{}, fmt.Errorf("unknown synapse %d", id)
	}
	if !p.enabled(id, nil) {
		return Closure{}, nil
	}
	return p.expand([]SynapseID{id}, nil)
}

func (p *Plan) Accept(c Closure) {
	for _, id := range c.Synapses {
		if _, ok := p.disabled[id]; ok {
			continue
		}
		p.disabled[id] = struct{}{}
		p.synapses = append(p.synapses, id)
	}
	for _, id := range c.Neurons {
		if _, ok := p.dead[id]; ok {
			continue
		}
		p.dead[id] = struct{}{}
		p.neurons = append(p.neurons, id)
	}
}

func (p *Plan) killNeuron(id NeuronID) (Closure, error) {
	return p.expand(nil, []NeuronID{id})
}

func (p *Plan) expand(queue []SynapseID, seedDead []NeuronID) (Closure, error) {
	tmp := make(map[SynapseID]struct{})
	tmpDead := make(map[NeuronID]struct{})
	var c Closure

	for _, id := range seedDead {
		tmpDead[id] = struct{}{}
		c.Neurons = append(c.Neurons, id)
		for _, out := range p.g.neurons[id].Outgoing {
			if p.enabled(out, tmp) {
				queue = append(queue, out)
			}
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if !p.enabled(id, tmp) {
			continue
		}
		tmp[id] = struct{}{}
		c.Synapses = append(c.Synapses, id)

		target := &p.g.neurons[p.g.synapses[id].Target]
		if !p.alive(target.ID, tmpDead) || p.liveIncoming(target, tmp) > 0 {
			continue
		}
		if target.IsOutput {
			return Closure{}, fmt.Errorf("%w: output neuron %d would lose all inputs", ErrStructuralInvariant, target.ID)
		}
		tmpDead[target.ID] = struct{}{}
		c.Neurons = append(c.Neurons, target.ID)
		for _, out := range target.Outgoing {
			if p.enabled(out, tmp) {
				queue = append(queue, out)
			}
		}
	}
	return c, nil
}

func (p *Plan) enabled(id SynapseID, tmp map[SynapseID]struct{}) bool {
	if !p.g.synapses[id].Enabled {
		return false
	}
	if _, ok := p.disabled[id]; ok {
		return false
	}
	if _, ok := tmp[id]; ok {
		return false
	}
	return true
}

func (p *Plan) alive(id NeuronID, tmpDead map[NeuronID]struct{}) bool {
	if !p.g.neurons[id].Alive {
		return false
	}
	if _, ok := p.dead[id]; ok {
		return false
	}
	if _, ok := tmpDead[id]; ok {
		return false
	}
	return true
}

func (p *Plan) liveIncoming(n *Neuron, tmp map[SynapseID]struct{}) int {
	count := 0
	for _, id := range n.Incoming {
		if p.enabled(id, tmp) {
			count++
		}
	}
	return count
}

// Commit applies p atomically. The plan must have been built against the
// current state of g.
func (g *Graph) Commit(p *Plan) (Removal, error) {
	if p == nil || p.g != g || p.version != g.version {
		return Removal{}, ErrStalePlan
	}
	for _, id := range g.layers[len(g.layers)-1] {
		if p.liveIncoming(&g.neurons[id], nil) == 0 {
			return Removal{}, fmt.Errorf("%w: output neuron %d would lose all inputs", ErrStructuralInvariant, id)
		}
	}
	if len(p.synapses) == 0 && len(p.neurons) == 0 {
		return Removal{}, nil
	}

	for _, id := range p.synapses {
		s := &g.synapses[id]
		s.Enabled = false
		s.Gradient = 0
		g.active.remove(id)
	}
	for _, id := range p.neurons {
		n := &g.neurons[id]
		n.Alive = false
		n.Activation = 0
		n.PreActivation = 0
		n.Delta = 0
		n.BiasGradient = 0
	}
	g.version++

	return Removal{
		Synapses: append([]SynapseID(nil), p.synapses...),
		Neurons:  append([]NeuronID(nil), p.neurons...),
	}, nil
}

// Disable removes ids and their cascades in one atomic step. Already disabled
// synapses are ignored.
func (g *Graph) Disable(ids ...SynapseID) (Removal, error) {
	plan := g.NewPlan()
	for _, id := range ids {
		c, err := plan.Preview(id)
		if err != nil {
			return Removal{}, err
		}
		plan.Accept(c)
	}
	return g.Commit(plan)
}
