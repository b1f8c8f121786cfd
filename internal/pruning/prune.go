package pruning

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"prunenet/internal/graph"
	"prunenet/internal/utility"
)

// Result describes one pruning pass. A pass that found the graph already at
// or below its bound reports NoOp and changes nothing.
type Result struct {
	Strategy Strategy
	Target   int
	Bound    int
	Before   int
	After    int
	NoOp     bool

	// Ranked are the victims picked by score, in rank order. Cascaded are
	// synapses removed because their source neuron died.
	Ranked      []graph.SynapseID
	Cascaded    []graph.SynapseID
	DeadNeurons []graph.NeuronID
	// Skipped counts candidates passed over because their cascade would cross
	// the bound or disconnect an output neuron.
	Skipped int
}

func (r Result) Removed() int { return r.Before - r.After }

// Rank orders the active synapses ascending by score. Ties keep handle order.
func Rank(g *graph.Graph, score utility.ScoreFunc) ([]graph.SynapseID, []float64) {
	ids := g.ActiveSynapses()
	scores := score(g, ids)
	idx := make([]int, len(ids))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })

	rankedIDs := make([]graph.SynapseID, len(ids))
	rankedScores := make([]float64, len(ids))
	for i, j := range idx {
		rankedIDs[i] = ids[j]
		rankedScores[i] = scores[j]
	}
	return rankedIDs, rankedScores
}

// Prune disables the lowest ranked active synapses of g until the active
// count reaches max(target, g.MinSynapsesToKeep()). Every candidate is taken
// together with its cascade; a candidate whose cascade would overshoot the
// bound or leave an output neuron without inputs is skipped and the next one
// is tried. The sweep visits each candidate once in rank order, so it can
// stop above the bound when another selection would have reached it. The
// pass is committed atomically.
func Prune(g *graph.Graph, strategy Strategy, target int, rng *rand.Rand) (Result, error) {
	if !g.Sealed() {
		return Result{}, graph.ErrNotSealed
	}
	score, err := strategy.Scorer(rng)
	if err != nil {
		return Result{}, err
	}

	bound := target
	if floor := g.MinSynapsesToKeep(); bound < floor {
		bound = floor
	}
	res := Result{
		Strategy: strategy,
		Target:   target,
		Bound:    bound,
		Before:   g.ActiveCount(),
		After:    g.ActiveCount(),
	}
	if res.Before <= bound {
		res.NoOp = true
		return res, nil
	}

	ranked, _ := Rank(g, score)
	plan := g.NewPlan()
	for _, id := range ranked {
		if plan.Remaining() <= bound {
			break
		}
		closure, err := plan.Preview(id)
		if err != nil {
			if errors.Is(err, graph.ErrStructuralInvariant) {
				res.Skipped++
				continue
			}
			return Result{}, err
		}
		if closure.Empty() {
			continue
		}
		if plan.Remaining()-len(closure.Synapses) < bound {
			res.Skipped++
			continue
		}
		plan.Accept(closure)
		res.Ranked = append(res.Ranked, id)
		res.Cascaded = append(res.Cascaded, closure.Synapses[1:]...)
		res.DeadNeurons = append(res.DeadNeurons, closure.Neurons...)
	}

	if _, err := g.Commit(plan); err != nil {
		return Result{}, fmt.Errorf("commit %s pass: %w", strategy, err)
	}
	res.After = g.ActiveCount()
	return res, nil
}
