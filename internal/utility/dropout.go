package utility

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"prunenet/internal/graph"
)

// DropoutEstimator measures how much the output moves when random subsets of
// active synapses are silenced. The masks are drawn sequentially from Rand so
// results are reproducible for a seed; the masked passes themselves run on up
// to Workers goroutines and are combined in mask order.
type DropoutEstimator struct {
	Rand       *rand.Rand
	Iterations int
	Fraction   float64
	Decay      float64
	Workers    int
}

// DropoutReport summarises one Update call.
type DropoutReport struct {
	Iterations      int
	SilencedTotal   int
	MeanDegradation float64
}

// Update runs Iterations masked passes on input and compares them with
// normal, the unmasked prediction for the same input. Each silenced synapse is
// credited with the observed degradation in proportion to its share of the
// silenced contribution |source activation * weight|, so a synapse that
// contributes nothing is never credited. Per synapse, credits are averaged
// over the masks that silenced it and decayed into DropoutUtility.
func (e DropoutEstimator) Update(g *graph.Graph, input, normal []float64) (DropoutReport, error) {
	if e.Rand == nil {
		return DropoutReport{}, errors.New("random source is required")
	}
	if e.Iterations <= 0 {
		return DropoutReport{}, fmt.Errorf("dropout iterations must be > 0, got %d", e.Iterations)
	}
	if e.Fraction < 0 || e.Fraction > 1 {
		return DropoutReport{}, fmt.Errorf("dropout fraction must be in [0,1], got %v", e.Fraction)
	}
	if err := ValidateDecay(e.Decay); err != nil {
		return DropoutReport{}, err
	}
	if len(normal) != g.OutputSize() {
		return DropoutReport{}, fmt.Errorf("%w: got %d predictions, output layer has %d neurons", graph.ErrDimensionMismatch, len(normal), g.OutputSize())
	}

	values, err := g.EvaluateNeurons(input, nil)
	if err != nil {
		return DropoutReport{}, err
	}
	active := g.ActiveSynapses()
	contrib := make([]float64, len(active))
	for i, id := range active {
		s := g.Synapse(id)
		contrib[i] = math.Abs(values[s.Source] * s.Weight)
	}

	masks := make([][]int, e.Iterations)
	for it := range masks {
		for i := range active {
			if e.Rand.Float64() < e.Fraction {
				masks[it] = append(masks[it], i)
			}
		}
	}

	degradation := make([]float64, e.Iterations)
	var group errgroup.Group
	if e.Workers > 0 {
		group.SetLimit(e.Workers)
	}
	for it := range masks {
		it := it
		group.Go(func() error {
			silenced := make([]bool, g.SynapseCount())
			for _, i := range masks[it] {
				silenced[active[i]] = true
			}
			out, err := g.Evaluate(input, silenced)
			if err != nil {
				return err
			}
			total := 0.0
			for k := range out {
				total += math.Abs(out[k] - normal[k])
			}
			degradation[it] = total
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return DropoutReport{}, err
	}

	credit := make([]float64, len(active))
	counts := make([]int, len(active))
	report := DropoutReport{Iterations: e.Iterations}
	for it, mask := range masks {
		report.SilencedTotal += len(mask)
		report.MeanDegradation += degradation[it]
		silencedContrib := 0.0
		for _, i := range mask {
			silencedContrib += contrib[i]
		}
		for _, i := range mask {
			counts[i]++
			if silencedContrib > 0 {
				credit[i] += degradation[it] * contrib[i] / silencedContrib
			}
		}
	}
	report.MeanDegradation /= float64(e.Iterations)

	for i, id := range active {
		if counts[i] == 0 {
			continue
		}
		s := g.Synapse(id)
		s.DropoutUtility = decayed(s.DropoutUtility, e.Decay, credit[i]/float64(counts[i]))
	}
	return report, nil
}
