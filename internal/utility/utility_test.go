package utility

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"prunenet/internal/graph"
)

// newNet builds a 2-2-1 linear network.
// Synapses: 0:0->2 1:1->2 2:0->3 3:1->3 4:2->4 5:3->4.
func newNet(t *testing.T, weights [6]float64) *graph.Graph {
	t.Helper()
	g, err := graph.New([]int{2, 2, 1}, "linear")
	if err != nil {
		t.Fatalf("new graph: %v", err)
	}
	pairs := [][2]graph.NeuronID{{0, 2}, {1, 2}, {0, 3}, {1, 3}, {2, 4}, {3, 4}}
	for i, p := range pairs {
		if _, err := g.Connect(p[0], p[1], weights[i]); err != nil {
			t.Fatalf("connect: %v", err)
		}
	}
	if err := g.Seal(1); err != nil {
		t.Fatalf("seal: %v", err)
	}
	return g
}

func TestValidateDecay(t *testing.T) {
	for _, d := range []float64{0, 1, -0.1, 1.5, math.NaN()} {
		if err := ValidateDecay(d); err == nil {
			t.Fatalf("expected error for decay %v", d)
		}
	}
	if err := ValidateDecay(0.9); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdateActivationTraces(t *testing.T) {
	g := newNet(t, [6]float64{2, -1, 0, 0.5, 1, 1})
	if err := g.Forward([]float64{3, 1}); err != nil {
		t.Fatalf("forward: %v", err)
	}
	UpdateActivationTraces(g, 0.5)
	if got := g.Synapse(0).ActivationTrace; got != 3 {
		t.Fatalf("unexpected trace: %f", got)
	}
	if got := g.Synapse(1).ActivationTrace; got != 0.5 {
		t.Fatalf("unexpected trace for negative weight: %f", got)
	}
	UpdateActivationTraces(g, 0.5)
	if got := g.Synapse(0).ActivationTrace; got != 4.5 {
		t.Fatalf("unexpected second trace: %f", got)
	}
}

func TestUpdateGradientTracesUsesLastGradient(t *testing.T) {
	g := newNet(t, [6]float64{1, 1, 1, 1, 1, 1})
	g.Synapse(2).LastGradient = -4
	UpdateGradientTraces(g, 0.5)
	if got := g.Synapse(2).GradientTrace; got != 2 {
		t.Fatalf("unexpected gradient trace: %f", got)
	}
	if got := g.Synapse(0).GradientTrace; got != 0 {
		t.Fatalf("unexpected gradient trace for zero gradient: %f", got)
	}
}

func TestTracesSkipDisabledSynapses(t *testing.T) {
	g := newNet(t, [6]float64{1, 1, 1, 1, 1, 1})
	if _, err := g.Disable(0); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := g.Forward([]float64{1, 1}); err != nil {
		t.Fatalf("forward: %v", err)
	}
	UpdateActivationTraces(g, 0.5)
	if got := g.Synapse(0).ActivationTrace; got != 0 {
		t.Fatalf("disabled synapse trace changed: %f", got)
	}
}

func TestUtilityPropagationDevaluesSynapsesIntoIgnoredNeuron(t *testing.T) {
	g := newNet(t, [6]float64{5, 5, 1, 1, 0, 1})
	if err := g.Forward([]float64{1, 1}); err != nil {
		t.Fatalf("forward: %v", err)
	}
	UpdateUtilityPropagation(g, 0.5)

	if got := g.Neuron(4).Utility; got != 1 {
		t.Fatalf("output utility: %f", got)
	}
	if got := g.Neuron(2).Utility; got != 0 {
		t.Fatalf("ignored neuron utility: %f", got)
	}
	if got := g.Neuron(3).Utility; math.Abs(got-1) > 1e-12 {
		t.Fatalf("used neuron utility: %f", got)
	}
	if got := g.Synapse(0).UtilityScore; got != 0 {
		t.Fatalf("synapse into ignored neuron should have zero utility, got %f", got)
	}
	if got := g.Synapse(2).UtilityScore; math.Abs(got-0.25) > 1e-12 {
		t.Fatalf("synapse into used neuron: got=%f want=0.25", got)
	}
	if got := g.Synapse(5).UtilityScore; math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("output synapse: got=%f want=0.5", got)
	}
}

func TestDropoutZeroWeightScoresZero(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		g := newNet(t, [6]float64{0.7, 0, -1.2, 0.4, 1.1, 0.9})
		input := []float64{0.8, 1.3}
		normal, err := g.Evaluate(input, nil)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		est := DropoutEstimator{Rand: rand.New(rand.NewSource(seed)), Iterations: 64, Fraction: 0.5, Decay: 0.9, Workers: 4}
		for round := 0; round < 5; round++ {
			if _, err := est.Update(g, input, normal); err != nil {
				t.Fatalf("update: %v", err)
			}
		}
		if got := g.Synapse(1).DropoutUtility; got != 0 {
			t.Fatalf("seed %d: zero-weight synapse scored %f", seed, got)
		}
		if got := g.Synapse(5).DropoutUtility; got <= 0 {
			t.Fatalf("seed %d: output synapse should matter, got %f", seed, got)
		}
	}
}

func TestDropoutIsDeterministicAcrossWorkerCounts(t *testing.T) {
	run := func(workers int) []float64 {
		g := newNet(t, [6]float64{0.7, -0.3, -1.2, 0.4, 1.1, 0.9})
		input := []float64{0.5, -0.25}
		normal, _ := g.Evaluate(input, nil)
		est := DropoutEstimator{Rand: rand.New(rand.NewSource(42)), Iterations: 32, Fraction: 0.3, Decay: 0.8, Workers: workers}
		if _, err := est.Update(g, input, normal); err != nil {
			t.Fatalf("update: %v", err)
		}
		out := make([]float64, g.SynapseCount())
		for i := range out {
			out[i] = g.Synapse(graph.SynapseID(i)).DropoutUtility
		}
		return out
	}
	serial := run(1)
	parallel := run(8)
	for i := range serial {
		if serial[i] != parallel[i] {
			t.Fatalf("synapse %d: serial=%f parallel=%f", i, serial[i], parallel[i])
		}
	}
}

func TestDropoutValidation(t *testing.T) {
	g := newNet(t, [6]float64{1, 1, 1, 1, 1, 1})
	rng := rand.New(rand.NewSource(1))
	cases := []DropoutEstimator{
		{Iterations: 1, Fraction: 0.5, Decay: 0.5},
		{Rand: rng, Iterations: 0, Fraction: 0.5, Decay: 0.5},
		{Rand: rng, Iterations: 1, Fraction: 1.5, Decay: 0.5},
		{Rand: rng, Iterations: 1, Fraction: 0.5, Decay: 1},
	}
	for i, est := range cases {
		if _, err := est.Update(g, []float64{1, 1}, []float64{1}); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	est := DropoutEstimator{Rand: rng, Iterations: 1, Fraction: 0.5, Decay: 0.5}
	if _, err := est.Update(g, []float64{1, 1}, []float64{1, 2}); !errors.Is(err, graph.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch for predictions, got: %v", err)
	}
	if _, err := est.Update(g, []float64{1}, []float64{1}); !errors.Is(err, graph.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch for inputs, got: %v", err)
	}
}

func TestScoreFuncs(t *testing.T) {
	g := newNet(t, [6]float64{-3, 1, 2, -0.5, 1, 1})
	ids := []graph.SynapseID{0, 3}
	got := WeightMagnitudeScores(g, ids)
	if got[0] != 3 || got[1] != 0.5 {
		t.Fatalf("unexpected magnitude scores: %+v", got)
	}

	random := RandomScores(rand.New(rand.NewSource(3)))
	a := random(g, ids)
	b := random(g, ids)
	if a[0] == b[0] && a[1] == b[1] {
		t.Fatal("random scores should be redrawn per call")
	}
}
