package pruning

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"prunenet/internal/graph"
	"prunenet/internal/schedule"
)

// scenarioGraph is the 2-4-1 network with 12 synapses:
// s0..s7 connect inputs to hidden (dst-major), s8..s11 hidden to output.
func scenarioGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.New([]int{2, 4, 1}, "relu")
	if err != nil {
		t.Fatalf("new graph: %v", err)
	}
	weights := []float64{0.10, 1.1, -0.20, 1.2, 0.30, -1.3, -0.40, 1.4, 0.50, -0.60, 1.5, 1.6}
	k := 0
	for dst := graph.NeuronID(2); dst <= 5; dst++ {
		for src := graph.NeuronID(0); src <= 1; src++ {
			if _, err := g.Connect(src, dst, weights[k]); err != nil {
				t.Fatalf("connect: %v", err)
			}
			k++
		}
	}
	for src := graph.NeuronID(2); src <= 5; src++ {
		if _, err := g.Connect(src, 6, weights[k]); err != nil {
			t.Fatalf("connect: %v", err)
		}
		k++
	}
	if err := g.Seal(6); err != nil {
		t.Fatalf("seal: %v", err)
	}
	return g
}

func TestParseStrategy(t *testing.T) {
	cases := map[string]Strategy{
		"weight_magnitude":                          WeightMagnitude,
		"prune_using_weight_magnitude_pruner":       WeightMagnitude,
		"prune_using_dropout_utility_estimator":     DropoutUtility,
		"prune_using_utility_propoagation":          UtilityPropagation,
		"prune_using_trace_of_activation_magnitude": ActivationTrace,
		"prune_using_trace_of_gradient":             GradientTrace,
		"prune_using_random_pruner":                 Random,
		" Random ":                                  Random,
		"utility-propagation":                       UtilityPropagation,
	}
	for name, want := range cases {
		got, err := ParseStrategy(name)
		if err != nil {
			t.Fatalf("parse %q: %v", name, err)
		}
		if got != want {
			t.Fatalf("parse %q: got=%s want=%s", name, got, want)
		}
	}
	if _, err := ParseStrategy("lottery"); !errors.Is(err, ErrInvalidPrunerName) {
		t.Fatalf("expected ErrInvalidPrunerName, got: %v", err)
	}
	for _, s := range Strategies() {
		parsed, err := ParseStrategy(s.String())
		if err != nil || parsed != s {
			t.Fatalf("round trip %s failed: %v", s, err)
		}
	}
}

func TestWeightMagnitudeScenario(t *testing.T) {
	g := scenarioGraph(t)
	policy, err := schedule.PolicyFromConfig("linear", 2, schedule.Params{
		TotalInitialSynapses: g.TotalInitialSynapses(),
		MinSynapsesToKeep:    g.MinSynapsesToKeep(),
		StartPruningAt:       10,
		PruneInterval:        10,
	})
	if err != nil {
		t.Fatalf("policy: %v", err)
	}

	steps := []struct {
		step    int
		active  int
		removed []graph.SynapseID
	}{
		{10, 10, []graph.SynapseID{0, 2}},
		{20, 8, []graph.SynapseID{4, 6}},
		{30, 6, []graph.SynapseID{8, 9}},
		{40, 6, nil},
	}
	for _, tc := range steps {
		res, err := Prune(g, WeightMagnitude, policy.Target(tc.step), nil)
		if err != nil {
			t.Fatalf("step %d: %v", tc.step, err)
		}
		if g.ActiveCount() != tc.active {
			t.Fatalf("step %d: active=%d want=%d", tc.step, g.ActiveCount(), tc.active)
		}
		if len(res.Ranked) != len(tc.removed) {
			t.Fatalf("step %d: removed %+v want %+v", tc.step, res.Ranked, tc.removed)
		}
		for i := range tc.removed {
			if res.Ranked[i] != tc.removed[i] {
				t.Fatalf("step %d: removed %+v want %+v", tc.step, res.Ranked, tc.removed)
			}
		}
		if len(res.Cascaded) != 0 {
			t.Fatalf("step %d: unexpected cascade %+v", tc.step, res.Cascaded)
		}
	}
}

func TestPruneTwiceIsNoOp(t *testing.T) {
	g := scenarioGraph(t)
	if _, err := Prune(g, WeightMagnitude, 9, nil); err != nil {
		t.Fatalf("first prune: %v", err)
	}
	before := g.ActiveSynapses()
	res, err := Prune(g, WeightMagnitude, 9, nil)
	if err != nil {
		t.Fatalf("second prune: %v", err)
	}
	if !res.NoOp || res.Removed() != 0 {
		t.Fatalf("second prune changed the graph: %+v", res)
	}
	after := g.ActiveSynapses()
	if len(before) != len(after) {
		t.Fatalf("active set changed: %v -> %v", before, after)
	}
}

func TestPruneNeverCrossesFloor(t *testing.T) {
	g := scenarioGraph(t)
	res, err := Prune(g, WeightMagnitude, 0, nil)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if g.ActiveCount() != 6 || res.Bound != 6 {
		t.Fatalf("floor not respected: active=%d bound=%d", g.ActiveCount(), res.Bound)
	}
}

func TestWeightMagnitudeOrderingProperty(t *testing.T) {
	checked := 0
	for seed := int64(1); seed <= 20; seed++ {
		g, err := graph.FullyConnected([]int{6, 5, 2}, "relu", rand.New(rand.NewSource(seed)))
		if err != nil {
			t.Fatalf("fully connected: %v", err)
		}
		if err := g.Seal(4); err != nil {
			t.Fatalf("seal: %v", err)
		}
		res, err := Prune(g, WeightMagnitude, 25, nil)
		if err != nil {
			t.Fatalf("seed %d: prune: %v", seed, err)
		}
		if res.Skipped > 0 {
			continue
		}
		checked++
		maxPruned := 0.0
		for _, id := range res.Ranked {
			maxPruned = math.Max(maxPruned, math.Abs(g.Synapse(id).Weight))
		}
		for _, id := range g.ActiveSynapses() {
			if w := math.Abs(g.Synapse(id).Weight); w < maxPruned {
				t.Fatalf("seed %d: enabled synapse %d |w|=%f below pruned max %f", seed, id, w, maxPruned)
			}
		}
	}
	if checked == 0 {
		t.Fatal("no seed produced a skip-free pass")
	}
}

func TestRandomPrunerCountsMatchScheduleAndIdentitiesVary(t *testing.T) {
	seen := make(map[graph.SynapseID]bool)
	for seed := int64(1); seed <= 10; seed++ {
		g := scenarioGraph(t)
		rng := rand.New(rand.NewSource(seed))
		res, err := Prune(g, Random, 10, rng)
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		if g.ActiveCount() != 10 {
			t.Fatalf("seed %d: active=%d want=10", seed, g.ActiveCount())
		}
		for _, id := range res.Ranked {
			seen[id] = true
		}
	}
	if len(seen) <= 2 {
		t.Fatalf("random pruner always picked the same synapses: %v", seen)
	}
}

func TestRandomPrunerIsReproducibleForSeed(t *testing.T) {
	pick := func() []graph.SynapseID {
		g := scenarioGraph(t)
		res, err := Prune(g, Random, 8, rand.New(rand.NewSource(99)))
		if err != nil {
			t.Fatalf("prune: %v", err)
		}
		return res.Ranked
	}
	a, b := pick(), pick()
	if len(a) != len(b) {
		t.Fatalf("different victim counts: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("different victims for same seed: %v vs %v", a, b)
		}
	}
}

// cascadeGraph: inputs 0,1; hidden 2,3; output 4.
// s0:0->2 s1:1->2 s2:0->3 s3:1->3 s4:2->4 s5:3->4
func cascadeGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.New([]int{2, 2, 1}, "relu")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	conns := []struct {
		src, dst graph.NeuronID
		w        float64
	}{
		{0, 2, 0.1}, {1, 2, 0.2}, {0, 3, 2}, {1, 3, 3}, {2, 4, 5}, {3, 4, 6},
	}
	for _, c := range conns {
		if _, err := g.Connect(c.src, c.dst, c.w); err != nil {
			t.Fatalf("connect: %v", err)
		}
	}
	if err := g.Seal(0); err != nil {
		t.Fatalf("seal: %v", err)
	}
	return g
}

func TestPruneCascadesNeuronRemoval(t *testing.T) {
	g := cascadeGraph(t)
	res, err := Prune(g, WeightMagnitude, 3, nil)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if g.ActiveCount() != 3 {
		t.Fatalf("active=%d want=3", g.ActiveCount())
	}
	if len(res.Cascaded) != 1 || res.Cascaded[0] != 4 {
		t.Fatalf("unexpected cascade: %+v", res.Cascaded)
	}
	if len(res.DeadNeurons) != 1 || res.DeadNeurons[0] != 2 || g.Neuron(2).Alive {
		t.Fatalf("unexpected dead neurons: %+v", res.DeadNeurons)
	}
}

func TestPruneSkipsCascadeThatOvershoots(t *testing.T) {
	g := cascadeGraph(t)
	res, err := Prune(g, WeightMagnitude, 4, nil)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if g.ActiveCount() != 4 {
		t.Fatalf("active=%d want=4", g.ActiveCount())
	}
	// s1 would take s4 with it and overshoot, so s2 is taken instead.
	if res.Skipped != 1 || len(res.Ranked) != 2 || res.Ranked[0] != 0 || res.Ranked[1] != 2 {
		t.Fatalf("unexpected pass: %+v", res)
	}
	for _, n := range g.Layers()[1] {
		if !g.Neuron(n).Alive {
			t.Fatalf("neuron %d should still be alive", n)
		}
	}
}

// Inputs 0,1; hidden 2,3; output 4 with two direct inputs.
// s0:0->2 s1:1->3 s2:2->4 s3:3->4 s4:0->4 s5:1->4
func TestPruneSweepCanStopAboveBound(t *testing.T) {
	g, err := graph.New([]int{2, 2, 1}, "relu")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	conns := []struct {
		src, dst graph.NeuronID
		w        float64
	}{
		{0, 2, 0.1}, {1, 3, 0.5}, {2, 4, 0.2}, {3, 4, 0.6}, {0, 4, 0.3}, {1, 4, 0.4},
	}
	for _, c := range conns {
		if _, err := g.Connect(c.src, c.dst, c.w); err != nil {
			t.Fatalf("connect: %v", err)
		}
	}
	if err := g.Seal(0); err != nil {
		t.Fatalf("seal: %v", err)
	}

	// Dropping s0, s1 and s5 would reach one synapse, but the sweep takes the
	// direct inputs s4 and s5 first and s1 or s3 would then cut the output off.
	res, err := Prune(g, WeightMagnitude, 1, nil)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if g.ActiveCount() != 2 || res.After != 2 || res.Bound != 1 {
		t.Fatalf("expected the sweep to stop at 2 active, got active=%d %+v", g.ActiveCount(), res)
	}
	if res.Skipped != 2 || len(res.Ranked) != 3 || res.Ranked[0] != 0 || res.Ranked[1] != 4 || res.Ranked[2] != 5 {
		t.Fatalf("unexpected pass: %+v", res)
	}

	again, err := Prune(g, WeightMagnitude, 1, nil)
	if err != nil {
		t.Fatalf("second prune: %v", err)
	}
	if again.After != 2 || len(again.Ranked) != 0 {
		t.Fatalf("expected a repeated pass to make no progress, got %+v", again)
	}
}

func TestPruneNeverDisconnectsOutput(t *testing.T) {
	g, err := graph.New([]int{2, 1}, "linear")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for src := graph.NeuronID(0); src < 2; src++ {
		if _, err := g.Connect(src, 2, float64(src+1)); err != nil {
			t.Fatalf("connect: %v", err)
		}
	}
	if err := g.Seal(0); err != nil {
		t.Fatalf("seal: %v", err)
	}
	res, err := Prune(g, WeightMagnitude, 0, nil)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if g.ActiveCount() != 1 || res.Skipped != 1 {
		t.Fatalf("unexpected pass: active=%d %+v", g.ActiveCount(), res)
	}
}

func TestPruneRequiresSealedGraph(t *testing.T) {
	g, err := graph.New([]int{1, 1}, "linear")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := Prune(g, WeightMagnitude, 0, nil); !errors.Is(err, graph.ErrNotSealed) {
		t.Fatalf("expected ErrNotSealed, got: %v", err)
	}
}

func TestPruneRejectsUnknownStrategy(t *testing.T) {
	g := scenarioGraph(t)
	if _, err := Prune(g, Strategy(99), 8, nil); !errors.Is(err, ErrInvalidPrunerName) {
		t.Fatalf("expected ErrInvalidPrunerName, got: %v", err)
	}
	if g.ActiveCount() != 12 {
		t.Fatal("graph changed on invalid strategy")
	}
	if _, err := Prune(g, Random, 8, nil); err == nil {
		t.Fatal("expected error for random pruner without rng")
	}
}

func TestRankIsStableOnTies(t *testing.T) {
	g := scenarioGraph(t)
	flat := func(_ *graph.Graph, ids []graph.SynapseID) []float64 { return make([]float64, len(ids)) }
	ranked, _ := Rank(g, flat)
	for i := range ranked {
		if ranked[i] != graph.SynapseID(i) {
			t.Fatalf("ties should keep handle order: %v", ranked)
		}
	}
}
