package schedule

import "testing"

func scenarioParams() Params {
	return Params{TotalInitialSynapses: 12, MinSynapsesToKeep: 6, StartPruningAt: 10, PruneInterval: 10}
}

func TestLinearPolicyScenario(t *testing.T) {
	policy, err := PolicyFromConfig("linear", 2, scenarioParams())
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	cases := []struct {
		step int
		want int
	}{
		{0, 12}, {9, 12}, {10, 10}, {19, 10}, {20, 8}, {30, 6}, {40, 6}, {1000, 6},
	}
	for _, tc := range cases {
		if got := policy.Target(tc.step); got != tc.want {
			t.Fatalf("target(%d): got=%d want=%d", tc.step, got, tc.want)
		}
	}
}

func TestPoliciesAreMonotoneAndIdempotent(t *testing.T) {
	params := Params{TotalInitialSynapses: 100, MinSynapsesToKeep: 17, StartPruningAt: 5, PruneInterval: 3}
	for _, name := range []string{"linear", "geometric", "constant"} {
		policy, err := PolicyFromConfig(name, 0, params)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		prev := policy.Target(0)
		for step := 1; step < 400; step++ {
			got := policy.Target(step)
			if got > prev {
				t.Fatalf("%s increased at step %d: %d -> %d", name, step, prev, got)
			}
			if got < params.MinSynapsesToKeep {
				t.Fatalf("%s dropped below floor at step %d: %d", name, step, got)
			}
			if again := policy.Target(step); again != got {
				t.Fatalf("%s not idempotent at step %d", name, step)
			}
			prev = got
		}
	}
}

func TestGeometricPolicyReachesFloor(t *testing.T) {
	policy, err := PolicyFromConfig("geometric", 0.5, Params{TotalInitialSynapses: 40, MinSynapsesToKeep: 8, StartPruningAt: 0, PruneInterval: 1})
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if got := policy.Target(0); got != 24 {
		t.Fatalf("first boundary: got=%d want=24", got)
	}
	if got := policy.Target(1); got != 16 {
		t.Fatalf("second boundary: got=%d want=16", got)
	}
	if got := policy.Target(20); got != 8 {
		t.Fatalf("late target: got=%d want=8", got)
	}
}

func TestShouldPrune(t *testing.T) {
	p := scenarioParams()
	for step, want := range map[int]bool{0: false, 5: false, 10: true, 15: false, 20: true, 30: true} {
		if got := p.ShouldPrune(step); got != want {
			t.Fatalf("should prune(%d): got=%v want=%v", step, got, want)
		}
	}
}

func TestPolicyFromConfigValidation(t *testing.T) {
	if _, err := PolicyFromConfig("linear", 0, Params{TotalInitialSynapses: 1, PruneInterval: 0}); err == nil {
		t.Fatal("expected interval validation error")
	}
	if _, err := PolicyFromConfig("geometric", 2, scenarioParams()); err == nil {
		t.Fatal("expected fraction validation error")
	}
	if _, err := PolicyFromConfig("cosine", 0, scenarioParams()); err == nil {
		t.Fatal("expected unsupported policy error")
	}
	if got := NormalizePolicyName(" Exponential "); got != PolicyGeometric {
		t.Fatalf("unexpected normalized name: %s", got)
	}
}
