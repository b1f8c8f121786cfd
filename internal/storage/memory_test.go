package storage

import (
	"context"
	"testing"

	"prunenet/internal/model"
)

func sampleSnapshot(id string) model.NetworkSnapshot {
	return model.NetworkSnapshot{
		VersionedRecord:      model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion},
		ID:                   id,
		HiddenActivation:     "relu",
		OutputActivation:     "linear",
		LayerSizes:           []int{1, 1},
		Neurons:              []model.Neuron{{ID: 0, Layer: 0, Alive: true}, {ID: 1, Layer: 1, Bias: 0.5, Alive: true}},
		Synapses:             []model.Synapse{{ID: 0, From: 0, To: 1, Weight: 1.25, Enabled: true}},
		TotalInitialSynapses: 1,
		MinSynapsesToKeep:    1,
	}
}

func TestMemoryStoreNetworkRoundTripIsolatesCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	snapshot := sampleSnapshot("net-1")
	if err := store.SaveNetwork(ctx, snapshot); err != nil {
		t.Fatalf("save network: %v", err)
	}
	snapshot.Synapses[0].Weight = 99

	loaded, ok, err := store.GetNetwork(ctx, "net-1")
	if err != nil {
		t.Fatalf("get network: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted network")
	}
	if loaded.Synapses[0].Weight != 1.25 {
		t.Fatalf("expected stored copy to be isolated, got weight %f", loaded.Synapses[0].Weight)
	}

	if _, ok, err := store.GetNetwork(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing network, got ok=%t err=%v", ok, err)
	}
}

func TestMemoryStorePruneEventsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	input := []model.PruneEvent{{Step: 10, Strategy: "weight_magnitude", Target: 10, Before: 12, After: 10, Ranked: 2, RemovedSynapseID: []int{0, 2}}}
	if err := store.SavePruneEvents(ctx, "run-1", input); err != nil {
		t.Fatalf("save events: %v", err)
	}
	input[0].RemovedSynapseID[0] = 7

	output, ok, err := store.GetPruneEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted prune events")
	}
	if len(output) != 1 || output[0].After != 10 || output[0].RemovedSynapseID[0] != 0 {
		t.Fatalf("unexpected events: %+v", output)
	}
}

func TestMemoryStoreStepMetricsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	input := []model.StepMetrics{
		{Step: 1, Loss: 0.5, RunningError: 0.5, ActiveSynapses: 12, LiveNeurons: 7},
		{Step: 2, Loss: 0.25, RunningError: 0.49875, ActiveSynapses: 12, LiveNeurons: 7},
	}
	if err := store.SaveStepMetrics(ctx, "run-1", input); err != nil {
		t.Fatalf("save metrics: %v", err)
	}
	output, ok, err := store.GetStepMetrics(ctx, "run-1")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted metrics")
	}
	if len(output) != len(input) || output[1].RunningError != input[1].RunningError {
		t.Fatalf("unexpected metrics: %+v", output)
	}
}

func TestMemoryStoreListRunSummariesSorted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, id := range []string{"run-b", "run-a", "run-c"} {
		if err := store.SaveRunSummary(ctx, model.RunSummary{RunID: id, Task: "xor"}); err != nil {
			t.Fatalf("save summary: %v", err)
		}
	}
	summaries, err := store.ListRunSummaries(ctx)
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	if len(summaries) != 3 || summaries[0].RunID != "run-a" || summaries[2].RunID != "run-c" {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
	summary, ok, err := store.GetRunSummary(ctx, "run-b")
	if err != nil || !ok || summary.Task != "xor" {
		t.Fatalf("unexpected summary lookup: %+v ok=%t err=%v", summary, ok, err)
	}
}
