package storage

import (
	"context"
	"sort"
	"sync"

	"prunenet/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	networks    map[string]model.NetworkSnapshot
	events      map[string][]model.PruneEvent
	metrics     map[string][]model.StepMetrics
	summaries   map[string]model.RunSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.networks = make(map[string]model.NetworkSnapshot)
	s.events = make(map[string][]model.PruneEvent)
	s.metrics = make(map[string][]model.StepMetrics)
	s.summaries = make(map[string]model.RunSummary)
	return nil
}

func (s *MemoryStore) SaveNetwork(_ context.Context, snapshot model.NetworkSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.networks[snapshot.ID] = copySnapshot(snapshot)
	return nil
}

func (s *MemoryStore) GetNetwork(_ context.Context, id string) (model.NetworkSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.networks[id]
	if !ok {
		return model.NetworkSnapshot{}, false, nil
	}
	return copySnapshot(snapshot), true, nil
}

func (s *MemoryStore) SavePruneEvents(_ context.Context, runID string, events []model.PruneEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[runID] = copyEvents(events)
	return nil
}

func (s *MemoryStore) GetPruneEvents(_ context.Context, runID string) ([]model.PruneEvent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, ok := s.events[runID]
	if !ok {
		return nil, false, nil
	}
	return copyEvents(events), true, nil
}

func (s *MemoryStore) SaveStepMetrics(_ context.Context, runID string, metrics []model.StepMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.StepMetrics, len(metrics))
	copy(copied, metrics)
	s.metrics[runID] = copied
	return nil
}

func (s *MemoryStore) GetStepMetrics(_ context.Context, runID string) ([]model.StepMetrics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metrics, ok := s.metrics[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.StepMetrics, len(metrics))
	copy(copied, metrics)
	return copied, true, nil
}

func (s *MemoryStore) SaveRunSummary(_ context.Context, summary model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summaries[summary.RunID] = summary
	return nil
}

func (s *MemoryStore) GetRunSummary(_ context.Context, runID string) (model.RunSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.summaries[runID]
	return summary, ok, nil
}

func (s *MemoryStore) ListRunSummaries(_ context.Context) ([]model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunSummary, 0, len(s.summaries))
	for _, summary := range s.summaries {
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out, nil
}

func copySnapshot(snapshot model.NetworkSnapshot) model.NetworkSnapshot {
	snapshot.LayerSizes = append([]int(nil), snapshot.LayerSizes...)
	snapshot.Neurons = append([]model.Neuron(nil), snapshot.Neurons...)
	snapshot.Synapses = append([]model.Synapse(nil), snapshot.Synapses...)
	return snapshot
}

func copyEvents(events []model.PruneEvent) []model.PruneEvent {
	copied := make([]model.PruneEvent, 0, len(events))
	for _, event := range events {
		event.RemovedSynapseID = append([]int(nil), event.RemovedSynapseID...)
		copied = append(copied, event)
	}
	return copied
}
