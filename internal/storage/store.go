package storage

import (
	"context"

	"prunenet/internal/model"
)

// Store persists network snapshots and the history of training runs.
type Store interface {
	Init(ctx context.Context) error
	SaveNetwork(ctx context.Context, snapshot model.NetworkSnapshot) error
	GetNetwork(ctx context.Context, id string) (model.NetworkSnapshot, bool, error)
	SavePruneEvents(ctx context.Context, runID string, events []model.PruneEvent) error
	GetPruneEvents(ctx context.Context, runID string) ([]model.PruneEvent, bool, error)
	SaveStepMetrics(ctx context.Context, runID string, metrics []model.StepMetrics) error
	GetStepMetrics(ctx context.Context, runID string) ([]model.StepMetrics, bool, error)
	SaveRunSummary(ctx context.Context, summary model.RunSummary) error
	GetRunSummary(ctx context.Context, runID string) (model.RunSummary, bool, error)
	ListRunSummaries(ctx context.Context) ([]model.RunSummary, error)
}
