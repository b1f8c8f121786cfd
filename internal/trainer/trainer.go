// Package trainer drives a dense network through an online task, updating
// utility estimates every step and pruning on schedule boundaries.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"prunenet/internal/dense"
	"prunenet/internal/graph"
	"prunenet/internal/model"
	"prunenet/internal/pruning"
	"prunenet/internal/task"
)

const (
	runningErrorDecay = 0.995
	accuracyThreshold = 0.5

	DefaultDropoutIterations = 10
	DefaultDropoutFraction   = 0.1
)

type Config struct {
	Steps    int
	Strategy pruning.Strategy

	DropoutIterations int
	DropoutFraction   float64

	// MetricsEvery records step metrics every N steps; the last step is
	// always recorded. Zero records every step.
	MetricsEvery int
}

func (c Config) Validate() error {
	if c.Steps <= 0 {
		return fmt.Errorf("steps must be > 0, got %d", c.Steps)
	}
	if !c.Strategy.Valid() {
		return fmt.Errorf("%w: %s", pruning.ErrInvalidPrunerName, c.Strategy)
	}
	if c.MetricsEvery < 0 {
		return fmt.Errorf("metrics interval must be >= 0, got %d", c.MetricsEvery)
	}
	if c.Strategy == pruning.DropoutUtility {
		if c.DropoutIterations <= 0 {
			return fmt.Errorf("dropout iterations must be > 0, got %d", c.DropoutIterations)
		}
		if c.DropoutFraction <= 0 || c.DropoutFraction > 1 {
			return fmt.Errorf("dropout fraction must be in (0,1], got %v", c.DropoutFraction)
		}
	}
	return nil
}

type Result struct {
	Steps             int
	FinalLoss         float64
	FinalRunningError float64
	// FinalRunningAccuracy is only tracked for tasks with 0/1 targets.
	FinalRunningAccuracy float64
	Events               []model.PruneEvent
	Metrics              []model.StepMetrics
}

// Observer is called after every prune event; a non-nil error stops the run.
type Observer func(ctx context.Context, event model.PruneEvent) error

// Run trains net on t for cfg.Steps steps. Each step runs forward, backward
// and the weight update, refreshes the estimate the strategy ranks by, and
// prunes when the step is a schedule boundary. Samples are drawn from rng.
func Run(ctx context.Context, net *dense.Network, t task.Task, rng *rand.Rand, cfg Config, observe Observer) (Result, error) {
	if net == nil || net.Graph() == nil {
		return Result{}, dense.ErrNoGraph
	}
	if t == nil {
		return Result{}, errors.New("task is required")
	}
	if rng == nil {
		return Result{}, errors.New("random source is required")
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	g := net.Graph()
	if t.InputSize() != g.InputSize() || t.OutputSize() != g.OutputSize() {
		return Result{}, fmt.Errorf("%w: task %s is %dx%d, network is %dx%d",
			graph.ErrDimensionMismatch, t.Name(), t.InputSize(), t.OutputSize(), g.InputSize(), g.OutputSize())
	}

	binary := task.IsBinary(t)
	var res Result
	for step := 1; step <= cfg.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		sample := t.Sample(rng)
		if err := net.Forward(sample.Input); err != nil {
			return res, fmt.Errorf("step %d forward: %w", step, err)
		}
		prediction := append([]float64(nil), net.Predictions()...)
		loss := squaredError(prediction, sample.Target)

		if err := net.Backward(sample.Target); err != nil {
			return res, fmt.Errorf("step %d backward: %w", step, err)
		}
		if err := net.UpdateWeights(); err != nil {
			return res, fmt.Errorf("step %d update: %w", step, err)
		}
		if err := net.UpdateEstimates(cfg.Strategy, sample.Input, prediction, cfg.DropoutIterations, cfg.DropoutFraction); err != nil {
			return res, fmt.Errorf("step %d estimates: %w", step, err)
		}

		if step == 1 {
			res.FinalRunningError = loss
		} else {
			res.FinalRunningError = runningErrorDecay*res.FinalRunningError + (1-runningErrorDecay)*loss
		}
		if binary {
			hit := thresholdAccuracy(prediction, sample.Target)
			if step == 1 {
				res.FinalRunningAccuracy = hit
			} else {
				res.FinalRunningAccuracy = runningErrorDecay*res.FinalRunningAccuracy + (1-runningErrorDecay)*hit
			}
		}
		res.FinalLoss = loss
		res.Steps = step

		if net.ShouldPrune(step) {
			pruned, err := net.Prune(cfg.Strategy, step)
			if err != nil {
				return res, fmt.Errorf("step %d prune: %w", step, err)
			}
			if pruned.Removed() > 0 {
				event := EventFromResult(step, pruned)
				res.Events = append(res.Events, event)
				if observe != nil {
					if err := observe(ctx, event); err != nil {
						return res, err
					}
				}
			}
		}

		if cfg.MetricsEvery <= 1 || step%cfg.MetricsEvery == 0 || step == cfg.Steps {
			res.Metrics = append(res.Metrics, model.StepMetrics{
				Step:            step,
				Loss:            loss,
				RunningError:    res.FinalRunningError,
				RunningAccuracy: res.FinalRunningAccuracy,
				ActiveSynapses:  g.ActiveCount(),
				LiveNeurons:     g.LiveNeurons(),
			})
		}
	}
	return res, nil
}

// EventFromResult converts a pruning pass into its persisted form.
func EventFromResult(step int, res pruning.Result) model.PruneEvent {
	removed := make([]int, 0, len(res.Ranked)+len(res.Cascaded))
	for _, id := range res.Ranked {
		removed = append(removed, int(id))
	}
	for _, id := range res.Cascaded {
		removed = append(removed, int(id))
	}
	return model.PruneEvent{
		Step:             step,
		Strategy:         res.Strategy.String(),
		Target:           res.Target,
		Before:           res.Before,
		After:            res.After,
		Ranked:           len(res.Ranked),
		Cascaded:         len(res.Cascaded),
		DeadNeurons:      len(res.DeadNeurons),
		RemovedSynapseID: removed,
	}
}

func squaredError(prediction, target []float64) float64 {
	var sum float64
	for i := range prediction {
		d := prediction[i] - target[i]
		sum += d * d
	}
	return sum / float64(len(prediction))
}

// thresholdAccuracy is 1 when every output thresholded at 0.5 matches its
// target, else 0.
func thresholdAccuracy(prediction, target []float64) float64 {
	for i := range prediction {
		if (prediction[i] >= accuracyThreshold) != (target[i] >= accuracyThreshold) {
			return 0
		}
	}
	return 1
}
