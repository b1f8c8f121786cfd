package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	api "prunenet/pkg/prunenet"
)

func loadTrainRequestFromConfig(path string) (api.TrainRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.TrainRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return api.TrainRequest{}, err
	}

	req := api.TrainRequest{MinSynapsesToKeep: -1}
	if v, ok := asString(raw["run_id"]); ok {
		req.RunID = v
	}
	if v, ok := asString(raw["task"]); ok {
		req.Task = v
	}
	if v, ok := asInt(raw["task_inputs"]); ok {
		req.TaskInputs = v
	}
	if v, ok := asString(raw["data_path"]); ok {
		req.DataPath = v
	}
	if v, ok := asString(raw["model_path"]); ok {
		req.ModelPath = v
	}
	if v, ok := raw["layer_sizes"].([]any); ok {
		sizes := make([]int, 0, len(v))
		for _, item := range v {
			size, ok := asInt(item)
			if !ok {
				return api.TrainRequest{}, fmt.Errorf("layer_sizes must be integers, got %v", item)
			}
			sizes = append(sizes, size)
		}
		req.LayerSizes = sizes
	}
	if v, ok := asString(raw["hidden_activation"]); ok {
		req.HiddenActivation = v
	}
	if v, ok := asFloat64(raw["utility_to_keep"]); ok {
		req.UtilityToKeep = v
	}
	if v, ok := asString(raw["strategy"]); ok {
		req.Strategy = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asInt(raw["steps"]); ok {
		req.Steps = v
	}
	if v, ok := asFloat64(raw["step_size"]); ok {
		req.StepSize = v
	}
	if v, ok := asInt(raw["min_synapses_to_keep"]); ok {
		req.MinSynapsesToKeep = v
	}
	if v, ok := asInt(raw["prune_interval"]); ok {
		req.PruneInterval = v
	}
	if v, ok := asInt(raw["start_pruning_at"]); ok {
		req.StartPruningAt = v
	}
	if v, ok := asFloat64(raw["trace_decay_rate"]); ok {
		req.TraceDecayRate = v
	}
	if schedule, ok := raw["schedule"].(map[string]any); ok {
		if v, ok := asString(schedule["policy"]); ok {
			req.SchedulePolicy = v
		}
		if v, ok := asFloat64(schedule["param"]); ok {
			req.ScheduleParam = v
		}
	}
	if dropout, ok := raw["dropout"].(map[string]any); ok {
		if v, ok := asInt(dropout["iterations"]); ok {
			req.DropoutIterations = v
		}
		if v, ok := asFloat64(dropout["fraction"]); ok {
			req.DropoutFraction = v
		}
	}
	if v, ok := asInt(raw["workers"]); ok {
		req.Workers = v
	}
	if v, ok := asInt(raw["metrics_every"]); ok {
		req.MetricsEvery = v
	}
	return req, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func overrideFromFlags(req *api.TrainRequest, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "run-id":
			req.RunID = v.(string)
		case "task":
			req.Task = v.(string)
		case "inputs":
			req.TaskInputs = v.(int)
		case "data":
			req.DataPath = v.(string)
		case "model":
			req.ModelPath = v.(string)
		case "layers":
			sizes, err := parseLayerSizes(v.(string))
			if err != nil {
				return err
			}
			req.LayerSizes = sizes
		case "hidden":
			req.HiddenActivation = v.(string)
		case "utility-to-keep":
			req.UtilityToKeep = v.(float64)
		case "strategy":
			req.Strategy = v.(string)
		case "seed":
			req.Seed = v.(int64)
		case "steps":
			req.Steps = v.(int)
		case "step-size":
			req.StepSize = v.(float64)
		case "min-synapses":
			req.MinSynapsesToKeep = v.(int)
		case "prune-interval":
			req.PruneInterval = v.(int)
		case "start-pruning-at":
			req.StartPruningAt = v.(int)
		case "trace-decay":
			req.TraceDecayRate = v.(float64)
		case "schedule":
			req.SchedulePolicy = v.(string)
		case "schedule-param":
			req.ScheduleParam = v.(float64)
		case "dropout-iterations":
			req.DropoutIterations = v.(int)
		case "dropout-fraction":
			req.DropoutFraction = v.(float64)
		case "workers":
			req.Workers = v.(int)
		case "metrics-every":
			req.MetricsEvery = v.(int)
		default:
			return fmt.Errorf("unsupported override flag: %s", name)
		}
	}
	return nil
}

func loadOrDefaultTrainRequest(configPath string) (api.TrainRequest, error) {
	if configPath == "" {
		return api.TrainRequest{MinSynapsesToKeep: -1}, nil
	}
	req, err := loadTrainRequestFromConfig(configPath)
	if err != nil {
		return api.TrainRequest{}, fmt.Errorf("load train config: %w", err)
	}
	return req, nil
}

// parseLayerSizes reads "2,8,1". An empty string yields nil.
func parseLayerSizes(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	sizes := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid layer size %q: %w", part, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("layer sizes must be > 0, got %d", n)
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}
