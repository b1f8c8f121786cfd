package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"prunenet/internal/model"
)

const (
	runIndexFile = "run_index.json"

	configFile      = "config.json"
	summaryFile     = "summary.json"
	pruneEventsFile = "prune_events.csv"
	metricsFile     = "metrics.csv"
	networkFile     = "network.json"
)

// RunConfig is everything needed to repeat a run.
type RunConfig struct {
	RunID             string  `json:"run_id"`
	Task              string  `json:"task"`
	TaskInputs        int     `json:"task_inputs,omitempty"`
	DataPath          string  `json:"data_path,omitempty"`
	ModelPath         string  `json:"model_path,omitempty"`
	LayerSizes        []int   `json:"layer_sizes,omitempty"`
	HiddenActivation  string  `json:"hidden_activation"`
	UtilityToKeep     float64 `json:"utility_to_keep,omitempty"`
	Strategy          string  `json:"strategy"`
	Seed              int64   `json:"seed"`
	Steps             int     `json:"steps"`
	StepSize          float64 `json:"step_size"`
	MinSynapsesToKeep int     `json:"min_synapses_to_keep"`
	PruneInterval     int     `json:"prune_interval"`
	StartPruningAt    int     `json:"start_pruning_at"`
	TraceDecayRate    float64 `json:"trace_decay_rate"`
	SchedulePolicy    string  `json:"schedule_policy"`
	ScheduleParam     float64 `json:"schedule_param,omitempty"`
	DropoutIterations int     `json:"dropout_iterations,omitempty"`
	DropoutFraction   float64 `json:"dropout_fraction,omitempty"`
	Workers           int     `json:"workers"`
	MetricsEvery      int     `json:"metrics_every"`
}

type RunArtifacts struct {
	Config  RunConfig
	Summary model.RunSummary
	Events  []model.PruneEvent
	Metrics []model.StepMetrics
	Network *model.NetworkSnapshot
}

type RunIndexEntry struct {
	RunID                string  `json:"run_id"`
	Task                 string  `json:"task"`
	Strategy             string  `json:"strategy"`
	Seed                 int64   `json:"seed"`
	Steps                int     `json:"steps"`
	InitialSynapses      int     `json:"initial_synapses"`
	FinalActiveSynapses  int     `json:"final_active_synapses"`
	FinalRunningError    float64 `json:"final_running_error"`
	FinalRunningAccuracy float64 `json:"final_running_accuracy,omitempty"`
	CreatedAtUTC         string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}
	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, summaryFile), artifacts.Summary); err != nil {
		return "", err
	}
	if err := WritePruneEvents(filepath.Join(runDir, pruneEventsFile), artifacts.Events); err != nil {
		return "", err
	}
	if err := WriteStepMetrics(filepath.Join(runDir, metricsFile), artifacts.Metrics); err != nil {
		return "", err
	}
	if artifacts.Network != nil {
		if err := writeJSON(filepath.Join(runDir, networkFile), artifacts.Network); err != nil {
			return "", err
		}
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}
	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}
	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns indexed runs, newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}
	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})
	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory's artifacts to outDir/runID.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}
	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}
	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}
	for _, file := range []string{configFile, summaryFile, pruneEventsFile, metricsFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	networkPath := filepath.Join(src, networkFile)
	if _, err := os.Stat(networkPath); err == nil {
		if err := copyFile(networkPath, filepath.Join(dst, networkFile)); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	return cfg, ok, err
}

func ReadRunSummary(baseDir, runID string) (model.RunSummary, bool, error) {
	var summary model.RunSummary
	ok, err := readJSON(filepath.Join(baseDir, runID, summaryFile), &summary)
	return summary, ok, err
}

func ReadNetworkSnapshot(baseDir, runID string) (model.NetworkSnapshot, bool, error) {
	var snapshot model.NetworkSnapshot
	ok, err := readJSON(filepath.Join(baseDir, runID, networkFile), &snapshot)
	return snapshot, ok, err
}

var pruneEventsHeader = []string{"step", "strategy", "target", "before", "after", "ranked", "cascaded", "dead_neurons", "removed_synapse_ids"}

func WritePruneEvents(path string, events []model.PruneEvent) error {
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		ids := make([]string, len(e.RemovedSynapseID))
		for i, id := range e.RemovedSynapseID {
			ids[i] = strconv.Itoa(id)
		}
		rows = append(rows, []string{
			strconv.Itoa(e.Step),
			e.Strategy,
			strconv.Itoa(e.Target),
			strconv.Itoa(e.Before),
			strconv.Itoa(e.After),
			strconv.Itoa(e.Ranked),
			strconv.Itoa(e.Cascaded),
			strconv.Itoa(e.DeadNeurons),
			strings.Join(ids, " "),
		})
	}
	return writeCSV(path, pruneEventsHeader, rows)
}

func ReadPruneEvents(baseDir, runID string) ([]model.PruneEvent, bool, error) {
	rows, ok, err := readCSV(filepath.Join(baseDir, runID, pruneEventsFile), len(pruneEventsHeader))
	if err != nil || !ok {
		return nil, ok, err
	}
	events := make([]model.PruneEvent, 0, len(rows))
	for _, row := range rows {
		ints, err := atoiAll(row[0], row[2], row[3], row[4], row[5], row[6], row[7])
		if err != nil {
			return nil, false, fmt.Errorf("prune events row %v: %w", row, err)
		}
		event := model.PruneEvent{
			Step:        ints[0],
			Strategy:    row[1],
			Target:      ints[1],
			Before:      ints[2],
			After:       ints[3],
			Ranked:      ints[4],
			Cascaded:    ints[5],
			DeadNeurons: ints[6],
		}
		if fields := strings.Fields(row[8]); len(fields) > 0 {
			if event.RemovedSynapseID, err = atoiAll(fields...); err != nil {
				return nil, false, fmt.Errorf("prune events row %v: %w", row, err)
			}
		}
		events = append(events, event)
	}
	return events, true, nil
}

var metricsHeader = []string{"step", "loss", "running_error", "running_accuracy", "active_synapses", "live_neurons"}

func WriteStepMetrics(path string, metrics []model.StepMetrics) error {
	rows := make([][]string, 0, len(metrics))
	for _, m := range metrics {
		rows = append(rows, []string{
			strconv.Itoa(m.Step),
			strconv.FormatFloat(m.Loss, 'f', -1, 64),
			strconv.FormatFloat(m.RunningError, 'f', -1, 64),
			strconv.FormatFloat(m.RunningAccuracy, 'f', -1, 64),
			strconv.Itoa(m.ActiveSynapses),
			strconv.Itoa(m.LiveNeurons),
		})
	}
	return writeCSV(path, metricsHeader, rows)
}

func ReadStepMetrics(baseDir, runID string) ([]model.StepMetrics, bool, error) {
	rows, ok, err := readCSV(filepath.Join(baseDir, runID, metricsFile), len(metricsHeader))
	if err != nil || !ok {
		return nil, ok, err
	}
	metrics := make([]model.StepMetrics, 0, len(rows))
	for _, row := range rows {
		ints, err := atoiAll(row[0], row[4], row[5])
		if err != nil {
			return nil, false, fmt.Errorf("metrics row %v: %w", row, err)
		}
		loss, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, false, err
		}
		running, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, false, err
		}
		accuracy, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			return nil, false, err
		}
		metrics = append(metrics, model.StepMetrics{
			Step:            ints[0],
			Loss:            loss,
			RunningError:    running,
			RunningAccuracy: accuracy,
			ActiveSynapses:  ints[1],
			LiveNeurons:     ints[2],
		})
	}
	return metrics, true, nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return err
	}
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return writer.Error()
}

func readCSV(path string, columns int) ([][]string, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return [][]string{}, true, nil
		}
		return nil, false, err
	}
	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < columns {
			return nil, false, fmt.Errorf("%s row must have %d columns, got %d", filepath.Base(path), columns, len(record))
		}
		rows = append(rows, record)
	}
	return rows, true, nil
}

func atoiAll(values ...string) ([]int, error) {
	out := make([]int, len(values))
	for i, v := range values {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
