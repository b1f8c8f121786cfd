package prunenet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"prunenet/internal/dense"
	"prunenet/internal/graph"
	"prunenet/internal/loader"
	"prunenet/internal/model"
	"prunenet/internal/nn"
	"prunenet/internal/pruning"
	"prunenet/internal/stats"
	"prunenet/internal/storage"
	"prunenet/internal/task"
	"prunenet/internal/trainer"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "prunenet.db"

	defaultSteps      = 2000
	defaultStepSize   = 0.01
	defaultHiddenSize = 8
	defaultTaskInputs = 4
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
}

type Client struct {
	store       storage.Store
	initialized bool

	runsDir    string
	exportsDir string
}

// TrainRequest describes one training run. The network comes from ModelPath
// when set and is otherwise built fully connected from LayerSizes.
type TrainRequest struct {
	RunID      string
	Task       string
	TaskInputs int

	// DataPath names a CSV dataset; when set it replaces Task.
	DataPath string

	ModelPath  string
	LayerSizes []int
	// HiddenActivation defaults to the model's declared activation, then
	// relu.
	HiddenActivation string
	UtilityToKeep    float64

	Strategy string
	Seed     int64
	Steps    int
	StepSize float64
	// MinSynapsesToKeep is the pruning floor; negative selects the default.
	MinSynapsesToKeep int
	PruneInterval     int
	StartPruningAt    int
	TraceDecayRate    float64
	SchedulePolicy    string
	ScheduleParam     float64
	DropoutIterations int
	DropoutFraction   float64
	Workers           int
	MetricsEvery      int

	// OnPrune is called after every prune event.
	OnPrune func(model.PruneEvent)
}

type TrainSummary struct {
	RunID                string
	ArtifactsDir         string
	InitialSynapses      int
	FinalActiveSynapses  int
	FinalLoss            float64
	FinalRunningError    float64
	FinalRunningAccuracy float64
	Events               []model.PruneEvent
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID                string
	CreatedAtUTC         string
	Task                 string
	Strategy             string
	Seed                 int64
	Steps                int
	InitialSynapses      int
	FinalActiveSynapses  int
	FinalRunningError    float64
	FinalRunningAccuracy float64
}

// RunRef selects a run by id or the most recent one.
type RunRef struct {
	RunID  string
	Latest bool
	Limit  int
}

type MetricsRequest struct {
	RunRef
	Bucket int
}

type MetricsReport struct {
	RunID   string
	Metrics []model.StepMetrics
	Loss    stats.LossSummary
	Series  []stats.PlotPoint
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		store:      store,
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	if err := applyTrainDefaults(&req); err != nil {
		return TrainSummary{}, err
	}
	strategy, err := pruning.ParseStrategy(req.Strategy)
	if err != nil {
		return TrainSummary{}, err
	}
	if err := c.Init(ctx); err != nil {
		return TrainSummary{}, err
	}

	cfg := dense.DefaultConfig()
	cfg.Seed = req.Seed
	cfg.MinSynapsesToKeep = req.MinSynapsesToKeep
	cfg.PruneInterval = req.PruneInterval
	cfg.StartPruningAt = req.StartPruningAt
	cfg.TraceDecayRate = req.TraceDecayRate
	cfg.SchedulePolicy = req.SchedulePolicy
	cfg.ScheduleParam = req.ScheduleParam
	cfg.Workers = req.Workers
	net, err := dense.New(cfg)
	if err != nil {
		return TrainSummary{}, err
	}

	var taskInputs int
	if req.ModelPath != "" {
		m, err := loader.LoadFile(req.ModelPath)
		if err != nil {
			return TrainSummary{}, err
		}
		inputs := m.InputSize
		if inputs == 0 && len(m.Layers) > 0 {
			inputs = m.Layers[0].InputSize()
		}
		if req.HiddenActivation, err = moduleActivation(m.Activation, req.HiddenActivation); err != nil {
			return TrainSummary{}, err
		}
		switch req.HiddenActivation {
		case nn.ActivationReLU:
			err = net.LoadReLUNetwork(m, req.StepSize, inputs, req.UtilityToKeep)
		case nn.ActivationLinear:
			err = net.LoadLinearNetwork(m, req.StepSize, inputs, req.UtilityToKeep)
		default:
			err = fmt.Errorf("unsupported hidden activation for pretrained models: %s", req.HiddenActivation)
		}
		if err != nil {
			return TrainSummary{}, err
		}
		req.LayerSizes = m.LayerSizes(inputs)
		taskInputs = inputs
	} else {
		if len(req.LayerSizes) == 0 {
			sample, err := newTask(req, req.TaskInputs)
			if err != nil {
				return TrainSummary{}, err
			}
			req.LayerSizes = []int{sample.InputSize(), defaultHiddenSize, sample.OutputSize()}
		}
		if err := net.Dense(req.LayerSizes, req.HiddenActivation, req.StepSize); err != nil {
			return TrainSummary{}, err
		}
		taskInputs = req.LayerSizes[0]
	}
	req.TaskInputs = taskInputs

	t, err := newTask(req, taskInputs)
	if err != nil {
		return TrainSummary{}, err
	}

	g := net.Graph()
	initial := g.TotalInitialSynapses()
	now := time.Now().UTC()
	runID := req.RunID
	if runID == "" {
		runID = fmt.Sprintf("%s-%d-%s", t.Name(), req.Seed, uuid.NewString()[:8])
	}

	var observe trainer.Observer
	if req.OnPrune != nil {
		observe = func(_ context.Context, event model.PruneEvent) error {
			req.OnPrune(event)
			return nil
		}
	}
	result, err := trainer.Run(ctx, net, t, rand.New(rand.NewSource(req.Seed+1000)), trainer.Config{
		Steps:             req.Steps,
		Strategy:          strategy,
		DropoutIterations: req.DropoutIterations,
		DropoutFraction:   req.DropoutFraction,
		MetricsEvery:      req.MetricsEvery,
	}, observe)
	if err != nil {
		return TrainSummary{}, err
	}

	snapshot := g.Snapshot(runID)
	storage.Stamp(&snapshot.VersionedRecord)
	summary := model.RunSummary{
		RunID:                runID,
		Task:                 t.Name(),
		Strategy:             strategy.String(),
		Seed:                 req.Seed,
		Steps:                result.Steps,
		TotalInitialSynapses: initial,
		FinalActiveSynapses:  g.ActiveCount(),
		FinalRunningError:    result.FinalRunningError,
		FinalRunningAccuracy: result.FinalRunningAccuracy,
		PruneEvents:          len(result.Events),
	}
	storage.Stamp(&summary.VersionedRecord)

	if err := c.store.SaveNetwork(ctx, snapshot); err != nil {
		return TrainSummary{}, err
	}
	if err := c.store.SavePruneEvents(ctx, runID, result.Events); err != nil {
		return TrainSummary{}, err
	}
	if err := c.store.SaveStepMetrics(ctx, runID, result.Metrics); err != nil {
		return TrainSummary{}, err
	}
	if err := c.store.SaveRunSummary(ctx, summary); err != nil {
		return TrainSummary{}, err
	}

	runDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:             runID,
			Task:              t.Name(),
			TaskInputs:        req.TaskInputs,
			DataPath:          req.DataPath,
			ModelPath:         req.ModelPath,
			LayerSizes:        req.LayerSizes,
			HiddenActivation:  req.HiddenActivation,
			UtilityToKeep:     req.UtilityToKeep,
			Strategy:          strategy.String(),
			Seed:              req.Seed,
			Steps:             req.Steps,
			StepSize:          req.StepSize,
			MinSynapsesToKeep: req.MinSynapsesToKeep,
			PruneInterval:     req.PruneInterval,
			StartPruningAt:    req.StartPruningAt,
			TraceDecayRate:    req.TraceDecayRate,
			SchedulePolicy:    net.Policy().Name(),
			ScheduleParam:     req.ScheduleParam,
			DropoutIterations: req.DropoutIterations,
			DropoutFraction:   req.DropoutFraction,
			Workers:           req.Workers,
			MetricsEvery:      req.MetricsEvery,
		},
		Summary: summary,
		Events:  result.Events,
		Metrics: result.Metrics,
		Network: &snapshot,
	})
	if err != nil {
		return TrainSummary{}, err
	}
	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:                runID,
		Task:                 t.Name(),
		Strategy:             strategy.String(),
		Seed:                 req.Seed,
		Steps:                result.Steps,
		InitialSynapses:      initial,
		FinalActiveSynapses:  summary.FinalActiveSynapses,
		FinalRunningError:    result.FinalRunningError,
		FinalRunningAccuracy: result.FinalRunningAccuracy,
		CreatedAtUTC:         now.Format(time.RFC3339Nano),
	}); err != nil {
		return TrainSummary{}, err
	}

	return TrainSummary{
		RunID:                runID,
		ArtifactsDir:         filepath.Clean(runDir),
		InitialSynapses:      initial,
		FinalActiveSynapses:  summary.FinalActiveSynapses,
		FinalLoss:            result.FinalLoss,
		FinalRunningError:    result.FinalRunningError,
		FinalRunningAccuracy: result.FinalRunningAccuracy,
		Events:               append([]model.PruneEvent(nil), result.Events...),
	}, nil
}

// moduleActivation picks the hidden activation of a pretrained model. The
// model's declared activation applies when none is requested, ReLU when
// neither is set.
func moduleActivation(declared, requested string) (string, error) {
	if declared != "" {
		declared = nn.NormalizeActivationName(declared)
	}
	if requested != "" {
		requested = nn.NormalizeActivationName(requested)
	}
	switch {
	case requested == "" && declared == "":
		return nn.ActivationReLU, nil
	case requested == "":
		return declared, nil
	case declared != "" && declared != requested:
		return "", fmt.Errorf("model declares %s activation, %s requested", declared, requested)
	default:
		return requested, nil
	}
}

func newTask(req TrainRequest, inputs int) (task.Task, error) {
	if req.DataPath != "" {
		return task.LoadTable(req.DataPath)
	}
	return task.New(req.Task, inputs, req.Seed)
}

func applyTrainDefaults(req *TrainRequest) error {
	defaults := dense.DefaultConfig()
	if req.Task == "" {
		req.Task = task.NameXOR
	}
	if req.TaskInputs <= 0 {
		req.TaskInputs = defaultTaskInputs
	}
	if req.HiddenActivation == "" && req.ModelPath == "" {
		req.HiddenActivation = nn.ActivationReLU
	}
	if req.UtilityToKeep == 0 {
		req.UtilityToKeep = 1
	}
	if req.Strategy == "" {
		req.Strategy = pruning.WeightMagnitude.String()
	}
	if req.Steps <= 0 {
		req.Steps = defaultSteps
	}
	if req.StepSize == 0 {
		req.StepSize = defaultStepSize
	}
	if req.MinSynapsesToKeep < 0 {
		req.MinSynapsesToKeep = defaults.MinSynapsesToKeep
	}
	if req.PruneInterval == 0 {
		req.PruneInterval = defaults.PruneInterval
	}
	if req.StartPruningAt == 0 {
		req.StartPruningAt = defaults.StartPruningAt
	}
	if req.TraceDecayRate == 0 {
		req.TraceDecayRate = defaults.TraceDecayRate
	}
	if req.SchedulePolicy == "" {
		req.SchedulePolicy = defaults.SchedulePolicy
	}
	if req.DropoutIterations == 0 {
		req.DropoutIterations = trainer.DefaultDropoutIterations
	}
	if req.DropoutFraction == 0 {
		req.DropoutFraction = trainer.DefaultDropoutFraction
	}
	if req.StepSize < 0 {
		return errors.New("step size must be > 0")
	}
	if req.ModelPath != "" && len(req.LayerSizes) > 0 {
		return errors.New("use either a model path or layer sizes")
	}
	return nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:                e.RunID,
			CreatedAtUTC:         e.CreatedAtUTC,
			Task:                 e.Task,
			Strategy:             e.Strategy,
			Seed:                 e.Seed,
			Steps:                e.Steps,
			InitialSynapses:      e.InitialSynapses,
			FinalActiveSynapses:  e.FinalActiveSynapses,
			FinalRunningError:    e.FinalRunningError,
			FinalRunningAccuracy: e.FinalRunningAccuracy,
		})
	}
	return out, nil
}

// Status returns the stored summary of a run.
func (c *Client) Status(ctx context.Context, ref RunRef) (model.RunSummary, error) {
	runID, err := c.resolveRunID(ref, "status")
	if err != nil {
		return model.RunSummary{}, err
	}
	if err := c.Init(ctx); err != nil {
		return model.RunSummary{}, err
	}
	summary, ok, err := c.store.GetRunSummary(ctx, runID)
	if err != nil {
		return model.RunSummary{}, err
	}
	if !ok {
		if summary, ok, err = stats.ReadRunSummary(c.runsDir, runID); err != nil {
			return model.RunSummary{}, err
		}
	}
	if !ok {
		return model.RunSummary{}, fmt.Errorf("run summary not found for run id: %s", runID)
	}
	return summary, nil
}

// Network rebuilds the final graph of a run.
func (c *Client) Network(ctx context.Context, ref RunRef) (*graph.Graph, error) {
	runID, err := c.resolveRunID(ref, "network")
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	snapshot, ok, err := c.store.GetNetwork(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if snapshot, ok, err = stats.ReadNetworkSnapshot(c.runsDir, runID); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("network not found for run id: %s", runID)
	}
	return graph.FromSnapshot(snapshot)
}

// SynapseStatus writes one line per active synapse of a run's final graph.
func (c *Client) SynapseStatus(ctx context.Context, ref RunRef, w io.Writer) error {
	g, err := c.Network(ctx, ref)
	if err != nil {
		return err
	}
	return g.WriteSynapseStatus(w)
}

func (c *Client) Events(ctx context.Context, ref RunRef) ([]model.PruneEvent, error) {
	runID, err := c.resolveRunID(ref, "events")
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	events, ok, err := c.store.GetPruneEvents(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if events, ok, err = stats.ReadPruneEvents(c.runsDir, runID); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("prune events not found for run id: %s", runID)
	}
	if ref.Limit > 0 && len(events) > ref.Limit {
		events = events[:ref.Limit]
	}
	return append([]model.PruneEvent(nil), events...), nil
}

func (c *Client) Metrics(ctx context.Context, req MetricsRequest) (MetricsReport, error) {
	runID, err := c.resolveRunID(req.RunRef, "metrics")
	if err != nil {
		return MetricsReport{}, err
	}
	if req.Bucket < 0 {
		return MetricsReport{}, errors.New("bucket must be >= 0")
	}
	if err := c.Init(ctx); err != nil {
		return MetricsReport{}, err
	}
	metrics, ok, err := c.store.GetStepMetrics(ctx, runID)
	if err != nil {
		return MetricsReport{}, err
	}
	if !ok {
		if metrics, ok, err = stats.ReadStepMetrics(c.runsDir, runID); err != nil {
			return MetricsReport{}, err
		}
	}
	if !ok {
		return MetricsReport{}, fmt.Errorf("metrics not found for run id: %s", runID)
	}
	report := MetricsReport{
		RunID:  runID,
		Loss:   stats.SummarizeLoss(metrics),
		Series: stats.BucketRunningError(metrics, req.Bucket),
	}
	if req.Limit > 0 && len(metrics) > req.Limit {
		metrics = metrics[:req.Limit]
	}
	report.Metrics = append([]model.StepMetrics(nil), metrics...)
	return report, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	runID, err := c.resolveRunID(RunRef{RunID: req.RunID, Latest: req.Latest}, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRunID(ref RunRef, what string) (string, error) {
	if ref.RunID != "" && ref.Latest {
		return "", errors.New("use either run id or latest")
	}
	if ref.Limit < 0 {
		return "", errors.New("limit must be >= 0")
	}
	if !ref.Latest {
		if ref.RunID == "" {
			return "", fmt.Errorf("%s requires run id or latest", what)
		}
		return ref.RunID, nil
	}
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}
