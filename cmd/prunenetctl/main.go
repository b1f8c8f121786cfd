package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"prunenet/internal/model"
	"prunenet/internal/storage"
	api "prunenet/pkg/prunenet"
)

const (
	runsDir    = "runs"
	exportsDir = "exports"
	defaultDB  = "prunenet.db"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "train":
		return runTrain(ctx, args[1:])
	case "status":
		return runStatus(ctx, args[1:])
	case "events":
		return runEvents(ctx, args[1:])
	case "metrics":
		return runMetrics(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDB, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional train config JSON path")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	taskName := fs.String("task", "xor", "task: parity|regression|xor")
	taskInputs := fs.Int("inputs", 4, "input count for regression and parity")
	dataPath := fs.String("data", "", "CSV dataset replacing --task (class*, target* or y* columns are targets)")
	modelPath := fs.String("model", "", "pretrained model file (.json or .safetensors)")
	layers := fs.String("layers", "", "comma separated layer sizes for a fresh network, e.g. 2,8,1")
	hidden := fs.String("hidden", "", "hidden activation: relu|linear|tanh|sigmoid (default: model's declared activation, then relu)")
	utilityToKeep := fs.Float64("utility-to-keep", 1, "share of pretrained |weight| mass kept when loading")
	strategy := fs.String("strategy", "weight_magnitude", "pruner: dropout_utility_estimator|utility_propagation|trace_of_activation_magnitude|trace_of_gradient|weight_magnitude|random")
	seed := fs.Int64("seed", 1, "rng seed")
	steps := fs.Int("steps", 2000, "training steps")
	stepSize := fs.Float64("step-size", 0.01, "learning rate")
	minKeep := fs.Int("min-synapses", 10, "floor of active synapses")
	interval := fs.Int("prune-interval", 1000, "steps between prune boundaries")
	start := fs.Int("start-pruning-at", 1000, "first prune boundary")
	decay := fs.Float64("trace-decay", 0.99, "decay rate of every trace")
	policy := fs.String("schedule", "linear", "prune schedule: linear|geometric|constant")
	policyParam := fs.Float64("schedule-param", 0, "schedule parameter (0 uses the policy default)")
	dropoutIterations := fs.Int("dropout-iterations", 10, "masked passes per dropout estimate")
	dropoutFraction := fs.Float64("dropout-fraction", 0.1, "share of synapses masked per dropout pass")
	workers := fs.Int("workers", 0, "dropout worker goroutines (0 is unbounded)")
	metricsEvery := fs.Int("metrics-every", 10, "record step metrics every N steps")
	quiet := fs.Bool("quiet", false, "suppress per-event output")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDB, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	req, err := loadOrDefaultTrainRequest(*configPath)
	if err != nil {
		return err
	}
	flagValues := map[string]any{
		"run-id":             *runID,
		"task":               *taskName,
		"inputs":             *taskInputs,
		"data":               *dataPath,
		"model":              *modelPath,
		"layers":             *layers,
		"hidden":             *hidden,
		"utility-to-keep":    *utilityToKeep,
		"strategy":           *strategy,
		"seed":               *seed,
		"steps":              *steps,
		"step-size":          *stepSize,
		"min-synapses":       *minKeep,
		"prune-interval":     *interval,
		"start-pruning-at":   *start,
		"trace-decay":        *decay,
		"schedule":           *policy,
		"schedule-param":     *policyParam,
		"dropout-iterations": *dropoutIterations,
		"dropout-fraction":   *dropoutFraction,
		"workers":            *workers,
		"metrics-every":      *metricsEvery,
	}
	if *configPath == "" {
		for name := range flagValues {
			setFlags[name] = true
		}
	}
	if err := overrideFromFlags(&req, setFlags, flagValues); err != nil {
		return err
	}
	if !*quiet {
		req.OnPrune = func(e model.PruneEvent) {
			fmt.Printf("prune step=%d strategy=%s target=%d active=%d->%d ranked=%d cascaded=%d dead_neurons=%d\n",
				e.Step, e.Strategy, e.Target, e.Before, e.After, e.Ranked, e.Cascaded, e.DeadNeurons)
		}
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Train(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("train completed run_id=%s task=%s strategy=%s seed=%d\n", summary.RunID, req.Task, req.Strategy, req.Seed)
	fmt.Printf("synapses initial=%s final=%s prune_events=%d\n",
		humanize.Comma(int64(summary.InitialSynapses)),
		humanize.Comma(int64(summary.FinalActiveSynapses)),
		len(summary.Events),
	)
	fmt.Printf("final_loss=%.6f final_running_error=%.6f\n", summary.FinalLoss, summary.FinalRunningError)
	if summary.FinalRunningAccuracy > 0 {
		fmt.Printf("final_running_accuracy=%.4f\n", summary.FinalRunningAccuracy)
	}
	fmt.Printf("artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))
	return nil
}

func runStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	synapses := fs.Bool("synapses", false, "print one line per active synapse")
	jsonOut := fs.Bool("json", false, "emit summary as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDB, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	ref := api.RunRef{RunID: *runID, Latest: *latest}
	summary, err := client.Status(ctx, ref)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(summary)
	}
	pruned := summary.TotalInitialSynapses - summary.FinalActiveSynapses
	fmt.Printf("run_id=%s task=%s strategy=%s seed=%d steps=%s\n",
		summary.RunID, summary.Task, summary.Strategy, summary.Seed, humanize.Comma(int64(summary.Steps)))
	fmt.Printf("synapses initial=%s active=%s pruned=%s prune_events=%d\n",
		humanize.Comma(int64(summary.TotalInitialSynapses)),
		humanize.Comma(int64(summary.FinalActiveSynapses)),
		humanize.Comma(int64(pruned)),
		summary.PruneEvents,
	)
	fmt.Printf("final_running_error=%.6f\n", summary.FinalRunningError)
	if summary.FinalRunningAccuracy > 0 {
		fmt.Printf("final_running_accuracy=%.4f\n", summary.FinalRunningAccuracy)
	}
	if *synapses {
		return client.SynapseStatus(ctx, ref, os.Stdout)
	}
	return nil
}

func runEvents(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	limit := fs.Int("limit", 0, "max events to show (0 shows all)")
	jsonOut := fs.Bool("json", false, "emit events as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDB, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	events, err := client.Events(ctx, api.RunRef{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(events)
	}
	if len(events) == 0 {
		fmt.Println("no prune events")
		return nil
	}
	for _, e := range events {
		fmt.Printf("step=%d strategy=%s target=%d before=%d after=%d ranked=%d cascaded=%d dead_neurons=%d removed=%v\n",
			e.Step, e.Strategy, e.Target, e.Before, e.After, e.Ranked, e.Cascaded, e.DeadNeurons, e.RemovedSynapseID)
	}
	return nil
}

func runMetrics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("metrics", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	bucket := fs.Int("bucket", 10, "metrics averaged per running error point")
	jsonOut := fs.Bool("json", false, "emit report as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDB, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	report, err := client.Metrics(ctx, api.MetricsRequest{
		RunRef: api.RunRef{RunID: *runID, Latest: *latest},
		Bucket: *bucket,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(report)
	}
	fmt.Printf("run_id=%s samples=%d loss_mean=%.6f loss_std=%.6f loss_min=%.6f loss_max=%.6f\n",
		report.RunID, len(report.Metrics), report.Loss.Mean, report.Loss.Std, report.Loss.Min, report.Loss.Max)
	for _, p := range report.Series {
		if p.Accuracy > 0 {
			fmt.Printf("step=%s running_error=%.6f running_accuracy=%.4f\n", humanize.Comma(int64(p.Step)), p.Value, p.Accuracy)
			continue
		}
		fmt.Printf("step=%s running_error=%.6f\n", humanize.Comma(int64(p.Step)), p.Value)
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := newClient("memory", "")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, api.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, r := range runs {
		created := r.CreatedAtUTC
		if ts, err := time.Parse(time.RFC3339Nano, r.CreatedAtUTC); err == nil {
			created = humanize.Time(ts)
		}
		fmt.Printf("run_id=%s created=%q task=%s strategy=%s seed=%d steps=%s synapses=%s->%s final_running_error=%.6f\n",
			r.RunID,
			created,
			r.Task,
			r.Strategy,
			r.Seed,
			humanize.Comma(int64(r.Steps)),
			humanize.Comma(int64(r.InitialSynapses)),
			humanize.Comma(int64(r.FinalActiveSynapses)),
			r.FinalRunningError,
		)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := newClient("memory", "")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, api.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s\n", exported.RunID, filepath.Clean(exported.Directory))
	return nil
}

func newClient(storeKind, dbPath string) (*api.Client, error) {
	return api.New(api.Options{
		StoreKind:  storeKind,
		DBPath:     dbPath,
		RunsDir:    runsDir,
		ExportsDir: exportsDir,
	})
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: prunenetctl <init|train|status|events|metrics|runs|export> [flags]", msg)
}
