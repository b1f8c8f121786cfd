// Package dense wires a pruning graph, its utility estimators and a pruning
// schedule into the network a training loop drives step by step.
package dense

import (
	"errors"
	"fmt"
	"io"
	"math/rand"

	"prunenet/internal/graph"
	"prunenet/internal/loader"
	"prunenet/internal/nn"
	"prunenet/internal/pruning"
	"prunenet/internal/schedule"
	"prunenet/internal/utility"
)

var ErrNoGraph = errors.New("network has no graph attached")

// Config is fixed for the lifetime of a Network.
type Config struct {
	Seed              int64
	MinSynapsesToKeep int
	PruneInterval     int
	StartPruningAt    int
	TraceDecayRate    float64

	// SchedulePolicy names a schedule.Policy; ScheduleParam is its parameter,
	// zero selecting the policy default.
	SchedulePolicy string
	ScheduleParam  float64

	// Workers bounds the goroutines used by the dropout estimator. Zero means
	// unbounded.
	Workers int
}

func DefaultConfig() Config {
	return Config{
		Seed:              1,
		MinSynapsesToKeep: 10,
		PruneInterval:     1000,
		StartPruningAt:    1000,
		TraceDecayRate:    0.99,
		SchedulePolicy:    schedule.PolicyLinear,
	}
}

func (c Config) Validate() error {
	if c.MinSynapsesToKeep < 0 {
		return fmt.Errorf("min synapses to keep must be >= 0, got %d", c.MinSynapsesToKeep)
	}
	if c.PruneInterval <= 0 {
		return fmt.Errorf("prune interval must be > 0, got %d", c.PruneInterval)
	}
	if c.StartPruningAt < 0 {
		return fmt.Errorf("start pruning at must be >= 0, got %d", c.StartPruningAt)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if err := utility.ValidateDecay(c.TraceDecayRate); err != nil {
		return err
	}
	switch schedule.NormalizePolicyName(c.SchedulePolicy) {
	case schedule.PolicyLinear, schedule.PolicyGeometric, schedule.PolicyConstant:
	default:
		return fmt.Errorf("unsupported prune schedule: %s", c.SchedulePolicy)
	}
	return nil
}

// Network is not safe for concurrent use.
type Network struct {
	cfg      Config
	rng      *rand.Rand
	g        *graph.Graph
	params   schedule.Params
	policy   schedule.Policy
	stepSize float64

	lastDropout utility.DropoutReport
}

// New validates cfg and returns a Network without a graph. Use one of the
// Load or Dense methods, or Attach, before driving it.
func New(cfg Config) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Network{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

func (n *Network) Config() Config { return n.cfg }

// Graph exposes the underlying graph for inspection.
func (n *Network) Graph() *graph.Graph { return n.g }

func (n *Network) StepSize() float64 { return n.stepSize }

// Policy is the schedule built for the attached graph.
func (n *Network) Policy() schedule.Policy { return n.policy }

// Attach adopts g, sealing it with the configured floor if it is not sealed
// yet, and builds the schedule from its initial synapse count.
func (n *Network) Attach(g *graph.Graph, stepSize float64) error {
	if g == nil {
		return ErrNoGraph
	}
	if stepSize <= 0 {
		return fmt.Errorf("step size must be > 0, got %v", stepSize)
	}
	if !g.Sealed() {
		if err := g.Seal(n.cfg.MinSynapsesToKeep); err != nil {
			return err
		}
	}
	params := schedule.Params{
		TotalInitialSynapses: g.TotalInitialSynapses(),
		MinSynapsesToKeep:    g.MinSynapsesToKeep(),
		StartPruningAt:       n.cfg.StartPruningAt,
		PruneInterval:        n.cfg.PruneInterval,
	}
	policy, err := schedule.PolicyFromConfig(n.cfg.SchedulePolicy, n.cfg.ScheduleParam, params)
	if err != nil {
		return err
	}
	n.g = g
	n.params = params
	n.policy = policy
	n.stepSize = stepSize
	return nil
}

// LoadReLUNetwork builds the network from a pretrained module with ReLU
// hidden layers.
func (n *Network) LoadReLUNetwork(m loader.Module, stepSize float64, inputFeatures int, utilityToKeep float64) error {
	return n.load(m, nn.ActivationReLU, stepSize, inputFeatures, utilityToKeep)
}

// LoadLinearNetwork builds the network from a pretrained module with linear
// hidden layers.
func (n *Network) LoadLinearNetwork(m loader.Module, stepSize float64, inputFeatures int, utilityToKeep float64) error {
	return n.load(m, nn.ActivationLinear, stepSize, inputFeatures, utilityToKeep)
}

func (n *Network) load(m loader.Module, hidden string, stepSize float64, inputFeatures int, utilityToKeep float64) error {
	g, err := loader.Build(m, loader.BuildOptions{
		HiddenActivation:  hidden,
		InputFeatures:     inputFeatures,
		UtilityToKeep:     utilityToKeep,
		MinSynapsesToKeep: n.cfg.MinSynapsesToKeep,
	})
	if err != nil {
		return err
	}
	return n.Attach(g, stepSize)
}

// Dense builds a randomly initialised fully connected network from the
// configured seed.
func (n *Network) Dense(layerSizes []int, hiddenActivation string, stepSize float64) error {
	g, err := graph.FullyConnected(layerSizes, hiddenActivation, n.rng)
	if err != nil {
		return err
	}
	return n.Attach(g, stepSize)
}

func (n *Network) Forward(inputs []float64) error {
	if n.g == nil {
		return ErrNoGraph
	}
	return n.g.Forward(inputs)
}

func (n *Network) Backward(targets []float64) error {
	if n.g == nil {
		return ErrNoGraph
	}
	return n.g.Backward(targets)
}

// UpdateWeights applies the accumulated gradients with the network step size.
func (n *Network) UpdateWeights() error {
	if n.g == nil {
		return ErrNoGraph
	}
	n.g.UpdateWeights(n.stepSize)
	return nil
}

func (n *Network) Predictions() []float64 {
	if n.g == nil {
		return nil
	}
	return n.g.Predictions()
}

// UpdateUtilityEstimates refreshes the estimate the named pruner ranks by.
// input and prediction are the sample and unmasked output of the last forward
// pass; iterations and perc only apply to the dropout estimator.
func (n *Network) UpdateUtilityEstimates(pruner string, input, prediction []float64, iterations int, perc float64) error {
	strategy, err := pruning.ParseStrategy(pruner)
	if err != nil {
		return err
	}
	return n.UpdateEstimates(strategy, input, prediction, iterations, perc)
}

func (n *Network) UpdateEstimates(strategy pruning.Strategy, input, prediction []float64, iterations int, perc float64) error {
	if n.g == nil {
		return ErrNoGraph
	}
	decay := n.cfg.TraceDecayRate
	switch strategy {
	case pruning.ActivationTrace:
		utility.UpdateActivationTraces(n.g, decay)
	case pruning.GradientTrace:
		utility.UpdateGradientTraces(n.g, decay)
	case pruning.UtilityPropagation:
		utility.UpdateUtilityPropagation(n.g, decay)
	case pruning.DropoutUtility:
		report, err := utility.DropoutEstimator{
			Rand:       n.rng,
			Iterations: iterations,
			Fraction:   perc,
			Decay:      decay,
			Workers:    n.cfg.Workers,
		}.Update(n.g, input, prediction)
		if err != nil {
			return err
		}
		n.lastDropout = report
	case pruning.WeightMagnitude, pruning.Random:
		// scored on demand
	default:
		return fmt.Errorf("%w: %s", pruning.ErrInvalidPrunerName, strategy)
	}
	return nil
}

// LastDropoutReport returns the summary of the most recent dropout update.
func (n *Network) LastDropoutReport() utility.DropoutReport { return n.lastDropout }

// CurrentSynapseSchedule is the number of synapses the schedule wants active
// at step.
func (n *Network) CurrentSynapseSchedule(step int) int {
	if n.policy == nil {
		return 0
	}
	return n.policy.Target(step)
}

// ShouldPrune reports whether step is a prune boundary.
func (n *Network) ShouldPrune(step int) bool {
	return n.policy != nil && n.params.ShouldPrune(step)
}

// PruneWeights prunes toward the schedule target of step using the named
// strategy. An unknown name fails with pruning.ErrInvalidPrunerName and
// leaves the graph unchanged.
func (n *Network) PruneWeights(pruner string, step int) (pruning.Result, error) {
	strategy, err := pruning.ParseStrategy(pruner)
	if err != nil {
		return pruning.Result{}, err
	}
	return n.Prune(strategy, step)
}

func (n *Network) Prune(strategy pruning.Strategy, step int) (pruning.Result, error) {
	if n.g == nil {
		return pruning.Result{}, ErrNoGraph
	}
	return pruning.Prune(n.g, strategy, n.CurrentSynapseSchedule(step), n.rng)
}

func (n *Network) PruneUsingDropoutUtilityEstimator(step int) (pruning.Result, error) {
	return n.Prune(pruning.DropoutUtility, step)
}

func (n *Network) PruneUsingUtilityPropagation(step int) (pruning.Result, error) {
	return n.Prune(pruning.UtilityPropagation, step)
}

func (n *Network) PruneUsingTraceOfActivationMagnitude(step int) (pruning.Result, error) {
	return n.Prune(pruning.ActivationTrace, step)
}

func (n *Network) PruneUsingTraceOfGradient(step int) (pruning.Result, error) {
	return n.Prune(pruning.GradientTrace, step)
}

func (n *Network) PruneUsingWeightMagnitude(step int) (pruning.Result, error) {
	return n.Prune(pruning.WeightMagnitude, step)
}

func (n *Network) PruneUsingRandom(step int) (pruning.Result, error) {
	return n.Prune(pruning.Random, step)
}

// PrintSynapseStatus writes one line per active synapse to w.
func (n *Network) PrintSynapseStatus(w io.Writer) error {
	if n.g == nil {
		return ErrNoGraph
	}
	return n.g.WriteSynapseStatus(w)
}
