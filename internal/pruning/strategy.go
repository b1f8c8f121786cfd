// Package pruning ranks active synapses by a utility estimator and disables
// the lowest ranked ones down to a scheduled target.
package pruning

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"prunenet/internal/utility"
)

var ErrInvalidPrunerName = errors.New("invalid pruner name")

type Strategy int

const (
	DropoutUtility Strategy = iota + 1
	UtilityPropagation
	ActivationTrace
	GradientTrace
	WeightMagnitude
	Random
)

var strategyNames = map[Strategy]string{
	DropoutUtility:     "dropout_utility_estimator",
	UtilityPropagation: "utility_propagation",
	ActivationTrace:    "trace_of_activation_magnitude",
	GradientTrace:      "trace_of_gradient",
	WeightMagnitude:    "weight_magnitude",
	Random:             "random",
}

var strategyAliases = map[string]Strategy{
	"dropout":                 DropoutUtility,
	"dropout_utility":         DropoutUtility,
	"utility_propoagation":    UtilityPropagation,
	"propagation":             UtilityPropagation,
	"activation_trace":        ActivationTrace,
	"trace_of_activation":     ActivationTrace,
	"gradient_trace":          GradientTrace,
	"weight_magnitude_pruner": WeightMagnitude,
	"magnitude":               WeightMagnitude,
	"random_pruner":           Random,
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

func (s Strategy) Valid() bool {
	_, ok := strategyNames[s]
	return ok
}

// Strategies lists every strategy in declaration order.
func Strategies() []Strategy {
	return []Strategy{DropoutUtility, UtilityPropagation, ActivationTrace, GradientTrace, WeightMagnitude, Random}
}

// ParseStrategy accepts canonical names, the prune_using_* method names and a
// few short aliases, case-insensitively.
func ParseStrategy(name string) (Strategy, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.TrimPrefix(key, "prune_using_")
	key = strings.ReplaceAll(key, "-", "_")
	for s, canonical := range strategyNames {
		if key == canonical {
			return s, nil
		}
	}
	if s, ok := strategyAliases[key]; ok {
		return s, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPrunerName, name)
}

// Scorer returns the ranking function for s. rng is only used by Random.
func (s Strategy) Scorer(rng *rand.Rand) (utility.ScoreFunc, error) {
	switch s {
	case DropoutUtility:
		return utility.DropoutScores, nil
	case UtilityPropagation:
		return utility.PropagatedScores, nil
	case ActivationTrace:
		return utility.ActivationTraceScores, nil
	case GradientTrace:
		return utility.GradientTraceScores, nil
	case WeightMagnitude:
		return utility.WeightMagnitudeScores, nil
	case Random:
		if rng == nil {
			return nil, errors.New("random pruner requires a random source")
		}
		return utility.RandomScores(rng), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrunerName, s)
	}
}
