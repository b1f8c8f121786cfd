package nn

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	ActivationLinear = "linear"
	ActivationReLU   = "relu"
)

var (
	ErrActivationExists   = errors.New("activation already registered")
	ErrActivationNotFound = errors.New("activation not found")
)

type ActivationFunc func(x float64) float64

// Activation pairs a transfer function with its derivative with respect to the
// pre-activation value.
type Activation struct {
	Name       string
	Func       ActivationFunc
	Derivative ActivationFunc
}

var activationRegistry = struct {
	mu sync.RWMutex
	m  map[string]Activation
}{
	m: make(map[string]Activation),
}

func init() {
	initializeBuiltInActivations()
}

func initializeBuiltInActivations() {
	MustRegisterActivation(Activation{Name: ActivationLinear, Func: identity, Derivative: identityDerivative})
	MustRegisterActivation(Activation{Name: ActivationReLU, Func: relu, Derivative: reluDerivative})
	MustRegisterActivation(Activation{Name: "tanh", Func: tanh, Derivative: tanhDerivative})
	MustRegisterActivation(Activation{Name: "sigmoid", Func: sigmoid, Derivative: sigmoidDerivative})
}

func RegisterActivation(act Activation) error {
	if act.Name == "" {
		return errors.New("activation name is required")
	}
	if act.Func == nil {
		return errors.New("activation function is required")
	}
	if act.Derivative == nil {
		return errors.New("activation derivative is required")
	}

	activationRegistry.mu.Lock()
	defer activationRegistry.mu.Unlock()

	if _, exists := activationRegistry.m[act.Name]; exists {
		return fmt.Errorf("%w: %s", ErrActivationExists, act.Name)
	}
	activationRegistry.m[act.Name] = act
	return nil
}

func MustRegisterActivation(act Activation) {
	if err := RegisterActivation(act); err != nil {
		panic(err)
	}
}

// GetActivation resolves name after normalisation, so "identity" and "Linear"
// both map to the linear activation.
func GetActivation(name string) (Activation, error) {
	key := NormalizeActivationName(name)

	activationRegistry.mu.RLock()
	act, ok := activationRegistry.m[key]
	activationRegistry.mu.RUnlock()
	if !ok {
		return Activation{}, fmt.Errorf("%w: %s", ErrActivationNotFound, name)
	}
	return act, nil
}

func NormalizeActivationName(name string) string {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "", "identity", ActivationLinear, "none":
		return ActivationLinear
	default:
		return n
	}
}

func ListActivations() []string {
	activationRegistry.mu.RLock()
	defer activationRegistry.mu.RUnlock()

	names := make([]string, 0, len(activationRegistry.m))
	for name := range activationRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetActivationRegistryForTests() {
	activationRegistry.mu.Lock()
	activationRegistry.m = make(map[string]Activation)
	activationRegistry.mu.Unlock()
	initializeBuiltInActivations()
}
