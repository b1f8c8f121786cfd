// Package task provides the online supervised streams a pruning run trains on.
package task

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
)

const (
	NameXOR        = "xor"
	NameRegression = "regression"
	NameParity     = "parity"
)

// Sample is one input/target pair.
type Sample struct {
	Input  []float64
	Target []float64
}

// Task produces an endless stream of samples from the caller's random source.
type Task interface {
	Name() string
	InputSize() int
	OutputSize() int
	Sample(rng *rand.Rand) Sample
}

// BinaryTargets is implemented by tasks whose targets are always 0 or 1.
type BinaryTargets interface {
	BinaryTargets() bool
}

// IsBinary reports whether t only produces 0/1 targets, which makes a
// thresholded accuracy meaningful.
func IsBinary(t Task) bool {
	b, ok := t.(BinaryTargets)
	return ok && b.BinaryTargets()
}

// New builds a named task. inputs is ignored by xor; regression draws its
// coefficients from seed.
func New(name string, inputs int, seed int64) (Task, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameXOR:
		return XORTask{}, nil
	case NameRegression, "regression-mimic":
		if inputs <= 0 {
			return nil, fmt.Errorf("regression requires inputs > 0, got %d", inputs)
		}
		return NewRegressionTask(inputs, seed), nil
	case NameParity:
		if inputs <= 0 {
			return nil, fmt.Errorf("parity requires inputs > 0, got %d", inputs)
		}
		return ParityTask{Bits: inputs}, nil
	default:
		return nil, fmt.Errorf("unsupported task: %s (available: %s)", name, strings.Join(Names(), ", "))
	}
}

func Names() []string {
	names := []string{NameXOR, NameRegression, NameParity}
	sort.Strings(names)
	return names
}

type xorCase struct {
	in   []float64
	want float64
}

var xorCases = []xorCase{
	{in: []float64{0, 0}, want: 0},
	{in: []float64{0, 1}, want: 1},
	{in: []float64{1, 0}, want: 1},
	{in: []float64{1, 1}, want: 0},
}

// XORTask draws one of the four XOR cases uniformly.
type XORTask struct{}

func (XORTask) Name() string    { return NameXOR }
func (XORTask) InputSize() int  { return 2 }
func (XORTask) OutputSize() int { return 1 }

func (XORTask) BinaryTargets() bool { return true }

func (XORTask) Sample(rng *rand.Rand) Sample {
	c := xorCases[rng.Intn(len(xorCases))]
	return Sample{
		Input:  append([]float64(nil), c.in...),
		Target: []float64{c.want},
	}
}

// RegressionTask targets y = sum(c_i * x_i) with x drawn uniformly from
// [-1, 1].
type RegressionTask struct {
	Coefficients []float64
}

func NewRegressionTask(inputs int, seed int64) RegressionTask {
	rng := rand.New(rand.NewSource(seed))
	coefficients := make([]float64, inputs)
	for i := range coefficients {
		coefficients[i] = rng.Float64()*2 - 1
	}
	return RegressionTask{Coefficients: coefficients}
}

func (RegressionTask) Name() string     { return NameRegression }
func (t RegressionTask) InputSize() int { return len(t.Coefficients) }
func (RegressionTask) OutputSize() int  { return 1 }

func (t RegressionTask) Sample(rng *rand.Rand) Sample {
	input := make([]float64, len(t.Coefficients))
	var y float64
	for i, c := range t.Coefficients {
		input[i] = rng.Float64()*2 - 1
		y += c * input[i]
	}
	return Sample{Input: input, Target: []float64{y}}
}

// ParityTask targets 1 when an odd number of the random input bits is set.
type ParityTask struct {
	Bits int
}

func (ParityTask) Name() string     { return NameParity }
func (t ParityTask) InputSize() int { return t.Bits }
func (ParityTask) OutputSize() int  { return 1 }

func (ParityTask) BinaryTargets() bool { return true }

func (t ParityTask) Sample(rng *rand.Rand) Sample {
	input := make([]float64, t.Bits)
	ones := 0
	for i := range input {
		if rng.Intn(2) == 1 {
			input[i] = 1
			ones++
		}
	}
	return Sample{Input: input, Target: []float64{float64(ones % 2)}}
}
