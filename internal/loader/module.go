// Package loader imports externally trained dense feed-forward models and turns
// them into sealed pruning graphs.
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrInvalidModule = errors.New("invalid module")

// Layer is one dense layer. Weight is laid out [out][in] as in a PyTorch
// Linear layer; Bias is optional.
type Layer struct {
	Name   string      `json:"name,omitempty"`
	Weight [][]float64 `json:"weight"`
	Bias   []float64   `json:"bias,omitempty"`
}

func (l Layer) OutputSize() int { return len(l.Weight) }

func (l Layer) InputSize() int {
	if len(l.Weight) == 0 {
		return 0
	}
	return len(l.Weight[0])
}

// Module is an ordered stack of dense layers.
type Module struct {
	InputSize  int     `json:"input_size,omitempty"`
	Activation string  `json:"activation,omitempty"`
	Layers     []Layer `json:"layers"`
}

// Validate checks layer shapes against each other and against inputFeatures.
func (m Module) Validate(inputFeatures int) error {
	if len(m.Layers) == 0 {
		return fmt.Errorf("%w: no layers", ErrInvalidModule)
	}
	if inputFeatures <= 0 {
		return fmt.Errorf("%w: input feature count must be > 0, got %d", ErrInvalidModule, inputFeatures)
	}
	if m.InputSize != 0 && m.InputSize != inputFeatures {
		return fmt.Errorf("%w: module declares %d inputs, caller expects %d", ErrInvalidModule, m.InputSize, inputFeatures)
	}
	in := inputFeatures
	for i, layer := range m.Layers {
		if layer.OutputSize() == 0 {
			return fmt.Errorf("%w: layer %d has no units", ErrInvalidModule, i)
		}
		for row, weights := range layer.Weight {
			if len(weights) != in {
				return fmt.Errorf("%w: layer %d row %d has %d weights, want %d", ErrInvalidModule, i, row, len(weights), in)
			}
		}
		if layer.Bias != nil && len(layer.Bias) != layer.OutputSize() {
			return fmt.Errorf("%w: layer %d has %d biases for %d units", ErrInvalidModule, i, len(layer.Bias), layer.OutputSize())
		}
		in = layer.OutputSize()
	}
	return nil
}

// LayerSizes returns the neuron count per graph layer, input layer first.
func (m Module) LayerSizes(inputFeatures int) []int {
	sizes := make([]int, 0, len(m.Layers)+1)
	sizes = append(sizes, inputFeatures)
	for _, layer := range m.Layers {
		sizes = append(sizes, layer.OutputSize())
	}
	return sizes
}

func ReadJSON(r io.Reader) (Module, error) {
	var m Module
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return Module{}, fmt.Errorf("decode module: %w", err)
	}
	return m, nil
}

func WriteJSON(w io.Writer, m Module) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// LoadFile reads a module from a .json or .safetensors file.
func LoadFile(path string) (Module, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		f, err := os.Open(path)
		if err != nil {
			return Module{}, err
		}
		defer f.Close()
		return ReadJSON(f)
	case ".safetensors":
		data, err := os.ReadFile(path)
		if err != nil {
			return Module{}, err
		}
		return ReadSafetensors(data)
	default:
		return Module{}, fmt.Errorf("unsupported model file extension: %s", filepath.Ext(path))
	}
}
