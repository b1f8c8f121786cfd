package loader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"prunenet/internal/graph"
	"prunenet/internal/nn"
)

func sampleModule() Module {
	return Module{
		InputSize: 2,
		Layers: []Layer{
			{Name: "fc1", Weight: [][]float64{{1.0, 0.1}, {0.2, 0.05}}, Bias: []float64{0.1, 0}},
			{Name: "fc2", Weight: [][]float64{{2.0, 0.3}}},
		},
	}
}

func TestBuildKeepsEverythingAtFullUtility(t *testing.T) {
	g, err := Build(sampleModule(), BuildOptions{HiddenActivation: nn.ActivationReLU, InputFeatures: 2, UtilityToKeep: 1})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if g.ActiveCount() != 6 || g.TotalInitialSynapses() != 6 {
		t.Fatalf("expected 6 active synapses, got active=%d total=%d", g.ActiveCount(), g.TotalInitialSynapses())
	}
	if got := g.Neuron(2).Bias; got != 0.1 {
		t.Fatalf("expected bias 0.1 on first hidden neuron, got %f", got)
	}
}

func TestBuildSeedsByWeightMass(t *testing.T) {
	g, err := Build(sampleModule(), BuildOptions{HiddenActivation: nn.ActivationReLU, InputFeatures: 2, UtilityToKeep: 0.8, MinSynapsesToKeep: 1})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	active := g.ActiveSynapses()
	if len(active) != 2 || active[0] != 0 || active[1] != 4 {
		t.Fatalf("expected synapses [0 4] to survive, got %v", active)
	}
	if g.TotalInitialSynapses() != 2 || g.MinSynapsesToKeep() != 1 {
		t.Fatalf("unexpected graph totals: total=%d min=%d", g.TotalInitialSynapses(), g.MinSynapsesToKeep())
	}
	if g.Neuron(3).Alive {
		t.Fatal("expected hidden neuron without inputs to be pruned")
	}

	if err := g.Forward([]float64{1, 1}); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if got := g.Predictions()[0]; math.Abs(got-2.2) > 1e-12 {
		t.Fatalf("expected prediction 2.2, got %f", got)
	}
}

func TestBuildProtectsOutputPath(t *testing.T) {
	m := Module{Layers: []Layer{
		{Weight: [][]float64{{5, 5}, {0.01, 0.01}}},
		{Weight: [][]float64{{0.1, 3}}},
	}}
	g, err := Build(m, BuildOptions{HiddenActivation: nn.ActivationLinear, InputFeatures: 2, UtilityToKeep: 0.5})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []graph.SynapseID{0, 1, 2, 5}
	got := g.ActiveSynapses()
	if len(got) != len(want) {
		t.Fatalf("expected active synapses %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected active synapses %v, got %v", want, got)
		}
	}
}

func TestBuildValidation(t *testing.T) {
	cases := []struct {
		name string
		m    Module
		opts BuildOptions
	}{
		{name: "input mismatch", m: sampleModule(), opts: BuildOptions{InputFeatures: 3, UtilityToKeep: 1}},
		{name: "ragged row", m: Module{Layers: []Layer{{Weight: [][]float64{{1, 2}, {3}}}}}, opts: BuildOptions{InputFeatures: 2, UtilityToKeep: 1}},
		{name: "bias length", m: Module{Layers: []Layer{{Weight: [][]float64{{1, 2}}, Bias: []float64{1, 2}}}}, opts: BuildOptions{InputFeatures: 2, UtilityToKeep: 1}},
		{name: "no layers", m: Module{}, opts: BuildOptions{InputFeatures: 2, UtilityToKeep: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Build(tc.m, tc.opts); !errors.Is(err, ErrInvalidModule) {
				t.Fatalf("expected ErrInvalidModule, got %v", err)
			}
		})
	}

	if _, err := Build(sampleModule(), BuildOptions{InputFeatures: 2, UtilityToKeep: 0}); err == nil {
		t.Fatal("expected error for zero utility to keep")
	}
	if _, err := Build(sampleModule(), BuildOptions{InputFeatures: 2, UtilityToKeep: 1.5}); err == nil {
		t.Fatal("expected error for utility to keep above one")
	}
}

func TestSafetensorsRoundTrip(t *testing.T) {
	m := Module{Layers: []Layer{
		{Name: "net.0", Weight: [][]float64{{0.5, -1.25}, {2, 0}}, Bias: []float64{0.25, -0.5}},
		{Name: "net.2", Weight: [][]float64{{1.5, -3}}, Bias: []float64{1}},
	}}
	data, err := EncodeSafetensors(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := ReadSafetensors(data)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.InputSize != 2 || len(got.Layers) != 2 {
		t.Fatalf("unexpected module shape: input=%d layers=%d", got.InputSize, len(got.Layers))
	}
	if got.Layers[0].Name != "net.0" || got.Layers[1].Name != "net.2" {
		t.Fatalf("unexpected layer order: %s, %s", got.Layers[0].Name, got.Layers[1].Name)
	}
	if got.Layers[0].Weight[0][1] != -1.25 || got.Layers[1].Weight[0][1] != -3 || got.Layers[0].Bias[1] != -0.5 {
		t.Fatalf("unexpected decoded values: %+v", got.Layers)
	}
}

func TestReadSafetensorsRejectsTruncatedData(t *testing.T) {
	if _, err := ReadSafetensors([]byte{1, 2, 3}); !errors.Is(err, ErrInvalidModule) {
		t.Fatalf("expected ErrInvalidModule for short input, got %v", err)
	}
	data, err := EncodeSafetensors(sampleModule())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := ReadSafetensors(data[:len(data)-4]); !errors.Is(err, ErrInvalidModule) {
		t.Fatalf("expected ErrInvalidModule for truncated body, got %v", err)
	}
}

func rawSafetensors(header string, body []byte) []byte {
	data := make([]byte, 8, 8+len(header)+len(body))
	binary.LittleEndian.PutUint64(data, uint64(len(header)))
	data = append(data, header...)
	return append(data, body...)
}

func TestReadSafetensorsRejectsBadShapes(t *testing.T) {
	cases := map[string]string{
		"negative dims": `{"fc.weight":{"dtype":"F32","shape":[-1,-2],"data_offsets":[0,8]}}`,
		"overflow":      `{"fc.weight":{"dtype":"F32","shape":[4611686018427387904,4],"data_offsets":[0,8]}}`,
		"too large":     `{"fc.weight":{"dtype":"F32","shape":[3,1],"data_offsets":[0,8]}}`,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadSafetensors(rawSafetensors(header, make([]byte, 8))); !errors.Is(err, ErrInvalidModule) {
				t.Fatalf("expected ErrInvalidModule, got %v", err)
			}
		})
	}
}

func TestNaturalLess(t *testing.T) {
	if !naturalLess("fc2", "fc10") {
		t.Fatal("expected fc2 < fc10")
	}
	if naturalLess("layers.10", "layers.9") {
		t.Fatal("expected layers.9 < layers.10")
	}
	if !naturalLess("encoder", "encoder.1") {
		t.Fatal("expected prefix to sort first")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleModule()); err != nil {
		t.Fatalf("write json: %v", err)
	}
	jsonPath := filepath.Join(dir, "model.json")
	if err := os.WriteFile(jsonPath, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	m, err := LoadFile(jsonPath)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if len(m.Layers) != 2 || m.Layers[1].Weight[0][0] != 2.0 {
		t.Fatalf("unexpected json module: %+v", m)
	}

	data, err := EncodeSafetensors(sampleModule())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	stPath := filepath.Join(dir, "model.safetensors")
	if err := os.WriteFile(stPath, data, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if m, err = LoadFile(stPath); err != nil {
		t.Fatalf("load safetensors: %v", err)
	}
	if len(m.Layers) != 2 || m.Layers[0].Name != "fc1" {
		t.Fatalf("unexpected safetensors module: %+v", m)
	}

	if _, err := LoadFile(filepath.Join(dir, "model.onnx")); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported extension error, got %v", err)
	}
}
