package loader

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

type tensorInfo struct {
	DType   string `json:"dtype"`
	Shape   []int  `json:"shape"`
	Offsets [2]int `json:"data_offsets"`
}

// ReadSafetensors decodes a PyTorch state_dict saved as safetensors. Tensors
// named "<layer>.weight" (2-D, [out][in]) and "<layer>.bias" (1-D) are grouped
// per layer; layers are ordered by name with numeric runs compared by value,
// so "fc2" precedes "fc10" and "0" precedes "2".
func ReadSafetensors(data []byte) (Module, error) {
	if len(data) < 8 {
		return Module{}, fmt.Errorf("%w: safetensors data too short", ErrInvalidModule)
	}
	headerSize := binary.LittleEndian.Uint64(data[:8])
	if headerSize > uint64(len(data)-8) {
		return Module{}, fmt.Errorf("%w: header size %d exceeds %d available bytes", ErrInvalidModule, headerSize, len(data)-8)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerSize], &raw); err != nil {
		return Module{}, fmt.Errorf("%w: parse header: %v", ErrInvalidModule, err)
	}
	body := data[8+headerSize:]

	type pending struct {
		weight *tensorInfo
		bias   *tensorInfo
	}
	layers := make(map[string]*pending)
	for name, msg := range raw {
		if name == "__metadata__" {
			continue
		}
		prefix, kind, ok := splitTensorName(name)
		if !ok {
			continue
		}
		var info tensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return Module{}, fmt.Errorf("%w: tensor %s: %v", ErrInvalidModule, name, err)
		}
		p := layers[prefix]
		if p == nil {
			p = &pending{}
			layers[prefix] = p
		}
		if kind == "weight" {
			p.weight = &info
		} else {
			p.bias = &info
		}
	}

	names := make([]string, 0, len(layers))
	for name := range layers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return naturalLess(names[i], names[j]) })

	var m Module
	for _, name := range names {
		p := layers[name]
		if p.weight == nil {
			return Module{}, fmt.Errorf("%w: layer %s has a bias but no weight", ErrInvalidModule, name)
		}
		if len(p.weight.Shape) != 2 {
			return Module{}, fmt.Errorf("%w: layer %s weight has shape %v, want 2-D", ErrInvalidModule, name, p.weight.Shape)
		}
		flat, err := decodeTensor(body, *p.weight)
		if err != nil {
			return Module{}, fmt.Errorf("layer %s weight: %w", name, err)
		}
		rows, cols := p.weight.Shape[0], p.weight.Shape[1]
		layer := Layer{Name: name, Weight: make([][]float64, rows)}
		for r := 0; r < rows; r++ {
			layer.Weight[r] = flat[r*cols : (r+1)*cols]
		}
		if p.bias != nil {
			if layer.Bias, err = decodeTensor(body, *p.bias); err != nil {
				return Module{}, fmt.Errorf("layer %s bias: %w", name, err)
			}
		}
		m.Layers = append(m.Layers, layer)
	}
	if len(m.Layers) == 0 {
		return Module{}, fmt.Errorf("%w: no weight tensors found", ErrInvalidModule)
	}
	if m.Layers[0].InputSize() > 0 {
		m.InputSize = m.Layers[0].InputSize()
	}
	return m, nil
}

func splitTensorName(name string) (string, string, bool) {
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return "", "", false
	}
	kind := name[i+1:]
	if kind != "weight" && kind != "bias" {
		return "", "", false
	}
	return name[:i], kind, true
}

func decodeTensor(body []byte, info tensorInfo) ([]float64, error) {
	start, end := info.Offsets[0], info.Offsets[1]
	if start < 0 || end > len(body) || start > end {
		return nil, fmt.Errorf("%w: data offsets [%d,%d) out of bounds", ErrInvalidModule, start, end)
	}
	chunk := body[start:end]

	var width int
	switch info.DType {
	case "F64":
		width = 8
	case "F32":
		width = 4
	case "BF16":
		width = 2
	default:
		return nil, fmt.Errorf("%w: unsupported dtype %s", ErrInvalidModule, info.DType)
	}
	limit := len(chunk) / width
	count := 1
	for _, dim := range info.Shape {
		if dim < 0 {
			return nil, fmt.Errorf("%w: negative dimension in shape %v", ErrInvalidModule, info.Shape)
		}
		if dim > 0 && count > limit/dim {
			return nil, fmt.Errorf("%w: shape %v exceeds %d bytes of data", ErrInvalidModule, info.Shape, len(chunk))
		}
		count *= dim
	}
	if len(chunk) != count*width {
		return nil, fmt.Errorf("%w: %d bytes for %d %s values", ErrInvalidModule, len(chunk), count, info.DType)
	}

	out := make([]float64, count)
	for i := range out {
		b := chunk[i*width : (i+1)*width]
		switch info.DType {
		case "F64":
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b))
		case "F32":
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case "BF16":
			out[i] = float64(math.Float32frombits(uint32(binary.LittleEndian.Uint16(b)) << 16))
		}
	}
	return out, nil
}

// naturalLess compares strings chunk by chunk, numeric chunks by value.
func naturalLess(a, b string) bool {
	ca, cb := chunks(a), chunks(b)
	for i := 0; i < len(ca) && i < len(cb); i++ {
		if ca[i] == cb[i] {
			continue
		}
		na, errA := strconv.Atoi(ca[i])
		nb, errB := strconv.Atoi(cb[i])
		if errA == nil && errB == nil && na != nb {
			return na < nb
		}
		return ca[i] < cb[i]
	}
	return len(ca) < len(cb)
}

func chunks(s string) []string {
	var out []string
	start := 0
	for i := 1; i <= len(s); i++ {
		if i == len(s) || unicode.IsDigit(rune(s[i])) != unicode.IsDigit(rune(s[i-1])) {
			out = append(out, s[start:i])
			start = i
		}
	}
	return out
}

// EncodeSafetensors writes m as F32 safetensors using the same layer naming
// ReadSafetensors expects.
func EncodeSafetensors(m Module) ([]byte, error) {
	header := make(map[string]tensorInfo)
	var body []byte
	appendTensor := func(name string, shape []int, values []float64) {
		start := len(body)
		for _, v := range values {
			body = binary.LittleEndian.AppendUint32(body, math.Float32bits(float32(v)))
		}
		header[name] = tensorInfo{DType: "F32", Shape: shape, Offsets: [2]int{start, len(body)}}
	}
	for i, layer := range m.Layers {
		name := layer.Name
		if name == "" {
			name = fmt.Sprintf("layers.%d", i)
		}
		flat := make([]float64, 0, layer.OutputSize()*layer.InputSize())
		for _, row := range layer.Weight {
			flat = append(flat, row...)
		}
		appendTensor(name+".weight", []int{layer.OutputSize(), layer.InputSize()}, flat)
		if layer.Bias != nil {
			appendTensor(name+".bias", []int{len(layer.Bias)}, layer.Bias)
		}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := binary.LittleEndian.AppendUint64(nil, uint64(len(headerJSON)))
	out = append(out, headerJSON...)
	return append(out, body...), nil
}
