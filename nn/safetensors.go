package nn

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/openfluke/srnet/tensor"
)

// TensorInfo describes a tensor's properties
type TensorInfo struct {
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset [2]int `json:"data_offsets"`
}

// Checkpoint is the decoded content of a safetensors file.
type Checkpoint struct {
	Tensors  map[string]*tensor.Tensor
	Metadata map[string]string
}

// LoadSafetensors reads a safetensors file and returns tensors by name
func LoadSafetensors(filepath string) (*Checkpoint, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return LoadSafetensorsFromBytes(data)
}

// LoadSafetensorsFromBytes decodes safetensors data. F32, F16 and BF16
// tensors are converted to float32; other dtypes are rejected.
func LoadSafetensorsFromBytes(data []byte) (*Checkpoint, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("data too short: need at least 8 bytes for header size")
	}

	// Header size: first 8 bytes, little-endian
	headerSize := binary.LittleEndian.Uint64(data[0:8])
	if headerSize > uint64(len(data)-8) {
		return nil, fmt.Errorf("data too short: header size %d but only %d bytes available", headerSize, len(data)-8)
	}

	var rawHeader map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerSize], &rawHeader); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	// Tensor data starts after header
	allData := data[8+headerSize:]

	ckpt := &Checkpoint{Tensors: make(map[string]*tensor.Tensor)}
	for name, raw := range rawHeader {
		if name == "__metadata__" {
			if err := json.Unmarshal(raw, &ckpt.Metadata); err != nil {
				return nil, fmt.Errorf("failed to parse metadata: %w", err)
			}
			continue
		}

		var info TensorInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("tensor %s: bad header entry: %w", name, err)
		}
		t, err := decodeTensor(info, allData)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		ckpt.Tensors[name] = t
	}

	return ckpt, nil
}

func decodeTensor(info TensorInfo, allData []byte) (*tensor.Tensor, error) {
	width := bytesPerElement(info.DType)
	if width == 0 {
		return nil, fmt.Errorf("unsupported dtype %s", info.DType)
	}
	start, end := info.Offset[0], info.Offset[1]
	if start < 0 || end < start || end > len(allData) {
		return nil, fmt.Errorf("data offsets [%d, %d) out of bounds", start, end)
	}
	n := tensor.Numel(info.Shape)
	if (end-start) != n*width {
		return nil, fmt.Errorf("%d bytes for %d elements of %s", end-start, n, info.DType)
	}

	buf := allData[start:end]
	t := tensor.New(info.Shape...)
	for i := range t.Data {
		switch info.DType {
		case "F32":
			t.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		case "F16":
			t.Data[i] = float16ToFloat32(binary.LittleEndian.Uint16(buf[i*2:]))
		case "BF16":
			t.Data[i] = bfloat16ToFloat32(binary.LittleEndian.Uint16(buf[i*2:]))
		}
	}
	return t, nil
}

// bytesPerElement returns bytes per element for the float dtypes we read and write.
func bytesPerElement(dtype string) int {
	switch dtype {
	case "F32":
		return 4
	case "F16", "BF16":
		return 2
	default:
		return 0
	}
}

// float16ToFloat32 converts a float16 (half precision) to float32
func float16ToFloat32(f16 uint16) float32 {
	sign := uint32(f16>>15) & 0x1
	exponent := int32(f16>>10) & 0x1F
	mantissa := uint32(f16 & 0x3FF)

	var f32bits uint32
	switch {
	case exponent == 0 && mantissa == 0:
		f32bits = sign << 31
	case exponent == 0:
		// Subnormal: normalise the mantissa
		exponent = 1
		for mantissa&0x400 == 0 {
			mantissa <<= 1
			exponent--
		}
		mantissa &= 0x3FF
		f32bits = sign<<31 | uint32(exponent+127-15)<<23 | mantissa<<13
	case exponent == 0x1F:
		// Inf or NaN
		f32bits = sign<<31 | 0xFF<<23 | mantissa<<13
	default:
		f32bits = sign<<31 | uint32(exponent+127-15)<<23 | mantissa<<13
	}
	return math.Float32frombits(f32bits)
}

// bfloat16ToFloat32 converts a bfloat16 to float32
func bfloat16ToFloat32(bf16 uint16) float32 {
	// bfloat16 is just the top 16 bits of float32
	return math.Float32frombits(uint32(bf16) << 16)
}
