package nn

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/openfluke/srnet/tensor"
)

// SaveSafetensors writes tensors to a safetensors file
func SaveSafetensors(filepath string, tensors map[string]*tensor.Tensor, dtype string, metadata map[string]string) error {
	data, err := SerializeSafetensors(tensors, dtype, metadata)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath, data, 0644)
}

// SerializeSafetensors converts tensors to safetensors format bytes.
// Every tensor is stored with the same dtype (F32, F16 or BF16).
func SerializeSafetensors(tensors map[string]*tensor.Tensor, dtype string, metadata map[string]string) ([]byte, error) {
	width := bytesPerElement(dtype)
	if width == 0 {
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}

	// Sort names for deterministic order
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}
	currentOffset := 0
	for _, name := range names {
		t := tensors[name]
		size := t.Size() * width
		header[name] = TensorInfo{
			DType:  dtype,
			Shape:  t.Shape,
			Offset: [2]int{currentOffset, currentOffset + size},
		}
		currentOffset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}
	// Pad the header so tensor data starts 8-byte aligned
	for len(headerJSON)%8 != 0 {
		headerJSON = append(headerJSON, ' ')
	}

	// Build file: [header_size (8 bytes)] [header JSON] [tensor data]
	headerSize := len(headerJSON)
	result := make([]byte, 8+headerSize+currentOffset)
	binary.LittleEndian.PutUint64(result[0:8], uint64(headerSize))
	copy(result[8:], headerJSON)

	dest := result[8+headerSize:]
	for _, name := range names {
		for _, v := range tensors[name].Data {
			switch dtype {
			case "F32":
				binary.LittleEndian.PutUint32(dest, math.Float32bits(v))
			case "F16":
				binary.LittleEndian.PutUint16(dest, float32ToFloat16(v))
			case "BF16":
				binary.LittleEndian.PutUint16(dest, float32ToBFloat16(v))
			}
			dest = dest[width:]
		}
	}

	return result, nil
}

// SaveModel writes m's state dict as F32 with the given metadata.
func SaveModel(filepath string, m Module, metadata map[string]string) error {
	return SaveSafetensors(filepath, StateTensors(m), "F32", metadata)
}

// LoadModel reads a safetensors checkpoint into m and returns its metadata.
func LoadModel(filepath string, m Module, strict bool) (map[string]string, error) {
	ckpt, err := LoadSafetensors(filepath)
	if err != nil {
		return nil, err
	}
	if err := LoadStateDict(m, ckpt.Tensors, strict); err != nil {
		return nil, fmt.Errorf("load %s: %w", filepath, err)
	}
	return ckpt.Metadata, nil
}

// float32ToFloat16 converts with round-to-nearest-even; values beyond the
// half range saturate to infinity.
func float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	rawExp := (bits >> 23) & 0xFF
	mant := bits & 0x7FFFFF

	if rawExp == 0xFF {
		if mant != 0 {
			return sign | 0x7E00 // NaN
		}
		return sign | 0x7C00 // Inf
	}

	exp := int32(rawExp) - 127 + 15
	switch {
	case exp >= 0x1F:
		return sign | 0x7C00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		// Subnormal half: shift the implicit bit into the mantissa
		mant |= 0x800000
		shift := uint32(14 - exp)
		half := mant >> shift
		rem := mant & (1<<shift - 1)
		halfway := uint32(1) << (shift - 1)
		if rem > halfway || (rem == halfway && half&1 == 1) {
			half++
		}
		return sign | uint16(half)
	}

	half := uint32(exp)<<10 | mant>>13
	rem := mant & 0x1FFF
	if rem > 0x1000 || (rem == 0x1000 && half&1 == 1) {
		half++ // a carry into the exponent is still the correctly rounded value
	}
	return sign | uint16(half)
}

// float32ToBFloat16 keeps the top 16 bits with round-to-nearest-even.
func float32ToBFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	if bits&0x7F800000 == 0x7F800000 && bits&0x7FFFFF != 0 {
		return uint16(bits>>16) | 0x40 // quiet NaN
	}
	bits += 0x7FFF + (bits>>16)&1
	return uint16(bits >> 16)
}
