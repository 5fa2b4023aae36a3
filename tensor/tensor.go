// Package tensor provides the dense float32 tensor shared by every layer.
//
// Tensors are row-major. Image tensors use NCHW order:
//
//	[batch][channels][height][width]
//
// flattened into Data. Operations allocate new tensors unless their name
// ends in InPlace.
package tensor

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

// ErrShapeMismatch is returned when two tensors or a tensor and a shape disagree.
var ErrShapeMismatch = errors.New("shape mismatch")

// Tensor is a dense row-major float32 tensor.
type Tensor struct {
	Data  []float32
	Shape []int
}

// New creates a zero-filled tensor with the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{
		Data:  make([]float32, Numel(shape)),
		Shape: append([]int(nil), shape...),
	}
}

// FromSlice wraps data in a tensor. data is not copied.
func FromSlice(data []float32, shape ...int) (*Tensor, error) {
	if len(data) != Numel(shape) {
		return nil, fmt.Errorf("%w: %d values for shape %s", ErrShapeMismatch, len(data), ShapeString(shape))
	}
	return &Tensor{Data: data, Shape: append([]int(nil), shape...)}, nil
}

// Randn fills a new tensor with samples from the standard normal distribution.
func Randn(rng *rand.Rand, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64())
	}
	return t
}

// Numel returns the number of elements described by shape.
func Numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Size returns the number of elements.
func (t *Tensor) Size() int {
	return len(t.Data)
}

// Strides returns row-major strides for the tensor's shape.
func (t *Tensor) Strides() []int {
	strides := make([]int, len(t.Shape))
	s := 1
	for i := len(t.Shape) - 1; i >= 0; i-- {
		strides[i] = s
		s *= t.Shape[i]
	}
	return strides
}

// Dims4 unpacks an NCHW shape.
func (t *Tensor) Dims4() (n, c, h, w int, err error) {
	if len(t.Shape) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("%w: expected 4-D NCHW tensor, got %s", ErrShapeMismatch, ShapeString(t.Shape))
	}
	return t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3], nil
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{
		Data:  make([]float32, len(t.Data)),
		Shape: append([]int(nil), t.Shape...),
	}
	copy(out.Data, t.Data)
	return out
}

// Reshape returns a copy with a new shape holding the same number of elements.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if Numel(shape) != len(t.Data) {
		return nil, fmt.Errorf("%w: cannot reshape %s to %s", ErrShapeMismatch, ShapeString(t.Shape), ShapeString(shape))
	}
	out := t.Clone()
	out.Shape = append([]int(nil), shape...)
	return out, nil
}

// SameShape reports whether both tensors have identical shapes.
func SameShape(a, b *Tensor) bool {
	return EqualShape(a.Shape, b.Shape)
}

// EqualShape compares two shapes element-wise.
func EqualShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ShapeString renders a shape as "[1, 3, 64, 64]".
func ShapeString(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%s", ShapeString(t.Shape))
}
