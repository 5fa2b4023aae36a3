package nn

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/openfluke/srnet/tensor"
)

func seqTensor(t *testing.T, shape ...int) *tensor.Tensor {
	t.Helper()
	x := tensor.New(shape...)
	for i := range x.Data {
		x.Data[i] = float32(i + 1)
	}
	return x
}

// TestConv2DKnownValues checks a 3x3 box filter with zero padding
func TestConv2DKnownValues(t *testing.T) {
	conv := NewConv2D(nil, 1, 1, 3, 1, 1, true)
	fill(conv.Weight.Data, 1)
	conv.Bias.Data[0] = 0.5

	x := seqTensor(t, 1, 1, 3, 3)
	out, err := conv.Forward(context.Background(), x)
	if err != nil {
		t.Fatal(err)
	}

	want := []float32{12, 21, 16, 27, 45, 33, 24, 39, 28}
	for i := range want {
		want[i] += 0.5
	}
	if tensor.MaxAbsDiff(out.Data, want) > 1e-5 {
		t.Errorf("Expected %v, got %v", want, out.Data)
	}
}

func TestConv2DStride(t *testing.T) {
	conv := NewConv2D(nil, 1, 1, 2, 2, 0, false)
	fill(conv.Weight.Data, 1)

	x := tensor.New(1, 1, 4, 4)
	for i := range x.Data {
		x.Data[i] = float32(i)
	}
	out, err := conv.Forward(context.Background(), x)
	if err != nil {
		t.Fatal(err)
	}
	if tensor.ShapeString(out.Shape) != "[1, 1, 2, 2]" {
		t.Fatalf("Expected [1, 1, 2, 2], got %s", tensor.ShapeString(out.Shape))
	}
	want := []float32{10, 18, 42, 50}
	if tensor.MaxAbsDiff(out.Data, want) != 0 {
		t.Errorf("Expected %v, got %v", want, out.Data)
	}
}

// TestConv2DMultiChannel sums over input channels per filter
func TestConv2DMultiChannel(t *testing.T) {
	conv := NewConv2D(nil, 2, 2, 1, 1, 0, true)
	// filter 0 = ch0 + ch1, filter 1 = 2*ch0 - ch1
	copy(conv.Weight.Data, []float32{1, 1, 2, -1})
	copy(conv.Bias.Data, []float32{0, 1})

	x, _ := tensor.FromSlice([]float32{1, 2, 10, 20}, 1, 2, 1, 2)
	out, err := conv.Forward(context.Background(), x)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{11, 22, 2*1 - 10 + 1, 2*2 - 20 + 1}
	if tensor.MaxAbsDiff(out.Data, want) != 0 {
		t.Errorf("Expected %v, got %v", want, out.Data)
	}
}

func TestConv2DWorkersAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	conv := NewConv3x3(rng, 4, 5)
	x := tensor.Randn(rng, 2, 4, 9, 7)

	conv.Backend = &CPUBackend{Workers: 1}
	serial, err := conv.Forward(context.Background(), x)
	if err != nil {
		t.Fatal(err)
	}
	conv.Backend = &CPUBackend{Workers: 8}
	parallel, err := conv.Forward(context.Background(), x)
	if err != nil {
		t.Fatal(err)
	}
	if d := tensor.MaxAbsDiff(serial.Data, parallel.Data); d != 0 {
		t.Errorf("Worker count changed the result: max diff %g", d)
	}
}

func TestConv2DCancelled(t *testing.T) {
	conv := NewConv3x3(rand.New(rand.NewSource(2)), 3, 8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := conv.Forward(ctx, tensor.New(1, 3, 16, 16))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestConv2DShapeErrors(t *testing.T) {
	conv := NewConv3x3(nil, 3, 8)
	if _, err := conv.Forward(context.Background(), tensor.New(1, 4, 8, 8)); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for channel mismatch, got %v", err)
	}
	if _, err := conv.OutputShape([]int{3, 8, 8}); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for 3-D input, got %v", err)
	}
	big := NewConv2D(nil, 1, 1, 5, 1, 0, false)
	if _, err := big.OutputShape([]int{1, 1, 3, 3}); err == nil {
		t.Error("Expected error for kernel larger than input")
	}
}

// TestConv2DDefaultInit checks the uniform bound 1/sqrt(fan_in)
func TestConv2DDefaultInit(t *testing.T) {
	conv := NewConv3x3(rand.New(rand.NewSource(3)), 16, 16)
	bound := float32(1 / math.Sqrt(16*9))
	for _, v := range conv.Weight.Data {
		if v < -bound || v > bound {
			t.Fatalf("weight %f outside [-%f, %f]", v, bound, bound)
		}
	}
	for _, v := range conv.Bias.Data {
		if v < -bound || v > bound {
			t.Fatalf("bias %f outside [-%f, %f]", v, bound, bound)
		}
	}
	if tensor.Max(conv.Weight.Data) < bound/2 {
		t.Error("weights look degenerate")
	}
}

// TestConv2DZeroWeightPropagatesNonFinite keeps IEEE semantics: 0 * Inf is NaN
func TestConv2DZeroWeightPropagatesNonFinite(t *testing.T) {
	conv := NewConv2D(nil, 1, 1, 1, 1, 0, false)
	fill(conv.Weight.Data, 0)

	x, _ := tensor.FromSlice([]float32{float32(math.Inf(1)), 1}, 1, 1, 1, 2)
	out, err := conv.Forward(context.Background(), x)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(float64(out.Data[0])) {
		t.Errorf("Expected NaN for Inf input, got %v", out.Data[0])
	}
	if out.Data[1] != 0 {
		t.Errorf("Expected 0 for finite input, got %v", out.Data[1])
	}
}
