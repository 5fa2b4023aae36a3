package tensor

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

// TestTensorCreation verifies basic tensor construction
func TestTensorCreation(t *testing.T) {
	tensor := New(2, 3, 4, 5)
	if tensor.Size() != 120 {
		t.Errorf("Expected size 120, got %d", tensor.Size())
	}
	strides := tensor.Strides()
	if strides[0] != 60 || strides[1] != 20 || strides[2] != 5 || strides[3] != 1 {
		t.Errorf("Unexpected strides %v", strides)
	}

	if _, err := FromSlice([]float32{1, 2, 3}, 2, 2); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

// TestTensorClone verifies clones do not share storage
func TestTensorClone(t *testing.T) {
	original, _ := FromSlice([]float32{1, 2, 3, 4}, 4)
	clone := original.Clone()
	original.Data[0] = 100
	if clone.Data[0] != 1 {
		t.Errorf("Clone was modified when original changed")
	}
}

func TestReshape(t *testing.T) {
	x, _ := FromSlice([]float32{1, 2, 3, 4, 5, 6}, 6)
	r, err := x.Reshape(1, 1, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if ShapeString(r.Shape) != "[1, 1, 2, 3]" {
		t.Errorf("Expected [1, 1, 2, 3], got %s", ShapeString(r.Shape))
	}
	if _, err := x.Reshape(2, 2); err == nil {
		t.Error("Invalid reshape should fail")
	}
}

func TestScaleAdd(t *testing.T) {
	x, _ := FromSlice([]float32{1, 2, 3, 4}, 1, 1, 2, 2)
	y, _ := FromSlice([]float32{10, 10, 10, 10}, 1, 1, 2, 2)
	out, err := ScaleAdd(x, 0.2, y)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{10.2, 10.4, 10.6, 10.8}
	if MaxAbsDiff(out.Data, want) > 1e-5 {
		t.Errorf("Expected %v, got %v", want, out.Data)
	}
	if x.Data[0] != 1 || y.Data[0] != 10 {
		t.Error("ScaleAdd modified its inputs")
	}

	z := New(1, 2, 2, 2)
	if _, err := ScaleAdd(x, 1, z); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestConcatChannels(t *testing.T) {
	// two batches so the per-batch interleave is exercised
	a, _ := FromSlice([]float32{1, 2, 3, 4}, 2, 1, 1, 2)
	b, _ := FromSlice([]float32{5, 6, 7, 8, 9, 10, 11, 12}, 2, 2, 1, 2)
	out, err := ConcatChannels(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if ShapeString(out.Shape) != "[2, 3, 1, 2]" {
		t.Fatalf("Expected [2, 3, 1, 2], got %s", ShapeString(out.Shape))
	}
	want := []float32{1, 2, 5, 6, 7, 8, 3, 4, 9, 10, 11, 12}
	for i := range want {
		if out.Data[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, out.Data)
		}
	}

	c := New(2, 1, 2, 2)
	if _, err := ConcatChannels(a, c); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for spatial mismatch, got %v", err)
	}
}

func TestRandnDeterministic(t *testing.T) {
	a := Randn(rand.New(rand.NewSource(7)), 1, 3, 8, 8)
	b := Randn(rand.New(rand.NewSource(7)), 1, 3, 8, 8)
	if MaxAbsDiff(a.Data, b.Data) != 0 {
		t.Error("Same seed produced different tensors")
	}
	mean := Mean(a.Data)
	if math.Abs(float64(mean)) > 0.3 {
		t.Errorf("Mean of standard normal sample too far from 0: %f", mean)
	}
}

func TestStats(t *testing.T) {
	v := []float32{-2, 0, 5, 1}
	if Min(v) != -2 || Max(v) != 5 || Mean(v) != 1 {
		t.Errorf("Unexpected stats min=%f max=%f mean=%f", Min(v), Max(v), Mean(v))
	}
	if Min(nil) != 0 || Max(nil) != 0 || Mean(nil) != 0 {
		t.Error("Stats of empty slice should be 0")
	}
}
