package nn

import (
	"context"
	"fmt"

	"github.com/openfluke/srnet/tensor"
)

// ReLU applies max(0, v) element-wise.
type ReLU struct{}

func (ReLU) Kind() string { return "ReLU" }

func (ReLU) OutputShape(in []int) ([]int, error) { return in, nil }

func (ReLU) Forward(_ context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	out := tensor.New(x.Shape...)
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	return out, nil
}

// LeakyReLU applies v if v >= 0, else v * NegativeSlope.
type LeakyReLU struct {
	NegativeSlope float32
}

func (l *LeakyReLU) Kind() string { return "LeakyReLU" }

func (l *LeakyReLU) String() string {
	return fmt.Sprintf("LeakyReLU(negative_slope=%g)", l.NegativeSlope)
}

func (l *LeakyReLU) OutputShape(in []int) ([]int, error) { return in, nil }

func (l *LeakyReLU) Forward(_ context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	out := tensor.New(x.Shape...)
	for i, v := range x.Data {
		if v < 0 {
			v *= l.NegativeSlope
		}
		out.Data[i] = v
	}
	return out, nil
}
