package nn

import (
	"context"
	"fmt"
	"math"

	"github.com/openfluke/srnet/tensor"
)

// BatchNorm2D normalises each channel with its running statistics
// (inference mode).
type BatchNorm2D struct {
	NumFeatures int
	Eps         float32
	Weight      *tensor.Tensor // gamma [NumFeatures]
	Bias        *tensor.Tensor // beta [NumFeatures]
	RunningMean *tensor.Tensor
	RunningVar  *tensor.Tensor
}

func NewBatchNorm2D(numFeatures int) *BatchNorm2D {
	bn := &BatchNorm2D{
		NumFeatures: numFeatures,
		Eps:         1e-5,
		Weight:      tensor.New(numFeatures),
		Bias:        tensor.New(numFeatures),
		RunningMean: tensor.New(numFeatures),
		RunningVar:  tensor.New(numFeatures),
	}
	for i := 0; i < numFeatures; i++ {
		bn.Weight.Data[i] = 1
		bn.RunningVar.Data[i] = 1
	}
	return bn
}

func (bn *BatchNorm2D) Kind() string { return "BatchNorm2d" }

func (bn *BatchNorm2D) Params() []*Param {
	return []*Param{
		{Name: "weight", Tensor: bn.Weight},
		{Name: "bias", Tensor: bn.Bias},
		{Name: "running_mean", Tensor: bn.RunningMean, Buffer: true},
		{Name: "running_var", Tensor: bn.RunningVar, Buffer: true},
	}
}

func (bn *BatchNorm2D) OutputShape(in []int) ([]int, error) {
	if len(in) != 4 || in[1] != bn.NumFeatures {
		return nil, fmt.Errorf("%w: batchnorm2d expects [N, %d, H, W], got %s", tensor.ErrShapeMismatch, bn.NumFeatures, tensor.ShapeString(in))
	}
	return in, nil
}

func (bn *BatchNorm2D) Forward(_ context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	if _, err := bn.OutputShape(x.Shape); err != nil {
		return nil, err
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	plane := h * w
	out := tensor.New(x.Shape...)
	for ch := 0; ch < c; ch++ {
		inv := float32(1 / math.Sqrt(float64(bn.RunningVar.Data[ch]+bn.Eps)))
		scale := bn.Weight.Data[ch] * inv
		shift := bn.Bias.Data[ch] - bn.RunningMean.Data[ch]*scale
		for b := 0; b < n; b++ {
			off := (b*c + ch) * plane
			for i := off; i < off+plane; i++ {
				out.Data[i] = x.Data[i]*scale + shift
			}
		}
	}
	return out, nil
}
