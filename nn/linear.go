package nn

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/openfluke/srnet/tensor"
)

// Linear applies y = x W^T + b over the last dimension.
type Linear struct {
	In, Out int
	Weight  *tensor.Tensor // [Out, In]
	Bias    *tensor.Tensor // [Out] or nil
}

// NewLinear creates a fully connected layer with PyTorch's
// default uniform initialisation.
func NewLinear(rng *rand.Rand, in, out int, bias bool) *Linear {
	rng = newRand(rng)
	l := &Linear{In: in, Out: out, Weight: tensor.New(out, in)}
	bound := 1 / math.Sqrt(float64(in))
	uniform(rng, l.Weight.Data, bound)
	if bias {
		l.Bias = tensor.New(out)
		uniform(rng, l.Bias.Data, bound)
	}
	return l
}

func (l *Linear) Kind() string { return "Linear" }

func (l *Linear) Params() []*Param {
	ps := []*Param{{Name: "weight", Tensor: l.Weight}}
	if l.Bias != nil {
		ps = append(ps, &Param{Name: "bias", Tensor: l.Bias})
	}
	return ps
}

func (l *Linear) OutputShape(in []int) ([]int, error) {
	if len(in) == 0 || in[len(in)-1] != l.In {
		return nil, fmt.Errorf("%w: linear expects last dim %d, got %s", tensor.ErrShapeMismatch, l.In, tensor.ShapeString(in))
	}
	out := append([]int(nil), in...)
	out[len(out)-1] = l.Out
	return out, nil
}

func (l *Linear) Forward(_ context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	shape, err := l.OutputShape(x.Shape)
	if err != nil {
		return nil, err
	}
	out := tensor.New(shape...)
	rows := len(x.Data) / l.In
	for r := 0; r < rows; r++ {
		in := x.Data[r*l.In : (r+1)*l.In]
		for o := 0; o < l.Out; o++ {
			w := l.Weight.Data[o*l.In : (o+1)*l.In]
			var sum float32
			if l.Bias != nil {
				sum = l.Bias.Data[o]
			}
			for i, v := range in {
				sum += v * w[i]
			}
			out.Data[r*l.Out+o] = sum
		}
	}
	return out, nil
}
