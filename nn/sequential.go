package nn

import (
	"context"
	"strconv"

	"github.com/openfluke/srnet/tensor"
)

// Sequential chains its layers; children are named by index.
type Sequential struct {
	Layers []Module
}

func NewSequential(layers ...Module) *Sequential {
	return &Sequential{Layers: layers}
}

// MakeLayer stacks n blocks produced by factory.
func MakeLayer(n int, factory func() Module) *Sequential {
	layers := make([]Module, n)
	for i := range layers {
		layers[i] = factory()
	}
	return &Sequential{Layers: layers}
}

func (s *Sequential) Kind() string { return "Sequential" }

func (s *Sequential) Children() []Named {
	out := make([]Named, len(s.Layers))
	for i, l := range s.Layers {
		out[i] = Named{Name: strconv.Itoa(i), Module: l}
	}
	return out
}

func (s *Sequential) Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for i, l := range s.Layers {
		if x, err = ForwardChild(ctx, strconv.Itoa(i), l, x); err != nil {
			return nil, err
		}
	}
	return x, nil
}

func (s *Sequential) OutputShape(in []int) ([]int, error) {
	return s.Trace(nil, "", in)
}

func (s *Sequential) Trace(tr *Tracer, path string, in []int) ([]int, error) {
	var err error
	for i, l := range s.Layers {
		if in, err = tr.Child(JoinPath(path, strconv.Itoa(i)), l, in); err != nil {
			return nil, err
		}
	}
	return in, nil
}
