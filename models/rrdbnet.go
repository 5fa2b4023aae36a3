package models

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/openfluke/srnet/nn"
	"github.com/openfluke/srnet/tensor"
)

// RRDBNet is the ESRGAN generator. The trunk always upsamples by 4; scales
// 2 and 1 first fold space into channels with pixel_unshuffle so that the
// network still ends at the requested scale.
type RRDBNet struct {
	Scale int

	Unshuffle *nn.PixelUnshuffleLayer // nil for scale 4
	ConvFirst *nn.Conv2D
	Body      *nn.Sequential
	ConvBody  *nn.Conv2D
	Upsample  *nn.Upsample
	ConvUp1   *nn.Conv2D
	ConvUp2   *nn.Conv2D
	ConvHR    *nn.Conv2D
	ConvLast  *nn.Conv2D
	LReLU     *nn.LeakyReLU
}

func NewRRDBNet(cfg Config, rng *rand.Rand) (*RRDBNet, error) {
	cfg.Arch = ArchRRDBNet
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	feat := cfg.NumFeat

	net := &RRDBNet{Scale: cfg.Scale}
	inCh := cfg.NumInCh
	switch cfg.Scale {
	case 2:
		net.Unshuffle = &nn.PixelUnshuffleLayer{Scale: 2}
		inCh *= 4
	case 1:
		net.Unshuffle = &nn.PixelUnshuffleLayer{Scale: 4}
		inCh *= 16
	}

	blocks := make([]nn.Module, cfg.NumBlock)
	for i := range blocks {
		b, err := nn.NewRRDB(rng, feat, cfg.NumGrowCh)
		if err != nil {
			return nil, fmt.Errorf("rrdb %d: %w", i, err)
		}
		blocks[i] = b
	}

	net.ConvFirst = nn.NewConv3x3(rng, inCh, feat)
	net.Body = nn.NewSequential(blocks...)
	net.ConvBody = nn.NewConv3x3(rng, feat, feat)
	net.Upsample = &nn.Upsample{Scale: 2}
	net.ConvUp1 = nn.NewConv3x3(rng, feat, feat)
	net.ConvUp2 = nn.NewConv3x3(rng, feat, feat)
	net.ConvHR = nn.NewConv3x3(rng, feat, feat)
	net.ConvLast = nn.NewConv3x3(rng, feat, cfg.NumOutCh)
	net.LReLU = &nn.LeakyReLU{NegativeSlope: 0.2}
	return net, nil
}

func (r *RRDBNet) Kind() string { return "RRDBNet" }

func (r *RRDBNet) Children() []nn.Named {
	var out []nn.Named
	if r.Unshuffle != nil {
		out = append(out, nn.Named{Name: "unshuffle", Module: r.Unshuffle})
	}
	return append(out,
		nn.Named{Name: "conv_first", Module: r.ConvFirst},
		nn.Named{Name: "body", Module: r.Body},
		nn.Named{Name: "conv_body", Module: r.ConvBody},
		nn.Named{Name: "upsample", Module: r.Upsample},
		nn.Named{Name: "conv_up1", Module: r.ConvUp1},
		nn.Named{Name: "conv_up2", Module: r.ConvUp2},
		nn.Named{Name: "conv_hr", Module: r.ConvHR},
		nn.Named{Name: "conv_last", Module: r.ConvLast},
		nn.Named{Name: "lrelu", Module: r.LReLU},
	)
}

// step is one named child invocation; run and trace both walk the same list.
// fn marks resampling done as a plain function call, which gets no summary
// row.
type step struct {
	name string
	m    nn.Module
	fn   bool
}

func (r *RRDBNet) head() []step {
	var s []step
	if r.Unshuffle != nil {
		s = append(s, step{"unshuffle", r.Unshuffle, true})
	}
	return append(s, step{name: "conv_first", m: r.ConvFirst})
}

func (r *RRDBNet) trunk() []step {
	return []step{{name: "body", m: r.Body}, {name: "conv_body", m: r.ConvBody}}
}

func (r *RRDBNet) upsampler() []step {
	return []step{
		{"upsample", r.Upsample, true}, {"conv_up1", r.ConvUp1, false}, {"lrelu", r.LReLU, false},
		{"upsample", r.Upsample, true}, {"conv_up2", r.ConvUp2, false}, {"lrelu", r.LReLU, false},
		{"conv_hr", r.ConvHR, false}, {"lrelu", r.LReLU, false},
		{"conv_last", r.ConvLast, false},
	}
}

func runSteps(ctx context.Context, steps []step, x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for _, s := range steps {
		if x, err = nn.ForwardChild(ctx, s.name, s.m, x); err != nil {
			return nil, err
		}
	}
	return x, nil
}

func traceSteps(tr *nn.Tracer, path string, steps []step, in []int) ([]int, error) {
	var err error
	for _, s := range steps {
		trace := tr.Child
		if s.fn {
			trace = tr.Func
		}
		if in, err = trace(nn.JoinPath(path, s.name), s.m, in); err != nil {
			return nil, err
		}
	}
	return in, nil
}

func (r *RRDBNet) Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	feat, err := runSteps(ctx, r.head(), x)
	if err != nil {
		return nil, err
	}
	bodyFeat, err := runSteps(ctx, r.trunk(), feat)
	if err != nil {
		return nil, err
	}
	if err := tensor.AddInPlace(bodyFeat, feat); err != nil {
		return nil, err
	}
	return runSteps(ctx, r.upsampler(), bodyFeat)
}

func (r *RRDBNet) OutputShape(in []int) ([]int, error) {
	return r.Trace(nil, "", in)
}

func (r *RRDBNet) Trace(tr *nn.Tracer, path string, in []int) ([]int, error) {
	feat, err := traceSteps(tr, path, r.head(), in)
	if err != nil {
		return nil, err
	}
	bodyFeat, err := traceSteps(tr, path, r.trunk(), feat)
	if err != nil {
		return nil, err
	}
	if !tensor.EqualShape(bodyFeat, feat) {
		return nil, fmt.Errorf("%w: trunk %s vs features %s", tensor.ErrShapeMismatch, tensor.ShapeString(bodyFeat), tensor.ShapeString(feat))
	}
	return traceSteps(tr, path, r.upsampler(), bodyFeat)
}
