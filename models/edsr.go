package models

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/openfluke/srnet/nn"
	"github.com/openfluke/srnet/tensor"
)

// Generator is the EDSR network:
//
//	head:  conv3x3 in -> feat
//	body:  NumBlock ResBlocks, plus a global skip from the head
//	tail:  conv3x3 feat -> feat*scale^2, PixelShuffle(scale), ReLU, conv3x3 feat -> out
type Generator struct {
	Head *nn.Conv2D
	Body *nn.Sequential
	Tail *nn.Sequential
}

// NewGenerator builds an EDSR generator. cfg.Arch is not consulted.
func NewGenerator(cfg Config, rng *rand.Rand) (*Generator, error) {
	cfg.Arch = ArchEDSR
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	feat, scale := cfg.NumFeat, cfg.Scale

	return &Generator{
		Head: nn.NewConv3x3(rng, cfg.NumInCh, feat),
		Body: nn.MakeLayer(cfg.NumBlock, func() nn.Module {
			return nn.NewResBlock(rng, feat, cfg.ResScale)
		}),
		Tail: nn.NewSequential(
			nn.NewConv3x3(rng, feat, feat*scale*scale),
			&nn.PixelShuffle{Scale: scale},
			&nn.ReLU{},
			nn.NewConv3x3(rng, feat, cfg.NumOutCh),
		),
	}, nil
}

func (g *Generator) Kind() string { return "Generator" }

func (g *Generator) Children() []nn.Named {
	return []nn.Named{{Name: "head", Module: g.Head}, {Name: "body", Module: g.Body}, {Name: "tail", Module: g.Tail}}
}

func (g *Generator) Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	head, err := nn.ForwardChild(ctx, "head", g.Head, x)
	if err != nil {
		return nil, err
	}
	res, err := nn.ForwardChild(ctx, "body", g.Body, head)
	if err != nil {
		return nil, err
	}
	if err := tensor.AddInPlace(res, head); err != nil {
		return nil, err
	}
	return nn.ForwardChild(ctx, "tail", g.Tail, res)
}

func (g *Generator) OutputShape(in []int) ([]int, error) {
	return g.Trace(nil, "", in)
}

// Trace follows Forward's execution order for shape inference and summaries.
func (g *Generator) Trace(tr *nn.Tracer, path string, in []int) ([]int, error) {
	head, err := tr.Child(nn.JoinPath(path, "head"), g.Head, in)
	if err != nil {
		return nil, err
	}
	res, err := tr.Child(nn.JoinPath(path, "body"), g.Body, head)
	if err != nil {
		return nil, err
	}
	if !tensor.EqualShape(res, head) {
		return nil, fmt.Errorf("%w: body %s vs head %s", tensor.ErrShapeMismatch, tensor.ShapeString(res), tensor.ShapeString(head))
	}
	return tr.Child(nn.JoinPath(path, "tail"), g.Tail, res)
}
