package nn

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/openfluke/srnet/tensor"
)

// =============================================================================
// ResBlock (EDSR body)
// =============================================================================

// ResBlock is conv3x3 -> ReLU -> conv3x3 with a scaled identity skip:
// out = body(x)*ResScale + x.
type ResBlock struct {
	Body     *Sequential
	ResScale float32
}

func NewResBlock(rng *rand.Rand, nFeats int, resScale float32) *ResBlock {
	rng = newRand(rng)
	return &ResBlock{
		Body: NewSequential(
			NewConv3x3(rng, nFeats, nFeats),
			&ReLU{},
			NewConv3x3(rng, nFeats, nFeats),
		),
		ResScale: resScale,
	}
}

func (r *ResBlock) Kind() string { return "ResBlock" }

func (r *ResBlock) Children() []Named { return []Named{{"body", r.Body}} }

func (r *ResBlock) Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	res, err := ForwardChild(ctx, "body", r.Body, x)
	if err != nil {
		return nil, err
	}
	return tensor.ScaleAdd(res, r.ResScale, x)
}

func (r *ResBlock) OutputShape(in []int) ([]int, error) { return r.Trace(nil, "", in) }

func (r *ResBlock) Trace(tr *Tracer, path string, in []int) ([]int, error) {
	out, err := tr.Child(JoinPath(path, "body"), r.Body, in)
	if err != nil {
		return nil, err
	}
	return residualShape(out, in)
}

// =============================================================================
// ResidualDenseBlock / RRDB (ESRGAN body)
// =============================================================================

// DenseResidualScale scales the residual branch of ResidualDenseBlock and RRDB.
const DenseResidualScale = 0.2

// ResidualDenseBlock densely connects five 3x3 convolutions: each conv sees
// the channel concatenation of the block input and every earlier output.
type ResidualDenseBlock struct {
	Conv1, Conv2, Conv3, Conv4, Conv5 *Conv2D
	LReLU                             *LeakyReLU
}

// NewResidualDenseBlock builds the block and initialises its convolutions
// with Kaiming-normal weights scaled by 0.1 and zero biases.
func NewResidualDenseBlock(rng *rand.Rand, numFeat, numGrowCh int) (*ResidualDenseBlock, error) {
	rng = newRand(rng)
	b := &ResidualDenseBlock{
		Conv1: NewConv3x3(rng, numFeat, numGrowCh),
		Conv2: NewConv3x3(rng, numFeat+numGrowCh, numGrowCh),
		Conv3: NewConv3x3(rng, numFeat+2*numGrowCh, numGrowCh),
		Conv4: NewConv3x3(rng, numFeat+3*numGrowCh, numGrowCh),
		Conv5: NewConv3x3(rng, numFeat+4*numGrowCh, numFeat),
		LReLU: &LeakyReLU{NegativeSlope: 0.2},
	}
	err := DefaultInitWeights(rng, []Module{b.Conv1, b.Conv2, b.Conv3, b.Conv4, b.Conv5}, InitOptions{Scale: 0.1})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (b *ResidualDenseBlock) Kind() string { return "ResidualDenseBlock" }

func (b *ResidualDenseBlock) Children() []Named {
	return []Named{
		{"conv1", b.Conv1}, {"conv2", b.Conv2}, {"conv3", b.Conv3},
		{"conv4", b.Conv4}, {"conv5", b.Conv5}, {"lrelu", b.LReLU},
	}
}

func (b *ResidualDenseBlock) convs() []Named { return b.Children()[:5] }

func (b *ResidualDenseBlock) Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	feats := []*tensor.Tensor{x}
	var out *tensor.Tensor
	for i, c := range b.convs() {
		in, err := tensor.ConcatChannels(feats...)
		if err != nil {
			return nil, err
		}
		if out, err = ForwardChild(ctx, c.Name, c.Module, in); err != nil {
			return nil, err
		}
		if i == 4 {
			break
		}
		if out, err = ForwardChild(ctx, "lrelu", b.LReLU, out); err != nil {
			return nil, err
		}
		feats = append(feats, out)
	}
	return tensor.ScaleAdd(out, DenseResidualScale, x)
}

func (b *ResidualDenseBlock) OutputShape(in []int) ([]int, error) { return b.Trace(nil, "", in) }

func (b *ResidualDenseBlock) Trace(tr *Tracer, path string, in []int) ([]int, error) {
	cat := append([]int(nil), in...)
	var out []int
	var err error
	for i, c := range b.convs() {
		if out, err = tr.Child(JoinPath(path, c.Name), c.Module, cat); err != nil {
			return nil, err
		}
		if i == 4 {
			break
		}
		if out, err = tr.Child(JoinPath(path, "lrelu"), b.LReLU, out); err != nil {
			return nil, err
		}
		cat[1] += out[1]
	}
	return residualShape(out, in)
}

// RRDB chains three residual dense blocks under one more scaled skip.
type RRDB struct {
	RDB1, RDB2, RDB3 *ResidualDenseBlock
}

func NewRRDB(rng *rand.Rand, numFeat, numGrowCh int) (*RRDB, error) {
	rng = newRand(rng)
	var blocks [3]*ResidualDenseBlock
	for i := range blocks {
		b, err := NewResidualDenseBlock(rng, numFeat, numGrowCh)
		if err != nil {
			return nil, err
		}
		blocks[i] = b
	}
	return &RRDB{RDB1: blocks[0], RDB2: blocks[1], RDB3: blocks[2]}, nil
}

func (r *RRDB) Kind() string { return "RRDB" }

func (r *RRDB) Children() []Named {
	return []Named{{"rdb1", r.RDB1}, {"rdb2", r.RDB2}, {"rdb3", r.RDB3}}
}

func (r *RRDB) Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x
	var err error
	for _, c := range r.Children() {
		if out, err = ForwardChild(ctx, c.Name, c.Module, out); err != nil {
			return nil, err
		}
	}
	return tensor.ScaleAdd(out, DenseResidualScale, x)
}

func (r *RRDB) OutputShape(in []int) ([]int, error) { return r.Trace(nil, "", in) }

func (r *RRDB) Trace(tr *Tracer, path string, in []int) ([]int, error) {
	out := in
	var err error
	for _, c := range r.Children() {
		if out, err = tr.Child(JoinPath(path, c.Name), c.Module, out); err != nil {
			return nil, err
		}
	}
	return residualShape(out, in)
}

func residualShape(out, skip []int) ([]int, error) {
	if !tensor.EqualShape(out, skip) {
		return nil, fmt.Errorf("%w: residual %s vs skip %s", tensor.ErrShapeMismatch, tensor.ShapeString(out), tensor.ShapeString(skip))
	}
	return out, nil
}
