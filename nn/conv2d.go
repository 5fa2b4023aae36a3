package nn

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/openfluke/srnet/tensor"
)

// ConvBackend executes Conv2D layers. The CPU kernel is used when a layer
// has no backend.
type ConvBackend interface {
	Name() string
	Conv2D(ctx context.Context, x *tensor.Tensor, layer *Conv2D) (*tensor.Tensor, error)
}

// Conv2D is a 2D convolution with zero padding over NCHW tensors.
type Conv2D struct {
	InChannels  int
	OutChannels int
	KernelSize  int // square kernel, e.g. 3 for 3x3
	Stride      int
	Padding     int
	Weight      *tensor.Tensor // [OutChannels, InChannels, KernelSize, KernelSize]
	Bias        *tensor.Tensor // [OutChannels], nil when the layer has no bias

	Backend ConvBackend
}

// NewConv2D creates a convolution initialised the way PyTorch does:
// weight and bias ~ U(-1/sqrt(fanIn), 1/sqrt(fanIn)).
func NewConv2D(rng *rand.Rand, in, out, kernelSize, stride, padding int, bias bool) *Conv2D {
	rng = newRand(rng)
	c := &Conv2D{
		InChannels:  in,
		OutChannels: out,
		KernelSize:  kernelSize,
		Stride:      stride,
		Padding:     padding,
		Weight:      tensor.New(out, in, kernelSize, kernelSize),
	}
	bound := 1 / math.Sqrt(float64(in*kernelSize*kernelSize))
	uniform(rng, c.Weight.Data, bound)
	if bias {
		c.Bias = tensor.New(out)
		uniform(rng, c.Bias.Data, bound)
	}
	return c
}

// NewConv3x3 is the "same" 3x3 convolution used throughout the networks.
func NewConv3x3(rng *rand.Rand, in, out int) *Conv2D {
	return NewConv2D(rng, in, out, 3, 1, 1, true)
}

func (c *Conv2D) Kind() string { return "Conv2d" }

func (c *Conv2D) String() string {
	return fmt.Sprintf("Conv2d(%d, %d, kernel_size=%d, stride=%d, padding=%d, bias=%t)",
		c.InChannels, c.OutChannels, c.KernelSize, c.stride(), c.Padding, c.Bias != nil)
}

func (c *Conv2D) Params() []*Param {
	ps := []*Param{{Name: "weight", Tensor: c.Weight}}
	if c.Bias != nil {
		ps = append(ps, &Param{Name: "bias", Tensor: c.Bias})
	}
	return ps
}

func (c *Conv2D) stride() int {
	if c.Stride < 1 {
		return 1
	}
	return c.Stride
}

// OutputSize applies (in + 2*padding - kernel)/stride + 1 to one spatial dim.
func (c *Conv2D) OutputSize(in int) int {
	return (in+2*c.Padding-c.KernelSize)/c.stride() + 1
}

func (c *Conv2D) OutputShape(in []int) ([]int, error) {
	if len(in) != 4 {
		return nil, fmt.Errorf("%w: conv2d expects NCHW input, got %s", tensor.ErrShapeMismatch, tensor.ShapeString(in))
	}
	if in[1] != c.InChannels {
		return nil, fmt.Errorf("%w: conv2d expects %d input channels, got %d", tensor.ErrShapeMismatch, c.InChannels, in[1])
	}
	outH, outW := c.OutputSize(in[2]), c.OutputSize(in[3])
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("%w: input %dx%d too small for kernel %d", tensor.ErrShapeMismatch, in[2], in[3], c.KernelSize)
	}
	return []int{in[0], c.OutChannels, outH, outW}, nil
}

func (c *Conv2D) Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	if _, err := c.OutputShape(x.Shape); err != nil {
		return nil, err
	}
	if c.Backend != nil {
		return c.Backend.Conv2D(ctx, x, c)
	}
	return conv2DForwardCPU(ctx, x, c, 0)
}

// CPUBackend runs the convolution kernel on a bounded pool of goroutines,
// one job per (batch, output channel) plane.
type CPUBackend struct {
	Workers int // <= 0 uses GOMAXPROCS
}

func (b *CPUBackend) Name() string { return "cpu" }

func (b *CPUBackend) Conv2D(ctx context.Context, x *tensor.Tensor, layer *Conv2D) (*tensor.Tensor, error) {
	return conv2DForwardCPU(ctx, x, layer, b.Workers)
}

// conv2DForwardCPU performs 2D convolution on CPU
// input shape: [batch][inChannels][height][width] (flattened)
// output shape: [batch][filters][outHeight][outWidth] (flattened)
func conv2DForwardCPU(ctx context.Context, x *tensor.Tensor, c *Conv2D, workers int) (*tensor.Tensor, error) {
	outShape, err := c.OutputShape(x.Shape)
	if err != nil {
		return nil, err
	}
	batch, inC, inH, inW := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	filters, outH, outW := outShape[1], outShape[2], outShape[3]
	kSize, stride, padding := c.KernelSize, c.stride(), c.Padding
	output := tensor.New(outShape...)

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for job := 0; job < batch*filters; job++ {
		if gctx.Err() != nil {
			break
		}
		b, f := job/filters, job%filters
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out := output.Data[(b*filters+f)*outH*outW : (b*filters+f+1)*outH*outW]
			if c.Bias != nil {
				bias := c.Bias.Data[f]
				for i := range out {
					out[i] = bias
				}
			}

			for ic := 0; ic < inC; ic++ {
				in := x.Data[(b*inC+ic)*inH*inW : (b*inC+ic+1)*inH*inW]
				kernel := c.Weight.Data[(f*inC+ic)*kSize*kSize : (f*inC+ic+1)*kSize*kSize]
				for kh := 0; kh < kSize; kh++ {
					for kw := 0; kw < kSize; kw++ {
						w := kernel[kh*kSize+kw]
						for oh := 0; oh < outH; oh++ {
							ih := oh*stride + kh - padding
							if ih < 0 || ih >= inH {
								continue
							}
							row := in[ih*inW : (ih+1)*inW]
							dst := out[oh*outW : (oh+1)*outW]
							for ow := range dst {
								iw := ow*stride + kw - padding
								if iw >= 0 && iw < inW {
									dst[ow] += row[iw] * w
								}
							}
						}
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return output, nil
}

func uniform(rng *rand.Rand, data []float32, bound float64) {
	for i := range data {
		data[i] = float32((rng.Float64()*2 - 1) * bound)
	}
}
