package nn

import (
	"context"
	"fmt"

	"github.com/openfluke/srnet/tensor"
)

// PixelShuffle rearranges [N, C*r*r, H, W] into [N, C, H*r, W*r].
type PixelShuffle struct {
	Scale int
}

func (p *PixelShuffle) Kind() string { return "PixelShuffle" }

func (p *PixelShuffle) String() string { return fmt.Sprintf("PixelShuffle(upscale_factor=%d)", p.Scale) }

func (p *PixelShuffle) OutputShape(in []int) ([]int, error) {
	r := p.Scale
	if len(in) != 4 || r < 1 || in[1]%(r*r) != 0 {
		return nil, fmt.Errorf("%w: pixel shuffle by %d needs channels divisible by %d, got %s",
			tensor.ErrShapeMismatch, r, r*r, tensor.ShapeString(in))
	}
	return []int{in[0], in[1] / (r * r), in[2] * r, in[3] * r}, nil
}

func (p *PixelShuffle) Forward(_ context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	shape, err := p.OutputShape(x.Shape)
	if err != nil {
		return nil, err
	}
	r := p.Scale
	n, inC, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	c := shape[1]
	out := tensor.New(shape...)
	outH, outW := h*r, w*r

	// out[n, c, h*r+i, w*r+j] = in[n, c*r*r + i*r + j, h, w]
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			dst := out.Data[(b*c+ch)*outH*outW:]
			for i := 0; i < r; i++ {
				for j := 0; j < r; j++ {
					src := x.Data[(b*inC+ch*r*r+i*r+j)*h*w:]
					for y := 0; y < h; y++ {
						row := dst[(y*r+i)*outW:]
						for xx := 0; xx < w; xx++ {
							row[xx*r+j] = src[y*w+xx]
						}
					}
				}
			}
		}
	}
	return out, nil
}

// PixelUnshuffle is the inverse rearrangement, [N, C, H, W] into
// [N, C*s*s, H/s, W/s]. An odd height gains one reflected row at the top and
// an odd width one reflected column at the left before the split.
func PixelUnshuffle(x *tensor.Tensor, scale int) (*tensor.Tensor, error) {
	if _, err := unshuffleShape(x.Shape, scale); err != nil {
		return nil, err
	}
	padded := reflectPadOdd(x)
	n, c, h, w := padded.Shape[0], padded.Shape[1], padded.Shape[2], padded.Shape[3]
	s := scale
	oh, ow := h/s, w/s
	outC := c * s * s
	out := tensor.New(n, outC, oh, ow)

	// out[n, c*s*s + i*s + j, h, w] = x[n, c, h*s+i, w*s+j]
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			src := padded.Data[(b*c+ch)*h*w:]
			for i := 0; i < s; i++ {
				for j := 0; j < s; j++ {
					dst := out.Data[(b*outC+ch*s*s+i*s+j)*oh*ow:]
					for y := 0; y < oh; y++ {
						for xx := 0; xx < ow; xx++ {
							dst[y*ow+xx] = src[(y*s+i)*w+xx*s+j]
						}
					}
				}
			}
		}
	}
	return out, nil
}

func unshuffleShape(in []int, scale int) ([]int, error) {
	if len(in) != 4 {
		return nil, fmt.Errorf("%w: pixel unshuffle expects NCHW input, got %s", tensor.ErrShapeMismatch, tensor.ShapeString(in))
	}
	if scale < 1 {
		return nil, fmt.Errorf("%w: pixel unshuffle scale must be positive, got %d", tensor.ErrShapeMismatch, scale)
	}
	h, w := in[2], in[3]
	if h%2 != 0 {
		if h < 2 {
			return nil, fmt.Errorf("%w: cannot reflect-pad height %d", tensor.ErrShapeMismatch, h)
		}
		h++
	}
	if w%2 != 0 {
		if w < 2 {
			return nil, fmt.Errorf("%w: cannot reflect-pad width %d", tensor.ErrShapeMismatch, w)
		}
		w++
	}
	if h%scale != 0 || w%scale != 0 {
		return nil, fmt.Errorf("%w: padded size %dx%d not divisible by %d", tensor.ErrShapeMismatch, h, w, scale)
	}
	return []int{in[0], in[1] * scale * scale, h / scale, w / scale}, nil
}

// reflectPadOdd pads one row on top when H is odd and one column on the left
// when W is odd, mirroring around the edge without repeating it.
func reflectPadOdd(x *tensor.Tensor) *tensor.Tensor {
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	padTop, padLeft := h%2, w%2
	if padTop == 0 && padLeft == 0 {
		return x
	}
	ph, pw := h+padTop, w+padLeft
	out := tensor.New(n, c, ph, pw)
	for p := 0; p < n*c; p++ {
		src := x.Data[p*h*w : (p+1)*h*w]
		dst := out.Data[p*ph*pw : (p+1)*ph*pw]
		for y := 0; y < ph; y++ {
			sy := y - padTop
			if sy < 0 {
				sy = -sy
			}
			for xx := 0; xx < pw; xx++ {
				sx := xx - padLeft
				if sx < 0 {
					sx = -sx
				}
				dst[y*pw+xx] = src[sy*w+sx]
			}
		}
	}
	return out
}

// PixelUnshuffleLayer wraps PixelUnshuffle as a module.
type PixelUnshuffleLayer struct {
	Scale int
}

func (p *PixelUnshuffleLayer) Kind() string { return "PixelUnshuffle" }

func (p *PixelUnshuffleLayer) OutputShape(in []int) ([]int, error) {
	return unshuffleShape(in, p.Scale)
}

func (p *PixelUnshuffleLayer) Forward(_ context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	return PixelUnshuffle(x, p.Scale)
}

// Upsample repeats every pixel Scale times along both spatial dims
// (nearest-neighbour interpolation).
type Upsample struct {
	Scale int
}

func (u *Upsample) Kind() string { return "Upsample" }

func (u *Upsample) OutputShape(in []int) ([]int, error) {
	if len(in) != 4 || u.Scale < 1 {
		return nil, fmt.Errorf("%w: upsample expects NCHW input, got %s", tensor.ErrShapeMismatch, tensor.ShapeString(in))
	}
	return []int{in[0], in[1], in[2] * u.Scale, in[3] * u.Scale}, nil
}

func (u *Upsample) Forward(_ context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	shape, err := u.OutputShape(x.Shape)
	if err != nil {
		return nil, err
	}
	s := u.Scale
	h, w := x.Shape[2], x.Shape[3]
	oh, ow := shape[2], shape[3]
	out := tensor.New(shape...)
	for p := 0; p < shape[0]*shape[1]; p++ {
		src := x.Data[p*h*w:]
		dst := out.Data[p*oh*ow:]
		for y := 0; y < oh; y++ {
			row := src[(y/s)*w:]
			for xx := 0; xx < ow; xx++ {
				dst[y*ow+xx] = row[xx/s]
			}
		}
	}
	return out, nil
}
