package tensor

import (
	"fmt"
	"math"
)

// Add returns a + b element-wise.
func Add(a, b *Tensor) (*Tensor, error) {
	if !SameShape(a, b) {
		return nil, fmt.Errorf("%w: add %s and %s", ErrShapeMismatch, ShapeString(a.Shape), ShapeString(b.Shape))
	}
	out := New(a.Shape...)
	for i := range a.Data {
		out.Data[i] = a.Data[i] + b.Data[i]
	}
	return out, nil
}

// AddInPlace accumulates b into a.
func AddInPlace(a, b *Tensor) error {
	if !SameShape(a, b) {
		return fmt.Errorf("%w: add %s and %s", ErrShapeMismatch, ShapeString(a.Shape), ShapeString(b.Shape))
	}
	for i := range a.Data {
		a.Data[i] += b.Data[i]
	}
	return nil
}

// Scale returns t * factor.
func Scale(t *Tensor, factor float32) *Tensor {
	out := New(t.Shape...)
	for i, v := range t.Data {
		out.Data[i] = v * factor
	}
	return out
}

// ScaleAdd returns x*factor + y, the residual-scaling step used by the
// residual blocks.
func ScaleAdd(x *Tensor, factor float32, y *Tensor) (*Tensor, error) {
	if !SameShape(x, y) {
		return nil, fmt.Errorf("%w: residual %s vs skip %s", ErrShapeMismatch, ShapeString(x.Shape), ShapeString(y.Shape))
	}
	out := New(x.Shape...)
	for i := range x.Data {
		out.Data[i] = x.Data[i]*factor + y.Data[i]
	}
	return out, nil
}

// ConcatChannels joins NCHW tensors along the channel dimension.
func ConcatChannels(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: nothing to concatenate", ErrShapeMismatch)
	}
	n, _, h, w, err := ts[0].Dims4()
	if err != nil {
		return nil, err
	}
	total := 0
	for _, t := range ts {
		tn, tc, th, tw, err := t.Dims4()
		if err != nil {
			return nil, err
		}
		if tn != n || th != h || tw != w {
			return nil, fmt.Errorf("%w: concat %s with %s", ErrShapeMismatch, ShapeString(ts[0].Shape), ShapeString(t.Shape))
		}
		total += tc
	}

	out := New(n, total, h, w)
	plane := h * w
	for b := 0; b < n; b++ {
		dst := out.Data[b*total*plane:]
		for _, t := range ts {
			c := t.Shape[1]
			src := t.Data[b*c*plane : (b+1)*c*plane]
			copy(dst, src)
			dst = dst[c*plane:]
		}
	}
	return out, nil
}

// MaxAbsDiff calculates the maximum absolute difference between two slices
func MaxAbsDiff(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	m := 0.0
	for i := 0; i < n; i++ {
		d := math.Abs(float64(a[i] - b[i]))
		if d > m {
			m = d
		}
	}
	return m
}

// Min returns the minimum value in a slice
func Min(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	m := v[0]
	for _, x := range v {
		if x < m {
			m = x
		}
	}
	return m
}

// Max returns the maximum value in a slice
func Max(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	m := v[0]
	for _, x := range v {
		if x > m {
			m = x
		}
	}
	return m
}

// Mean returns the mean value of a slice
func Mean(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	sum := float64(0)
	for _, x := range v {
		sum += float64(x)
	}
	return float32(sum / float64(len(v)))
}
