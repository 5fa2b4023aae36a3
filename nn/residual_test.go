package nn

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/openfluke/srnet/tensor"
)

// doubler is a parameter-free leaf used to pin residual arithmetic.
type doubler struct{}

func (doubler) Kind() string                         { return "Doubler" }
func (doubler) OutputShape(in []int) ([]int, error) { return in, nil }
func (doubler) Forward(_ context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Scale(x, 2), nil
}

func TestResBlockResidualScale(t *testing.T) {
	block := &ResBlock{Body: NewSequential(&doubler{}), ResScale: 0.1}
	x := tensor.Randn(rand.New(rand.NewSource(5)), 1, 2, 3, 3)

	out, err := Forward(context.Background(), block, x)
	if err != nil {
		t.Fatal(err)
	}
	// body(x)*0.1 + x = 1.2x
	want := tensor.Scale(x, 1.2)
	if d := tensor.MaxAbsDiff(out.Data, want.Data); d > 1e-5 {
		t.Errorf("Expected 1.2x, max diff %g", d)
	}
}

func TestResBlockZeroBodyIsIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	block := NewResBlock(rng, 4, 1.0)
	last := block.Body.Layers[2].(*Conv2D)
	fill(last.Weight.Data, 0)
	fill(last.Bias.Data, 0)

	x := tensor.Randn(rng, 2, 4, 6, 5)
	out, err := Forward(context.Background(), block, x)
	if err != nil {
		t.Fatal(err)
	}
	if d := tensor.MaxAbsDiff(out.Data, x.Data); d != 0 {
		t.Errorf("Expected identity, max diff %g", d)
	}
	if tensor.ShapeString(out.Shape) != "[2, 4, 6, 5]" {
		t.Errorf("Expected [2, 4, 6, 5], got %s", tensor.ShapeString(out.Shape))
	}
}

func TestResidualDenseBlockInit(t *testing.T) {
	const numFeat, grow = 16, 8
	b, err := NewResidualDenseBlock(rand.New(rand.NewSource(7)), numFeat, grow)
	if err != nil {
		t.Fatal(err)
	}

	wantIn := []int{16, 24, 32, 40, 48}
	for i, c := range []*Conv2D{b.Conv1, b.Conv2, b.Conv3, b.Conv4, b.Conv5} {
		if c.InChannels != wantIn[i] {
			t.Errorf("conv%d: expected %d input channels, got %d", i+1, wantIn[i], c.InChannels)
		}
		for _, v := range c.Bias.Data {
			if v != 0 {
				t.Fatalf("conv%d: bias should be zero-filled, got %f", i+1, v)
			}
		}
	}
	if b.Conv5.OutChannels != numFeat {
		t.Errorf("conv5 should map back to %d channels, got %d", numFeat, b.Conv5.OutChannels)
	}

	// Kaiming normal (fan_in, a=0) scaled by 0.1
	want := 0.1 * math.Sqrt(2.0/float64(numFeat*9))
	got := stddev(b.Conv1.Weight.Data)
	if math.Abs(got-want)/want > 0.15 {
		t.Errorf("conv1 weight std: expected ~%f, got %f", want, got)
	}
}

func TestResidualDenseBlockZeroConv5IsIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	b, err := NewResidualDenseBlock(rng, 8, 4)
	if err != nil {
		t.Fatal(err)
	}
	fill(b.Conv5.Weight.Data, 0)

	x := tensor.Randn(rng, 1, 8, 5, 5)
	out, err := Forward(context.Background(), b, x)
	if err != nil {
		t.Fatal(err)
	}
	if d := tensor.MaxAbsDiff(out.Data, x.Data); d != 0 {
		t.Errorf("Expected identity, max diff %g", d)
	}
}

func TestRRDBScalesInnerResult(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	r, err := NewRRDB(rng, 8, 4)
	if err != nil {
		t.Fatal(err)
	}
	for _, rdb := range []*ResidualDenseBlock{r.RDB1, r.RDB2, r.RDB3} {
		fill(rdb.Conv5.Weight.Data, 0)
	}

	x := tensor.Randn(rng, 1, 8, 4, 4)
	out, err := Forward(context.Background(), r, x)
	if err != nil {
		t.Fatal(err)
	}
	// every RDB is the identity, so out = x*0.2 + x
	want := tensor.Scale(x, 1.2)
	if d := tensor.MaxAbsDiff(out.Data, want.Data); d > 1e-5 {
		t.Errorf("Expected 1.2x, max diff %g", d)
	}

	shape, err := r.OutputShape([]int{1, 8, 4, 4})
	if err != nil {
		t.Fatal(err)
	}
	if tensor.ShapeString(shape) != "[1, 8, 4, 4]" {
		t.Errorf("Expected [1, 8, 4, 4], got %s", tensor.ShapeString(shape))
	}
}

func TestMakeLayer(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	body := MakeLayer(3, func() Module { return NewResBlock(rng, 2, 1) })
	if len(body.Layers) != 3 {
		t.Fatalf("Expected 3 blocks, got %d", len(body.Layers))
	}
	if body.Layers[0] == body.Layers[1] {
		t.Error("MakeLayer must build distinct blocks")
	}
}

func stddev(v []float32) float64 {
	mean := float64(tensor.Mean(v))
	var sum float64
	for _, x := range v {
		d := float64(x) - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(v)))
}
