package gpu

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/openfluke/srnet/nn"
	"github.com/openfluke/srnet/tensor"
)

func newBackend(t *testing.T) *ConvBackend {
	t.Helper()
	b, err := NewConvBackend(nil, 0)
	if errors.Is(err, ErrNoGPU) {
		t.Skipf("no GPU adapter: %v", err)
	}
	if err != nil {
		t.Fatalf("NewConvBackend: %v", err)
	}
	t.Cleanup(b.Release)
	return b
}

func TestConvBackendMatchesCPU(t *testing.T) {
	b := newBackend(t)
	rng := rand.New(rand.NewSource(1))

	for _, tc := range []struct {
		name          string
		in, out, k, s int
		pad           int
		bias          bool
	}{
		{"3x3 same", 4, 6, 3, 1, 1, true},
		{"stride 2", 3, 5, 3, 2, 1, true},
		{"1x1 no bias", 8, 2, 1, 1, 0, false},
	} {
		conv := nn.NewConv2D(rng, tc.in, tc.out, tc.k, tc.s, tc.pad, tc.bias)
		x := tensor.Randn(rng, 2, tc.in, 7, 9)

		want, err := (&nn.CPUBackend{}).Conv2D(context.Background(), x, conv)
		if err != nil {
			t.Fatalf("%s: cpu: %v", tc.name, err)
		}
		got, err := b.Conv2D(context.Background(), x, conv)
		if err != nil {
			t.Fatalf("%s: gpu: %v", tc.name, err)
		}
		if !tensor.EqualShape(got.Shape, want.Shape) {
			t.Fatalf("%s: shape %v, want %v", tc.name, got.Shape, want.Shape)
		}
		if d := tensor.MaxAbsDiff(got.Data, want.Data); d > 1e-4 {
			t.Errorf("%s: max diff %g", tc.name, d)
		}
	}
}

func TestConvBackendCachesPipelines(t *testing.T) {
	b := newBackend(t)
	rng := rand.New(rand.NewSource(2))
	conv := nn.NewConv3x3(rng, 2, 2)
	x := tensor.Randn(rng, 1, 2, 5, 5)

	for i := 0; i < 3; i++ {
		if _, err := b.Conv2D(context.Background(), x, conv); err != nil {
			t.Fatal(err)
		}
	}
	if len(b.pipelines) != 1 {
		t.Errorf("Expected 1 cached pipeline, got %d", len(b.pipelines))
	}
}

func TestDispatchSize(t *testing.T) {
	if gx, gy := dispatchSize(1000); gx != 4 || gy != 1 {
		t.Errorf("dispatchSize(1000) = %d,%d", gx, gy)
	}
	gx, gy := dispatchSize(64 * 512 * 512)
	if gx != maxGroupsPerDim || int(gx)*int(gy)*workgroupSize < 64*512*512 {
		t.Errorf("dispatchSize too small: %d,%d", gx, gy)
	}
}

func TestShaderBakesGeometry(t *testing.T) {
	src := conv2DShader(convKey{batch: 1, inC: 3, outC: 64, inH: 10, inW: 12, kernel: 3, stride: 1, padding: 1})
	for _, want := range []string{"const IN_CH: u32 = 3u;", "const OUT_CH: u32 = 64u;", "const OUT_W: u32 = 12u;", "const PADDING: i32 = 1;"} {
		if !strings.Contains(src, want) {
			t.Errorf("shader missing %q", want)
		}
	}
}
