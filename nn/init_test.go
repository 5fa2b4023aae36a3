package nn

import (
	"math"
	"math/rand"
	"testing"
)

func TestKaimingStd(t *testing.T) {
	tests := []struct {
		name          string
		fanIn, fanOut int
		opts          KaimingOptions
		want          float64
	}{
		{"relu fan_in", 576, 288, KaimingOptions{}, math.Sqrt(2.0 / 576)},
		{"relu fan_out", 576, 288, KaimingOptions{Mode: FanOut}, math.Sqrt(2.0 / 288)},
		{"leaky 0.2", 100, 100, KaimingOptions{A: 0.2}, math.Sqrt(2.0/1.04) / 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := KaimingStd(tt.fanIn, tt.fanOut, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Expected %g, got %g", tt.want, got)
			}
		})
	}

	if _, err := KaimingStd(1, 1, KaimingOptions{Mode: "fan_avg"}); err == nil {
		t.Error("Expected error for unknown mode")
	}
	if _, err := KaimingStd(0, 1, KaimingOptions{}); err == nil {
		t.Error("Expected error for zero fan")
	}
}

func TestDefaultInitWeightsDispatch(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	conv := NewConv3x3(rng, 32, 32)
	bn := NewBatchNorm2D(32)
	fill(bn.Weight.Data, 7)
	lin := NewLinear(rng, 64, 64, true)
	relu := &ReLU{}
	tree := NewSequential(conv, bn, relu, NewSequential(lin))

	err := DefaultInitWeights(rng, []Module{tree}, InitOptions{Scale: 0.5, BiasFill: 0.3})
	if err != nil {
		t.Fatal(err)
	}

	wantConv := 0.5 * math.Sqrt(2.0/(32*9))
	if got := stddev(conv.Weight.Data); math.Abs(got-wantConv)/wantConv > 0.1 {
		t.Errorf("conv std: expected ~%f, got %f", wantConv, got)
	}
	wantLin := 0.5 * math.Sqrt(2.0/64)
	if got := stddev(lin.Weight.Data); math.Abs(got-wantLin)/wantLin > 0.1 {
		t.Errorf("linear std: expected ~%f, got %f", wantLin, got)
	}
	for name, bias := range map[string][]float32{"conv": conv.Bias.Data, "linear": lin.Bias.Data, "bn": bn.Bias.Data} {
		for _, v := range bias {
			if v != 0.3 {
				t.Fatalf("%s bias: expected 0.3, got %f", name, v)
			}
		}
	}
	for _, v := range bn.Weight.Data {
		if v != 1 {
			t.Fatalf("bn weight: expected 1, got %f", v)
		}
	}
}

func TestDefaultInitWeightsDefaultScale(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	conv := NewConv2D(rng, 64, 64, 1, 1, 0, false)
	if err := DefaultInitWeights(rng, []Module{conv}, InitOptions{}); err != nil {
		t.Fatal(err)
	}
	want := math.Sqrt(2.0 / 64)
	if got := stddev(conv.Weight.Data); math.Abs(got-want)/want > 0.1 {
		t.Errorf("Expected std ~%f with scale 1, got %f", want, got)
	}
}
