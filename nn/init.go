package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// FanMode selects which fan Kaiming initialisation preserves.
type FanMode string

const (
	FanIn  FanMode = "fan_in"
	FanOut FanMode = "fan_out"
)

// KaimingOptions mirrors the keyword arguments accepted by PyTorch's
// kaiming_normal_ initialiser.
type KaimingOptions struct {
	A    float64 // negative slope of the following leaky ReLU, 0 for ReLU
	Mode FanMode // FanIn when empty
}

// KaimingStd returns gain/sqrt(fan) with gain = sqrt(2/(1+a^2)).
func KaimingStd(fanIn, fanOut int, opts KaimingOptions) (float64, error) {
	fan := fanIn
	switch opts.Mode {
	case "", FanIn:
	case FanOut:
		fan = fanOut
	default:
		return 0, fmt.Errorf("unknown kaiming mode %q", opts.Mode)
	}
	if fan <= 0 {
		return 0, fmt.Errorf("kaiming init needs a positive fan, got %d", fan)
	}
	gain := math.Sqrt(2 / (1 + opts.A*opts.A))
	return gain / math.Sqrt(float64(fan)), nil
}

// KaimingNormal fills w with N(0, std^2) samples, std from KaimingStd.
func KaimingNormal(rng *rand.Rand, w []float32, fanIn, fanOut int, opts KaimingOptions) error {
	std, err := KaimingStd(fanIn, fanOut, opts)
	if err != nil {
		return err
	}
	rng = newRand(rng)
	for i := range w {
		w[i] = float32(rng.NormFloat64() * std)
	}
	return nil
}

// InitOptions configures DefaultInitWeights.
type InitOptions struct {
	Scale    float32 // multiplies the sampled weights; 0 is treated as 1
	BiasFill float32
	Kaiming  KaimingOptions
}

// DefaultInitWeights re-initialises every Conv2D, Linear and BatchNorm2D in
// the given module trees. Convolution and linear weights are drawn with
// Kaiming-normal and multiplied by Scale, their biases set to BiasFill.
// BatchNorm weights become 1 and biases BiasFill. Other modules are left
// untouched.
func DefaultInitWeights(rng *rand.Rand, modules []Module, opts InitOptions) error {
	rng = newRand(rng)
	scale := opts.Scale
	if scale == 0 {
		scale = 1
	}
	for _, root := range modules {
		err := Walk(root, func(path string, m Module) error {
			switch l := m.(type) {
			case *Conv2D:
				rf := l.KernelSize * l.KernelSize
				if err := KaimingNormal(rng, l.Weight.Data, l.InChannels*rf, l.OutChannels*rf, opts.Kaiming); err != nil {
					return fmt.Errorf("init %s: %w", displayPath(path), err)
				}
				scaleFill(l.Weight.Data, scale)
				if l.Bias != nil {
					fill(l.Bias.Data, opts.BiasFill)
				}
			case *Linear:
				if err := KaimingNormal(rng, l.Weight.Data, l.In, l.Out, opts.Kaiming); err != nil {
					return fmt.Errorf("init %s: %w", displayPath(path), err)
				}
				scaleFill(l.Weight.Data, scale)
				if l.Bias != nil {
					fill(l.Bias.Data, opts.BiasFill)
				}
			case *BatchNorm2D:
				fill(l.Weight.Data, 1)
				fill(l.Bias.Data, opts.BiasFill)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func scaleFill(data []float32, scale float32) {
	if scale == 1 {
		return
	}
	for i := range data {
		data[i] *= scale
	}
}

func fill(data []float32, v float32) {
	for i := range data {
		data[i] = v
	}
}
