package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openfluke/srnet/detector"
	"github.com/openfluke/srnet/gpu"
	"github.com/openfluke/srnet/internal/config"
	"github.com/openfluke/srnet/models"
	"github.com/openfluke/srnet/nn"
	"github.com/openfluke/srnet/tensor"
)

var (
	forwardWeights    string
	forwardInputShape string
	forwardSeed       int64
	forwardBackend    string
	forwardTrace      bool
	forwardOut        string
)

var forwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Run one forward pass on a random input",
	Long: `Builds the configured generator, optionally loads safetensors weights,
feeds it a standard-normal tensor and prints the output size.

Example:
  srnet forward --input-shape 1,3,64,64
  srnet forward --config esrgan.yaml --weights RRDB_ESRGAN_x4.safetensors --backend gpu`,
	Args: cobra.NoArgs,
	RunE: runForward,
}

func init() {
	forwardCmd.Flags().StringVar(&forwardWeights, "weights", "", "safetensors checkpoint to load (strict)")
	forwardCmd.Flags().StringVar(&forwardInputShape, "input-shape", "1,3,64,64", "input N,C,H,W")
	forwardCmd.Flags().Int64Var(&forwardSeed, "seed", 0, "seed for weights and input (overrides runtime.seed)")
	forwardCmd.Flags().StringVar(&forwardBackend, "backend", "", "cpu or gpu (overrides runtime.backend)")
	forwardCmd.Flags().BoolVar(&forwardTrace, "trace", false, "log every layer's output statistics")
	forwardCmd.Flags().StringVar(&forwardOut, "out", "", "write the output tensor to this safetensors file")
}

func runForward(cmd *cobra.Command, args []string) error {
	shape, err := parseShape(forwardInputShape, 4)
	if err != nil {
		return err
	}
	seed := cfg.Runtime.Seed
	if cmd.Flags().Changed("seed") {
		seed = forwardSeed
	}
	backendName := cfg.Runtime.Backend
	if forwardBackend != "" {
		backendName = forwardBackend
	}
	if backendName != config.BackendCPU && backendName != config.BackendGPU {
		return fmt.Errorf("--backend must be %q or %q, got %q", config.BackendCPU, config.BackendGPU, backendName)
	}

	rng := rand.New(rand.NewSource(seed))
	model, err := models.Build(cfg.Model, rng, models.WithLogger(logger))
	if err != nil {
		return err
	}
	if forwardWeights != "" {
		meta, err := nn.LoadModel(forwardWeights, model, true)
		if err != nil {
			return err
		}
		logger.Info("weights loaded", zap.String("path", forwardWeights), zap.Any("metadata", meta))
	}

	backend, release := convBackend(backendName, workers())
	defer release()
	nn.SetBackend(model, backend)

	x := tensor.Randn(rng, shape...)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if forwardTrace {
		ctx = nn.WithObserver(ctx, &nn.LogObserver{Logger: logger})
	}

	start := time.Now()
	out, err := nn.Forward(ctx, model, x)
	if err != nil {
		return fmt.Errorf("forward: %w", err)
	}
	elapsed := time.Since(start)

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Size(%s)\n", tensor.ShapeString(out.Shape))
	fmt.Fprintf(w, "backend: %s, elapsed: %s\n", backend.Name(), elapsed.Round(time.Millisecond))
	logger.Info("forward complete",
		zap.Ints("input", x.Shape),
		zap.Ints("output", out.Shape),
		zap.String("backend", backend.Name()),
		zap.Duration("elapsed", elapsed),
		zap.Float32("mean", tensor.Mean(out.Data)))

	if forwardOut != "" {
		meta := cfg.Model.Metadata()
		meta["seed"] = fmt.Sprint(seed)
		if err := nn.SaveSafetensors(forwardOut, map[string]*tensor.Tensor{"output": out}, "F32", meta); err != nil {
			return err
		}
		logger.Info("output written", zap.String("path", forwardOut))
	}
	return nil
}

func workers() int {
	if cfg.Runtime.Workers > 0 {
		return cfg.Runtime.Workers
	}
	return detector.RecommendedWorkers()
}

// convBackend returns the requested backend, downgrading to the CPU when no
// GPU device can be opened.
func convBackend(name string, workers int) (nn.ConvBackend, func()) {
	if name == config.BackendGPU {
		b, err := gpu.NewConvBackend(logger, workers)
		if err == nil {
			return b, b.Release
		}
		logger.Warn("GPU unavailable, falling back to CPU", zap.Error(err))
	}
	return &nn.CPUBackend{Workers: workers}, func() {}
}
