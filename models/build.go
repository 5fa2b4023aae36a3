package models

import (
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/openfluke/srnet/nn"
)

// Option configures Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger *zap.Logger
}

// WithLogger reports construction time and parameter count to l.
func WithLogger(l *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// Build constructs the registered architecture named by cfg.Arch.
func Build(cfg Config, rng *rand.Rand, opts ...Option) (nn.Module, error) {
	o := buildOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	fn, ok := lookup(cfg.Arch)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownArch, cfg.Arch)
	}
	start := time.Now()
	m, err := fn(cfg, rng)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", cfg.Arch, err)
	}

	o.logger.Info("model built",
		zap.String("arch", cfg.Arch),
		zap.Int("scale", cfg.Scale),
		zap.Int("num_feat", cfg.NumFeat),
		zap.Int("num_block", cfg.NumBlock),
		zap.Int64("params", nn.NumParams(m)),
		zap.Duration("elapsed", time.Since(start)))
	return m, nil
}

// Metadata is the safetensors header stored alongside exported weights.
func (c Config) Metadata() map[string]string {
	return map[string]string{
		"arch":  c.Arch,
		"scale": fmt.Sprint(c.Scale),
	}
}
