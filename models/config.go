// Package models assembles complete super-resolution networks from the nn
// layer library.
package models

import (
	"errors"
	"fmt"
)

// Architectures understood by Build.
const (
	ArchEDSR    = "edsr"
	ArchRRDBNet = "rrdbnet"
)

// ErrUnknownArch is returned by Build for an architecture nobody registered.
var ErrUnknownArch = errors.New("unknown architecture")

// Config describes a generator network.
type Config struct {
	Arch      string  `yaml:"arch"`
	Scale     int     `yaml:"scale"`
	NumInCh   int     `yaml:"num_in_ch"`
	NumOutCh  int     `yaml:"num_out_ch"`
	NumFeat   int     `yaml:"num_feat"`
	NumBlock  int     `yaml:"num_block"`
	ResScale  float32 `yaml:"res_scale"`
	NumGrowCh int     `yaml:"num_grow_ch"` // RRDBNet only
}

// DefaultConfig is the x4 EDSR baseline: 64 features, 32 residual blocks.
func DefaultConfig() Config {
	return Config{
		Arch:      ArchEDSR,
		Scale:     4,
		NumInCh:   3,
		NumOutCh:  3,
		NumFeat:   64,
		NumBlock:  32,
		ResScale:  1.0,
		NumGrowCh: 32,
	}
}

// Validate rejects configurations that cannot be built.
func (c Config) Validate() error {
	switch {
	case c.NumInCh <= 0 || c.NumOutCh <= 0:
		return fmt.Errorf("channel counts must be positive (in=%d, out=%d)", c.NumInCh, c.NumOutCh)
	case c.NumFeat <= 0:
		return fmt.Errorf("num_feat must be positive, got %d", c.NumFeat)
	case c.NumBlock < 0:
		return fmt.Errorf("num_block must not be negative, got %d", c.NumBlock)
	}

	switch c.Arch {
	case ArchEDSR:
		if c.Scale < 1 {
			return fmt.Errorf("edsr scale must be positive, got %d", c.Scale)
		}
	case ArchRRDBNet:
		if c.Scale != 1 && c.Scale != 2 && c.Scale != 4 {
			return fmt.Errorf("rrdbnet scale must be 1, 2 or 4, got %d", c.Scale)
		}
		if c.NumGrowCh <= 0 {
			return fmt.Errorf("num_grow_ch must be positive, got %d", c.NumGrowCh)
		}
	default:
		if _, ok := lookup(c.Arch); !ok {
			return fmt.Errorf("%w %q", ErrUnknownArch, c.Arch)
		}
	}
	return nil
}
