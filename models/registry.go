package models

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/openfluke/srnet/nn"
)

// Constructor builds one architecture from a validated Config.
type Constructor func(cfg Config, rng *rand.Rand) (nn.Module, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

func init() {
	registry[ArchEDSR] = func(cfg Config, rng *rand.Rand) (nn.Module, error) {
		return NewGenerator(cfg, rng)
	}
	registry[ArchRRDBNet] = func(cfg Config, rng *rand.Rand) (nn.Module, error) {
		return NewRRDBNet(cfg, rng)
	}
}

// Register adds an architecture under name. Registering a name twice is an
// error.
func Register(name string, fn Constructor) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		return fmt.Errorf("architecture %q already registered", name)
	}
	registry[name] = fn
	return nil
}

// Architectures lists the registered names in sorted order.
func Architectures() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (Constructor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}
