package nn

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/openfluke/srnet/tensor"
)

// Module is a node in a network tree.
type Module interface {
	// Forward evaluates the module on an NCHW tensor.
	Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error)
	// OutputShape infers the output shape for an input shape without running kernels.
	OutputShape(in []int) ([]int, error)
	// Kind is the layer type name shown in summaries ("Conv2d", "ResBlock", ...).
	Kind() string
}

// Named pairs a child module with its attribute name.
type Named struct {
	Name   string
	Module Module
}

// Parent is implemented by composite modules.
type Parent interface {
	Children() []Named
}

// Param is a named weight tensor owned by a module.
type Param struct {
	Name   string
	Tensor *tensor.Tensor
	// Buffer marks persistent state that is not a learnable parameter
	// (BatchNorm running statistics).
	Buffer bool
}

// Parameterized is implemented by modules that own weights.
type Parameterized interface {
	Params() []*Param
}

type pathKey struct{}

// JoinPath builds dotted state dict names; empty segments are dropped.
func JoinPath(prefix, name string) string {
	switch {
	case prefix == "":
		return name
	case name == "":
		return prefix
	}
	return prefix + "." + name
}

func pathFrom(ctx context.Context) string {
	p, _ := ctx.Value(pathKey{}).(string)
	return p
}

// Forward evaluates m as the root of a network.
func Forward(ctx context.Context, m Module, x *tensor.Tensor) (*tensor.Tensor, error) {
	return ForwardChild(ctx, "", m, x)
}

// ForwardChild runs one child of the module currently executing in ctx.
// Leaves are reported to the observer; cancellation is checked before
// every child.
func ForwardChild(ctx context.Context, name string, m Module, x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := JoinPath(pathFrom(ctx), name)
	start := time.Now()

	out, err := m.Forward(context.WithValue(ctx, pathKey{}, path), x)
	if _, composite := m.(Parent); composite {
		return out, err
	}
	if err != nil {
		return nil, fmt.Errorf("%s (%s): %w", displayPath(path), m.Kind(), err)
	}
	notifyObserver(ctx, path, m, out, time.Since(start))
	return out, nil
}

func displayPath(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}

// Walk visits m and every descendant depth-first with its dotted path.
// Returning an error from fn stops the walk.
func Walk(m Module, fn func(path string, m Module) error) error {
	return walk("", m, fn)
}

func walk(path string, m Module, fn func(string, Module) error) error {
	if err := fn(path, m); err != nil {
		return err
	}
	p, ok := m.(Parent)
	if !ok {
		return nil
	}
	for _, c := range p.Children() {
		if err := walk(JoinPath(path, c.Name), c.Module, fn); err != nil {
			return err
		}
	}
	return nil
}

// SetBackend routes every Conv2D in the tree through b. A nil backend
// restores the built-in CPU kernel.
func SetBackend(m Module, b ConvBackend) {
	_ = Walk(m, func(_ string, m Module) error {
		if c, ok := m.(*Conv2D); ok {
			c.Backend = b
		}
		return nil
	})
}

// Describe renders the module tree one line per module, indented by depth.
func Describe(m Module) string {
	var sb strings.Builder
	_ = Walk(m, func(path string, m Module) error {
		depth := 0
		name := "(root)"
		if path != "" {
			depth = strings.Count(path, ".") + 1
			name = path[strings.LastIndex(path, ".")+1:]
		}
		fmt.Fprintf(&sb, "%s%s: %s\n", strings.Repeat("  ", depth), name, describeLeaf(m))
		return nil
	})
	return sb.String()
}

func describeLeaf(m Module) string {
	if s, ok := m.(fmt.Stringer); ok {
		return s.String()
	}
	return m.Kind()
}

// newRand returns rng, or a time-seeded source when rng is nil.
func newRand(rng *rand.Rand) *rand.Rand {
	if rng != nil {
		return rng
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
