package nn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfluke/srnet/tensor"
)

// StateDict maps dotted parameter names to the live tensors of m.
// Writing into a returned tensor's Data updates the module.
func StateDict(m Module) map[string]*Param {
	out := make(map[string]*Param)
	_ = Walk(m, func(path string, m Module) error {
		p, ok := m.(Parameterized)
		if !ok {
			return nil
		}
		for _, param := range p.Params() {
			out[JoinPath(path, param.Name)] = param
		}
		return nil
	})
	return out
}

// NumParams counts learnable parameters (buffers excluded).
func NumParams(m Module) int64 {
	var total int64
	_ = Walk(m, func(_ string, m Module) error {
		total += countParams(m)
		return nil
	})
	return total
}

func countParams(m Module) int64 {
	p, ok := m.(Parameterized)
	if !ok {
		return 0
	}
	var total int64
	for _, param := range p.Params() {
		if !param.Buffer {
			total += int64(param.Tensor.Size())
		}
	}
	return total
}

// LoadStateDict copies tensors into m's parameters. Shape mismatches are
// always errors; with strict, missing and unexpected keys are errors too.
// BatchNorm's num_batches_tracked counters are ignored.
func LoadStateDict(m Module, tensors map[string]*tensor.Tensor, strict bool) error {
	params := StateDict(m)

	var missing, unexpected []string
	for name, p := range params {
		t, ok := tensors[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if !tensor.EqualShape(t.Shape, p.Tensor.Shape) {
			return fmt.Errorf("%w: %s: checkpoint %s, model %s",
				tensor.ErrShapeMismatch, name, tensor.ShapeString(t.Shape), tensor.ShapeString(p.Tensor.Shape))
		}
	}
	for name := range tensors {
		if _, ok := params[name]; !ok && !strings.HasSuffix(name, "num_batches_tracked") {
			unexpected = append(unexpected, name)
		}
	}
	if strict && (len(missing) > 0 || len(unexpected) > 0) {
		sort.Strings(missing)
		sort.Strings(unexpected)
		return fmt.Errorf("state dict mismatch: missing keys %v, unexpected keys %v", missing, unexpected)
	}

	for name, p := range params {
		if t, ok := tensors[name]; ok {
			copy(p.Tensor.Data, t.Data)
		}
	}
	return nil
}

// StateTensors flattens StateDict into plain tensors for serialization.
func StateTensors(m Module) map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor)
	for name, p := range StateDict(m) {
		out[name] = p.Tensor
	}
	return out
}
