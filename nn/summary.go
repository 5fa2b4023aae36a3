package nn

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/openfluke/srnet/tensor"
)

// ShapeTracer is implemented by composite modules so that shape inference
// and summaries can follow their execution order without running kernels.
type ShapeTracer interface {
	Trace(tr *Tracer, path string, in []int) ([]int, error)
}

// Tracer collects one row per module invocation, children before their
// parent, skipping Sequential containers and the root. A nil *Tracer only
// infers shapes.
type Tracer struct {
	rows []SummaryRow
	seen map[Module]bool
}

// Child traces m at path. Composites record their own row after their
// children; their params are carried by those children.
func (tr *Tracer) Child(path string, m Module, in []int) ([]int, error) {
	if t, ok := m.(ShapeTracer); ok {
		out, err := t.Trace(tr, path, in)
		if err != nil {
			return nil, err
		}
		if _, seq := m.(*Sequential); !seq && path != "" {
			tr.record(path, m, in, out, 0)
		}
		return out, nil
	}
	out, err := m.OutputShape(in)
	if err != nil {
		return nil, fmt.Errorf("%s (%s): %w", displayPath(path), m.Kind(), err)
	}
	if tr != nil {
		var params int64
		if !tr.seen[m] {
			params = countParams(m)
		}
		tr.seen[m] = true
		tr.record(path, m, in, out, params)
	}
	return out, nil
}

// Func traces m as a plain function call: the shape is inferred but no row
// is recorded.
func (tr *Tracer) Func(path string, m Module, in []int) ([]int, error) {
	var shapeOnly *Tracer
	return shapeOnly.Child(path, m, in)
}

func (tr *Tracer) record(path string, m Module, in, out []int, params int64) {
	if tr == nil {
		return
	}
	tr.rows = append(tr.rows, SummaryRow{
		Name:        fmt.Sprintf("%s-%d", m.Kind(), len(tr.rows)+1),
		Path:        path,
		InputShape:  append([]int(nil), in...),
		OutputShape: append([]int(nil), out...),
		Params:      params,
	})
}

// SummaryRow describes one module invocation.
type SummaryRow struct {
	Name        string // "Conv2d-1"
	Path        string // "body.0.body.0"
	InputShape  []int
	OutputShape []int
	Params      int64 // zero for composites and repeated invocations of a shared leaf
}

// Summary is a per-layer table in the style of torchsummary.
type Summary struct {
	InputShape      []int // without the batch dimension
	Rows            []SummaryRow
	TotalParams     int64
	TrainableParams int64
	OutputShape     []int
}

// Summarize traces m for a single input of shape inShape (channels first,
// no batch dimension).
func Summarize(m Module, inShape []int) (*Summary, error) {
	tr := &Tracer{seen: map[Module]bool{}}
	in := append([]int{1}, inShape...)
	out, err := tr.Child("", m, in)
	if err != nil {
		return nil, err
	}
	total := NumParams(m)
	return &Summary{
		InputShape:      append([]int(nil), inShape...),
		Rows:            tr.rows,
		TotalParams:     total,
		TrainableParams: total,
		OutputShape:     out,
	}, nil
}

const mib = 1024 * 1024

// InputSizeMB is the float32 footprint of one input.
func (s *Summary) InputSizeMB() float64 {
	return float64(tensor.Numel(s.InputShape)) * 4 / mib
}

// ForwardBackwardSizeMB doubles the summed row outputs to account for
// gradients, as torchsummary reports it.
func (s *Summary) ForwardBackwardSizeMB() float64 {
	var total int64
	for _, r := range s.Rows {
		total += int64(tensor.Numel(r.OutputShape[1:]))
	}
	return 2 * float64(total) * 4 / mib
}

// ParamsSizeMB is the float32 footprint of all parameters.
func (s *Summary) ParamsSizeMB() float64 {
	return float64(s.TotalParams) * 4 / mib
}

func (s *Summary) EstimatedTotalMB() float64 {
	return s.InputSizeMB() + s.ForwardBackwardSizeMB() + s.ParamsSizeMB()
}

func (s *Summary) String() string {
	var sb strings.Builder
	_ = s.Write(&sb)
	return sb.String()
}

// Write renders the summary table.
func (s *Summary) Write(w io.Writer) error {
	rule := strings.Repeat("-", 64)
	double := strings.Repeat("=", 64)

	var sb strings.Builder
	fmt.Fprintln(&sb, rule)
	fmt.Fprintf(&sb, "%20s  %25s %15s\n", "Layer (type)", "Output Shape", "Param #")
	fmt.Fprintln(&sb, double)
	for _, r := range s.Rows {
		shape := append([]int{-1}, r.OutputShape[1:]...)
		fmt.Fprintf(&sb, "%20s  %25s %15s\n", r.Name, tensor.ShapeString(shape), humanize.Comma(r.Params))
	}
	fmt.Fprintln(&sb, double)
	fmt.Fprintf(&sb, "Total params: %s\n", humanize.Comma(s.TotalParams))
	fmt.Fprintf(&sb, "Trainable params: %s\n", humanize.Comma(s.TrainableParams))
	fmt.Fprintf(&sb, "Non-trainable params: %s\n", humanize.Comma(s.TotalParams-s.TrainableParams))
	fmt.Fprintln(&sb, rule)
	fmt.Fprintf(&sb, "Input size (MB): %0.2f\n", s.InputSizeMB())
	fmt.Fprintf(&sb, "Forward/backward pass size (MB): %0.2f\n", s.ForwardBackwardSizeMB())
	fmt.Fprintf(&sb, "Params size (MB): %0.2f\n", s.ParamsSizeMB())
	fmt.Fprintf(&sb, "Estimated Total Size (MB): %0.2f\n", s.EstimatedTotalMB())
	fmt.Fprintln(&sb, rule)

	_, err := io.WriteString(w, sb.String())
	return err
}
