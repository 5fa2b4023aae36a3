package nn

import "encoding/json"

// ModelTelemetry is the JSON blueprint of a traced network.
type ModelTelemetry struct {
	ID          string           `json:"id"`
	InputShape  []int            `json:"input_shape"`
	OutputShape []int            `json:"output_shape"`
	TotalLayers int              `json:"total_layers"`
	TotalParams int64            `json:"total_parameters"`
	Layers      []LayerTelemetry `json:"layers"`
}

// LayerTelemetry contains metadata about one module invocation
type LayerTelemetry struct {
	Path       string `json:"path"`
	Type       string `json:"type"`
	Parameters int64  `json:"parameters"`

	InputShape  []int `json:"input_shape,omitempty"`
	OutputShape []int `json:"output_shape,omitempty"`
}

// ExtractTelemetry traces m for one input of shape inShape (no batch dim).
func ExtractTelemetry(m Module, modelID string, inShape []int) (ModelTelemetry, error) {
	s, err := Summarize(m, inShape)
	if err != nil {
		return ModelTelemetry{}, err
	}
	return s.Telemetry(modelID, m), nil
}

// Telemetry converts an existing summary; m supplies the layer types.
func (s *Summary) Telemetry(modelID string, m Module) ModelTelemetry {
	kinds := map[string]string{}
	_ = Walk(m, func(path string, m Module) error {
		kinds[path] = m.Kind()
		return nil
	})

	t := ModelTelemetry{
		ID:          modelID,
		InputShape:  append([]int{1}, s.InputShape...),
		OutputShape: s.OutputShape,
		TotalLayers: len(s.Rows),
		TotalParams: s.TotalParams,
		Layers:      make([]LayerTelemetry, 0, len(s.Rows)),
	}
	for _, r := range s.Rows {
		t.Layers = append(t.Layers, LayerTelemetry{
			Path:        r.Path,
			Type:        kinds[r.Path],
			Parameters:  r.Params,
			InputShape:  r.InputShape,
			OutputShape: r.OutputShape,
		})
	}
	return t
}

// JSON renders the blueprint indented.
func (t ModelTelemetry) JSON() (string, error) {
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
