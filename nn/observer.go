package nn

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openfluke/srnet/tensor"
)

// LayerStats summarises one leaf's output activations.
type LayerStats struct {
	AvgActivation float32 `json:"avg"`
	MaxActivation float32 `json:"max"`
	MinActivation float32 `json:"min"`
	ActiveNeurons int     `json:"active"`
	TotalNeurons  int     `json:"total"`
}

// LayerEvent is delivered to an observer after each leaf module runs.
type LayerEvent struct {
	Path    string        `json:"path"`
	Kind    string        `json:"kind"`
	Shape   []int         `json:"shape"`
	Stats   LayerStats    `json:"stats"`
	Elapsed time.Duration `json:"elapsed"`
}

// LayerObserver receives forward events. Events arrive in execution order
// from the goroutine running Forward.
type LayerObserver interface {
	OnForward(event LayerEvent)
}

type observerKey struct{}

// WithObserver attaches obs to every Forward call made with the returned context.
func WithObserver(ctx context.Context, obs LayerObserver) context.Context {
	return context.WithValue(ctx, observerKey{}, obs)
}

// computeLayerStats calculates summary statistics for an activation slice
func computeLayerStats(data []float32, threshold float32) LayerStats {
	if len(data) == 0 {
		return LayerStats{}
	}

	var sum float64
	max, min := data[0], data[0]
	activeCount := 0
	for _, v := range data {
		sum += float64(v)
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
		if v > threshold {
			activeCount++
		}
	}

	return LayerStats{
		AvgActivation: float32(sum / float64(len(data))),
		MaxActivation: max,
		MinActivation: min,
		ActiveNeurons: activeCount,
		TotalNeurons:  len(data),
	}
}

func notifyObserver(ctx context.Context, path string, m Module, out *tensor.Tensor, elapsed time.Duration) {
	obs, _ := ctx.Value(observerKey{}).(LayerObserver)
	if obs == nil || out == nil {
		return
	}
	obs.OnForward(LayerEvent{
		Path:    path,
		Kind:    m.Kind(),
		Shape:   append([]int(nil), out.Shape...),
		Stats:   computeLayerStats(out.Data, 0),
		Elapsed: elapsed,
	})
}

// LogObserver writes one debug entry per leaf.
type LogObserver struct {
	Logger *zap.Logger
}

func (o *LogObserver) OnForward(event LayerEvent) {
	o.Logger.Debug("layer forward",
		zap.String("path", event.Path),
		zap.String("kind", event.Kind),
		zap.Ints("shape", event.Shape),
		zap.Float32("avg", event.Stats.AvgActivation),
		zap.Float32("min", event.Stats.MinActivation),
		zap.Float32("max", event.Stats.MaxActivation),
		zap.Int("active", event.Stats.ActiveNeurons),
		zap.Duration("elapsed", event.Elapsed))
}

// ChannelObserver sends events to a Go channel (for internal processing)
type ChannelObserver struct {
	Events chan LayerEvent
}

func NewChannelObserver(bufferSize int) *ChannelObserver {
	return &ChannelObserver{
		Events: make(chan LayerEvent, bufferSize),
	}
}

func (o *ChannelObserver) OnForward(event LayerEvent) {
	select {
	case o.Events <- event:
	default:
		// Channel full, drop event to avoid blocking
	}
}
