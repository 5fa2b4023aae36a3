// Package gpu runs convolutions on a WebGPU device.
package gpu

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
	"go.uber.org/zap"
)

// ErrNoGPU is returned when no adapter or device could be obtained.
var ErrNoGPU = errors.New("no usable GPU")

// Context holds the single WebGPU context for the application
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue

	AdapterName string
	Backend     string
}

var (
	ctxOnce sync.Once
	ctx     Context
	ctxErr  error
	logger  = zap.NewNop()
)

// SetLogger routes adapter selection messages to l. Call before the first
// GetContext.
func SetLogger(l *zap.Logger) {
	if l != nil {
		logger = l
	}
}

// GetContext returns the singleton GPU context, initializing it if necessary.
// Adapters are tried high-performance first, then low-power, then default.
func GetContext() (*Context, error) {
	ctxOnce.Do(func() { ctxErr = initContext() })
	if ctxErr != nil {
		return nil, ctxErr
	}
	return &ctx, nil
}

func initContext() error {
	ctx.Instance = wgpu.CreateInstance(nil)
	if ctx.Instance == nil {
		return fmt.Errorf("%w: failed to create WebGPU instance", ErrNoGPU)
	}

	tryInit := func(opts *wgpu.RequestAdapterOptions) error {
		if ctx.Adapter != nil {
			return nil
		}
		a, err := ctx.Instance.RequestAdapter(opts)
		if err != nil {
			return err
		}
		if a == nil {
			return errors.New("no adapter returned")
		}
		ctx.Adapter = a
		return nil
	}

	err := tryInit(&wgpu.RequestAdapterOptions{PowerPreference: wgpu.PowerPreferenceHighPerformance})
	if err != nil {
		logger.Debug("high performance adapter failed, falling back", zap.Error(err))
		err = tryInit(&wgpu.RequestAdapterOptions{PowerPreference: wgpu.PowerPreferenceLowPower})
	}
	if err != nil {
		logger.Debug("low power adapter failed, trying default", zap.Error(err))
		err = tryInit(nil)
	}
	if ctx.Adapter == nil {
		return fmt.Errorf("%w: all adapter attempts failed: %v", ErrNoGPU, err)
	}

	info := ctx.Adapter.GetInfo()
	ctx.AdapterName = strings.TrimSpace(info.Name)
	ctx.Backend = info.BackendType.String()
	logger.Info("using GPU adapter",
		zap.String("name", ctx.AdapterName),
		zap.String("vendor", info.VendorName),
		zap.String("backend", ctx.Backend))

	ctx.Device, err = ctx.Adapter.RequestDevice(nil)
	if err != nil {
		return fmt.Errorf("%w: request device: %v", ErrNoGPU, err)
	}
	ctx.Queue = ctx.Device.GetQueue()
	if ctx.Queue == nil {
		return fmt.Errorf("%w: device has no queue", ErrNoGPU)
	}
	return nil
}
