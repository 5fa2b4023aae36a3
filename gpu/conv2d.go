package gpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
	"go.uber.org/zap"

	"github.com/openfluke/srnet/nn"
	"github.com/openfluke/srnet/tensor"
)

const (
	workgroupSize = 256
	// maxGroupsPerDim is the portable WebGPU dispatch limit per dimension.
	maxGroupsPerDim = 65535
	// maxBindingBytes is the default maxStorageBufferBindingSize.
	maxBindingBytes = 128 << 20
)

// convKey identifies one compiled kernel; geometry is baked into the shader.
type convKey struct {
	batch, inC, outC, inH, inW int
	kernel, stride, padding    int
}

func (k convKey) outSize() (int, int) {
	h := (k.inH+2*k.padding-k.kernel)/k.stride + 1
	w := (k.inW+2*k.padding-k.kernel)/k.stride + 1
	return h, w
}

// ConvBackend executes nn.Conv2D layers with a WGSL compute kernel over NCHW
// tensors. Tensors too large for one storage binding run on the CPU kernel.
type ConvBackend struct {
	ctx    *Context
	cpu    *nn.CPUBackend
	logger *zap.Logger

	mu        sync.Mutex
	pipelines map[convKey]*wgpu.ComputePipeline
}

// NewConvBackend acquires the shared device. The error wraps ErrNoGPU when
// no adapter is available.
func NewConvBackend(logger *zap.Logger, cpuWorkers int) (*ConvBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	SetLogger(logger)
	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	return &ConvBackend{
		ctx:       c,
		cpu:       &nn.CPUBackend{Workers: cpuWorkers},
		logger:    logger,
		pipelines: make(map[convKey]*wgpu.ComputePipeline),
	}, nil
}

func (b *ConvBackend) Name() string { return "webgpu" }

// AdapterName reports the adapter the backend runs on.
func (b *ConvBackend) AdapterName() string { return b.ctx.AdapterName }

func (b *ConvBackend) Conv2D(ctx context.Context, x *tensor.Tensor, layer *nn.Conv2D) (*tensor.Tensor, error) {
	outShape, err := layer.OutputShape(x.Shape)
	if err != nil {
		return nil, err
	}
	stride := layer.Stride
	if stride < 1 {
		stride = 1
	}
	key := convKey{
		batch: x.Shape[0], inC: x.Shape[1], outC: layer.OutChannels,
		inH: x.Shape[2], inW: x.Shape[3],
		kernel: layer.KernelSize, stride: stride, padding: layer.Padding,
	}
	outN := tensor.Numel(outShape)
	if x.Size()*4 > maxBindingBytes || outN*4 > maxBindingBytes || layer.Weight.Size()*4 > maxBindingBytes {
		b.logger.Debug("conv exceeds storage binding limit, using cpu",
			zap.Ints("input", x.Shape), zap.Ints("output", outShape))
		return b.cpu.Conv2D(ctx, x, layer)
	}

	pipeline, err := b.pipeline(key)
	if err != nil {
		return nil, err
	}

	dev := b.ctx.Device
	inBuf, err := NewFloatBuffer(b.ctx, "conv_in", x.Data, wgpu.BufferUsageStorage)
	if err != nil {
		return nil, err
	}
	defer inBuf.Release()

	wBuf, err := NewFloatBuffer(b.ctx, "conv_weight", layer.Weight.Data, wgpu.BufferUsageStorage)
	if err != nil {
		return nil, err
	}
	defer wBuf.Release()

	bias := make([]float32, layer.OutChannels)
	if layer.Bias != nil {
		copy(bias, layer.Bias.Data)
	}
	bBuf, err := NewFloatBuffer(b.ctx, "conv_bias", bias, wgpu.BufferUsageStorage)
	if err != nil {
		return nil, err
	}
	defer bBuf.Release()

	outBuf, err := dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "conv_out",
		Size:  uint64(outN * 4),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("create output buffer: %w", err)
	}
	defer outBuf.Release()

	bg, err := dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "conv_bind",
		Layout: pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: inBuf, Size: inBuf.GetSize()},
			{Binding: 1, Buffer: wBuf, Size: wBuf.GetSize()},
			{Binding: 2, Buffer: bBuf, Size: bBuf.GetSize()},
			{Binding: 3, Buffer: outBuf, Size: outBuf.GetSize()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group: %w", err)
	}
	defer bg.Release()

	enc, err := dev.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	gx, gy := dispatchSize(outN)
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchWorkgroups(gx, gy, 1)
	pass.End()
	cmd, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		return nil, fmt.Errorf("finish conv pass: %w", err)
	}
	b.ctx.Queue.Submit(cmd)
	cmd.Release()

	data, err := ReadBuffer(ctx, b.ctx, outBuf, outN)
	if err != nil {
		return nil, err
	}
	return tensor.FromSlice(data, outShape...)
}

// dispatchSize splits n invocations over a 2D grid of workgroups.
func dispatchSize(n int) (uint32, uint32) {
	groups := (n + workgroupSize - 1) / workgroupSize
	if groups <= maxGroupsPerDim {
		return uint32(groups), 1
	}
	gy := (groups + maxGroupsPerDim - 1) / maxGroupsPerDim
	return maxGroupsPerDim, uint32(gy)
}

func (b *ConvBackend) pipeline(key convKey) (*wgpu.ComputePipeline, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pipelines[key]; ok {
		return p, nil
	}

	dev := b.ctx.Device
	mod, err := dev.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "conv2d_nchw",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: conv2DShader(key)},
	})
	if err != nil {
		return nil, fmt.Errorf("compile conv shader: %w", err)
	}
	defer mod.Release()

	p, err := dev.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   "conv2d_nchw",
		Compute: wgpu.ProgrammableStageDescriptor{Module: mod, EntryPoint: "main"},
	})
	if err != nil {
		return nil, fmt.Errorf("create conv pipeline: %w", err)
	}
	b.pipelines[key] = p
	b.logger.Debug("compiled conv pipeline",
		zap.Int("in", key.inC), zap.Int("out", key.outC),
		zap.Int("h", key.inH), zap.Int("w", key.inW), zap.Int("batch", key.batch))
	return p, nil
}

// Release frees cached pipelines. The shared device stays alive.
func (b *ConvBackend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, p := range b.pipelines {
		p.Release()
		delete(b.pipelines, k)
	}
}

func conv2DShader(k convKey) string {
	outH, outW := k.outSize()
	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> input : array<f32>;
		@group(0) @binding(1) var<storage, read> weights : array<f32>;
		@group(0) @binding(2) var<storage, read> bias : array<f32>;
		@group(0) @binding(3) var<storage, read_write> output : array<f32>;

		const BATCH: u32 = %du;
		const IN_CH: u32 = %du;
		const OUT_CH: u32 = %du;
		const IN_H: u32 = %du;
		const IN_W: u32 = %du;
		const K: u32 = %du;
		const STRIDE: u32 = %du;
		const PADDING: i32 = %d;
		const OUT_H: u32 = %du;
		const OUT_W: u32 = %du;

		@compute @workgroup_size(%d)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>,
		        @builtin(num_workgroups) groups: vec3<u32>) {
			let idx = gid.x + gid.y * groups.x * %du;
			if (idx >= BATCH * OUT_CH * OUT_H * OUT_W) { return; }

			// Output layout: [N, C, H, W]
			let out_w = idx %% OUT_W;
			let out_h = (idx / OUT_W) %% OUT_H;
			let out_c = (idx / (OUT_W * OUT_H)) %% OUT_CH;
			let n = idx / (OUT_W * OUT_H * OUT_CH);

			var sum: f32 = bias[out_c];
			for (var in_c: u32 = 0u; in_c < IN_CH; in_c++) {
				let in_base = (n * IN_CH + in_c) * IN_H * IN_W;
				let w_base = (out_c * IN_CH + in_c) * K * K;
				for (var kh: u32 = 0u; kh < K; kh++) {
					let ih = i32(out_h * STRIDE + kh) - PADDING;
					if (ih < 0 || ih >= i32(IN_H)) { continue; }
					for (var kw: u32 = 0u; kw < K; kw++) {
						let iw = i32(out_w * STRIDE + kw) - PADDING;
						if (iw < 0 || iw >= i32(IN_W)) { continue; }
						sum += input[in_base + u32(ih) * IN_W + u32(iw)] * weights[w_base + kh * K + kw];
					}
				}
			}
			output[idx] = sum;
		}
	`, k.batch, k.inC, k.outC, k.inH, k.inW, k.kernel, k.stride, k.padding, outH, outW,
		workgroupSize, workgroupSize)
}
