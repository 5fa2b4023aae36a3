// Package nn provides the layer library used to assemble super-resolution
// networks and evaluate them on the CPU or through a pluggable convolution
// backend.
//
// A network is a tree of modules. Leaf modules (Conv2D, ReLU, PixelShuffle,
// ...) transform one NCHW tensor into another; composite modules (Sequential,
// ResBlock, ResidualDenseBlock, RRDB) wire their children together and add
// the scaled residual connections:
//
//	ResBlock:            out = body(x)*resScale + x
//	ResidualDenseBlock:  out = conv5(cat(x, x1, x2, x3, x4))*0.2 + x
//	RRDB:                out = rdb3(rdb2(rdb1(x)))*0.2 + x
//
// Parameters are addressed by dotted paths ("body.0.body.2.weight") that
// match checkpoints exported from PyTorch, so a state dict
// read from a safetensors file can be loaded straight into a module tree.
//
// Example usage:
//
//	block := nn.NewResBlock(rng, 64, 1.0)
//	out, err := nn.Forward(ctx, block, x)
//
//	// Inspect every leaf as it runs
//	ctx = nn.WithObserver(ctx, observer)
//
//	// Shapes and parameter counts without running kernels
//	summary, err := nn.Summarize(block, []int{64, 48, 48})
//	fmt.Print(summary)
package nn
