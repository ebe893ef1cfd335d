package cpu

import (
	"fmt"

	"github.com/born-ml/relattn/internal/parallel"
	"github.com/born-ml/relattn/internal/tensor"
)

// minParallelFlops is the per-matrix multiply-add count below which batched
// products stay on the calling goroutine.
const minParallelFlops = 1 << 14

// BatchMatMul performs batched matrix multiplication.
// Supports 3D and 4D tensors with batch dimensions.
//
// For 3D: [B, M, K] @ [B, K, N] -> [B, M, N]
// For 4D: [B, H, M, K] @ [B, H, K, N] -> [B, H, M, N]
//
// The last two dimensions are treated as matrix dimensions.
// All leading dimensions must match (batch dimensions).
func (cpu *CPUBackend) BatchMatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape := a.Shape()
	bShape := b.Shape()
	ndim := len(aShape)

	if ndim < 3 {
		panic(fmt.Sprintf("BatchMatMul: inputs must be at least 3D, got %dD", ndim))
	}
	if len(bShape) != ndim {
		panic(fmt.Sprintf("BatchMatMul: dimension mismatch, got %dD and %dD", ndim, len(bShape)))
	}
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("BatchMatMul: dtype mismatch %s vs %s", a.DType(), b.DType()))
	}
	for i := 0; i < ndim-2; i++ {
		if aShape[i] != bShape[i] {
			panic(fmt.Sprintf("BatchMatMul: batch dimension mismatch at dim %d: %d vs %d", i, aShape[i], bShape[i]))
		}
	}

	m := aShape[ndim-2]
	k1 := aShape[ndim-1]
	k2 := bShape[ndim-2]
	n := bShape[ndim-1]
	if k1 != k2 {
		panic(fmt.Sprintf("BatchMatMul: inner dimension mismatch: %d vs %d", k1, k2))
	}

	batchSize := 1
	for i := 0; i < ndim-2; i++ {
		batchSize *= aShape[i]
	}

	outShape := make(tensor.Shape, ndim)
	copy(outShape, aShape[:ndim-2])
	outShape[ndim-2] = m
	outShape[ndim-1] = n

	result := cpu.alloc("BatchMatMul", outShape, a.DType())

	cfg := cpu.workers
	if m*k1*n < minParallelFlops {
		cfg.Enabled = false
	}

	switch a.DType() {
	case tensor.Float32:
		c, x, y := result.AsFloat32(), a.AsFloat32(), b.AsFloat32()
		parallel.For(batchSize, func(i int) {
			gemmFloat32(c[i*m*n:(i+1)*m*n], x[i*m*k1:(i+1)*m*k1], y[i*k1*n:(i+1)*k1*n], m, k1, n)
		}, cfg)
	case tensor.Float64:
		c, x, y := result.AsFloat64(), a.AsFloat64(), b.AsFloat64()
		parallel.For(batchSize, func(i int) {
			gemmFloat64(c[i*m*n:(i+1)*m*n], x[i*m*k1:(i+1)*m*k1], y[i*k1*n:(i+1)*k1*n], m, k1, n)
		}, cfg)
	default:
		panic(fmt.Sprintf("BatchMatMul: unsupported dtype %s", a.DType()))
	}

	return result
}
