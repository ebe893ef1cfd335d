package cpu

import (
	"math"

	"github.com/born-ml/relattn/internal/tensor"
)

type float interface {
	~float32 | ~float64
}

type binaryOp int

const (
	opAdd binaryOp = iota
	opSub
	opMul
	opDiv
)

func apply[T float](op binaryOp, x, y T) T {
	switch op {
	case opAdd:
		return x + y
	case opSub:
		return x - y
	case opMul:
		return x * y
	default:
		return x / y
	}
}

func binaryKernel[T float](dst, a, b []T, aShape, bShape, outShape tensor.Shape, broadcast bool, op binaryOp) {
	if !broadcast {
		for i := range dst {
			dst[i] = apply(op, a[i], b[i])
		}
		return
	}

	aStrides := broadcastStrides(aShape, outShape)
	bStrides := broadcastStrides(bShape, outShape)
	forEachBroadcast(outShape, aStrides, bStrides, func(out, ai, bi int) {
		dst[out] = apply(op, a[ai], b[bi])
	})
}

// broadcastStrides lays in's strides over out; broadcast axes get stride 0.
func broadcastStrides(in, out tensor.Shape) []int {
	strides := make([]int, len(out))
	inStrides := in.ComputeStrides()
	offset := len(out) - len(in)
	for i := range in {
		if in[i] != 1 {
			strides[offset+i] = inStrides[i]
		}
	}
	return strides
}

// forEachBroadcast walks out in row-major order, tracking the matching flat
// offsets into two broadcast operands.
func forEachBroadcast(out tensor.Shape, aStrides, bStrides []int, f func(out, ai, bi int)) {
	n := out.NumElements()
	idx := make([]int, len(out))
	ai, bi := 0, 0
	for i := 0; i < n; i++ {
		f(i, ai, bi)
		for d := len(out) - 1; d >= 0; d-- {
			idx[d]++
			ai += aStrides[d]
			bi += bStrides[d]
			if idx[d] < out[d] {
				break
			}
			ai -= aStrides[d] * out[d]
			bi -= bStrides[d] * out[d]
			idx[d] = 0
		}
	}
}

func scalarKernel[T float](dst, src []T, s T, op binaryOp) {
	for i, v := range src {
		dst[i] = apply(op, v, s)
	}
}

func rsqrtKernel[T float](dst, src []T) {
	for i, v := range src {
		dst[i] = T(1 / math.Sqrt(float64(v)))
	}
}
