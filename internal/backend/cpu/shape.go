package cpu

import (
	"fmt"

	"github.com/born-ml/relattn/internal/tensor"
)

// Reshape returns a view of t with a new shape. No data is copied; every
// CPU kernel writes into a fresh result, so sharing the buffer is safe.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	view, err := t.WithShape(newShape)
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	return view
}

// Transpose permutes dimensions. With no axes the dimension order is reversed.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	ndim := len(shape)

	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}
	if len(axes) != ndim {
		panic(fmt.Sprintf("transpose: expected %d axes, got %d", ndim, len(axes)))
	}

	seen := make([]bool, ndim)
	newShape := make(tensor.Shape, ndim)
	for i, ax := range axes {
		if ax < 0 || ax >= ndim || seen[ax] {
			panic(fmt.Sprintf("transpose: invalid permutation %v for rank %d", axes, ndim))
		}
		seen[ax] = true
		newShape[i] = shape[ax]
	}

	result := cpu.alloc("transpose", newShape, t.DType())

	// srcStrides[i] is the source stride of output axis i.
	inStrides := t.Strides()
	srcStrides := make([]int, ndim)
	for i, ax := range axes {
		srcStrides[i] = inStrides[ax]
	}

	gatherElements(result.Data(), t.Data(), t.DType().Size(), newShape, srcStrides)
	return result
}

// Expand broadcasts x to shape by materializing repeated elements.
func (cpu *CPUBackend) Expand(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	xShape := x.Shape()
	if len(shape) < len(xShape) {
		panic(fmt.Sprintf("expand: new shape %v has fewer dimensions than input shape %v", shape, xShape))
	}

	offset := len(shape) - len(xShape)
	for i, dim := range xShape {
		if dim != 1 && dim != shape[offset+i] {
			panic(fmt.Sprintf("expand: cannot expand dimension %d from %d to %d", i, dim, shape[offset+i]))
		}
	}

	result := cpu.alloc("expand", shape, x.DType())
	gatherElements(result.Data(), x.Data(), x.DType().Size(), shape, broadcastStrides(xShape, shape))
	return result
}

// gatherElements fills dst (laid out row-major over shape) from src, reading
// element i at the offset given by srcStrides (in elements).
func gatherElements(dst, src []byte, elemSize int, shape tensor.Shape, srcStrides []int) {
	zero := make([]int, len(shape))
	forEachBroadcast(shape, srcStrides, zero, func(out, si, _ int) {
		copy(dst[out*elemSize:(out+1)*elemSize], src[si*elemSize:(si+1)*elemSize])
	})
}
