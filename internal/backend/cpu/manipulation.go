package cpu

import (
	"fmt"

	"github.com/born-ml/relattn/internal/tensor"
)

// Cat concatenates tensors along dim. All other dimensions must match.
//
// Example:
//
//	zeros [2, 4, 3, 1] ++ scores [2, 4, 3, 3] along -1 → [2, 4, 3, 4]
func (cpu *CPUBackend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	if len(tensors) == 0 {
		panic("cat: no tensors")
	}

	first := tensors[0].Shape()
	dim, err := first.NormalizeAxis(dim)
	if err != nil {
		panic(fmt.Sprintf("cat: %v", err))
	}

	total := 0
	for i, t := range tensors {
		s := t.Shape()
		if len(s) != len(first) {
			panic(fmt.Sprintf("cat: tensor %d has rank %d, expected %d", i, len(s), len(first)))
		}
		if t.DType() != tensors[0].DType() {
			panic(fmt.Sprintf("cat: tensor %d has dtype %s, expected %s", i, t.DType(), tensors[0].DType()))
		}
		for d := range s {
			if d != dim && s[d] != first[d] {
				panic(fmt.Sprintf("cat: tensor %d shape %v incompatible with %v at dim %d", i, s, first, d))
			}
		}
		total += s[dim]
	}

	outShape := first.Clone()
	outShape[dim] = total
	result := cpu.alloc("cat", outShape, tensors[0].DType())

	elem := tensors[0].DType().Size()
	outer, inner := splitAt(outShape, dim)
	dst := result.Data()
	rowBytes := total * inner * elem

	pos := 0
	for _, t := range tensors {
		chunk := t.Shape()[dim] * inner * elem
		src := t.Data()
		for o := 0; o < outer; o++ {
			copy(dst[o*rowBytes+pos:o*rowBytes+pos+chunk], src[o*chunk:(o+1)*chunk])
		}
		pos += chunk
	}

	return result
}

// Narrow returns entries [start, start+length) of dim.
func (cpu *CPUBackend) Narrow(x *tensor.RawTensor, dim, start, length int) *tensor.RawTensor {
	shape := x.Shape()
	dim, err := shape.NormalizeAxis(dim)
	if err != nil {
		panic(fmt.Sprintf("narrow: %v", err))
	}
	if start < 0 || length <= 0 || start+length > shape[dim] {
		panic(fmt.Sprintf("narrow: range [%d, %d) out of bounds for dim %d of size %d", start, start+length, dim, shape[dim]))
	}

	outShape := shape.Clone()
	outShape[dim] = length
	result := cpu.alloc("narrow", outShape, x.DType())

	elem := x.DType().Size()
	outer, inner := splitAt(shape, dim)
	srcRow := shape[dim] * inner * elem
	dstRow := length * inner * elem
	skip := start * inner * elem

	src, dst := x.Data(), result.Data()
	for o := 0; o < outer; o++ {
		copy(dst[o*dstRow:(o+1)*dstRow], src[o*srcRow+skip:o*srcRow+skip+dstRow])
	}

	return result
}

// splitAt returns the number of elements before dim (outer) and after it (inner).
func splitAt(shape tensor.Shape, dim int) (outer, inner int) {
	outer, inner = 1, 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, inner
}
