package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/relattn/internal/tensor"
)

// MeanDim averages along dim. With keepDim the reduced dimension stays as size 1.
func (cpu *CPUBackend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	shape := x.Shape()
	dim, err := shape.NormalizeAxis(dim)
	if err != nil {
		panic(fmt.Sprintf("meanDim: %v", err))
	}

	outShape := make(tensor.Shape, 0, len(shape))
	for i, d := range shape {
		switch {
		case i != dim:
			outShape = append(outShape, d)
		case keepDim:
			outShape = append(outShape, 1)
		}
	}

	result := cpu.alloc("meanDim", outShape, x.DType())
	outer, inner := splitAt(shape, dim)

	switch x.DType() {
	case tensor.Float32:
		meanKernel(result.AsFloat32(), x.AsFloat32(), outer, shape[dim], inner)
	case tensor.Float64:
		meanKernel(result.AsFloat64(), x.AsFloat64(), outer, shape[dim], inner)
	default:
		panic(fmt.Sprintf("meanDim: unsupported dtype %s", x.DType()))
	}

	return result
}

func meanKernel[T float](dst, src []T, outer, size, inner int) {
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			var sum T
			for i := 0; i < size; i++ {
				sum += src[(o*size+i)*inner+in]
			}
			dst[o*inner+in] = sum / T(size)
		}
	}
}

// Softmax computes softmax along the specified dimension.
// Softmax(x_i) = exp(x_i - max) / sum(exp(x_j - max)) for all j in dimension.
func (cpu *CPUBackend) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	shape := x.Shape()
	dim, err := shape.NormalizeAxis(dim)
	if err != nil {
		panic(fmt.Sprintf("softmax: %v", err))
	}

	result := cpu.alloc("softmax", shape, x.DType())
	outer, inner := splitAt(shape, dim)

	switch x.DType() {
	case tensor.Float32:
		softmaxKernel(result.AsFloat32(), x.AsFloat32(), outer, shape[dim], inner)
	case tensor.Float64:
		softmaxKernel(result.AsFloat64(), x.AsFloat64(), outer, shape[dim], inner)
	default:
		panic(fmt.Sprintf("softmax: unsupported dtype %s (only float32/float64 supported)", x.DType()))
	}

	return result
}

func softmaxKernel[T float](dst, src []T, outer, size, inner int) {
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			base := o*size*inner + in

			maxVal := T(math.Inf(-1))
			for i := 0; i < size; i++ {
				if v := src[base+i*inner]; v > maxVal {
					maxVal = v
				}
			}

			var sum T
			for i := 0; i < size; i++ {
				idx := base + i*inner
				e := T(math.Exp(float64(src[idx] - maxVal)))
				dst[idx] = e
				sum += e
			}

			for i := 0; i < size; i++ {
				dst[base+i*inner] /= sum
			}
		}
	}
}
