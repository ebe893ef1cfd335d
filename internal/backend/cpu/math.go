package cpu

import (
	"fmt"

	"github.com/born-ml/relattn/internal/tensor"
)

// MulScalar multiplies every element by scalar.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	return cpu.scalar("mulScalar", opMul, x, scalar)
}

// AddScalar adds scalar to every element.
func (cpu *CPUBackend) AddScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	return cpu.scalar("addScalar", opAdd, x, scalar)
}

// DivScalar divides every element by scalar.
func (cpu *CPUBackend) DivScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	return cpu.scalar("divScalar", opDiv, x, scalar)
}

func (cpu *CPUBackend) scalar(name string, op binaryOp, x *tensor.RawTensor, s float64) *tensor.RawTensor {
	result := cpu.alloc(name, x.Shape(), x.DType())

	switch x.DType() {
	case tensor.Float32:
		scalarKernel(result.AsFloat32(), x.AsFloat32(), float32(s), op)
	case tensor.Float64:
		scalarKernel(result.AsFloat64(), x.AsFloat64(), s, op)
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, x.DType()))
	}

	return result
}

// Rsqrt computes 1/sqrt(x) element-wise.
func (cpu *CPUBackend) Rsqrt(x *tensor.RawTensor) *tensor.RawTensor {
	result := cpu.alloc("rsqrt", x.Shape(), x.DType())

	switch x.DType() {
	case tensor.Float32:
		rsqrtKernel(result.AsFloat32(), x.AsFloat32())
	case tensor.Float64:
		rsqrtKernel(result.AsFloat64(), x.AsFloat64())
	default:
		panic(fmt.Sprintf("rsqrt: unsupported dtype %s", x.DType()))
	}

	return result
}
