// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"math/rand"

	"github.com/born-ml/relattn/internal/tensor"
)

// Type aliases for public API

// DType is a constraint for tensor data types: float32, float64 and bool.
type DType = tensor.DType

// DataType represents the underlying data type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
	Bool    DataType = tensor.Bool
)

// Device represents the device where tensor data resides.
type Device = tensor.Device

// Device constants.
const (
	CPU    Device = tensor.CPU
	CUDA   Device = tensor.CUDA
	Metal  Device = tensor.Metal
	WebGPU Device = tensor.WebGPU
)

// ParseDevice parses a device name such as "cpu" (case-insensitive).
func ParseDevice(name string) (Device, error) {
	return tensor.ParseDevice(name)
}

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// Backend defines the interface that all compute backends must implement.
type Backend = tensor.Backend

// RawTensor is the low-level tensor representation: a contiguous row-major
// buffer plus shape, dtype and device. State dicts map names to RawTensors.
type RawTensor = tensor.RawTensor

// NewRaw allocates a zeroed RawTensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// RawFromFloat32 copies data into a new float32 RawTensor.
func RawFromFloat32(data []float32, shape Shape, device Device) (*RawTensor, error) {
	return tensor.RawFromFloat32(data, shape, device)
}

// Tensor is a generic type-safe tensor.
//
// T is the data type (float32, float64, bool).
// B is the backend implementation.
//
// Example:
//
//	backend := cpu.New()
//	x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
//	y := tensor.Ones[float32](tensor.Shape{2, 3}, backend)
//	z := x.Add(y)  // Element-wise addition
type Tensor[T DType, B Backend] = tensor.Tensor[T, B]

// New wraps raw in a typed tensor. The element type must match raw's dtype.
func New[T DType, B Backend](raw *RawTensor, b B) *Tensor[T, B] {
	return tensor.New[T, B](raw, b)
}

// Creation functions

// Zeros creates a tensor filled with zeros.
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return tensor.Zeros[T, B](shape, b)
}

// Ones creates a tensor filled with ones.
func Ones[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return tensor.Ones[T, B](shape, b)
}

// Full creates a tensor filled with a specific value.
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	return tensor.Full[T, B](shape, value, b)
}

// Randn creates a tensor of standard normal samples drawn from rng.
//
// Example:
//
//	rng := rand.New(rand.NewSource(42))
//	x := tensor.Randn[float32](tensor.Shape{2, 50, 512}, rng, backend)
func Randn[T DType, B Backend](shape Shape, rng *rand.Rand, b B) *Tensor[T, B] {
	return tensor.Randn[T, B](shape, rng, b)
}

// Uniform creates a tensor of samples from U(low, high) drawn from rng.
func Uniform[T DType, B Backend](shape Shape, low, high float64, rng *rand.Rand, b B) *Tensor[T, B] {
	return tensor.Uniform[T, B](shape, low, high, rng, b)
}

// FromSlice creates a tensor from a slice, which must hold shape.NumElements() values.
func FromSlice[T DType, B Backend](data []T, shape Shape, b B) (*Tensor[T, B], error) {
	return tensor.FromSlice[T, B](data, shape, b)
}

// Cat concatenates tensors along dim.
func Cat[T DType, B Backend](tensors []*Tensor[T, B], dim int) *Tensor[T, B] {
	return tensor.Cat[T, B](tensors, dim)
}

// Precision is the storage precision parameters are kept at.
type Precision = tensor.Precision

// Precision constants.
const (
	FP32 Precision = tensor.FP32
	FP16 Precision = tensor.FP16
	BF16 Precision = tensor.BF16
)

// ParsePrecision accepts "fp32", "fp16" and "bf16" and their long names.
func ParsePrecision(s string) (Precision, error) {
	return tensor.ParsePrecision(s)
}
