// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides type-safe tensors for the relattn attention blocks.
//
// # Overview
//
// Tensors are generic over their element type and the backend that computes
// them. This package provides:
//   - Generic type-safe tensors (Tensor[T, B])
//   - NumPy-style broadcasting
//   - Zero-copy reshapes of contiguous data
//   - Storage precisions (fp32, fp16, bf16) for parameters
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/relattn/backend/cpu"
//	    "github.com/born-ml/relattn/tensor"
//	)
//
//	func main() {
//	    backend := cpu.New()
//
//	    x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
//	    y := tensor.Ones[float32](tensor.Shape{2, 3}, backend)
//	    z := x.Add(y)
//	}
//
// # Shape Errors
//
// Operations on incompatible shapes panic with a message prefixed by the
// operation name, e.g. "matmul: inner dimensions mismatch". Layers in the nn
// package validate inputs up front and return errors instead.
package tensor
