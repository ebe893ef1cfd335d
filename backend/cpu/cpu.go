// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	internalcpu "github.com/born-ml/relattn/internal/backend/cpu"
	"github.com/born-ml/relattn/tensor"
)

// Backend represents the CPU backend implementation.
type Backend = internalcpu.CPUBackend

// Option configures a Backend.
type Option = internalcpu.Option

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// WithWorkers bounds the goroutines used by batched kernels.
// n <= 0 uses runtime.NumCPU().
func WithWorkers(n int) Option {
	return internalcpu.WithWorkers(n)
}

// New creates a new CPU backend.
//
// Example:
//
//	import (
//	    "github.com/born-ml/relattn/backend/cpu"
//	    "github.com/born-ml/relattn/tensor"
//	)
//
//	func main() {
//	    backend := cpu.New(cpu.WithWorkers(4))
//	    x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
//	}
func New(opts ...Option) *Backend {
	return internalcpu.New(opts...)
}
