// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides a pure Go CPU backend for tensor operations.
//
// # Overview
//
// This package implements a CPU backend with:
//   - Pure Go implementation (no CGO)
//   - BLAS matrix multiplication via gonum
//   - Float32 and Float64 support
//   - NumPy-compatible broadcasting
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/relattn/backend/cpu"
//	    "github.com/born-ml/relattn/nn"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    block, err := nn.NewMultiHeadedSelfAttentionModule(nn.DefaultSelfAttentionConfig(), backend)
//	}
//
// # Thread Safety
//
// The CPU backend is safe for concurrent use. Batched matrix products fan
// out over a bounded worker pool; see WithWorkers.
package cpu
