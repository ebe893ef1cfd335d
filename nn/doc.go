// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides relative-position self-attention blocks.
//
// # Overview
//
// This package contains:
//   - RelativeMultiHeadAttention: attention with relative positional scores
//   - MultiHeadedSelfAttentionModule: layer norm, attention and dropout
//   - RelativeShift: the score realignment used by both
//   - State dict helpers: StripPrefix, SetPrecision, NumParameters
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/relattn/backend/cpu"
//	    "github.com/born-ml/relattn/nn"
//	    "github.com/born-ml/relattn/tensor"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    block, err := nn.NewMultiHeadedSelfAttentionModule(nn.DefaultSelfAttentionConfig(), backend)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    rng := rand.New(rand.NewSource(0))
//	    x := tensor.Randn[float32](tensor.Shape{2, 50, 512}, rng, backend)
//	    out, err := block.Forward(nn.Inference(tensor.CPU), x, nil) // [2, 50, 512]
//	}
//
// # Masks
//
// Masks are bool tensors of shape [B, 1, T] (padding) or [B, T, T] (causal).
// True marks a key position that must not be attended to. A nil mask
// attends everywhere.
package nn
