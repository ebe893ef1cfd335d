// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/relattn/internal/nn"
	"github.com/born-ml/relattn/internal/tensor"
)

// Errors returned by module constructors, Forward and LoadStateDict.
// Match them with errors.Is.
var (
	ErrInvalidConfig    = nn.ErrInvalidConfig
	ErrDeviceMismatch   = nn.ErrDeviceMismatch
	ErrSequenceTooLong  = nn.ErrSequenceTooLong
	ErrMissingParameter = nn.ErrMissingParameter
	ErrShapeMismatch    = nn.ErrShapeMismatch
)

// Module interface defines the common interface for all modules.
type Module[B tensor.Backend] = nn.Module[B]

// Parameter represents a named parameter of a module.
type Parameter[B tensor.Backend] = nn.Parameter[B]

// NumParameters counts the scalar parameters of m.
func NumParameters[B tensor.Backend](m Module[B]) int {
	return nn.NumParameters[B](m)
}

// Configuration

// Projection selects which weights project keys and values.
type Projection = nn.Projection

// Projection modes.
const (
	SharedQueryProjection Projection = nn.SharedQueryProjection
	DistinctProjections   Projection = nn.DistinctProjections
)

// Scale selects the divisor applied to attention scores.
type Scale = nn.Scale

// Score scales.
const (
	ScaleByModelDim Scale = nn.ScaleByModelDim
	ScaleByHeadDim  Scale = nn.ScaleByHeadDim
)

// AttentionConfig configures RelativeMultiHeadAttention.
type AttentionConfig = nn.AttentionConfig

// DefaultAttentionConfig returns d_model=512, n_heads=16, dropout 0.1.
func DefaultAttentionConfig() AttentionConfig {
	return nn.DefaultAttentionConfig()
}

// SelfAttentionConfig configures MultiHeadedSelfAttentionModule.
type SelfAttentionConfig = nn.SelfAttentionConfig

// DefaultSelfAttentionConfig returns the default block configuration.
func DefaultSelfAttentionConfig() SelfAttentionConfig {
	return nn.DefaultSelfAttentionConfig()
}

// RunConfig carries the per-call device and training flag.
type RunConfig = nn.RunConfig

// Inference returns a RunConfig with dropout disabled.
func Inference(device tensor.Device) RunConfig {
	return nn.Inference(device)
}

// Training returns a RunConfig with dropout enabled.
func Training(device tensor.Device) RunConfig {
	return nn.Training(device)
}

// Attention

// RelativeMultiHeadAttention is multi-head attention with relative
// positional scores and learned content and position biases.
type RelativeMultiHeadAttention[B tensor.Backend] = nn.RelativeMultiHeadAttention[B]

// NewRelativeMultiHeadAttention builds the attention layer.
func NewRelativeMultiHeadAttention[B tensor.Backend](cfg AttentionConfig, backend B) (*RelativeMultiHeadAttention[B], error) {
	return nn.NewRelativeMultiHeadAttention(cfg, backend)
}

// MultiHeadedSelfAttentionModule is the pre-norm self-attention block:
// layer norm, relative attention over sinusoidal positions, dropout.
type MultiHeadedSelfAttentionModule[B tensor.Backend] = nn.MultiHeadedSelfAttentionModule[B]

// NewMultiHeadedSelfAttentionModule builds the block.
//
// Example:
//
//	backend := cpu.New()
//	block, err := nn.NewMultiHeadedSelfAttentionModule(nn.DefaultSelfAttentionConfig(), backend)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	x := tensor.Randn[float32](tensor.Shape{2, 50, 512}, rng, backend)
//	out, err := block.Forward(nn.Inference(tensor.CPU), x, nil)
func NewMultiHeadedSelfAttentionModule[B tensor.Backend](cfg SelfAttentionConfig, backend B) (*MultiHeadedSelfAttentionModule[B], error) {
	return nn.NewMultiHeadedSelfAttentionModule(cfg, backend)
}

// RelativeShift realigns a [B, H, T1, T2] positional score so that entry
// (i, j) refers to relative distance i-j.
func RelativeShift[B tensor.Backend](score *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return nn.RelativeShift(score)
}

// SinusoidalPositionalEncoding produces the sine/cosine position table.
type SinusoidalPositionalEncoding[B tensor.Backend] = nn.SinusoidalPositionalEncoding[B]

// NewSinusoidalPositionalEncoding creates a table for up to maxLen positions.
func NewSinusoidalPositionalEncoding[B tensor.Backend](maxLen, dim int, backend B) *SinusoidalPositionalEncoding[B] {
	return nn.NewSinusoidalPositionalEncoding(maxLen, dim, backend)
}

// State dicts

// StripPrefix returns the entries of stateDict under prefix with the prefix removed.
//
// Example:
//
//	state, _ := loader.Load("conformer.pt")
//	err := block.LoadStateDict(nn.StripPrefix(state, "encoder.layers.0.self_attn."))
func StripPrefix(stateDict map[string]*tensor.RawTensor, prefix string) map[string]*tensor.RawTensor {
	return nn.StripPrefix(stateDict, prefix)
}

// SetPrecision rounds every parameter of m to precision p in place.
func SetPrecision[B tensor.Backend](m Module[B], p tensor.Precision) {
	nn.SetPrecision[B](m, p)
}
