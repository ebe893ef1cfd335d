// Package nn implements the relative-position self-attention layers and the
// small set of building blocks they are composed from.
//
// The package provides:
//   - Parameter: a named float32 tensor owned by a module
//   - Linear, LayerNorm, Dropout: collaborators with PyTorch-compatible state dicts
//   - SinusoidalPositionalEncoding: lazily cached sin/cos position table
//   - RelativeShift and RelativeMultiHeadAttention: Transformer-XL style attention
//   - MultiHeadedSelfAttentionModule: pre-norm self-attention block
//
// Modules are generic over the tensor backend. Parameters are mutated only by
// an external trainer or by loading a state dict; forward passes never write
// to them.
package nn
