package nn

import (
	"fmt"

	"github.com/born-ml/relattn/internal/tensor"
)

// LayerNorm applies Layer Normalization over the last dimension.
//
// Formula: Y = weight * (X - mean(X)) / sqrt(var(X) + eps) + bias
//
// Variance is the biased estimate. Parameters are named "weight" and "bias"
// to match torch.nn.LayerNorm checkpoints.
//
// Example:
//
//	norm := nn.NewLayerNorm(512, 1e-5, backend)
//	out := norm.Forward(x) // [..., 512] -> [..., 512]
type LayerNorm[B tensor.Backend] struct {
	Weight  *Parameter[B] // learnable scale [d_model], initialized to ones
	Bias    *Parameter[B] // learnable shift [d_model], initialized to zeros
	Epsilon float64
	size    int
	backend B
}

// NewLayerNorm creates a LayerNorm over a last dimension of normalizedShape.
func NewLayerNorm[B tensor.Backend](normalizedShape int, epsilon float64, backend B) *LayerNorm[B] {
	return &LayerNorm[B]{
		Weight:  NewParameter("weight", Ones(tensor.Shape{normalizedShape}, backend)),
		Bias:    NewParameter("bias", Zeros(tensor.Shape{normalizedShape}, backend)),
		Epsilon: epsilon,
		size:    normalizedShape,
		backend: backend,
	}
}

// Forward normalizes x along its last dimension.
//
// Algorithm:
//  1. mean = mean(x) along last dimension (keepdim)
//  2. variance = mean((x - mean)^2) along last dimension (keepdim)
//  3. x_norm = (x - mean) * rsqrt(variance + eps)
//  4. output = weight * x_norm + bias
func (l *LayerNorm[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	if len(shape) == 0 || shape[len(shape)-1] != l.size {
		panic(fmt.Sprintf("layerNorm: expected input [..., %d], got %v", l.size, shape))
	}

	mean := x.MeanDim(-1, true)
	centered := x.Sub(mean)
	variance := centered.Mul(centered).MeanDim(-1, true)
	normed := centered.Mul(variance.AddScalar(l.Epsilon).Rsqrt())

	// [d_model] broadcasts against [..., d_model].
	return normed.Mul(l.Weight.Tensor()).Add(l.Bias.Tensor())
}

// Parameters returns [weight, bias].
func (l *LayerNorm[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{l.Weight, l.Bias}
}

// StateDict returns "weight" and "bias".
func (l *LayerNorm[B]) StateDict() map[string]*tensor.RawTensor {
	return paramState(l.Parameters()...)
}

// LoadStateDict loads "weight" and "bias".
func (l *LayerNorm[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return loadParams(stateDict, l.Parameters()...)
}
