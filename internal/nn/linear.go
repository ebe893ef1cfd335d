package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/relattn/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W.T + b
// where:
//   - x is the input tensor with shape [..., in_features]
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the optional bias vector with shape [out_features]
//   - y is the output tensor with shape [..., out_features]
//
// Weights are initialized using Xavier/Glorot initialization.
// Biases are initialized to zeros.
//
// Example:
//
//	rng := rand.New(rand.NewSource(1))
//	proj := nn.NewLinear(512, 512, rng, backend)
//	pos := nn.NewLinear(512, 512, rng, backend, nn.WithoutBias())
//	out := proj.Forward(x) // [batch, time, 512]
type Linear[B tensor.Backend] struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter[B] // [out_features, in_features]
	bias        *Parameter[B] // [out_features], nil without bias
	backend     B
}

// LinearOption configures NewLinear.
type LinearOption func(*linearOptions)

type linearOptions struct {
	bias bool
}

// WithoutBias creates a Linear layer with no additive bias.
func WithoutBias() LinearOption {
	return func(o *linearOptions) {
		o.bias = false
	}
}

// NewLinear creates a new Linear layer, drawing the weight from rng.
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, rng *rand.Rand, backend B, opts ...LinearOption) *Linear[B] {
	o := linearOptions{bias: true}
	for _, opt := range opts {
		opt(&o)
	}

	weight := Xavier(inFeatures, outFeatures, tensor.Shape{outFeatures, inFeatures}, rng, backend)

	l := &Linear[B]{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter("weight", weight),
		backend:     backend,
	}
	if o.bias {
		l.bias = NewParameter("bias", Zeros(tensor.Shape{outFeatures}, backend))
	}
	return l
}

// Forward computes x @ W.T + b over the last dimension of x.
//
// Leading dimensions are flattened into one matrix for a single GEMM and
// restored afterwards.
func (l *Linear[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	inputShape := input.Shape()
	if len(inputShape) == 0 || inputShape[len(inputShape)-1] != l.inFeatures {
		panic(fmt.Sprintf("linear: expected input [..., %d], got %v", l.inFeatures, inputShape))
	}

	flat := input.Reshape(-1, l.inFeatures)
	output := flat.MatMul(l.weight.Tensor().T())

	if l.bias != nil {
		output = output.Add(l.bias.Tensor())
	}

	outShape := make([]int, len(inputShape))
	copy(outShape, inputShape)
	outShape[len(outShape)-1] = l.outFeatures
	return output.Reshape(outShape...)
}

// Parameters returns [weight, bias], or [weight] without bias.
func (l *Linear[B]) Parameters() []*Parameter[B] {
	if l.bias != nil {
		return []*Parameter[B]{l.weight, l.bias}
	}
	return []*Parameter[B]{l.weight}
}

// Weight returns the weight parameter.
func (l *Linear[B]) Weight() *Parameter[B] {
	return l.weight
}

// Bias returns the bias parameter, or nil.
func (l *Linear[B]) Bias() *Parameter[B] {
	return l.bias
}

// InFeatures returns the number of input features.
func (l *Linear[B]) InFeatures() int {
	return l.inFeatures
}

// OutFeatures returns the number of output features.
func (l *Linear[B]) OutFeatures() int {
	return l.outFeatures
}

// StateDict returns "weight" and, when present, "bias".
func (l *Linear[B]) StateDict() map[string]*tensor.RawTensor {
	return paramState(l.Parameters()...)
}

// LoadStateDict loads "weight" and, when present, "bias".
func (l *Linear[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return loadParams(stateDict, l.Parameters()...)
}
