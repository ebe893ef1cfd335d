package nn

import (
	"github.com/pkg/errors"

	"github.com/born-ml/relattn/internal/tensor"
)

// Parameter is a learned tensor owned by a module.
//
// Modules read parameters during Forward and never write them; updates come
// from an external optimizer or from Load.
//
// Example:
//
//	weight := nn.NewParameter("weight", weightTensor)
//	w := weight.Tensor()
type Parameter[B tensor.Backend] struct {
	name   string                     // local name, e.g. "weight", "u_bias"
	tensor *tensor.Tensor[float32, B] // parameter values
}

// NewParameter wraps t as a parameter called name.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name local to its module.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] {
	return p.tensor
}

// Shape returns the parameter shape.
func (p *Parameter[B]) Shape() tensor.Shape {
	return p.tensor.Shape()
}

// Load copies raw into the parameter. The shape must match exactly; Float64
// sources are narrowed to float32.
func (p *Parameter[B]) Load(raw *tensor.RawTensor) error {
	if !raw.Shape().Equal(p.Shape()) {
		return errors.Wrapf(ErrShapeMismatch, "%s: expected %v, got %v", p.name, p.Shape(), raw.Shape())
	}

	dst := p.tensor.Data()
	switch raw.DType() {
	case tensor.Float32:
		copy(dst, raw.AsFloat32())
	case tensor.Float64:
		for i, v := range raw.AsFloat64() {
			dst[i] = float32(v)
		}
	default:
		return errors.Wrapf(ErrShapeMismatch, "%s: unsupported dtype %s", p.name, raw.DType())
	}
	return nil
}
