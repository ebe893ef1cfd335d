package nn

import (
	"math/rand"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/relattn/internal/tensor"
)

// MultiHeadedSelfAttentionModule is the pre-norm self-attention block of a
// Conformer encoder layer:
//
//	pos = sinusoidal(T) broadcast to [B, T, D]
//	x'  = layer_norm(x)
//	out = dropout(attention(x', x', x', pos, mask))
//
// The residual connection belongs to the caller.
//
// Example:
//
//	block, err := nn.NewMultiHeadedSelfAttentionModule(nn.DefaultSelfAttentionConfig(), backend)
//	out, err := block.Forward(nn.Training(tensor.CPU), x, mask)
//	x = x.Add(out)
type MultiHeadedSelfAttentionModule[B tensor.Backend] struct {
	LayerNorm *LayerNorm[B]
	Attention *RelativeMultiHeadAttention[B]

	cfg        SelfAttentionConfig
	positional *SinusoidalPositionalEncoding[B]
	dropout    *Dropout[B]
	backend    B
}

// NewMultiHeadedSelfAttentionModule builds the block. It fails with
// ErrInvalidConfig for unusable hyperparameters.
func NewMultiHeadedSelfAttentionModule[B tensor.Backend](cfg SelfAttentionConfig, backend B) (*MultiHeadedSelfAttentionModule[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	attention, err := NewRelativeMultiHeadAttention(cfg.AttentionConfig, backend)
	if err != nil {
		return nil, err
	}

	klog.V(1).Infof("self-attention module: d_model=%d max_len=%d layer_norm_eps=%g",
		cfg.DModel, cfg.MaxLen, cfg.LayerNormEps)

	return &MultiHeadedSelfAttentionModule[B]{
		LayerNorm:  NewLayerNorm(cfg.DModel, cfg.LayerNormEps, backend),
		Attention:  attention,
		cfg:        cfg,
		positional: NewSinusoidalPositionalEncoding(cfg.MaxLen, cfg.DModel, backend),
		dropout:    NewDropout(cfg.DropoutP, rand.New(rand.NewSource(cfg.Seed+2)), backend), //nolint:gosec // dropout sampling
		backend:    backend,
	}, nil
}

// Config returns the configuration the block was built with.
func (m *MultiHeadedSelfAttentionModule[B]) Config() SelfAttentionConfig {
	return m.cfg
}

// Forward applies the block to x [B, T, D] with an optional Bool mask
// [B, 1, T] or [B, T, T] (true excludes a key position).
//
// rc.Device must match the backend device; rc.Training enables both dropout
// layers.
func (m *MultiHeadedSelfAttentionModule[B]) Forward(
	rc RunConfig,
	x *tensor.Tensor[float32, B],
	mask *tensor.Tensor[bool, B],
) (*tensor.Tensor[float32, B], error) {
	out, _, err := m.forward(rc, x, mask)
	return out, err
}

// ForwardWithWeights is Forward that also returns the attention weights
// [B, H, T, T] before dropout.
func (m *MultiHeadedSelfAttentionModule[B]) ForwardWithWeights(
	rc RunConfig,
	x *tensor.Tensor[float32, B],
	mask *tensor.Tensor[bool, B],
) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B], error) {
	return m.forward(rc, x, mask)
}

func (m *MultiHeadedSelfAttentionModule[B]) forward(
	rc RunConfig,
	x *tensor.Tensor[float32, B],
	mask *tensor.Tensor[bool, B],
) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B], error) {
	if device := m.backend.Device(); rc.Device != device {
		return nil, nil, errors.Wrapf(ErrDeviceMismatch, "run config wants %s, backend computes on %s", rc.Device, device)
	}
	if x.Device() != rc.Device {
		return nil, nil, errors.Wrapf(ErrDeviceMismatch, "input on %s, run config wants %s", x.Device(), rc.Device)
	}

	shape := x.Shape()
	if len(shape) != 3 || shape[2] != m.cfg.DModel {
		return nil, nil, errors.Wrapf(ErrShapeMismatch, "expected input [batch, time, %d], got %v", m.cfg.DModel, shape)
	}
	batch, seqLen, dModel := shape[0], shape[1], shape[2]

	pos, err := m.positional.Forward(seqLen)
	if err != nil {
		return nil, nil, err
	}
	pos = pos.Expand(batch, seqLen, dModel)

	normed := m.LayerNorm.Forward(x)
	out, weights := m.Attention.ForwardWithWeights(rc, normed, normed, normed, pos, mask)

	return m.dropout.Forward(out, rc.Training), weights, nil
}

// Parameters returns layer norm then attention parameters.
func (m *MultiHeadedSelfAttentionModule[B]) Parameters() []*Parameter[B] {
	return append(m.LayerNorm.Parameters(), m.Attention.Parameters()...)
}

// StateDict returns parameters prefixed "layer_norm." and "attention.".
func (m *MultiHeadedSelfAttentionModule[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor)
	mergeState(state, "layer_norm.", m.LayerNorm.StateDict())
	mergeState(state, "attention.", m.Attention.StateDict())
	return state
}

// LoadStateDict loads both sub-modules from stateDict.
func (m *MultiHeadedSelfAttentionModule[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if err := loadChild[B](stateDict, "layer_norm.", m.LayerNorm); err != nil {
		return err
	}
	return loadChild[B](stateDict, "attention.", m.Attention)
}
