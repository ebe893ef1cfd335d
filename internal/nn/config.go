package nn

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/relattn/internal/tensor"
)

// Projection selects which weights project keys and values.
type Projection int

const (
	// SharedQueryProjection projects query, key and value with linear_q.
	// This reproduces the reference checkpoints; linear_k and linear_v are
	// allocated but unused.
	SharedQueryProjection Projection = iota

	// DistinctProjections projects keys with linear_k and values with linear_v.
	DistinctProjections
)

// String returns the configuration name of the projection mode.
func (p Projection) String() string {
	switch p {
	case SharedQueryProjection:
		return "shared_query"
	case DistinctProjections:
		return "distinct"
	default:
		return "unknown"
	}
}

// ParseProjection parses "shared_query" (or "shared") and "distinct".
func ParseProjection(s string) (Projection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "shared", "shared_query":
		return SharedQueryProjection, nil
	case "distinct":
		return DistinctProjections, nil
	default:
		return SharedQueryProjection, errors.Wrapf(ErrInvalidConfig, "unknown projection %q", s)
	}
}

// Scale selects the divisor applied to attention scores.
type Scale int

const (
	// ScaleByModelDim divides scores by sqrt(d_model).
	ScaleByModelDim Scale = iota

	// ScaleByHeadDim divides scores by sqrt(d_head), as in standard attention.
	ScaleByHeadDim
)

// String returns the configuration name of the scale.
func (s Scale) String() string {
	switch s {
	case ScaleByModelDim:
		return "d_model"
	case ScaleByHeadDim:
		return "d_head"
	default:
		return "unknown"
	}
}

// ParseScale parses "d_model" and "d_head".
func ParseScale(s string) (Scale, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "d_model", "model":
		return ScaleByModelDim, nil
	case "d_head", "head":
		return ScaleByHeadDim, nil
	default:
		return ScaleByModelDim, errors.Wrapf(ErrInvalidConfig, "unknown scale %q", s)
	}
}

// AttentionConfig configures RelativeMultiHeadAttention.
type AttentionConfig struct {
	DModel     int        // model width, default 512
	NHeads     int        // attention heads, default 16
	DropoutP   float64    // attention-weight dropout, default 0.1
	Projection Projection // key/value projection mode
	Scale      Scale      // score divisor
	Seed       int64      // seeds parameter initialization and dropout
}

// DefaultAttentionConfig returns the reference hyperparameters.
func DefaultAttentionConfig() AttentionConfig {
	return AttentionConfig{
		DModel:   512,
		NHeads:   16,
		DropoutP: 0.1,
		Seed:     1,
	}
}

// Validate checks that the configuration can be built.
func (c AttentionConfig) Validate() error {
	if c.DModel <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "d_model must be positive, got %d", c.DModel)
	}
	if c.NHeads <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "n_heads must be positive, got %d", c.NHeads)
	}
	if c.DModel%c.NHeads != 0 {
		return errors.Wrapf(ErrInvalidConfig, "d_model %d is not divisible by n_heads %d", c.DModel, c.NHeads)
	}
	if c.DropoutP < 0 || c.DropoutP >= 1 {
		return errors.Wrapf(ErrInvalidConfig, "dropout probability must be in [0, 1), got %g", c.DropoutP)
	}
	if c.Projection != SharedQueryProjection && c.Projection != DistinctProjections {
		return errors.Wrapf(ErrInvalidConfig, "unknown projection %d", c.Projection)
	}
	if c.Scale != ScaleByModelDim && c.Scale != ScaleByHeadDim {
		return errors.Wrapf(ErrInvalidConfig, "unknown scale %d", c.Scale)
	}
	return nil
}

// DHead returns the per-head width. Only meaningful after Validate.
func (c AttentionConfig) DHead() int {
	return c.DModel / c.NHeads
}

// SelfAttentionConfig configures MultiHeadedSelfAttentionModule.
type SelfAttentionConfig struct {
	AttentionConfig

	MaxLen       int     // longest supported sequence, default 10000
	LayerNormEps float64 // layer norm epsilon, default 1e-5
}

// DefaultSelfAttentionConfig returns the reference hyperparameters.
func DefaultSelfAttentionConfig() SelfAttentionConfig {
	return SelfAttentionConfig{
		AttentionConfig: DefaultAttentionConfig(),
		MaxLen:          10000,
		LayerNormEps:    1e-5,
	}
}

// Validate checks that the configuration can be built.
func (c SelfAttentionConfig) Validate() error {
	if err := c.AttentionConfig.Validate(); err != nil {
		return err
	}
	if c.MaxLen <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "max_len must be positive, got %d", c.MaxLen)
	}
	if c.LayerNormEps <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "layer_norm_eps must be positive, got %g", c.LayerNormEps)
	}
	return nil
}

// RunConfig carries the per-call execution context: the device the caller
// expects tensors on and whether dropout is active.
type RunConfig struct {
	Device   tensor.Device
	Training bool
}

// Inference returns a RunConfig for evaluation on device.
func Inference(device tensor.Device) RunConfig {
	return RunConfig{Device: device}
}

// Training returns a RunConfig with dropout enabled on device.
func Training(device tensor.Device) RunConfig {
	return RunConfig{Device: device, Training: true}
}
