package nn

import "github.com/pkg/errors"

// Sentinel errors. Returned errors wrap one of these and can be matched with
// errors.Is.
var (
	// ErrInvalidConfig reports a module configuration that cannot be built,
	// e.g. d_model not divisible by n_heads.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDeviceMismatch reports a RunConfig device that differs from the
	// device the module's backend computes on.
	ErrDeviceMismatch = errors.New("device mismatch")

	// ErrSequenceTooLong reports an input longer than the positional table.
	ErrSequenceTooLong = errors.New("sequence exceeds positional encoding length")

	// ErrMissingParameter reports a state dict without a required entry.
	ErrMissingParameter = errors.New("missing parameter")

	// ErrShapeMismatch reports a tensor whose shape or dtype does not fit.
	ErrShapeMismatch = errors.New("shape mismatch")
)
