package loader

import "github.com/pkg/errors"

// Common errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported checkpoint format")
	ErrUnsupportedDType  = errors.New("unsupported dtype")
	ErrTensorNotFound    = errors.New("tensor not found")
	ErrHeaderTooLarge    = errors.New("header exceeds maximum size")
	ErrOutOfBounds       = errors.New("tensor extends beyond data section")
	ErrNonContiguous     = errors.New("tensor storage is not contiguous")
)
