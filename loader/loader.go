// Package loader reads and writes attention checkpoints.
//
// This package wraps internal loader implementations and exports a clean public API
// for state dicts stored as SafeTensors or PyTorch pickles.
//
// Example usage:
//
//	import (
//	    "github.com/born-ml/relattn/loader"
//	    "github.com/born-ml/relattn/nn"
//	)
//
//	state, err := loader.Load("conformer.pt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = block.LoadStateDict(nn.StripPrefix(state, "encoder.layers.0.self_attn."))
package loader

import (
	"github.com/born-ml/relattn/internal/loader"
	"github.com/born-ml/relattn/internal/tensor"
)

// Format represents a checkpoint file format.
type Format = loader.Format

// Supported checkpoint formats.
const (
	FormatUnknown     Format = loader.FormatUnknown
	FormatSafeTensors Format = loader.FormatSafeTensors
	FormatPyTorch     Format = loader.FormatPyTorch
)

// Errors returned while reading checkpoints.
var (
	ErrUnsupportedFormat = loader.ErrUnsupportedFormat
	ErrUnsupportedDType  = loader.ErrUnsupportedDType
	ErrTensorNotFound    = loader.ErrTensorNotFound
)

// DetectFormat picks a format from the file extension.
func DetectFormat(path string) Format {
	return loader.DetectFormat(path)
}

// Load reads a checkpoint of any supported format into a state dict.
//
// Supported formats:
//   - .safetensors (F16, BF16, F32, F64)
//   - .pt, .pth, .bin, .ckpt (PyTorch zip or legacy pickles)
//
// Half precision tensors are widened to float32.
func Load(path string) (map[string]*tensor.RawTensor, error) {
	return loader.Load(path)
}

// WriterOption configures SafeTensors output.
type WriterOption = loader.WriterOption

// WithPrecision stores float32 tensors at p. Float64 tensors are kept.
func WithPrecision(p tensor.Precision) WriterOption {
	return loader.WithPrecision(p)
}

// WriteSafeTensors writes stateDict and optional metadata to path.
//
// Example:
//
//	err := loader.WriteSafeTensors("attn.safetensors", block.StateDict(), nil,
//	    loader.WithPrecision(tensor.BF16))
func WriteSafeTensors(path string, stateDict map[string]*tensor.RawTensor, metadata map[string]string, opts ...WriterOption) error {
	return loader.WriteSafeTensors(path, stateDict, metadata, opts...)
}

// Checksum returns the hex SHA-256 of the file at path.
func Checksum(path string) (string, error) {
	return loader.Checksum(path)
}
