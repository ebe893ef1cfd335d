package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/relattn/internal/tensor"
)

// Format represents a checkpoint file format.
type Format int

// Supported checkpoint formats.
const (
	FormatUnknown Format = iota
	FormatSafeTensors
	FormatPyTorch
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatSafeTensors:
		return "SafeTensors"
	case FormatPyTorch:
		return "PyTorch"
	default:
		return "Unknown"
	}
}

// DetectFormat picks a format from the file extension.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		return FormatSafeTensors
	case ".pt", ".pth", ".bin", ".ckpt":
		return FormatPyTorch
	default:
		return FormatUnknown
	}
}

// Load reads a checkpoint of any supported format into a state dict.
//
// Example:
//
//	state, err := loader.Load("conformer.pt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	layer := nn.StripPrefix(state, "encoder.layers.0.self_attn.")
func Load(path string) (map[string]*tensor.RawTensor, error) {
	switch format := DetectFormat(path); format {
	case FormatSafeTensors:
		state, _, err := ReadSafeTensors(path)
		return state, err
	case FormatPyTorch:
		return LoadPyTorch(path)
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%s (expected .safetensors, .pt, .pth, .bin or .ckpt)", path)
	}
}

// Checksum returns the hex SHA-256 of the file at path.
func Checksum(path string) (string, error) {
	//nolint:gosec // G304: checkpoint path comes from the user
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to open file")
	}
	defer func() {
		_ = f.Close() // read-only
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "failed to hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
