package tensor

import (
	"math"
	"strings"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Precision is the storage precision parameters are kept at.
// Computation always runs in the tensor's DataType; FP16 and BF16 only
// round values to what a 16-bit checkpoint or accelerator would hold.
type Precision int

// Supported precisions.
const (
	FP32 Precision = iota
	FP16
	BF16
)

// String returns the conventional short name.
func (p Precision) String() string {
	switch p {
	case FP32:
		return "fp32"
	case FP16:
		return "fp16"
	case BF16:
		return "bf16"
	default:
		return "unknown"
	}
}

// ParsePrecision accepts "fp32"/"float32", "fp16"/"float16"/"half" and "bf16"/"bfloat16".
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fp32", "float32":
		return FP32, nil
	case "fp16", "float16", "half":
		return FP16, nil
	case "bf16", "bfloat16":
		return BF16, nil
	default:
		return FP32, errors.Errorf("unknown precision %q", s)
	}
}

// RoundToPrecision rounds data in place to the nearest value representable at p.
// Rounding is idempotent.
func RoundToPrecision(data []float32, p Precision) {
	switch p {
	case FP16:
		for i, v := range data {
			data[i] = float16.Fromfloat32(v).Float32()
		}
	case BF16:
		copy(data, bfloat16.DecodeFloat32(EncodeBFloat16(data)))
	}
}

// roundBF16 rounds v to nearest-even in its top 16 bits so that the
// truncating bfloat16 encoder keeps the nearest value. NaN is unchanged.
func roundBF16(v float32) float32 {
	if math.IsNaN(float64(v)) {
		return v
	}
	u := math.Float32bits(v)
	u += 0x7FFF + ((u >> 16) & 1)
	return math.Float32frombits(u &^ 0xFFFF)
}

// DecodeHalf converts little-endian IEEE 754 half-precision bytes to float32.
func DecodeHalf(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		bits := uint16(b[2*i]) | uint16(b[2*i+1])<<8
		out[i] = float16.Frombits(bits).Float32()
	}
	return out
}

// EncodeHalf converts float32 values to little-endian IEEE 754 half-precision bytes.
func EncodeHalf(data []float32) []byte {
	out := make([]byte, 2*len(data))
	for i, v := range data {
		bits := float16.Fromfloat32(v).Bits()
		out[2*i] = byte(bits)
		out[2*i+1] = byte(bits >> 8)
	}
	return out
}

// DecodeBFloat16 converts little-endian bfloat16 bytes to float32.
func DecodeBFloat16(b []byte) []float32 {
	return bfloat16.DecodeFloat32(b)
}

// EncodeBFloat16 converts float32 values to little-endian bfloat16 bytes,
// rounding to nearest-even.
func EncodeBFloat16(data []float32) []byte {
	rounded := make([]float32, len(data))
	for i, v := range data {
		rounded[i] = roundBF16(v)
	}
	return bfloat16.EncodeFloat32(rounded)
}
