package cpu

import (
	"fmt"

	"github.com/born-ml/relattn/internal/tensor"
)

// MaskedFill returns a copy of x with value written wherever mask is true.
// The Bool mask must broadcast to x's shape without enlarging it, e.g. an
// attention mask [B, 1, 1, T] or [B, 1, T, T] over scores [B, H, T, T].
func (cpu *CPUBackend) MaskedFill(x, mask *tensor.RawTensor, value float64) *tensor.RawTensor {
	if mask.DType() != tensor.Bool {
		panic(fmt.Sprintf("maskedFill: mask must be bool, got %s", mask.DType()))
	}

	outShape, _, err := tensor.BroadcastShapes(x.Shape(), mask.Shape())
	if err != nil {
		panic(fmt.Sprintf("maskedFill: %v", err))
	}
	if !outShape.Equal(x.Shape()) {
		panic(fmt.Sprintf("maskedFill: mask %v would broadcast input %v to %v", mask.Shape(), x.Shape(), outShape))
	}

	result := x.Clone()
	m := mask.AsBool()
	maskStrides := broadcastStrides(mask.Shape(), outShape)
	zero := make([]int, len(outShape))

	switch x.DType() {
	case tensor.Float32:
		dst, v := result.AsFloat32(), float32(value)
		forEachBroadcast(outShape, maskStrides, zero, func(out, mi, _ int) {
			if m[mi] {
				dst[out] = v
			}
		})
	case tensor.Float64:
		dst := result.AsFloat64()
		forEachBroadcast(outShape, maskStrides, zero, func(out, mi, _ int) {
			if m[mi] {
				dst[out] = value
			}
		})
	default:
		panic(fmt.Sprintf("maskedFill: unsupported dtype %s", x.DType()))
	}

	return result
}
