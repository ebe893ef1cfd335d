package tensor

// Backend defines the interface that all compute backends must implement.
// Backends handle the actual computation for tensor operations.
//
// Shape misuse (incompatible broadcast, mismatched inner dimensions, bad axes)
// panics with a message prefixed by the operation name, the way a tensor
// engine surfaces shape errors to the layer calling it.
type Backend interface {
	// Element-wise binary operations with NumPy broadcasting
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// Matrix operations
	MatMul(a, b *RawTensor) *RawTensor

	// BatchMatMul performs batched matrix multiplication for 3D/4D tensors.
	// For 3D: [B, M, K] @ [B, K, N] -> [B, M, N]
	// For 4D: [B, H, M, K] @ [B, H, K, N] -> [B, H, M, N]
	BatchMatMul(a, b *RawTensor) *RawTensor

	// Shape operations
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor
	Expand(x *RawTensor, shape Shape) *RawTensor

	// Scalar operations (element-wise with scalar)
	MulScalar(x *RawTensor, scalar float64) *RawTensor
	AddScalar(x *RawTensor, scalar float64) *RawTensor
	DivScalar(x *RawTensor, scalar float64) *RawTensor

	// Math operations (element-wise)
	Rsqrt(x *RawTensor) *RawTensor

	// Softmax along dimension
	Softmax(x *RawTensor, dim int) *RawTensor

	// Reductions
	MeanDim(x *RawTensor, dim int, keepDim bool) *RawTensor

	// Manipulation operations
	Cat(tensors []*RawTensor, dim int) *RawTensor
	Narrow(x *RawTensor, dim, start, length int) *RawTensor

	// MaskedFill writes value wherever the broadcast Bool mask is true.
	MaskedFill(x, mask *RawTensor, value float64) *RawTensor

	// Metadata
	Name() string
	Device() Device
}
