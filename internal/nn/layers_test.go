package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/relattn/internal/backend/cpu"
	"github.com/born-ml/relattn/internal/tensor"
)

func TestLinear_Forward(t *testing.T) {
	backend := cpu.New()
	layer := NewLinear(3, 2, rand.New(rand.NewSource(1)), backend)

	require.NoError(t, layer.LoadStateDict(map[string]*tensor.RawTensor{
		"weight": fixedRaw(t, 2, 3, func(o, i int) float64 { return float64(o*3 + i) }),
		"bias":   fixedRaw(t, 1, 2, func(_, o int) float64 { return float64(o) * 10 }),
	}))

	// [2, 2, 3] input exercises leading-dimension flattening.
	x, err := tensor.FromSlice([]float32{1, 0, 0, 0, 1, 0, 0, 0, 1, 1, 1, 1}, tensor.Shape{2, 2, 3}, backend)
	require.NoError(t, err)

	out := layer.Forward(x)
	assert.Equal(t, tensor.Shape{2, 2, 2}, out.Shape())
	assert.Equal(t, []float32{0, 13, 1, 14, 2, 15, 3, 22}, out.Data())
}

func TestLinear_WithoutBias(t *testing.T) {
	backend := cpu.New()
	layer := NewLinear(4, 4, rand.New(rand.NewSource(1)), backend, WithoutBias())

	assert.Nil(t, layer.Bias())
	assert.Len(t, layer.Parameters(), 1)
	assert.Equal(t, []string{"weight"}, SortedKeys(layer.StateDict()))

	zeros := tensor.Zeros[float32](tensor.Shape{2, 4}, backend)
	for _, v := range layer.Forward(zeros).Data() {
		assert.Zero(t, v)
	}
}

func TestLinear_XavierBounds(t *testing.T) {
	backend := cpu.New()
	layer := NewLinear(64, 32, rand.New(rand.NewSource(3)), backend)

	bound := float32(math.Sqrt(6.0 / 96.0))
	for _, w := range layer.Weight().Tensor().Data() {
		assert.LessOrEqual(t, w, bound)
		assert.GreaterOrEqual(t, w, -bound)
	}
	for _, b := range layer.Bias().Tensor().Data() {
		assert.Zero(t, b)
	}
}

func TestLinear_WrongInputPanics(t *testing.T) {
	backend := cpu.New()
	layer := NewLinear(4, 2, rand.New(rand.NewSource(1)), backend)
	assert.Panics(t, func() { layer.Forward(tensor.Zeros[float32](tensor.Shape{2, 3}, backend)) })
}

func TestLayerNorm_Forward(t *testing.T) {
	backend := cpu.New()
	norm := NewLayerNorm(3, 1e-5, backend)

	x, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, backend)
	require.NoError(t, err)

	out := norm.Forward(x)
	want := []float32{-1.2247357, 0, 1.2247357, -1.2247357, 0, 1.2247357}
	if diff := cmp.Diff(want, out.Data(), cmpopts.EquateApprox(0, 1e-4)); diff != "" {
		t.Errorf("layer norm mismatch (-want +got):\n%s", diff)
	}
}

func TestLayerNorm_ScaleShift(t *testing.T) {
	backend := cpu.New()
	norm := NewLayerNorm(2, 1e-5, backend)
	copy(norm.Weight.Tensor().Data(), []float32{2, 3})
	copy(norm.Bias.Tensor().Data(), []float32{1, -1})

	x, err := tensor.FromSlice([]float32{0, 2}, tensor.Shape{1, 1, 2}, backend)
	require.NoError(t, err)

	out := norm.Forward(x).Data()
	assert.InDelta(t, -1.0, out[0], 1e-4)
	assert.InDelta(t, 2.0, out[1], 1e-4)
	assert.Equal(t, []string{"bias", "weight"}, SortedKeys(norm.StateDict()))
}

func TestDropout_Inference(t *testing.T) {
	backend := cpu.New()
	drop := NewDropout(0.5, rand.New(rand.NewSource(1)), backend)
	x := tensor.Ones[float32](tensor.Shape{4, 4}, backend)

	assert.Same(t, x, drop.Forward(x, false))

	identity := NewDropout(0, rand.New(rand.NewSource(1)), backend)
	assert.Same(t, x, identity.Forward(x, true))
}

func TestDropout_Training(t *testing.T) {
	backend := cpu.New()
	const p = 0.25
	drop := NewDropout(p, rand.New(rand.NewSource(7)), backend)
	x := tensor.Ones[float32](tensor.Shape{100, 100}, backend)

	out := drop.Forward(x, true).Data()
	zeros := 0
	for _, v := range out {
		if v == 0 {
			zeros++
		} else {
			assert.InDelta(t, 1/(1-p), v, 1e-6)
		}
	}
	assert.InDelta(t, p, float64(zeros)/float64(len(out)), 0.03)
}

func TestDropout_InvalidProbability(t *testing.T) {
	backend := cpu.New()
	assert.Panics(t, func() { NewDropout(1.0, rand.New(rand.NewSource(1)), backend) })
}

func TestSinusoidalPositionalEncoding_Values(t *testing.T) {
	backend := cpu.New()
	pe := NewSinusoidalPositionalEncoding(100, 4, backend)

	enc, err := pe.Forward(3)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 3, 4}, enc.Shape())

	for pos := 0; pos < 3; pos++ {
		p := float64(pos)
		want := []float64{math.Sin(p), math.Cos(p), math.Sin(p / 100), math.Cos(p / 100)}
		for i, w := range want {
			assert.InDelta(t, w, enc.At(0, pos, i), 1e-6, "pos %d dim %d", pos, i)
		}
	}
}

func TestSinusoidalPositionalEncoding_Cache(t *testing.T) {
	backend := cpu.New()
	pe := NewSinusoidalPositionalEncoding(50, 8, backend)
	assert.Zero(t, pe.Rows())

	short, err := pe.Forward(5)
	require.NoError(t, err)
	assert.Equal(t, 5, pe.Rows())

	long, err := pe.Forward(7)
	require.NoError(t, err)
	assert.Equal(t, 10, pe.Rows(), "table doubles")

	// Prefixes agree regardless of the order lengths were requested in.
	assert.Equal(t, short.Data(), long.Data()[:5*8])

	// Returned tensors do not alias the cache.
	short.Data()[0] = 42
	again, err := pe.Forward(5)
	require.NoError(t, err)
	assert.Zero(t, again.At(0, 0, 0))
}

func TestSinusoidalPositionalEncoding_TooLong(t *testing.T) {
	backend := cpu.New()
	pe := NewSinusoidalPositionalEncoding(4, 8, backend)

	_, err := pe.Forward(5)
	assert.True(t, errors.Is(err, ErrSequenceTooLong), "got %v", err)

	_, err = pe.Forward(0)
	assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
}
