package nn

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/relattn/internal/backend/cpu"
	"github.com/born-ml/relattn/internal/tensor"
)

type cpuAttention = RelativeMultiHeadAttention[*cpu.CPUBackend]

const goldenTolerance = 1e-5

// fixedRaw fills a [rows, cols] float32 tensor from f(row, col).
func fixedRaw(t *testing.T, rows, cols int, f func(r, c int) float64) *tensor.RawTensor {
	t.Helper()
	data := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			data[r*cols+c] = float32(f(r, c))
		}
	}
	shape := tensor.Shape{rows, cols}
	if rows == 1 {
		shape = tensor.Shape{cols}
	}
	raw, err := tensor.RawFromFloat32(data, shape, tensor.CPU)
	require.NoError(t, err)
	return raw
}

// fixedState returns hand-picked parameters for d_model=4, n_heads=2.
func fixedState(t *testing.T) map[string]*tensor.RawTensor {
	const d, h, dh = 4, 2, 2
	mod := func(a, n int) float64 { return float64(a % n) }

	return map[string]*tensor.RawTensor{
		"linear_q.weight":   fixedRaw(t, d, d, func(o, i int) float64 { return 0.1 * (mod(o*4+i, 7) - 3) }),
		"linear_q.bias":     fixedRaw(t, 1, d, func(_, o int) float64 { return 0.01 * float64(o+1) }),
		"linear_k.weight":   fixedRaw(t, d, d, func(o, i int) float64 { return 0.08 * (mod(o+3*i, 6) - 2) }),
		"linear_k.bias":     fixedRaw(t, 1, d, func(_, _ int) float64 { return 0 }),
		"linear_v.weight":   fixedRaw(t, d, d, func(o, i int) float64 { return 0.07 * (mod(2*o+i, 5) - 2) }),
		"linear_v.bias":     fixedRaw(t, 1, d, func(_, _ int) float64 { return 0.03 }),
		"linear_pos.weight": fixedRaw(t, d, d, func(o, i int) float64 { return 0.05 * (mod(o+2*i, 5) - 2) }),
		"u_bias":            fixedRaw(t, h, dh, func(hh, dd int) float64 { return 0.1 * float64(hh-dd) }),
		"v_bias":            fixedRaw(t, h, dh, func(hh, dd int) float64 { return 0.05 * float64(hh+dd+1) }),
		"fc.weight":         fixedRaw(t, d, d, func(o, i int) float64 { return 0.1 * (mod(3*o+i, 5) - 2) }),
		"fc.bias":           fixedRaw(t, 1, d, func(_, o int) float64 { return -0.02 * float64(o) }),
	}
}

// fixedInputs returns x and pos, both [1, 3, 4].
func fixedInputs(t *testing.T, backend *cpu.CPUBackend) (x, pos *tensor.Tensor[float32, *cpu.CPUBackend]) {
	t.Helper()
	xData := make([]float32, 12)
	posData := make([]float32, 12)
	for tt := 0; tt < 3; tt++ {
		for c := 0; c < 4; c++ {
			xData[tt*4+c] = float32(0.1*float64((tt*4+c)%9) - 0.4)
			posData[tt*4+c] = float32(0.2*float64((tt+c)%3) - 0.2)
		}
	}
	x, err := tensor.FromSlice(xData, tensor.Shape{1, 3, 4}, backend)
	require.NoError(t, err)
	pos, err = tensor.FromSlice(posData, tensor.Shape{1, 3, 4}, backend)
	require.NoError(t, err)
	return x, pos
}

func newFixedAttention(t *testing.T, backend *cpu.CPUBackend, mutate func(*AttentionConfig)) *cpuAttention {
	t.Helper()
	cfg := AttentionConfig{DModel: 4, NHeads: 2, Seed: 3}
	if mutate != nil {
		mutate(&cfg)
	}
	attn, err := NewRelativeMultiHeadAttention(cfg, backend)
	require.NoError(t, err)
	require.NoError(t, attn.LoadStateDict(fixedState(t)))
	return attn
}

func boolMask(t *testing.T, backend *cpu.CPUBackend, shape tensor.Shape, masked ...int) *tensor.Tensor[bool, *cpu.CPUBackend] {
	t.Helper()
	mask := tensor.Zeros[bool](shape, backend)
	data := mask.Data()
	for _, i := range masked {
		data[i] = true
	}
	return mask
}

func assertGolden(t *testing.T, want []float32, got *tensor.Tensor[float32, *cpu.CPUBackend]) {
	t.Helper()
	if diff := cmp.Diff(want, got.Data(), cmpopts.EquateApprox(0, goldenTolerance)); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestRelativeMultiHeadAttention_InvalidConfig(t *testing.T) {
	backend := cpu.New()

	tests := []struct {
		name string
		cfg  AttentionConfig
	}{
		{"NotDivisible", AttentionConfig{DModel: 10, NHeads: 3}},
		{"ZeroHeads", AttentionConfig{DModel: 8, NHeads: 0}},
		{"NegativeModel", AttentionConfig{DModel: -4, NHeads: 2}},
		{"DropoutOne", AttentionConfig{DModel: 8, NHeads: 2, DropoutP: 1}},
		{"DropoutNegative", AttentionConfig{DModel: 8, NHeads: 2, DropoutP: -0.1}},
		{"UnknownScale", AttentionConfig{DModel: 8, NHeads: 2, Scale: Scale(7)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attn, err := NewRelativeMultiHeadAttention(tt.cfg, backend)
			assert.Nil(t, attn)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestRelativeMultiHeadAttention_ValidConfigs(t *testing.T) {
	backend := cpu.New()
	for _, c := range []struct{ dModel, nHeads int }{{4, 1}, {4, 2}, {4, 4}, {12, 3}, {512, 16}} {
		cfg := AttentionConfig{DModel: c.dModel, NHeads: c.nHeads}
		attn, err := NewRelativeMultiHeadAttention(cfg, backend)
		require.NoError(t, err, "d_model=%d n_heads=%d", c.dModel, c.nHeads)
		assert.Equal(t, tensor.Shape{c.nHeads, c.dModel / c.nHeads}, attn.UBias.Shape())
	}
}

func TestRelativeMultiHeadAttention_OutputShape(t *testing.T) {
	backend := cpu.New()

	for _, nHeads := range []int{1, 2, 4, 8} {
		cfg := AttentionConfig{DModel: 16, NHeads: nHeads, DropoutP: 0.1, Seed: 5}
		attn, err := NewRelativeMultiHeadAttention(cfg, backend)
		require.NoError(t, err)

		x := tensor.Randn[float32](tensor.Shape{2, 7, 16}, nil, backend)
		pos := tensor.Randn[float32](tensor.Shape{2, 7, 16}, nil, backend)

		out, weights := attn.ForwardWithWeights(Training(tensor.CPU), x, x, x, pos, nil)
		assert.Equal(t, tensor.Shape{2, 7, 16}, out.Shape(), "n_heads=%d", nHeads)
		assert.Equal(t, tensor.Shape{2, nHeads, 7, 7}, weights.Shape())
	}
}

func TestRelativeMultiHeadAttention_WeightsSumToOne(t *testing.T) {
	backend := cpu.New()
	attn, err := NewRelativeMultiHeadAttention(AttentionConfig{DModel: 8, NHeads: 2, Seed: 11}, backend)
	require.NoError(t, err)

	x := tensor.Randn[float32](tensor.Shape{3, 5, 8}, nil, backend)
	pos := tensor.Randn[float32](tensor.Shape{3, 5, 8}, nil, backend)

	_, weights := attn.ForwardWithWeights(Inference(tensor.CPU), x, x, x, pos, nil)
	data := weights.Data()
	for row := 0; row < len(data)/5; row++ {
		var sum float64
		for j := 0; j < 5; j++ {
			sum += float64(data[row*5+j])
		}
		assert.InDelta(t, 1.0, sum, 1e-5, "row %d", row)
	}
}

func TestRelativeMultiHeadAttention_MaskedWeights(t *testing.T) {
	backend := cpu.New()
	attn, err := NewRelativeMultiHeadAttention(AttentionConfig{DModel: 8, NHeads: 4, Seed: 2}, backend)
	require.NoError(t, err)

	x := tensor.Randn[float32](tensor.Shape{2, 4, 8}, nil, backend)
	pos := tensor.Randn[float32](tensor.Shape{2, 4, 8}, nil, backend)

	t.Run("Padding", func(t *testing.T) {
		// [B, 1, T]: last two keys of the second sequence are padding.
		mask := boolMask(t, backend, tensor.Shape{2, 1, 4}, 6, 7)
		_, weights := attn.ForwardWithWeights(Inference(tensor.CPU), x, x, x, pos, mask)

		for h := 0; h < 4; h++ {
			for i := 0; i < 4; i++ {
				assert.Less(t, weights.At(1, h, i, 2), float32(1e-6))
				assert.Less(t, weights.At(1, h, i, 3), float32(1e-6))
				assert.Greater(t, weights.At(0, h, i, 3), float32(1e-6))
			}
		}
	})

	t.Run("Causal", func(t *testing.T) {
		// [B, T, T]: key j > query i is excluded.
		var masked []int
		for b := 0; b < 2; b++ {
			for i := 0; i < 4; i++ {
				for j := i + 1; j < 4; j++ {
					masked = append(masked, b*16+i*4+j)
				}
			}
		}
		mask := boolMask(t, backend, tensor.Shape{2, 4, 4}, masked...)
		_, weights := attn.ForwardWithWeights(Inference(tensor.CPU), x, x, x, pos, mask)

		for b := 0; b < 2; b++ {
			for h := 0; h < 4; h++ {
				for i := 0; i < 4; i++ {
					for j := i + 1; j < 4; j++ {
						assert.Less(t, weights.At(b, h, i, j), float32(1e-6))
					}
				}
				assert.InDelta(t, 1.0, weights.At(b, h, 0, 0), 1e-6)
			}
		}
	})
}

func TestRelativeMultiHeadAttention_Deterministic(t *testing.T) {
	backend := cpu.New()
	cfg := AttentionConfig{DModel: 8, NHeads: 2, DropoutP: 0.3, Seed: 9}
	attn, err := NewRelativeMultiHeadAttention(cfg, backend)
	require.NoError(t, err)

	x := tensor.Randn[float32](tensor.Shape{2, 6, 8}, nil, backend)
	pos := tensor.Randn[float32](tensor.Shape{2, 6, 8}, nil, backend)
	mask := boolMask(t, backend, tensor.Shape{2, 1, 6}, 11)

	first := attn.Forward(Inference(tensor.CPU), x, x, x, pos, mask)
	second := attn.Forward(Inference(tensor.CPU), x, x, x, pos, mask)
	assert.Equal(t, first.Data(), second.Data())

	// Same seed, same parameters.
	twin, err := NewRelativeMultiHeadAttention(cfg, backend)
	require.NoError(t, err)
	assert.Equal(t, first.Data(), twin.Forward(Inference(tensor.CPU), x, x, x, pos, mask).Data())
}

func TestRelativeMultiHeadAttention_Golden(t *testing.T) {
	backend := cpu.New()
	x, pos := fixedInputs(t, backend)

	t.Run("ZeroMask", func(t *testing.T) {
		attn := newFixedAttention(t, backend, nil)
		mask := boolMask(t, backend, tensor.Shape{1, 3, 3})

		out := attn.Forward(Inference(tensor.CPU), x, x, x, pos, mask)
		require.Equal(t, tensor.Shape{1, 3, 4}, out.Shape())
		assertGolden(t, []float32{
			-0.0063231, -0.0350421, -0.0392545, -0.0426326,
			-0.0060825, -0.0350373, -0.0390884, -0.0429968,
			-0.0059960, -0.0349719, -0.0389498, -0.0428282,
		}, out)

		// An all-false mask is the same as no mask.
		assert.Equal(t, out.Data(), attn.Forward(Inference(tensor.CPU), x, x, x, pos, nil).Data())
	})

	t.Run("MaskLastKey", func(t *testing.T) {
		attn := newFixedAttention(t, backend, nil)
		mask := boolMask(t, backend, tensor.Shape{1, 1, 3}, 2)

		out := attn.Forward(Inference(tensor.CPU), x, x, x, pos, mask)
		assertGolden(t, []float32{
			-0.0183060, -0.0340422, -0.0501829, -0.0404092,
			-0.0180418, -0.0340220, -0.0500169, -0.0409273,
			-0.0180877, -0.0339986, -0.0500592, -0.0408238,
		}, out)
	})

	t.Run("DistinctProjections", func(t *testing.T) {
		attn := newFixedAttention(t, backend, func(c *AttentionConfig) { c.Projection = DistinctProjections })

		out := attn.Forward(Inference(tensor.CPU), x, x, x, pos, nil)
		assertGolden(t, []float32{
			-0.0066200, -0.0304147, -0.0332369, -0.0579990,
			-0.0066269, -0.0304549, -0.0332471, -0.0580481,
			-0.0067023, -0.0305735, -0.0333018, -0.0581435,
		}, out)
	})

	t.Run("ScaleByHeadDim", func(t *testing.T) {
		attn := newFixedAttention(t, backend, func(c *AttentionConfig) { c.Scale = ScaleByHeadDim })

		out := attn.Forward(Inference(tensor.CPU), x, x, x, pos, nil)
		assertGolden(t, []float32{
			-0.0064573, -0.0350594, -0.0393600, -0.0424795,
			-0.0061165, -0.0350528, -0.0391249, -0.0429954,
			-0.0059942, -0.0349603, -0.0389289, -0.0427569,
		}, out)
	})
}

func TestRelativeMultiHeadAttention_MatchesNaive(t *testing.T) {
	backend := cpu.New()
	cfg := AttentionConfig{DModel: 6, NHeads: 3, Seed: 21}
	attn, err := NewRelativeMultiHeadAttention(cfg, backend)
	require.NoError(t, err)

	x := tensor.Randn[float32](tensor.Shape{2, 5, 6}, nil, backend)
	pos := tensor.Randn[float32](tensor.Shape{2, 5, 6}, nil, backend)

	got := attn.Forward(Inference(tensor.CPU), x, x, x, pos, nil)
	want := naiveAttention(attn, x.Data(), pos.Data(), 2, 5)

	if diff := cmp.Diff(want, got.Data(), cmpopts.EquateApprox(1e-4, 1e-5)); diff != "" {
		t.Errorf("naive mismatch (-want +got):\n%s", diff)
	}
}

// naiveAttention evaluates the shared-projection layer with scalar loops, one
// head and one query at a time.
func naiveAttention(m *cpuAttention, x, pos []float32, batch, steps int) []float32 {
	d, h := m.cfg.DModel, m.cfg.NHeads
	dh := d / h

	linear := func(l *Linear[*cpu.CPUBackend], in []float32) []float64 {
		w := l.Weight().Tensor().Data()
		out := make([]float64, d)
		for o := 0; o < d; o++ {
			var sum float64
			for i := 0; i < d; i++ {
				sum += float64(w[o*d+i]) * float64(in[i])
			}
			if l.Bias() != nil {
				sum += float64(l.Bias().Tensor().Data()[o])
			}
			out[o] = sum
		}
		return out
	}

	u, v := m.UBias.Tensor().Data(), m.VBias.Tensor().Data()
	out := make([]float32, 0, batch*steps*d)

	for b := 0; b < batch; b++ {
		proj := make([][]float64, steps)
		posProj := make([][]float64, steps)
		for s := 0; s < steps; s++ {
			row := x[(b*steps+s)*d : (b*steps+s+1)*d]
			proj[s] = linear(m.LinearQ, row)
			posProj[s] = linear(m.LinearPos, pos[(b*steps+s)*d:(b*steps+s+1)*d])
		}

		for i := 0; i < steps; i++ {
			context := make([]float32, d)
			for head := 0; head < h; head++ {
				raw := make([]float64, steps)
				for j := 0; j < steps; j++ {
					raw[j] = dotBias(proj[i], proj[j], u, head, dh)
				}

				// Shifted position term: flat index into the padded [T, T+1] grid.
				score := make([]float64, steps)
				for j := 0; j < steps; j++ {
					flat := steps + i*steps + j
					row, col := flat/(steps+1), flat%(steps+1)
					var p float64
					if col > 0 {
						p = dotBias(proj[row], posProj[col-1], v, head, dh)
					}
					score[j] = (raw[j] + p) / math.Sqrt(float64(d))
				}

				weights := softmax64(score)
				for k := 0; k < dh; k++ {
					var sum float64
					for j := 0; j < steps; j++ {
						sum += weights[j] * proj[j][head*dh+k]
					}
					context[head*dh+k] = float32(sum)
				}
			}
			for _, y := range linear(m.FC, context) {
				out = append(out, float32(y))
			}
		}
	}
	return out
}

func dotBias(q, k []float64, bias []float32, head, dh int) float64 {
	var sum float64
	for c := 0; c < dh; c++ {
		sum += (q[head*dh+c] + float64(bias[head*dh+c])) * k[head*dh+c]
	}
	return sum
}

func softmax64(x []float64) []float64 {
	maxVal := math.Inf(-1)
	for _, v := range x {
		maxVal = math.Max(maxVal, v)
	}
	out := make([]float64, len(x))
	var sum float64
	for i, v := range x {
		out[i] = math.Exp(v - maxVal)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func TestRelativeMultiHeadAttention_SharedIgnoresKV(t *testing.T) {
	backend := cpu.New()
	x, pos := fixedInputs(t, backend)

	shared := newFixedAttention(t, backend, nil)
	before := shared.Forward(Inference(tensor.CPU), x, x, x, pos, nil).Data()

	// linear_k / linear_v only matter in distinct mode.
	tensor.RoundToPrecision(shared.LinearK.Weight().Tensor().Data(), tensor.BF16)
	for i := range shared.LinearV.Weight().Tensor().Data() {
		shared.LinearV.Weight().Tensor().Data()[i] = 5
	}
	assert.Equal(t, before, shared.Forward(Inference(tensor.CPU), x, x, x, pos, nil).Data())
}

func TestRelativeMultiHeadAttention_Dropout(t *testing.T) {
	backend := cpu.New()
	cfg := AttentionConfig{DModel: 8, NHeads: 2, DropoutP: 0.5, Seed: 4}
	attn, err := NewRelativeMultiHeadAttention(cfg, backend)
	require.NoError(t, err)

	x := tensor.Randn[float32](tensor.Shape{1, 6, 8}, nil, backend)
	pos := tensor.Randn[float32](tensor.Shape{1, 6, 8}, nil, backend)

	eval1 := attn.Forward(Inference(tensor.CPU), x, x, x, pos, nil)
	eval2 := attn.Forward(Inference(tensor.CPU), x, x, x, pos, nil)
	assert.Equal(t, eval1.Data(), eval2.Data(), "inference ignores dropout")

	train := attn.Forward(Training(tensor.CPU), x, x, x, pos, nil)
	assert.NotEqual(t, eval1.Data(), train.Data(), "training applies dropout")
}

func TestRelativeMultiHeadAttention_ShapeMismatchPanics(t *testing.T) {
	backend := cpu.New()
	attn, err := NewRelativeMultiHeadAttention(AttentionConfig{DModel: 8, NHeads: 2}, backend)
	require.NoError(t, err)

	x := tensor.Randn[float32](tensor.Shape{1, 4, 8}, nil, backend)
	wide := tensor.Randn[float32](tensor.Shape{1, 4, 6}, nil, backend)
	shortPos := tensor.Randn[float32](tensor.Shape{1, 3, 8}, nil, backend)

	assert.Panics(t, func() { attn.Forward(Inference(tensor.CPU), x, wide, x, x, nil) })
	assert.Panics(t, func() { attn.Forward(Inference(tensor.CPU), x, x, x, shortPos, nil) })
	assert.Panics(t, func() {
		attn.Forward(Inference(tensor.CPU), x, x, x, x, boolMask(t, backend, tensor.Shape{1, 1, 5}))
	})
}

func TestRelativeMultiHeadAttention_StateDict(t *testing.T) {
	backend := cpu.New()
	attn, err := NewRelativeMultiHeadAttention(AttentionConfig{DModel: 4, NHeads: 2}, backend)
	require.NoError(t, err)

	state := attn.StateDict()
	assert.Equal(t, []string{
		"fc.bias", "fc.weight",
		"linear_k.bias", "linear_k.weight",
		"linear_pos.weight",
		"linear_q.bias", "linear_q.weight",
		"linear_v.bias", "linear_v.weight",
		"u_bias", "v_bias",
	}, SortedKeys(state))
	assert.Equal(t, 5*16+4*4+2*4, NumParameters[*cpu.CPUBackend](attn))

	t.Run("RoundTrip", func(t *testing.T) {
		other := newFixedAttention(t, backend, nil)
		require.NoError(t, attn.LoadStateDict(other.StateDict()))
		assert.Equal(t, other.UBias.Tensor().Data(), attn.UBias.Tensor().Data())
		assert.Equal(t, other.FC.Weight().Tensor().Data(), attn.FC.Weight().Tensor().Data())
	})

	t.Run("Missing", func(t *testing.T) {
		partial := fixedState(t)
		delete(partial, "v_bias")
		err := attn.LoadStateDict(partial)
		assert.True(t, errors.Is(err, ErrMissingParameter), "got %v", err)
	})

	t.Run("WrongShape", func(t *testing.T) {
		bad := fixedState(t)
		bad["fc.weight"] = fixedRaw(t, 4, 3, func(_, _ int) float64 { return 0 })
		err := attn.LoadStateDict(bad)
		assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
		assert.Contains(t, err.Error(), "fc")
	})
}
