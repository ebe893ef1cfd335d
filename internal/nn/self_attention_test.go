package nn

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/relattn/internal/backend/cpu"
	"github.com/born-ml/relattn/internal/tensor"
)

func smallSelfAttentionConfig() SelfAttentionConfig {
	cfg := DefaultSelfAttentionConfig()
	cfg.DModel, cfg.NHeads, cfg.DropoutP = 4, 2, 0
	cfg.MaxLen = 16
	return cfg
}

func fixedModuleState(t *testing.T) map[string]*tensor.RawTensor {
	state := map[string]*tensor.RawTensor{
		"layer_norm.weight": fixedRaw(t, 1, 4, func(_, _ int) float64 { return 1 }),
		"layer_norm.bias":   fixedRaw(t, 1, 4, func(_, _ int) float64 { return 0 }),
	}
	mergeState(state, "attention.", fixedState(t))
	return state
}

func TestMultiHeadedSelfAttentionModule_Defaults(t *testing.T) {
	cfg := DefaultSelfAttentionConfig()
	assert.Equal(t, 512, cfg.DModel)
	assert.Equal(t, 16, cfg.NHeads)
	assert.Equal(t, 0.1, cfg.DropoutP)
	assert.Equal(t, 10000, cfg.MaxLen)
	assert.Equal(t, SharedQueryProjection, cfg.Projection)
	assert.Equal(t, ScaleByModelDim, cfg.Scale)
	assert.Equal(t, 32, cfg.DHead())
}

func TestMultiHeadedSelfAttentionModule_InvalidConfig(t *testing.T) {
	backend := cpu.New()

	cfg := smallSelfAttentionConfig()
	cfg.NHeads = 3
	_, err := NewMultiHeadedSelfAttentionModule(cfg, backend)
	assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)

	cfg = smallSelfAttentionConfig()
	cfg.MaxLen = 0
	_, err = NewMultiHeadedSelfAttentionModule(cfg, backend)
	assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
}

func TestMultiHeadedSelfAttentionModule_Golden(t *testing.T) {
	backend := cpu.New()
	block, err := NewMultiHeadedSelfAttentionModule(smallSelfAttentionConfig(), backend)
	require.NoError(t, err)
	require.NoError(t, block.LoadStateDict(fixedModuleState(t)))

	x, _ := fixedInputs(t, backend)
	out, err := block.Forward(Inference(tensor.CPU), x, nil)
	require.NoError(t, err)
	assertGolden(t, []float32{
		-0.0675629, -0.0783721, -0.1385513, 0.0336289,
		-0.0676114, -0.0785964, -0.1391350, 0.0314193,
		-0.0407038, -0.0719439, -0.1076760, 0.0296429,
	}, out)
}

func TestMultiHeadedSelfAttentionModule_ShapeAndBatch(t *testing.T) {
	backend := cpu.New()
	cfg := smallSelfAttentionConfig()
	cfg.DModel, cfg.NHeads = 8, 4
	block, err := NewMultiHeadedSelfAttentionModule(cfg, backend)
	require.NoError(t, err)

	single := tensor.Randn[float32](tensor.Shape{1, 5, 8}, nil, backend)
	batch := tensor.Cat([]*tensor.Tensor[float32, *cpu.CPUBackend]{single, single, single}, 0)

	out, weights, err := block.ForwardWithWeights(Inference(tensor.CPU), batch, nil)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 5, 8}, out.Shape())
	assert.Equal(t, tensor.Shape{3, 4, 5, 5}, weights.Shape())

	// Every batch entry sees the same positional encoding.
	data := out.Data()
	assert.InDeltaSlice(t, data[:40], data[40:80], 1e-6)
	assert.InDeltaSlice(t, data[:40], data[80:], 1e-6)
}

func TestMultiHeadedSelfAttentionModule_Mask(t *testing.T) {
	backend := cpu.New()
	block, err := NewMultiHeadedSelfAttentionModule(smallSelfAttentionConfig(), backend)
	require.NoError(t, err)

	x := tensor.Randn[float32](tensor.Shape{2, 3, 4}, nil, backend)
	mask := boolMask(t, backend, tensor.Shape{2, 1, 3}, 5)

	_, weights, err := block.ForwardWithWeights(Inference(tensor.CPU), x, mask)
	require.NoError(t, err)
	for h := 0; h < 2; h++ {
		for i := 0; i < 3; i++ {
			assert.Less(t, weights.At(1, h, i, 2), float32(1e-6))
		}
	}
}

func TestMultiHeadedSelfAttentionModule_Errors(t *testing.T) {
	backend := cpu.New()
	block, err := NewMultiHeadedSelfAttentionModule(smallSelfAttentionConfig(), backend)
	require.NoError(t, err)

	x := tensor.Randn[float32](tensor.Shape{1, 3, 4}, nil, backend)

	t.Run("DeviceMismatch", func(t *testing.T) {
		_, err := block.Forward(Inference(tensor.CUDA), x, nil)
		assert.True(t, errors.Is(err, ErrDeviceMismatch), "got %v", err)
	})

	t.Run("TooLong", func(t *testing.T) {
		long := tensor.Randn[float32](tensor.Shape{1, 17, 4}, nil, backend)
		_, err := block.Forward(Inference(tensor.CPU), long, nil)
		assert.True(t, errors.Is(err, ErrSequenceTooLong), "got %v", err)
	})

	t.Run("Rank", func(t *testing.T) {
		flat := tensor.Randn[float32](tensor.Shape{3, 4}, nil, backend)
		_, err := block.Forward(Inference(tensor.CPU), flat, nil)
		assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
	})

	t.Run("Width", func(t *testing.T) {
		wide := tensor.Randn[float32](tensor.Shape{1, 3, 6}, nil, backend)
		_, err := block.Forward(Inference(tensor.CPU), wide, nil)
		assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
	})
}

func TestMultiHeadedSelfAttentionModule_TrainingDropout(t *testing.T) {
	backend := cpu.New()
	cfg := smallSelfAttentionConfig()
	cfg.DropoutP = 0.4
	block, err := NewMultiHeadedSelfAttentionModule(cfg, backend)
	require.NoError(t, err)

	x := tensor.Randn[float32](tensor.Shape{1, 6, 4}, nil, backend)
	eval, err := block.Forward(Inference(tensor.CPU), x, nil)
	require.NoError(t, err)
	again, err := block.Forward(Inference(tensor.CPU), x, nil)
	require.NoError(t, err)
	assert.Equal(t, eval.Data(), again.Data())

	train, err := block.Forward(Training(tensor.CPU), x, nil)
	require.NoError(t, err)
	assert.NotEqual(t, eval.Data(), train.Data())
}

func TestMultiHeadedSelfAttentionModule_StateDict(t *testing.T) {
	backend := cpu.New()
	block, err := NewMultiHeadedSelfAttentionModule(smallSelfAttentionConfig(), backend)
	require.NoError(t, err)

	keys := SortedKeys(block.StateDict())
	assert.Len(t, keys, 13)
	assert.Contains(t, keys, "layer_norm.weight")
	assert.Contains(t, keys, "attention.linear_pos.weight")
	assert.Contains(t, keys, "attention.u_bias")
	assert.Equal(t, 104+8, NumParameters[*cpu.CPUBackend](block))

	// Checkpoints saved from a wrapping model load after stripping the prefix.
	wrapped := make(map[string]*tensor.RawTensor)
	mergeState(wrapped, "encoder.layers.0.self_attn.", fixedModuleState(t))
	require.NoError(t, block.LoadStateDict(StripPrefix(wrapped, "encoder.layers.0.self_attn.")))
	assert.Equal(t, fixedModuleState(t)["attention.v_bias"].AsFloat32(), block.Attention.VBias.Tensor().Data())

	missing := fixedModuleState(t)
	delete(missing, "layer_norm.bias")
	err = block.LoadStateDict(missing)
	assert.True(t, errors.Is(err, ErrMissingParameter), "got %v", err)
	assert.Contains(t, err.Error(), "layer_norm")
}

func TestSetPrecision(t *testing.T) {
	backend := cpu.New()
	block, err := NewMultiHeadedSelfAttentionModule(smallSelfAttentionConfig(), backend)
	require.NoError(t, err)

	SetPrecision[*cpu.CPUBackend](block, tensor.FP16)
	for _, p := range block.Parameters() {
		data := p.Tensor().Data()
		rounded := append([]float32(nil), data...)
		tensor.RoundToPrecision(rounded, tensor.FP16)
		assert.Equal(t, rounded, data, p.Name())
	}
}
