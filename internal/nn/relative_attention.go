package nn

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/relattn/internal/tensor"
)

// maskValue is written into excluded score positions before softmax.
const maskValue = -1e9

// RelativeMultiHeadAttention implements multi-head attention with
// Transformer-XL style relative positional scores.
//
// Architecture:
//
//	q = linear_q(query)          -> [B, T1, H, Dh]
//	k = proj_k(key)              -> [B, H, T2, Dh]
//	v = proj_v(value)            -> [B, H, T2, Dh]
//	p = linear_pos(pos)          -> [B, Tp, H, Dh]
//	content = (q + u_bias) @ k^T                    [B, H, T1, T2]
//	position = RelativeShift((q + v_bias) @ p^T)   [B, H, T1, Tp]
//	attn = softmax(mask((content + position) / scale))
//	out = fc(concat_heads(dropout(attn) @ v))
//
// With SharedQueryProjection, proj_k and proj_v are both linear_q; with
// DistinctProjections they are linear_k and linear_v.
//
// Example:
//
//	cfg := nn.DefaultAttentionConfig()
//	attn, err := nn.NewRelativeMultiHeadAttention(cfg, backend)
//	out := attn.Forward(nn.Inference(tensor.CPU), x, x, x, pos, nil)
type RelativeMultiHeadAttention[B tensor.Backend] struct {
	LinearQ   *Linear[B]
	LinearK   *Linear[B]
	LinearV   *Linear[B]
	LinearPos *Linear[B] // no bias
	UBias     *Parameter[B] // [n_heads, d_head]
	VBias     *Parameter[B] // [n_heads, d_head]
	FC        *Linear[B]

	cfg     AttentionConfig
	dHead   int
	scale   float64
	dropout *Dropout[B]
	backend B
}

// NewRelativeMultiHeadAttention builds the layer with Xavier-uniform weights,
// zero biases and Xavier-uniform u/v biases, all drawn from cfg.Seed.
func NewRelativeMultiHeadAttention[B tensor.Backend](cfg AttentionConfig, backend B) (*RelativeMultiHeadAttention[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dModel, nHeads, dHead := cfg.DModel, cfg.NHeads, cfg.DHead()
	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // weight init, not security-critical

	m := &RelativeMultiHeadAttention[B]{
		cfg:     cfg,
		dHead:   dHead,
		backend: backend,
	}
	m.LinearQ = NewLinear(dModel, dModel, rng, backend)
	m.LinearK = NewLinear(dModel, dModel, rng, backend)
	m.LinearV = NewLinear(dModel, dModel, rng, backend)
	m.LinearPos = NewLinear(dModel, dModel, rng, backend, WithoutBias())
	m.UBias = NewParameter("u_bias", Xavier(dHead, nHeads, tensor.Shape{nHeads, dHead}, rng, backend))
	m.VBias = NewParameter("v_bias", Xavier(dHead, nHeads, tensor.Shape{nHeads, dHead}, rng, backend))
	m.FC = NewLinear(dModel, dModel, rng, backend)

	m.dropout = NewDropout(cfg.DropoutP, rand.New(rand.NewSource(cfg.Seed+1)), backend) //nolint:gosec // dropout sampling

	switch cfg.Scale {
	case ScaleByHeadDim:
		m.scale = math.Sqrt(float64(dHead))
	default:
		m.scale = math.Sqrt(float64(dModel))
	}

	klog.V(1).Infof("relative attention: d_model=%d n_heads=%d d_head=%d dropout=%g projection=%s scale=%s",
		dModel, nHeads, dHead, cfg.DropoutP, cfg.Projection, cfg.Scale)

	return m, nil
}

// Config returns the configuration the layer was built with.
func (m *RelativeMultiHeadAttention[B]) Config() AttentionConfig {
	return m.cfg
}

// Forward computes attention over query [B, T1, D], key and value [B, T2, D]
// and positional embeddings pos [B, T2, D].
//
// mask is nil or a Bool tensor [B, 1, T2] or [B, T1, T2]; true marks key
// positions to exclude. Incompatible shapes panic in the tensor engine.
func (m *RelativeMultiHeadAttention[B]) Forward(
	rc RunConfig,
	query, key, value, pos *tensor.Tensor[float32, B],
	mask *tensor.Tensor[bool, B],
) *tensor.Tensor[float32, B] {
	out, _ := m.ForwardWithWeights(rc, query, key, value, pos, mask)
	return out
}

// ForwardWithWeights is Forward that also returns the attention weights
// [B, H, T1, T2] after softmax and before dropout.
func (m *RelativeMultiHeadAttention[B]) ForwardWithWeights(
	rc RunConfig,
	query, key, value, pos *tensor.Tensor[float32, B],
	mask *tensor.Tensor[bool, B],
) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
	batch := value.Shape()[0]
	h, dh := m.cfg.NHeads, m.dHead

	projK, projV := m.LinearQ, m.LinearQ
	if m.cfg.Projection == DistinctProjections {
		projK, projV = m.LinearK, m.LinearV
	}

	q := m.LinearQ.Forward(query).Reshape(batch, -1, h, dh)                   // [B, T1, H, Dh]
	k := projK.Forward(key).Reshape(batch, -1, h, dh).Transpose(0, 2, 1, 3)   // [B, H, T2, Dh]
	v := projV.Forward(value).Reshape(batch, -1, h, dh).Transpose(0, 2, 1, 3) // [B, H, T2, Dh]
	p := m.LinearPos.Forward(pos).Reshape(batch, -1, h, dh)                   // [B, Tp, H, Dh]

	content := q.Add(m.UBias.Tensor()).Transpose(0, 2, 1, 3).
		BatchMatMul(k.Transpose(0, 1, 3, 2)) // [B, H, T1, T2]
	position := q.Add(m.VBias.Tensor()).Transpose(0, 2, 1, 3).
		BatchMatMul(p.Transpose(0, 2, 3, 1)) // [B, H, T1, Tp]
	position = RelativeShift(position)

	score := content.Add(position).DivScalar(m.scale)
	if mask != nil {
		score = score.MaskedFill(mask.Unsqueeze(1), maskValue)
	}

	weights := score.Softmax(-1)
	attn := m.dropout.Forward(weights, rc.Training)

	// [B, H, T1, Dh] -> [B, T1, H, Dh] -> [B, T1, D]
	context := attn.BatchMatMul(v).Transpose(0, 2, 1, 3).Reshape(batch, -1, m.cfg.DModel)

	if klog.V(2).Enabled() {
		klog.Infof("relative attention: query=%v key=%v pos=%v masked=%t training=%t",
			query.Shape(), key.Shape(), pos.Shape(), mask != nil, rc.Training)
	}

	return m.FC.Forward(context), weights
}

// Parameters returns all parameters in state dict order.
func (m *RelativeMultiHeadAttention[B]) Parameters() []*Parameter[B] {
	params := make([]*Parameter[B], 0, 11)
	params = append(params, m.LinearQ.Parameters()...)
	params = append(params, m.LinearK.Parameters()...)
	params = append(params, m.LinearV.Parameters()...)
	params = append(params, m.LinearPos.Parameters()...)
	params = append(params, m.UBias, m.VBias)
	params = append(params, m.FC.Parameters()...)
	return params
}

// children lists nested linear layers under their checkpoint prefixes.
func (m *RelativeMultiHeadAttention[B]) children() []struct {
	prefix string
	module *Linear[B]
} {
	return []struct {
		prefix string
		module *Linear[B]
	}{
		{"linear_q.", m.LinearQ},
		{"linear_k.", m.LinearK},
		{"linear_v.", m.LinearV},
		{"linear_pos.", m.LinearPos},
		{"fc.", m.FC},
	}
}

// StateDict returns parameters under their PyTorch names: linear_q.weight,
// linear_q.bias, ..., linear_pos.weight, u_bias, v_bias, fc.weight, fc.bias.
func (m *RelativeMultiHeadAttention[B]) StateDict() map[string]*tensor.RawTensor {
	state := paramState(m.UBias, m.VBias)
	for _, c := range m.children() {
		mergeState(state, c.prefix, c.module.StateDict())
	}
	return state
}

// LoadStateDict loads every parameter from stateDict. Unknown keys are
// ignored.
func (m *RelativeMultiHeadAttention[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	for _, c := range m.children() {
		if err := loadChild[B](stateDict, c.prefix, c.module); err != nil {
			return err
		}
	}
	if err := loadParams(stateDict, m.UBias, m.VBias); err != nil {
		return errors.Wrap(err, "relative attention")
	}
	klog.V(1).Infof("relative attention: loaded %d tensors", len(m.Parameters()))
	return nil
}
