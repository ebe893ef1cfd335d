package nn

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/relattn/internal/tensor"
)

// StripPrefix returns the entries of stateDict whose key starts with prefix,
// with the prefix removed. Use it to drop wrappers such as "module." or to
// pick one layer out of a full encoder checkpoint.
//
// Example:
//
//	layer := nn.StripPrefix(checkpoint, "encoder.layers.3.self_attn.")
//	err := block.LoadStateDict(layer)
func StripPrefix(stateDict map[string]*tensor.RawTensor, prefix string) map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor)
	for name, raw := range stateDict {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			out[rest] = raw
		}
	}
	return out
}

// SortedKeys returns the keys of stateDict in lexical order.
func SortedKeys(stateDict map[string]*tensor.RawTensor) []string {
	keys := make([]string, 0, len(stateDict))
	for name := range stateDict {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys
}

// SetPrecision rounds every parameter of m in place to the given storage
// precision, emulating a model kept in fp16 or bf16. FP32 is a no-op.
func SetPrecision[B tensor.Backend](m Module[B], p tensor.Precision) {
	if p == tensor.FP32 {
		return
	}
	for _, param := range m.Parameters() {
		tensor.RoundToPrecision(param.Tensor().Data(), p)
	}
}

// mergeState adds src into dst under prefix.
func mergeState(dst map[string]*tensor.RawTensor, prefix string, src map[string]*tensor.RawTensor) {
	for name, raw := range src {
		dst[prefix+name] = raw
	}
}

// paramState builds a state dict from parameters keyed by their local names.
func paramState[B tensor.Backend](params ...*Parameter[B]) map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor, len(params))
	for _, p := range params {
		out[p.Name()] = p.Tensor().Raw()
	}
	return out
}

// loadParams loads each parameter from the entry with its local name.
func loadParams[B tensor.Backend](stateDict map[string]*tensor.RawTensor, params ...*Parameter[B]) error {
	for _, p := range params {
		raw, ok := stateDict[p.Name()]
		if !ok {
			return errors.Wrapf(ErrMissingParameter, "%s", p.Name())
		}
		if err := p.Load(raw); err != nil {
			return err
		}
	}
	return nil
}

// loadChild loads a nested module from the entries under prefix, qualifying
// errors with the prefix.
func loadChild[B tensor.Backend](stateDict map[string]*tensor.RawTensor, prefix string, child Module[B]) error {
	if err := child.LoadStateDict(StripPrefix(stateDict, prefix)); err != nil {
		return errors.Wrapf(err, "%s", strings.TrimSuffix(prefix, "."))
	}
	return nil
}
