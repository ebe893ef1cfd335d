package nn

import (
	"github.com/born-ml/relattn/internal/tensor"
)

// Module is implemented by every component that owns parameters.
//
// Forward signatures differ between modules (attention takes four inputs
// and a mask), so the interface covers only parameter ownership and state.
type Module[B tensor.Backend] interface {
	// Parameters returns the module's parameters, nested modules included.
	Parameters() []*Parameter[B]

	// StateDict returns parameter tensors keyed by dotted PyTorch-style names.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict copies matching entries into the module's parameters.
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
}

// NumParameters returns the total number of scalar parameters in m.
func NumParameters[B tensor.Backend](m Module[B]) int {
	total := 0
	for _, p := range m.Parameters() {
		total += p.Shape().NumElements()
	}
	return total
}
