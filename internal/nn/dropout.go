package nn

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/born-ml/relattn/internal/tensor"
)

// Dropout zeroes elements independently with probability p during training
// and scales survivors by 1/(1-p), so inference is the identity.
//
// The random source belongs to the module; concurrent Forward calls are
// serialized on it.
type Dropout[B tensor.Backend] struct {
	p       float64
	mu      sync.Mutex
	rng     *rand.Rand
	backend B
}

// NewDropout creates a dropout layer with drop probability p in [0, 1).
func NewDropout[B tensor.Backend](p float64, rng *rand.Rand, backend B) *Dropout[B] {
	if p < 0 || p >= 1 {
		panic(fmt.Sprintf("dropout: probability must be in [0, 1), got %g", p))
	}
	return &Dropout[B]{
		p:       p,
		rng:     rng,
		backend: backend,
	}
}

// P returns the drop probability.
func (d *Dropout[B]) P() float64 {
	return d.p
}

// Forward applies dropout when training is true and p > 0; otherwise it
// returns x unchanged.
func (d *Dropout[B]) Forward(x *tensor.Tensor[float32, B], training bool) *tensor.Tensor[float32, B] {
	if !training || d.p == 0 {
		return x
	}

	scale := float32(1 / (1 - d.p))
	keep := make([]float32, x.NumElements())

	d.mu.Lock()
	for i := range keep {
		if d.rng.Float64() >= d.p {
			keep[i] = scale
		}
	}
	d.mu.Unlock()

	mask, err := tensor.FromSlice(keep, x.Shape(), d.backend)
	if err != nil {
		panic(fmt.Sprintf("dropout: %v", err))
	}
	return x.Mul(mask)
}
