package nn

import (
	"fmt"
	"math"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/relattn/internal/tensor"
)

// SinusoidalPositionalEncoding implements fixed sinusoidal positional encodings.
//
// Mathematical formulation:
//
//	PE(pos, 2i)   = sin(pos / 10000^(2i/d))
//	PE(pos, 2i+1) = cos(pos / 10000^(2i/d))
//
// Rows are computed on first use and cached, growing the table as longer
// sequences arrive, up to MaxLen. The table depends only on (MaxLen, Dim),
// so Forward is a pure function of seqLen.
//
// Example:
//
//	pe := nn.NewSinusoidalPositionalEncoding(10000, 512, backend)
//	positions, err := pe.Forward(100) // [1, 100, 512]
type SinusoidalPositionalEncoding[B tensor.Backend] struct {
	MaxLen  int // maximum sequence length
	Dim     int // embedding dimension
	backend B

	mu    sync.Mutex
	table []float32 // [rows, Dim], rows <= MaxLen
}

// NewSinusoidalPositionalEncoding creates an encoder for sequences up to
// maxLen positions of width dim.
func NewSinusoidalPositionalEncoding[B tensor.Backend](maxLen, dim int, backend B) *SinusoidalPositionalEncoding[B] {
	if maxLen <= 0 {
		panic(fmt.Sprintf("SinusoidalPositionalEncoding: maxLen must be positive, got %d", maxLen))
	}
	if dim <= 0 {
		panic(fmt.Sprintf("SinusoidalPositionalEncoding: dim must be positive, got %d", dim))
	}
	return &SinusoidalPositionalEncoding[B]{
		MaxLen:  maxLen,
		Dim:     dim,
		backend: backend,
	}
}

// Forward returns positional encodings with shape [1, seqLen, Dim]. The batch
// dimension is 1 for broadcasting to any batch size.
func (s *SinusoidalPositionalEncoding[B]) Forward(seqLen int) (*tensor.Tensor[float32, B], error) {
	if seqLen <= 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "sequence length must be positive, got %d", seqLen)
	}
	if seqLen > s.MaxLen {
		return nil, errors.Wrapf(ErrSequenceTooLong, "length %d, max_len %d", seqLen, s.MaxLen)
	}

	s.mu.Lock()
	s.grow(seqLen)
	rows := s.table[:seqLen*s.Dim]
	out, err := tensor.FromSlice(rows, tensor.Shape{1, seqLen, s.Dim}, s.backend)
	s.mu.Unlock()

	if err != nil {
		return nil, errors.Wrap(err, "positional encoding")
	}
	return out, nil
}

// grow extends the cached table to at least n rows. Caller holds s.mu.
func (s *SinusoidalPositionalEncoding[B]) grow(n int) {
	have := len(s.table) / s.Dim
	if have >= n {
		return
	}

	// Double to amortize growth for steadily increasing lengths.
	target := max(n, min(2*have, s.MaxLen))
	klog.V(2).Infof("positional encoding: extending table from %d to %d rows", have, target)

	table := make([]float32, target*s.Dim)
	copy(table, s.table)
	for pos := have; pos < target; pos++ {
		row := table[pos*s.Dim : (pos+1)*s.Dim]
		for i := range row {
			angle := float64(pos) / math.Pow(10000.0, float64(2*(i/2))/float64(s.Dim))
			if i%2 == 0 {
				row[i] = float32(math.Sin(angle))
			} else {
				row[i] = float32(math.Cos(angle))
			}
		}
	}
	s.table = table
}

// Rows returns how many positions are currently cached.
func (s *SinusoidalPositionalEncoding[B]) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.table) / s.Dim
}
