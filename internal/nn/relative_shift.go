package nn

import (
	"fmt"

	"github.com/born-ml/relattn/internal/tensor"
)

// RelativeShift realigns a position score so that entry (i, j) holds the score
// for the relative offset between query i and key j rather than absolute
// position j.
//
// For a score [B, H, T1, T2]:
//  1. prepend a zero column:      [B, H, T1, T2+1]
//  2. view as                      [B, H, T2+1, T1]
//  3. drop the first row:         [B, H, T2, T1]
//  4. view back as                [B, H, T1, T2]
//
// The result only moves and zero-fills entries, so an all-zero input stays
// all zero.
func RelativeShift[B tensor.Backend](score *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := score.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("relativeShift: expected [batch, heads, time1, time2], got %v", shape))
	}
	b, h, t1, t2 := shape[0], shape[1], shape[2], shape[3]

	zeros := tensor.Zeros[float32](tensor.Shape{b, h, t1, 1}, score.Backend())
	padded := tensor.Cat([]*tensor.Tensor[float32, B]{zeros, score}, -1)

	return padded.
		Reshape(b, h, t2+1, t1).
		Narrow(2, 1, t2).
		Reshape(b, h, t1, t2)
}
