package distribution

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// MaskedLogit is the logit given to actions which are masked out. It
// is finite so that log-softmax values and their gradients stay finite.
const MaskedLogit = -1e8

// Mask sets logits (i, j) to MaskedLogit wherever masks[i][j] is false.
// A nil masks[i] leaves row i unchanged. Each non-nil mask must have
// one entry per column of logits and at least one true entry.
func Mask(logits *mat.Dense, masks [][]bool) error {
	r, k := logits.Dims()
	if len(masks) != r {
		return fmt.Errorf("mask: illegal number of masks \n\twant(%v)"+
			"\n\thave(%v)", r, len(masks))
	}

	for i, mask := range masks {
		if mask == nil {
			continue
		}
		if len(mask) != k {
			return fmt.Errorf("mask: illegal mask length at row %v "+
				"\n\twant(%v)\n\thave(%v)", i, k, len(mask))
		}

		row := logits.RawRowView(i)
		valid := false
		for j, ok := range mask {
			if ok {
				valid = true
			} else {
				row[j] = MaskedLogit
			}
		}
		if !valid {
			return fmt.Errorf("mask: row %v masks out every action", i)
		}
	}
	return nil
}
