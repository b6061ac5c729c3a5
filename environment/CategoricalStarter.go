package environment

import (
	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// CategoricalStarter returns vectors sampled from a multi-dimensional
// uniform categorical distribution. Dimension i is sampled from
// (offset[i], offset[i]+1, ... offset[i]+bounds[i]-1).
type CategoricalStarter struct {
	features int
	offsets  []float64
	rand     []distuv.Categorical
}

// NewCategoricalStarter returns a new CategoricalStarter, sampling
// dimension i from (offsets[i], ..., offsets[i]+bounds[i]-1). If
// offsets is nil, all offsets are 0.
func NewCategoricalStarter(bounds, offsets []int,
	seed uint64) CategoricalStarter {
	source := rand.NewSource(seed)

	rand := make([]distuv.Categorical, len(bounds))
	off := make([]float64, len(bounds))
	for i := range rand {
		// Create the weights for the uniform categorical distribution
		weights := make([]float64, bounds[i])
		for j := range weights {
			weights[j] = 1.0 / float64(len(weights))
		}

		rand[i] = distuv.NewCategorical(weights, source)
		if offsets != nil {
			off[i] = float64(offsets[i])
		}
	}

	return CategoricalStarter{len(bounds), off, rand}
}

// Start returns a sampled vector
func (c CategoricalStarter) Start() *mat.VecDense {
	start := make([]float64, c.features)
	for i := range start {
		start[i] = c.rand[i].Rand() + c.offsets[i]
	}

	return mat.NewVecDense(c.features, start)
}
