// Package distribution implements probability distributions over
// discrete actions
package distribution

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Categorical implements a batch of categorical distributions over K
// actions, each parameterized by a row of unnormalized logits. The
// distribution works in log-space throughout: probabilities are
// computed from log-softmax values after subtracting the row maximum,
// so that large negative logits, such as those used to mask out
// invalid actions, neither overflow nor produce NaNs.
type Categorical struct {
	logits *mat.Dense

	// Log-softmax of the logits, computed lazily
	logProbs *mat.Dense
}

// NewCategorical returns a batch of categorical distributions, one per
// row of logits. The logits are copied.
func NewCategorical(logits mat.Matrix) *Categorical {
	return &Categorical{logits: mat.DenseCopyOf(logits)}
}

// NewCategoricalVec returns a single categorical distribution
// parameterized by the given logits
func NewCategoricalVec(logits []float64) *Categorical {
	l := make([]float64, len(logits))
	copy(l, logits)
	return &Categorical{logits: mat.NewDense(1, len(l), l)}
}

// Dims returns the number of distributions in the batch and the number
// of actions of each distribution
func (c *Categorical) Dims() (batch, actions int) {
	return c.logits.Dims()
}

// Logits returns the logits parameterizing the distributions
func (c *Categorical) Logits() mat.Matrix {
	return c.logits
}

// LogSoftmax returns the log probability of each action under each
// distribution in the batch.
func (c *Categorical) LogSoftmax() *mat.Dense {
	if c.logProbs != nil {
		return c.logProbs
	}

	r, k := c.logits.Dims()
	c.logProbs = mat.NewDense(r, k, nil)
	for i := 0; i < r; i++ {
		row := c.logits.RawRowView(i)
		lse := LogSumExp(row)
		out := c.logProbs.RawRowView(i)
		for j := range row {
			out[j] = row[j] - lse
		}
	}
	return c.logProbs
}

// Probs returns the probability of each action under each distribution
// in the batch, softmax(logits).
func (c *Categorical) Probs() *mat.Dense {
	var probs mat.Dense
	probs.Apply(func(_, _ int, v float64) float64 {
		return math.Exp(v)
	}, c.LogSoftmax())
	return &probs
}

// LogProb returns log(softmax(logits)[action]) for each distribution
// in the batch, where actions[i] is the action of row i.
func (c *Categorical) LogProb(actions []int) []float64 {
	r, k := c.Dims()
	if len(actions) != r {
		panic(fmt.Sprintf("logProb: illegal number of actions \n\twant(%v)"+
			"\n\thave(%v)", r, len(actions)))
	}

	logProbs := c.LogSoftmax()
	out := make([]float64, r)
	for i, a := range actions {
		if a < 0 || a >= k {
			panic(fmt.Sprintf("logProb: action %v out of range [0, %v)", a, k))
		}
		out[i] = logProbs.At(i, a)
	}
	return out
}

// Entropy returns the Shannon entropy -Σ p log(p) of each distribution
// in the batch.
func (c *Categorical) Entropy() []float64 {
	r, _ := c.Dims()
	logProbs := c.LogSoftmax()

	out := make([]float64, r)
	for i := 0; i < r; i++ {
		var h float64
		for _, lp := range logProbs.RawRowView(i) {
			// p log(p) -> 0 as p -> 0
			if p := math.Exp(lp); p > 0 {
				h -= p * lp
			}
		}
		out[i] = h
	}
	return out
}

// Mode returns the most probable action of each distribution in the
// batch. Ties are broken by the lowest index.
func (c *Categorical) Mode() []int {
	r, _ := c.Dims()
	out := make([]int, r)
	for i := 0; i < r; i++ {
		out[i] = floats.MaxIdx(c.logits.RawRowView(i))
	}
	return out
}

// Greedy is an alias of Mode
func (c *Categorical) Greedy() []int {
	return c.Mode()
}

// Sample draws one action from each distribution in the batch using
// the Gumbel-max trick: the argmax of logits perturbed by independent
// Gumbel(0, 1) noise -log(-log(u)), with u ~ Uniform(0, 1), is
// distributed as softmax(logits).
func (c *Categorical) Sample(src rand.Source) []int {
	r, k := c.Dims()
	u := distuv.Uniform{Min: 0, Max: 1, Src: src}

	out := make([]int, r)
	perturbed := make([]float64, k)
	for i := 0; i < r; i++ {
		row := c.logits.RawRowView(i)
		for j := range row {
			perturbed[j] = row[j] + gumbel(u)
		}
		out[i] = floats.MaxIdx(perturbed)
	}
	return out
}

// LogProbGrad returns the gradient of LogProb(actions) with respect to
// the logits. Row i holds d log p_i(actions[i]) / d logits_i, which is
// onehot(actions[i]) - softmax(logits_i).
func (c *Categorical) LogProbGrad(actions []int) *mat.Dense {
	r, _ := c.Dims()
	if len(actions) != r {
		panic(fmt.Sprintf("logProbGrad: illegal number of actions "+
			"\n\twant(%v)\n\thave(%v)", r, len(actions)))
	}

	grad := c.Probs()
	grad.Scale(-1, grad)
	for i, a := range actions {
		grad.Set(i, a, grad.At(i, a)+1)
	}
	return grad
}

// EntropyGrad returns the gradient of Entropy() with respect to the
// logits. Element (i, j) is -p_ij (log p_ij + H_i).
func (c *Categorical) EntropyGrad() *mat.Dense {
	r, k := c.Dims()
	logProbs := c.LogSoftmax()
	entropy := c.Entropy()

	grad := mat.NewDense(r, k, nil)
	for i := 0; i < r; i++ {
		lps := logProbs.RawRowView(i)
		out := grad.RawRowView(i)
		for j, lp := range lps {
			if p := math.Exp(lp); p > 0 {
				out[j] = -p * (lp + entropy[i])
			}
		}
	}
	return grad
}

// LogSumExp computes log(Σ exp(x)) stably by factoring out the
// maximum element.
func LogSumExp(x []float64) float64 {
	max := floats.Max(x)
	if math.IsInf(max, 0) {
		return max
	}

	var sum float64
	for _, v := range x {
		sum += math.Exp(v - max)
	}
	return max + math.Log(sum)
}

// gumbel returns a sample from the standard Gumbel distribution
func gumbel(u distuv.Uniform) float64 {
	x := u.Rand()
	for x <= 0 || x >= 1 {
		x = u.Rand()
	}
	return -math.Log(-math.Log(x))
}
