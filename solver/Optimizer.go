package solver

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
)

// Optimizer applies a Gorgonia Solver to a fixed set of parameters.
//
// Gorgonia Solvers cannot change their learning rate once created, so
// the Optimizer steps at the Solver's base learning rate and rescales
// the resulting update by lr / base. Each supported Solver produces
// updates linear in the learning rate, so the rescaled step is the
// step the Solver would take at lr.
type Optimizer struct {
	solver G.Solver
	params []G.ValueGrad
	base   float64
	lr     float64

	snapshot [][]float64
}

// NewOptimizer returns a new Optimizer over the given parameters. A
// fresh Gorgonia Solver is created from the configuration of s, so
// that Solver state is never shared between Optimizers.
func NewOptimizer(s *Solver, params ...[]G.ValueGrad) (*Optimizer, error) {
	if s == nil || s.Config == nil {
		return nil, fmt.Errorf("newOptimizer: nil solver")
	}
	base := s.Config.LearningRate()
	if base <= 0 {
		return nil, fmt.Errorf("newOptimizer: learning rate must be "+
			"positive, have(%v)", base)
	}

	var all []G.ValueGrad
	for _, p := range params {
		all = append(all, p...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("newOptimizer: no parameters to optimize")
	}

	snapshot := make([][]float64, len(all))
	for i, p := range all {
		data, err := floatData(p.Value())
		if err != nil {
			return nil, fmt.Errorf("newOptimizer: parameter %d: %v", i, err)
		}
		snapshot[i] = make([]float64, len(data))
	}

	return &Optimizer{
		solver:   s.Config.Create(),
		params:   all,
		base:     base,
		lr:       base,
		snapshot: snapshot,
	}, nil
}

// Parameters returns the parameters optimized by the Optimizer
func (o *Optimizer) Parameters() []G.ValueGrad {
	return o.params
}

// LearningRate returns the current learning rate
func (o *Optimizer) LearningRate() float64 {
	return o.lr
}

// BaseLearningRate returns the learning rate of the underlying Solver
func (o *Optimizer) BaseLearningRate() float64 {
	return o.base
}

// SetLearningRate sets the learning rate used by subsequent steps
func (o *Optimizer) SetLearningRate(lr float64) {
	o.lr = lr
}

// ZeroGrad sets all parameter gradients to zero
func (o *Optimizer) ZeroGrad() error {
	for i, p := range o.params {
		grad, err := gradData(p)
		if err != nil {
			return fmt.Errorf("zeroGrad: parameter %d: %v", i, err)
		}
		for j := range grad {
			grad[j] = 0
		}
	}
	return nil
}

// GradNorm returns the L2 norm of all parameter gradients taken
// together
func (o *Optimizer) GradNorm() (float64, error) {
	var sumSq float64
	for i, p := range o.params {
		grad, err := gradData(p)
		if err != nil {
			return 0, fmt.Errorf("gradNorm: parameter %d: %v", i, err)
		}
		for _, g := range grad {
			sumSq += g * g
		}
	}
	return math.Sqrt(sumSq), nil
}

// ClipGradNorm scales all parameter gradients so that their global L2
// norm is at most maxNorm. The norm before clipping is returned.
func (o *Optimizer) ClipGradNorm(maxNorm float64) (float64, error) {
	norm, err := o.GradNorm()
	if err != nil {
		return 0, fmt.Errorf("clipGradNorm: %w", err)
	}
	if norm <= maxNorm {
		return norm, nil
	}

	scale := maxNorm / (norm + 1e-6)
	for _, p := range o.params {
		grad, _ := gradData(p)
		for j := range grad {
			grad[j] *= scale
		}
	}
	return norm, nil
}

// Step updates the parameters using their current gradients
func (o *Optimizer) Step() error {
	rescale := o.lr != o.base
	if rescale {
		for i, p := range o.params {
			data, _ := floatData(p.Value())
			copy(o.snapshot[i], data)
		}
	}

	if err := o.solver.Step(o.params); err != nil {
		return fmt.Errorf("step: could not step solver: %v", err)
	}

	if rescale {
		ratio := o.lr / o.base
		for i, p := range o.params {
			data, _ := floatData(p.Value())
			for j, old := range o.snapshot[i] {
				data[j] = old + ratio*(data[j]-old)
			}
		}
	}
	return nil
}

func gradData(p G.ValueGrad) ([]float64, error) {
	grad, err := p.Grad()
	if err != nil {
		return nil, err
	}
	return floatData(grad)
}

func floatData(v G.Value) ([]float64, error) {
	if v == nil {
		return nil, fmt.Errorf("nil value")
	}
	data, ok := v.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("expected float64 data, have %T", v.Data())
	}
	return data, nil
}
