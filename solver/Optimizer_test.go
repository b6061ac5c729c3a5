package solver

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// param is a parameter backed by plain tensors
type param struct {
	w, g *tensor.Dense
}

func (p param) Value() G.Value          { return p.w }
func (p param) Grad() (G.Value, error) { return p.g, nil }

func newParam(w, g []float64) param {
	return param{
		w: tensor.New(tensor.WithShape(len(w)), tensor.WithBacking(
			append([]float64(nil), w...))),
		g: tensor.New(tensor.WithShape(len(g)), tensor.WithBacking(
			append([]float64(nil), g...))),
	}
}

func weights(p param) []float64 {
	return p.w.Data().([]float64)
}

func TestOptimizerVanillaStep(t *testing.T) {
	s, err := NewVanilla(0.1, 1, -1)
	require.NoError(t, err)

	p := newParam([]float64{1, 2}, []float64{1, -2})
	o, err := NewOptimizer(s, []G.ValueGrad{p})
	require.NoError(t, err)
	require.NoError(t, o.Step())

	assert.True(t, floats.EqualApprox([]float64{0.9, 2.2}, weights(p), 1e-12))
}

func TestOptimizerAnnealedStepMatchesFreshSolver(t *testing.T) {
	for _, newSolver := range []func(float64) (*Solver, error){
		func(lr float64) (*Solver, error) { return NewDefaultAdam(lr, 1) },
		func(lr float64) (*Solver, error) { return NewVanilla(lr, 1, -1) },
	} {
		base, err := newSolver(0.01)
		require.NoError(t, err)
		half, err := newSolver(0.005)
		require.NoError(t, err)

		p1 := newParam([]float64{0.5, -0.3, 1}, []float64{0.2, -1, 3})
		p2 := newParam([]float64{0.5, -0.3, 1}, []float64{0.2, -1, 3})

		annealed, err := NewOptimizer(base, []G.ValueGrad{p1})
		require.NoError(t, err)
		annealed.SetLearningRate(0.005)
		assert.Equal(t, 0.005, annealed.LearningRate())
		assert.Equal(t, 0.01, annealed.BaseLearningRate())

		fresh, err := NewOptimizer(half, []G.ValueGrad{p2})
		require.NoError(t, err)

		require.NoError(t, annealed.Step())
		require.NoError(t, fresh.Step())
		assert.True(t, floats.EqualApprox(weights(p2), weights(p1), 1e-12))
	}
}

func TestOptimizerClipGradNorm(t *testing.T) {
	s, err := NewVanilla(0.1, 1, -1)
	require.NoError(t, err)

	p1 := newParam([]float64{0, 0}, []float64{3, 0})
	p2 := newParam([]float64{0}, []float64{4})
	o, err := NewOptimizer(s, []G.ValueGrad{p1}, []G.ValueGrad{p2})
	require.NoError(t, err)

	norm, err := o.ClipGradNorm(10)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, norm, 1e-12)
	assert.Equal(t, []float64{4}, p2.g.Data().([]float64))

	norm, err = o.ClipGradNorm(1)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, norm, 1e-12)

	clipped, err := o.GradNorm()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, clipped, 1e-5)
	assert.InDelta(t, 0.6, p1.g.Data().([]float64)[0], 1e-5)
}

func TestOptimizerZeroGrad(t *testing.T) {
	s, err := NewDefaultAdam(0.1, 1)
	require.NoError(t, err)

	p := newParam([]float64{1, 1}, []float64{2, 3})
	o, err := NewOptimizer(s, []G.ValueGrad{p})
	require.NoError(t, err)
	require.NoError(t, o.ZeroGrad())

	norm, err := o.GradNorm()
	require.NoError(t, err)
	assert.Equal(t, 0.0, norm)
}

func TestNewOptimizerValidates(t *testing.T) {
	_, err := NewOptimizer(nil)
	assert.Error(t, err)

	s, err := NewVanilla(0.1, 1, -1)
	require.NoError(t, err)
	_, err = NewOptimizer(s)
	assert.Error(t, err)

	s = &Solver{Type: Vanilla, Config: VanillaConfig{Batch: 1}}
	_, err = NewOptimizer(s, []G.ValueGrad{newParam([]float64{1},
		[]float64{1})})
	assert.Error(t, err)
}

func TestSolverJSON(t *testing.T) {
	s, err := NewDefaultRMSProp(0.01, 1)
	require.NoError(t, err)

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded Solver
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, *s, decoded)

	err = json.Unmarshal([]byte(`{"type": "Nesterov", "config": {}}`),
		&decoded)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`{"config": {"step_size": 0.1}}`), &decoded)
	assert.Error(t, err)
}

func TestSolverJSONIgnoresCase(t *testing.T) {
	var s Solver
	data := []byte(`{"type": "adam", "config": {"step_size": 0.1, ` +
		`"epsilon": 1e-8, "beta1": 0.9, "beta2": 0.99, "batch": 1}}`)
	require.NoError(t, json.Unmarshal(data, &s))

	assert.Equal(t, Adam, s.Type)
	assert.Equal(t, AdamConfig{
		StepSize: 0.1,
		Epsilon:  1e-8,
		Beta1:    0.9,
		Beta2:    0.99,
		Batch:    1,
	}, s.Config)

	o, err := NewOptimizer(&s, []G.ValueGrad{newParam([]float64{1},
		[]float64{1})})
	require.NoError(t, err)
	assert.Equal(t, 0.1, o.BaseLearningRate())
}

func TestSolverValidation(t *testing.T) {
	_, err := NewDefaultAdam(0, 1)
	assert.Error(t, err)

	_, err = NewAdam(0.1, 1e-8, 1.0, 0.999, 1)
	assert.Error(t, err)

	_, err = NewRMSProp(0.1, 1e-8, 1.5, 1, -1)
	assert.Error(t, err)

	_, err = NewVanilla(0.1, 0, -1)
	assert.Error(t, err)

	var s Solver
	err = json.Unmarshal([]byte(`{"type": "Vanilla", "config": {}}`), &s)
	assert.Error(t, err)

	for _, ty := range []Type{Adam, RMSProp, Vanilla} {
		parsed, err := ParseType(strings.ToLower(string(ty)))
		require.NoError(t, err)
		d, err := NewDefault(parsed, 0.5, 1)
		require.NoError(t, err)
		assert.Equal(t, ty, d.Type)
		assert.Equal(t, 0.5, d.LearningRate())
	}
	_, err = ParseType("sgd")
	assert.Error(t, err)
}
