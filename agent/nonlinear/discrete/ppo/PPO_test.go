package ppo

import (
	"encoding/gob"
	"io"
	"math"
	"path/filepath"
	"sort"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goreinforce/buffer/gae"
	"github.com/samuelfneumann/goreinforce/distribution"
	"github.com/samuelfneumann/goreinforce/environment"
	"github.com/samuelfneumann/goreinforce/environment/gridworld"
	"github.com/samuelfneumann/goreinforce/network"
	"github.com/samuelfneumann/goreinforce/solver"
	ts "github.com/samuelfneumann/goreinforce/timestep"
)

// param is a parameter backed by plain tensors
type param struct {
	w, g *tensor.Dense
}

func (p param) Value() G.Value          { return p.w }
func (p param) Grad() (G.Value, error) { return p.g, nil }

func newParam(size int) param {
	return param{
		w: tensor.New(tensor.WithShape(size), tensor.WithBacking(
			make([]float64, size))),
		g: tensor.New(tensor.WithShape(size), tensor.WithBacking(
			make([]float64, size))),
	}
}

func data(v G.Value) []float64 {
	return v.Data().([]float64)
}

// linear is a zero-initialized linear function x W + b
type linear struct {
	features, outputs int
	weights, bias     param
	eval              bool

	// constant, if non-zero, is added to every output
	constant float64
}

func newLinear(features, outputs int) *linear {
	return &linear{
		features: features,
		outputs:  outputs,
		weights:  newParam(features * outputs),
		bias:     newParam(outputs),
	}
}

func (l *linear) Forward(x *mat.Dense) (*mat.Dense, error) {
	r, _ := x.Dims()
	w := mat.NewDense(l.features, l.outputs, data(l.weights.w))
	out := mat.NewDense(r, l.outputs, nil)
	out.Mul(x, w)
	b := data(l.bias.w)
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		floats.Add(row, b)
		for j := range row {
			row[j] += l.constant
		}
	}
	return out, nil
}

func (l *linear) Backward(x, outGrad *mat.Dense) error {
	gw := mat.NewDense(l.features, l.outputs, data(l.weights.g))
	gw.Mul(x.T(), outGrad)

	gb := data(l.bias.g)
	for j := range gb {
		gb[j] = floats.Sum(mat.Col(nil, j, outGrad))
	}
	return nil
}

func (l *linear) Parameters() []G.ValueGrad {
	return []G.ValueGrad{l.weights, l.bias}
}

func (l *linear) Features() int { return l.features }
func (l *linear) Outputs() int  { return l.outputs }
func (l *linear) Train()        { l.eval = false }
func (l *linear) Eval()         { l.eval = true }
func (l *linear) IsEval() bool  { return l.eval }

func (l *linear) Save(w io.Writer) error {
	return gob.NewEncoder(w).Encode([][]float64{data(l.weights.w),
		data(l.bias.w)})
}

func (l *linear) Load(r io.Reader) error {
	var saved [][]float64
	if err := gob.NewDecoder(r).Decode(&saved); err != nil {
		return err
	}
	copy(data(l.weights.w), saved[0])
	copy(data(l.bias.w), saved[1])
	return nil
}

// bandit is a one-step environment where action 1 yields reward 1 and
// action 0 yields reward 0
type bandit struct {
	steps int

	// Responses which break the environment contract
	reward float64
	obs    []float64
}

func (b *bandit) Reset() (ts.TimeStep, error) {
	return ts.New(ts.First, 0, mat.NewVecDense(1, []float64{1}), 0), nil
}

func (b *bandit) Step(action int) (ts.TimeStep, error) {
	b.steps++
	reward := float64(action)
	if b.reward != 0 {
		reward = b.reward
	}
	obs := []float64{1}
	if b.obs != nil {
		obs = b.obs
	}
	return ts.New(ts.Last, reward, mat.NewVecDense(len(obs), obs), 1), nil
}

func (b *bandit) StateSize() int     { return 1 }
func (b *bandit) Actions() []string { return []string{"left", "right"} }

func silentLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func newLinearPPO(t *testing.T, env environment.Environment, c Config,
	opts ...Option) (*PPO, *linear, *linear) {
	policy := newLinear(env.StateSize(), len(env.Actions()))
	value := newLinear(env.StateSize(), 1)

	s, err := solver.NewDefaultAdam(c.LearningRate, 1)
	require.NoError(t, err)
	a, err := NewAgent(policy, value, s)
	require.NoError(t, err)

	opts = append([]Option{WithSeed(2021), WithLogger(silentLogger())},
		opts...)
	p, err := New(env, a, c, opts...)
	require.NoError(t, err)
	return p, policy, value
}

func testConfig() Config {
	c := DefaultConfig()
	c.Epochs = 4
	c.MinibatchSize = 8
	c.LearningRate = 0.01
	return c
}

func TestTrainPrefersRewardingAction(t *testing.T) {
	p, policy, _ := newLinearPPO(t, &bandit{}, testConfig())

	logits, err := policy.Forward(mat.NewDense(1, 1, []float64{1}))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, logits.At(0, 1)-logits.At(0, 0), 1e-12)

	require.NoError(t, p.Train(20, 16))

	logits, err = policy.Forward(mat.NewDense(1, 1, []float64{1}))
	require.NoError(t, err)
	assert.Greater(t, logits.At(0, 1)-logits.At(0, 0), 0.25)

	action, err := p.Predict([]float64{1}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, action)
}

func TestEpochVisitsEveryIndexOnce(t *testing.T) {
	const rollout = 32
	c := testConfig()
	p, _, _ := newLinearPPO(t, &bandit{}, c)

	seen := make(map[int][]int)
	p.onMinibatch = func(epoch int, stats minibatchStats) {
		assert.Len(t, stats.indices, c.MinibatchSize)
		seen[epoch] = append(seen[epoch], stats.indices...)
	}
	require.NoError(t, p.Train(1, rollout))

	require.Len(t, seen, c.Epochs)
	for epoch, indices := range seen {
		sorted := append([]int(nil), indices...)
		sort.Ints(sorted)
		for i := 0; i < rollout; i++ {
			assert.Equal(t, i, sorted[i], "epoch %v", epoch)
		}
	}
	assert.NotEqual(t, seen[0], seen[1])
}

func TestMinibatches(t *testing.T) {
	perm := []int{4, 0, 3, 1, 2}
	batches := minibatches(perm, 2)
	assert.Equal(t, [][]int{{4, 0}, {3, 1}, {2}}, batches)

	batches = minibatches(perm[:4], 2)
	assert.Len(t, batches, 2)
}

func TestFirstMinibatchRatioIsOne(t *testing.T) {
	c := testConfig()
	c.ClipParam = 0.1
	p, _, _ := newLinearPPO(t, &bandit{}, c)

	var first []minibatchStats
	p.onMinibatch = func(epoch int, stats minibatchStats) {
		if epoch == 0 && len(first) == 0 {
			first = append(first, stats)
		}
	}

	for i := 0; i < 3; i++ {
		first = nil
		require.NoError(t, p.Train(1, 16))
		require.Len(t, first, 1)

		for _, r := range first[0].ratios {
			assert.InDelta(t, 1.0, r, 1e-9)
		}
		assert.Equal(t, 0.0, first[0].clipFrac)
		assert.InDelta(t, 0.0, first[0].approxKL, 1e-12)
	}
}

func TestTrainLogsAndAnneals(t *testing.T) {
	const iterations, rollout = 3, 16
	c := testConfig()

	var checkpoints, progress []int
	p, _, _ := newLinearPPO(t, &bandit{}, c,
		WithCheckpointer(checkpointFunc(func(i int) error {
			checkpoints = append(checkpoints, i)
			return nil
		})),
		WithProgress(func(i int) { progress = append(progress, i) }),
	)
	require.NoError(t, p.Train(iterations, rollout))

	updates := iterations * c.Epochs * rollout / c.MinibatchSize
	assert.Len(t, p.Log().Loss, updates)
	assert.Equal(t, iterations*rollout, p.Log().Episodes())
	for _, length := range p.Log().EpisodeLength {
		assert.Equal(t, 1.0, length)
	}
	assert.Equal(t, []int{1, 2, 3}, checkpoints)
	assert.Equal(t, []int{1, 2, 3}, progress)

	want := c.LearningRate * (1 - float64(iterations-1)/iterations)
	assert.InDelta(t, want, p.Agent().Optimizer().LearningRate(), 1e-12)
}

type checkpointFunc func(int) error

func (c checkpointFunc) Checkpoint(i int) error { return c(i) }

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	for _, mutate := range []func(*Config){
		func(c *Config) { c.ClipParam = 0 },
		func(c *Config) { c.Gamma = 1.5 },
		func(c *Config) { c.Lambda = -0.1 },
		func(c *Config) { c.Epochs = 0 },
		func(c *Config) { c.MinibatchSize = -1 },
		func(c *Config) { c.LearningRate = 0 },
		func(c *Config) { c.MaxGradNorm = 0 },
	} {
		c := DefaultConfig()
		mutate(&c)
		err := c.Validate()
		assert.True(t, IsInvalidConfig(err), "%+v", c)
	}

	assert.True(t, IsInvalidConfig(DefaultConfig().ValidateRollout(33)))
	assert.NoError(t, DefaultConfig().ValidateRollout(64))
}

func TestInvalidConfigFailsFast(t *testing.T) {
	env := &bandit{}
	c := testConfig()
	p, policy, _ := newLinearPPO(t, env, c)

	err := p.Train(1, 12)
	assert.True(t, IsInvalidConfig(err))
	err = p.Train(0, 16)
	assert.True(t, IsInvalidConfig(err))
	assert.Equal(t, 0, env.steps)
	assert.Equal(t, []float64{0, 0}, data(policy.bias.w))

	c.ClipParam = -1
	_, err = New(env, p.Agent(), c)
	assert.True(t, IsInvalidConfig(err))

	policy = newLinear(2, 2)
	s, err := solver.NewDefaultAdam(0.01, 1)
	require.NoError(t, err)
	a, err := NewAgent(policy, newLinear(2, 1), s)
	require.NoError(t, err)
	_, err = New(env, a, testConfig())
	assert.True(t, IsInvalidConfig(err))
}

func TestInvalidEnvResponse(t *testing.T) {
	for _, env := range []*bandit{
		{reward: math.NaN()},
		{reward: math.Inf(1)},
		{obs: []float64{1, 2}},
		{obs: []float64{math.NaN()}},
	} {
		p, _, _ := newLinearPPO(t, env, testConfig())
		err := p.Train(1, 16)
		assert.True(t, IsInvalidEnvResponse(err), "%v", err)
		assert.Empty(t, p.Log().Loss)
	}
}

func TestDivergedAdvantages(t *testing.T) {
	p, policy, value := newLinearPPO(t, &bandit{}, testConfig())
	value.constant = math.Inf(1)

	err := p.Train(1, 16)
	assert.True(t, IsDiverged(err), "%v", err)
	assert.Equal(t, []float64{0, 0}, data(policy.bias.w))
}

func TestDivergedLossAbortsMinibatch(t *testing.T) {
	p, policy, value := newLinearPPO(t, &bandit{reward: 1e300},
		testConfig())

	err := p.Train(1, 16)
	assert.True(t, IsDiverged(err), "%v", err)
	assert.Empty(t, p.Log().Loss)
	assert.Equal(t, []float64{0, 0}, data(policy.bias.w))
	assert.Equal(t, []float64{0}, data(value.bias.w))
}

func TestPredictDoesNotLearn(t *testing.T) {
	p, policy, _ := newLinearPPO(t, &bandit{}, testConfig())
	copy(data(policy.bias.w), []float64{0, 3})

	counts := make([]int, 2)
	for i := 0; i < 200; i++ {
		action, err := p.Predict([]float64{1}, false)
		require.NoError(t, err)
		counts[action]++
	}
	assert.Greater(t, counts[1], counts[0])
	assert.Equal(t, []float64{0, 3}, data(policy.bias.w))

	_, err := p.Predict([]float64{1, 2}, true)
	assert.Error(t, err)
}

func TestMLPAgentTrainSaveLoad(t *testing.T) {
	grid, err := gridworld.New(4, gridworld.Position{},
		gridworld.Position{Row: 3, Col: 3}, 1, 7)
	require.NoError(t, err)
	env, err := environment.NewStepLimit(grid, 20)
	require.NoError(t, err)

	c := DefaultConfig()
	c.Epochs = 2
	c.MinibatchSize = 16

	config := network.DefaultMLPConfig()
	config.HiddenSizes = []int{8}
	config.Activations = []*network.Activation{network.TanH()}

	s, err := solver.NewDefaultAdam(c.LearningRate, 1)
	require.NoError(t, err)
	a, err := NewMLPAgent(env.StateSize(), len(env.Actions()),
		c.MinibatchSize, config, s)
	require.NoError(t, err)

	p, err := New(environment.NewChecked(env), a, c, WithSeed(3),
		WithLogger(silentLogger()))
	require.NoError(t, err)
	require.NoError(t, p.Train(2, 32))
	assert.Len(t, p.Log().Loss, 2*c.Epochs*32/c.MinibatchSize)
	assert.True(t, floatsFinite(p.Log().Loss))
	assert.False(t, p.IsEval())

	filename := filepath.Join(t.TempDir(), "agent.bin")
	require.NoError(t, p.Save(filename))

	s2, err := solver.NewDefaultAdam(c.LearningRate, 1)
	require.NoError(t, err)
	b, err := NewMLPAgent(env.StateSize(), len(env.Actions()),
		c.MinibatchSize, config, s2)
	require.NoError(t, err)
	q, err := New(env, b, c, WithLogger(silentLogger()))
	require.NoError(t, err)
	require.NoError(t, q.Load(filename))
	assert.True(t, q.IsEval())

	obs := mat.NewDense(1, 2, []float64{1, 2})
	want, err := a.Policy().Forward(obs)
	require.NoError(t, err)
	have, err := b.Policy().Forward(obs)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(want, have, 1e-12))

	q.SetTrain()
	assert.False(t, q.IsEval())
}

func floatsFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// maskedBandit is a bandit with three actions in which the most
// rewarding action is never legal
type maskedBandit struct {
	bandit
	mask []bool
}

func (m *maskedBandit) Actions() []string {
	return []string{"left", "right", "blocked"}
}

func (m *maskedBandit) ActionMask() []bool {
	if m.mask != nil {
		return m.mask
	}
	return []bool{true, true, false}
}

func TestTrainNeverSamplesMaskedActions(t *testing.T) {
	env := environment.NewChecked(&maskedBandit{})
	p, policy, _ := newLinearPPO(t, env, testConfig())

	// Checked rejects masked actions, so training fails if one is taken
	require.NoError(t, p.Train(10, 16))

	batch, err := p.buffer.Batch()
	require.NoError(t, err)
	for i, action := range batch.Actions {
		assert.NotEqual(t, 2, action)
		assert.Equal(t, []bool{true, true, false}, batch.Masks[i])
	}

	bias := data(policy.bias.w)
	assert.InDelta(t, 0.0, bias[2], 1e-12)
	assert.InDelta(t, 0.0, data(policy.weights.w)[2], 1e-12)
	assert.Greater(t, bias[1], bias[0])

	bias[2] = 10
	action, err := p.Predict([]float64{1}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, action)

	mask := []bool{true, true, false}
	action, err = p.PredictMasked([]float64{1}, mask, true)
	require.NoError(t, err)
	assert.Equal(t, 1, action)
	for i := 0; i < 200; i++ {
		action, err := p.PredictMasked([]float64{1}, mask, false)
		require.NoError(t, err)
		require.NotEqual(t, 2, action)
	}

	_, err = p.PredictMasked([]float64{1}, []bool{false, false, false}, true)
	assert.Error(t, err)
	_, err = p.PredictMasked([]float64{1}, []bool{true}, true)
	assert.Error(t, err)
}

func TestInvalidActionMask(t *testing.T) {
	for _, mask := range [][]bool{{false, false, false}, {true, true}} {
		env := &maskedBandit{mask: mask}
		p, _, _ := newLinearPPO(t, env, testConfig())
		err := p.Train(1, 16)
		assert.True(t, IsInvalidEnvResponse(err), "%v", err)
		assert.Equal(t, 0, env.steps)
	}
}

func TestMinibatchLargerThanAgentBatch(t *testing.T) {
	env := &bandit{}
	c := testConfig()
	s, err := solver.NewDefaultAdam(c.LearningRate, 1)
	require.NoError(t, err)
	a, err := NewMLPAgent(env.StateSize(), len(env.Actions()),
		c.MinibatchSize/2, network.DefaultMLPConfig(), s)
	require.NoError(t, err)
	assert.Equal(t, c.MinibatchSize/2, a.BatchSize())

	_, err = New(env, a, c)
	assert.True(t, IsInvalidConfig(err), "%v", err)
	assert.Equal(t, 0, env.steps)

	c.MinibatchSize = a.BatchSize()
	_, err = New(env, a, c, WithLogger(silentLogger()))
	assert.NoError(t, err)
}

// chain is an environment whose episodes last length steps, each with
// reward 1. The observation is the step within the episode and a bias
// feature.
type chain struct {
	length int
	pos    int
	resets int
}

func (c *chain) Reset() (ts.TimeStep, error) {
	c.pos = 0
	c.resets++
	return ts.New(ts.First, 0, c.obs(), 0), nil
}

func (c *chain) Step(action int) (ts.TimeStep, error) {
	c.pos++
	stepType := ts.Mid
	if c.pos == c.length {
		stepType = ts.Last
	}
	return ts.New(stepType, 1, c.obs(), c.pos), nil
}

func (c *chain) obs() *mat.VecDense {
	return mat.NewVecDense(2, []float64{float64(c.pos), 1})
}

func (c *chain) StateSize() int     { return 2 }
func (c *chain) Actions() []string { return []string{"left", "right"} }

func TestEpisodesSpanRollouts(t *testing.T) {
	c := testConfig()
	c.Gamma, c.Lambda = 1, 1
	c.Epochs = 1
	c.MinibatchSize = 5

	env := &chain{length: 3}
	p, _, value := newLinearPPO(t, env, c)
	value.constant = 0.5

	// The second episode starts mid-rollout and is bootstrapped from
	// the value of its current observation
	require.NoError(t, p.Train(1, 5))
	batch, err := p.buffer.Batch()
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false, true, false}, batch.Dones)
	assert.Equal(t, []float64{0, 1, 2, 0, 1}, mat.Col(nil, 0, batch.Obs))
	for i, want := range []float64{2.5, 1.5, 0.5, 2, 1} {
		assert.InDelta(t, want, batch.Advantages[i], 1e-12, "step %v", i)
		assert.InDelta(t, want+0.5, batch.Returns[i], 1e-12, "step %v", i)
	}
	assert.Equal(t, 2, env.resets)
	assert.Equal(t, 1, p.Log().Episodes())

	// The environment is not reset between iterations, so the second
	// episode finishes in the next rollout
	require.NoError(t, p.Train(1, 5))
	batch, err = p.buffer.Batch()
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, false, false, true}, batch.Dones)
	assert.Equal(t, []float64{2, 0, 1, 2, 0}, mat.Col(nil, 0, batch.Obs))
	assert.Equal(t, 4, env.resets)
	assert.Equal(t, 3, p.Log().Episodes())
	for _, length := range p.Log().EpisodeLength {
		assert.Equal(t, 3.0, length)
	}

	// Every step before the last episode boundary is independent of
	// the bootstrap value
	adv, ret := gae.Compute(batch.Rewards, batch.Values, batch.Dones, 0,
		false, c.Gamma, c.Lambda)
	for i := 0; i < 4; i++ {
		assert.InDelta(t, adv[i], batch.Advantages[i], 1e-12, "step %v", i)
		assert.InDelta(t, ret[i], batch.Returns[i], 1e-12, "step %v", i)
	}
	assert.InDelta(t, 1-batch.Values[0], batch.Advantages[0], 1e-12)
	assert.InDelta(t, 1-batch.Values[3], batch.Advantages[3], 1e-12)
}

// updateCase holds a minibatch together with the loss which a single
// update should minimize
type updateCase struct {
	obs                    *mat.Dense
	actions                []int
	oldLogProbs, oldValues []float64
	returns, normalizedAdv []float64
	eps                    float64
	policy, value          *linear
}

// loss computes the total PPO loss of the minibatch at the current
// parameters of the policy and value functions
func (u updateCase) loss(t *testing.T) float64 {
	logits, err := u.policy.Forward(u.obs)
	require.NoError(t, err)
	values, err := u.value.Forward(u.obs)
	require.NoError(t, err)

	n := float64(len(u.actions))
	var policyLoss, valueLoss, entropy float64
	for i, a := range u.actions {
		row := logits.RawRowView(i)
		lse := distribution.LogSumExp(row)
		for _, l := range row {
			p := math.Exp(l - lse)
			entropy -= p * (l - lse)
		}

		ratio := math.Exp(row[a] - lse - u.oldLogProbs[i])
		adv := u.normalizedAdv[i]
		clippedRatio := math.Max(1-u.eps, math.Min(1+u.eps, ratio))
		policyLoss += math.Max(-adv*ratio, -adv*clippedRatio)

		v := values.At(i, 0)
		vClipped := u.oldValues[i] + math.Max(-u.eps,
			math.Min(u.eps, v-u.oldValues[i]))
		valueLoss += 0.5 * math.Max(math.Pow(v-u.returns[i], 2),
			math.Pow(vClipped-u.returns[i], 2))
	}
	return policyLoss/n - EntropyCoeff*entropy/n + ValueCoeff*valueLoss/n
}

func TestUpdateMatchesFiniteDifferences(t *testing.T) {
	c := testConfig()
	c.MinibatchSize = 5
	c.MaxGradNorm = 1e6

	env := &chain{length: 3}
	policy := newLinear(2, 2)
	value := newLinear(2, 1)
	copy(data(policy.weights.w), []float64{0.3, -0.2, 0.1, 0.4})
	copy(data(policy.bias.w), []float64{0.05, -0.1})
	copy(data(value.weights.w), []float64{0.25, -0.5})
	copy(data(value.bias.w), []float64{0.2})

	// Plain gradient descent with a unit step, so that each update
	// subtracts the gradient from the parameters
	s, err := solver.NewVanilla(1, 1, -1)
	require.NoError(t, err)
	a, err := NewAgent(policy, value, s)
	require.NoError(t, err)
	p, err := New(env, a, c, WithLogger(silentLogger()))
	require.NoError(t, err)

	obs := mat.NewDense(5, 2, []float64{
		0, 1,
		1, 1,
		2, 1,
		0.5, 1,
		1.5, 1,
	})
	actions := []int{0, 1, 1, 0, 1}
	logits, err := policy.Forward(obs)
	require.NoError(t, err)
	logProbs := distribution.NewCategorical(logits).LogProb(actions)
	values, err := value.Forward(obs)
	require.NoError(t, err)

	// Ratios on both sides of the clipping range, with advantages of
	// both signs
	ratios := []float64{1.5, 0.6, 1.1, 0.9, 0.6}
	advantages := []float64{2, -1, 0.5, -3, 1}

	// Value predictions moved beyond the clipping range from their old
	// values, with and without the clipped error dominating
	oldShift := []float64{-0.5, -0.5, 0.1, 0.5, 0}
	retShift := []float64{1, -1, -0.7, -1, 2}

	u := updateCase{
		obs:           obs,
		actions:       actions,
		oldLogProbs:   make([]float64, 5),
		oldValues:     make([]float64, 5),
		returns:       make([]float64, 5),
		normalizedAdv: make([]float64, 5),
		eps:           c.ClipParam,
		policy:        policy,
		value:         value,
	}
	mean, std := stat.MeanStdDev(advantages, nil)
	for i := range actions {
		u.oldLogProbs[i] = logProbs[i] - math.Log(ratios[i])
		u.oldValues[i] = values.At(i, 0) + oldShift[i]
		u.returns[i] = values.At(i, 0) + retShift[i]
		u.normalizedAdv[i] = (advantages[i] - mean) / (std + 1e-8)
	}

	params := [][]float64{data(policy.weights.w), data(policy.bias.w),
		data(value.weights.w), data(value.bias.w)}
	const h = 1e-6
	want := make([][]float64, len(params))
	before := make([][]float64, len(params))
	for k, param := range params {
		before[k] = append([]float64(nil), param...)
		want[k] = make([]float64, len(param))
		for j := range param {
			param[j] = before[k][j] + h
			plus := u.loss(t)
			param[j] = before[k][j] - h
			minus := u.loss(t)
			param[j] = before[k][j]
			want[k][j] = (plus - minus) / (2 * h)
		}
	}
	wantLoss := u.loss(t)

	batch := gae.Batch{
		Obs:        obs,
		Actions:    actions,
		LogProbs:   u.oldLogProbs,
		Values:     u.oldValues,
		Returns:    u.returns,
		Advantages: advantages,
	}
	stats, err := p.update(batch, []int{0, 1, 2, 3, 4})
	require.NoError(t, err)

	assert.InDelta(t, wantLoss, stats.loss, 1e-12)
	assert.InDelta(t, 0.6, stats.clipFrac, 1e-12)
	for i, r := range ratios {
		assert.InDelta(t, r, stats.ratios[i], 1e-9)
	}
	for k, param := range params {
		for j := range param {
			grad := before[k][j] - param[j]
			assert.InDelta(t, want[k][j], grad, 1e-6,
				"parameter %v element %v", k, j)
		}
	}
}
