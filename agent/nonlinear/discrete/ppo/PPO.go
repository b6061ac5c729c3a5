package ppo

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/samuelfneumann/goreinforce/agent"
	"github.com/samuelfneumann/goreinforce/buffer/gae"
	"github.com/samuelfneumann/goreinforce/environment"
	"github.com/samuelfneumann/goreinforce/experiment/checkpointer"
	"github.com/samuelfneumann/goreinforce/experiment/tracker"
	ts "github.com/samuelfneumann/goreinforce/timestep"
	"github.com/samuelfneumann/goreinforce/utils/floatutils"
)

var _ agent.Agent = &PPO{}

// Option configures optional behaviour of a PPO trainer
type Option func(*PPO)

// WithSeed seeds the source used for sampling actions and shuffling
// minibatches
func WithSeed(seed uint64) Option {
	return func(p *PPO) {
		p.src = rand.NewSource(seed)
	}
}

// WithLogger sets the logger of the trainer
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *PPO) {
		p.logger = logger.WithField("component", "ppo")
	}
}

// WithCheckpointer sets a Checkpointer which is called with the
// iteration number after each training iteration
func WithCheckpointer(c checkpointer.Checkpointer) Option {
	return func(p *PPO) {
		p.checkpointer = c
	}
}

// WithProgress sets a function called with the iteration number after
// each training iteration
func WithProgress(f func(iteration int)) Option {
	return func(p *PPO) {
		p.progress = f
	}
}

// minibatchStats summarizes a single minibatch update
type minibatchStats struct {
	indices    []int
	ratios     []float64
	policyLoss float64
	valueLoss  float64
	entropy    float64
	loss       float64
	clipFrac   float64
	approxKL   float64
}

// PPO implements the Proximal Policy Optimization trainer with a
// clipped surrogate objective and clipped value loss.
//
// Each training iteration collects a fixed number of transitions with
// the current policy into a rollout buffer, computes GAE(λ) advantages
// and returns, and then optimizes the total loss
//
//	L = Lclip - EntropyCoeff * H + ValueCoeff * Lvalue
//
// for a number of epochs over shuffled minibatches of the rollout.
// The environment is not reset between iterations, so episodes may
// span multiple rollouts.
//
// PPO is not safe for concurrent use.
type PPO struct {
	env    environment.Environment
	agent  *Agent
	config Config

	src    rand.Source
	rng    *rand.Rand
	logger logrus.FieldLogger

	checkpointer checkpointer.Checkpointer
	progress     func(int)

	log     *tracker.Log
	episode *tracker.Episode
	buffer  *gae.Buffer

	// Environment state carried between rollouts
	started  bool
	current  ts.TimeStep
	nextDone bool

	// onMinibatch, if set, is called after each minibatch update
	onMinibatch func(epoch int, stats minibatchStats)
}

// New returns a new PPO trainer of agent on env
func New(env environment.Environment, a *Agent, c Config,
	opts ...Option) (*PPO, error) {
	if err := c.Validate(); err != nil {
		return nil, &Error{"new", err}
	}
	if env.StateSize() != a.Features() {
		return nil, &Error{"new", fmt.Errorf("%w: agent observation size "+
			"%v does not match environment observation size %v",
			ErrInvalidConfig, a.Features(), env.StateSize())}
	}
	if n := len(env.Actions()); n != a.Actions() {
		return nil, &Error{"new", fmt.Errorf("%w: agent has %v actions "+
			"but environment has %v", ErrInvalidConfig, a.Actions(), n)}
	}
	if b := a.BatchSize(); b > 0 && c.MinibatchSize > b {
		return nil, &Error{"new", fmt.Errorf("%w: minibatch size %v "+
			"exceeds the agent's batch size %v", ErrInvalidConfig,
			c.MinibatchSize, b)}
	}

	log := &tracker.Log{}
	p := &PPO{
		env:     env,
		agent:   a,
		config:  c,
		src:     rand.NewSource(1),
		logger:  logrus.WithField("component", "ppo"),
		log:     log,
		episode: tracker.NewEpisode(log),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.rng = rand.New(p.src)

	return p, nil
}

// Agent returns the Agent being trained
func (p *PPO) Agent() *Agent {
	return p.agent
}

// Config returns the configuration of the trainer
func (p *PPO) Config() Config {
	return p.config
}

// Log returns the training log
func (p *PPO) Log() *tracker.Log {
	return p.log
}

// Train runs iterations rollout and optimization cycles, each
// collecting rolloutLength transitions.
func (p *PPO) Train(iterations, rolloutLength int) error {
	if iterations <= 0 {
		return &Error{"train", fmt.Errorf("%w: iterations must be "+
			"positive, have(%v)", ErrInvalidConfig, iterations)}
	}
	if err := p.config.ValidateRollout(rolloutLength); err != nil {
		return &Error{"train", err}
	}

	if p.buffer == nil || p.buffer.Cap() != rolloutLength {
		buffer, err := gae.New(p.env.StateSize(), rolloutLength,
			p.config.Gamma, p.config.Lambda)
		if err != nil {
			return &Error{"train", fmt.Errorf("%w: %v", ErrInvalidConfig,
				err)}
		}
		p.buffer = buffer
	}

	if !p.started {
		if err := p.reset(); err != nil {
			return &Error{"train", err}
		}
		p.started = true
	}

	for i := 1; i <= iterations; i++ {
		lr := p.config.LearningRate * (1 - float64(i-1)/float64(iterations))
		p.agent.Optimizer().SetLearningRate(lr)

		p.agent.Eval()
		if err := p.collect(); err != nil {
			return &Error{"train", err}
		}

		p.agent.Train()
		loss, err := p.optimize()
		if err != nil {
			return &Error{"train", err}
		}

		p.logger.WithFields(logrus.Fields{
			"iteration": i,
			"lr":        lr,
			"loss":      loss,
			"episodes":  p.log.Episodes(),
		}).Info("completed iteration")

		if p.checkpointer != nil {
			if err := p.checkpointer.Checkpoint(i); err != nil {
				return &Error{"train", err}
			}
		}
		if p.progress != nil {
			p.progress(i)
		}
	}
	return nil
}

// reset starts a new episode in the environment
func (p *PPO) reset() error {
	step, err := p.env.Reset()
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := environment.Validate("reset", step, p.env.StateSize()); err != nil {
		return err
	}
	p.episode.Track(step)
	p.current = step
	return nil
}

// collect fills the rollout buffer with transitions from the current
// policy and computes advantages and returns
func (p *PPO) collect() error {
	p.buffer.Reset()
	features := p.env.StateSize()

	for t := 0; t < p.buffer.Cap(); t++ {
		// The environment may reuse its observation vector
		obs := append([]float64(nil), p.current.Obs()...)
		mask, err := p.actionMask()
		if err != nil {
			return fmt.Errorf("collect: %w", err)
		}

		var masks [][]bool
		if mask != nil {
			masks = [][]bool{mask}
		}
		out, err := p.agent.ActionAndValue(mat.NewDense(1, features, obs),
			nil, masks, p.src)
		if err != nil {
			return fmt.Errorf("collect: %w", err)
		}
		action := out.Actions[0]

		step, err := p.env.Step(action)
		if err != nil {
			return fmt.Errorf("collect: %w", err)
		}
		if err := environment.Validate("step", step, features); err != nil {
			return fmt.Errorf("collect: %w", err)
		}

		err = p.buffer.Store(gae.Transition{
			Observation: obs,
			Action:      action,
			LogProb:     out.LogProbs[0],
			Reward:      step.Reward,
			Done:        p.nextDone,
			Value:       out.Values[0],
			Mask:        mask,
		})
		if err != nil {
			return fmt.Errorf("collect: %w", err)
		}

		p.episode.Track(step)
		p.nextDone = step.Last()
		p.current = step
		if step.Last() {
			if err := p.reset(); err != nil {
				return fmt.Errorf("collect: %w", err)
			}
		}
	}

	bootstrap, err := p.agent.Value(mat.NewDense(1, features,
		p.current.Obs()))
	if err != nil {
		return fmt.Errorf("collect: could not compute bootstrap value: %w",
			err)
	}
	if err := p.buffer.Finish(bootstrap[0], p.nextDone); err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	return nil
}

// actionMask returns a copy of the environment's current action mask,
// or nil if every action is legal
func (p *PPO) actionMask() ([]bool, error) {
	mask := environment.ActionMask(p.env)
	if err := environment.ValidateMask("actionMask", mask,
		p.agent.Actions()); err != nil {
		return nil, err
	}
	if mask == nil {
		return nil, nil
	}
	return append([]bool(nil), mask...), nil
}

// optimize runs the configured number of epochs over the rollout and
// returns the mean loss over all minibatches
func (p *PPO) optimize() (float64, error) {
	batch, err := p.buffer.Batch()
	if err != nil {
		return 0, fmt.Errorf("optimize: %w", err)
	}
	if !floatutils.AllFinite(batch.Advantages) {
		return 0, fmt.Errorf("optimize: %w: non-numeric advantages",
			ErrDiverged)
	}
	if !floatutils.AllFinite(batch.Returns) {
		return 0, fmt.Errorf("optimize: %w: non-numeric returns", ErrDiverged)
	}

	var losses, clipFracs, approxKLs []float64
	for epoch := 0; epoch < p.config.Epochs; epoch++ {
		perm := p.rng.Perm(batch.Len())
		for _, indices := range minibatches(perm, p.config.MinibatchSize) {
			stats, err := p.update(batch, indices)
			if err != nil {
				return 0, fmt.Errorf("optimize: epoch %v: %w", epoch, err)
			}
			losses = append(losses, stats.loss)
			clipFracs = append(clipFracs, stats.clipFrac)
			approxKLs = append(approxKLs, stats.approxKL)

			if p.onMinibatch != nil {
				p.onMinibatch(epoch, stats)
			}
		}
	}

	p.logger.WithFields(logrus.Fields{
		"clip_fraction": stat.Mean(clipFracs, nil),
		"approx_kl":     stat.Mean(approxKLs, nil),
		"lr":            p.agent.Optimizer().LearningRate(),
	}).Debug("optimized rollout")

	return stat.Mean(losses, nil), nil
}

// minibatches partitions perm into contiguous slices of size elements
func minibatches(perm []int, size int) [][]int {
	batches := make([][]int, 0, (len(perm)+size-1)/size)
	for start := 0; start < len(perm); start += size {
		end := start + size
		if end > len(perm) {
			end = len(perm)
		}
		batches = append(batches, perm[start:end])
	}
	return batches
}

// update performs a single gradient step on the minibatch of the
// rollout at indices
func (p *PPO) update(batch gae.Batch, indices []int) (minibatchStats, error) {
	n := len(indices)
	_, features := batch.Obs.Dims()
	eps := p.config.ClipParam

	obs := mat.NewDense(n, features, nil)
	actions := make([]int, n)
	oldLogProbs := make([]float64, n)
	oldValues := make([]float64, n)
	returns := make([]float64, n)
	adv := make([]float64, n)
	var masks [][]bool
	for i, idx := range indices {
		if m := batch.Masks; m != nil && m[idx] != nil {
			if masks == nil {
				masks = make([][]bool, n)
			}
			masks[i] = m[idx]
		}
		obs.SetRow(i, batch.Obs.RawRowView(idx))
		actions[i] = batch.Actions[idx]
		oldLogProbs[i] = batch.LogProbs[idx]
		oldValues[i] = batch.Values[idx]
		returns[i] = batch.Returns[idx]
		adv[i] = batch.Advantages[idx]
	}

	out, err := p.agent.ActionAndValue(obs, actions, masks, nil)
	if err != nil {
		return minibatchStats{}, fmt.Errorf("update: %w", err)
	}

	// Normalize advantages, a single-element minibatch has no spread
	mean, std := stat.MeanStdDev(adv, nil)
	if math.IsNaN(std) {
		std = 0
	}
	for i := range adv {
		adv[i] = (adv[i] - mean) / (std + 1e-8)
	}

	stats := minibatchStats{indices: indices, ratios: make([]float64, n)}
	logProbGrad := make([]float64, n)
	valueGrad := mat.NewDense(n, 1, nil)
	var clipped float64
	for i := 0; i < n; i++ {
		logRatio := out.LogProbs[i] - oldLogProbs[i]
		ratio := math.Exp(logRatio)
		stats.ratios[i] = ratio

		// Clipped surrogate objective
		unclippedLoss := -adv[i] * ratio
		clippedLoss := -adv[i] * floatutils.Clip(ratio, 1-eps, 1+eps)
		if unclippedLoss >= clippedLoss {
			stats.policyLoss += unclippedLoss
			logProbGrad[i] = -adv[i] * ratio / float64(n)
		} else {
			stats.policyLoss += clippedLoss
		}

		// Clipped value loss
		v := out.Values[i]
		unclippedErr := v - returns[i]
		vClipped := oldValues[i] + floatutils.Clip(v-oldValues[i], -eps, eps)
		clippedErr := vClipped - returns[i]
		if unclippedErr*unclippedErr >= clippedErr*clippedErr {
			stats.valueLoss += 0.5 * unclippedErr * unclippedErr
			valueGrad.Set(i, 0, ValueCoeff*unclippedErr/float64(n))
		} else {
			stats.valueLoss += 0.5 * clippedErr * clippedErr
			if math.Abs(v-oldValues[i]) <= eps {
				valueGrad.Set(i, 0, ValueCoeff*clippedErr/float64(n))
			}
		}

		if math.Abs(ratio-1) > eps {
			clipped++
		}
		stats.approxKL += (ratio - 1) - logRatio
	}
	stats.policyLoss /= float64(n)
	stats.valueLoss /= float64(n)
	stats.entropy = floats.Sum(out.Entropy) / float64(n)
	stats.clipFrac = clipped / float64(n)
	stats.approxKL /= float64(n)
	stats.loss = stats.policyLoss - EntropyCoeff*stats.entropy +
		ValueCoeff*stats.valueLoss

	if !floatutils.IsFinite(stats.loss) {
		return stats, fmt.Errorf("update: %w: loss is %v", ErrDiverged,
			stats.loss)
	}

	// d loss / d logits for the policy, from the surrogate objective
	// and the entropy bonus
	policyGrad := out.Dist.LogProbGrad(actions)
	for i := 0; i < n; i++ {
		floats.Scale(logProbGrad[i], policyGrad.RawRowView(i))
	}
	entropyGrad := out.Dist.EntropyGrad()
	policyGrad.Add(policyGrad, scaled(-EntropyCoeff/float64(n), entropyGrad))

	// Masked logits are constant
	for i, mask := range masks {
		row := policyGrad.RawRowView(i)
		for j, ok := range mask {
			if !ok {
				row[j] = 0
			}
		}
	}

	optimizer := p.agent.Optimizer()
	if err := optimizer.ZeroGrad(); err != nil {
		return stats, fmt.Errorf("update: %w", err)
	}
	if err := p.agent.Policy().Backward(obs, policyGrad); err != nil {
		return stats, fmt.Errorf("update: policy: %w", err)
	}
	if err := p.agent.ValueFunction().Backward(obs, valueGrad); err != nil {
		return stats, fmt.Errorf("update: value function: %w", err)
	}
	if _, err := optimizer.ClipGradNorm(p.config.MaxGradNorm); err != nil {
		return stats, fmt.Errorf("update: %w", err)
	}
	if err := optimizer.Step(); err != nil {
		return stats, fmt.Errorf("update: %w", err)
	}

	p.log.AddLoss(stats.loss)
	p.logger.WithFields(logrus.Fields{
		"loss":          stats.loss,
		"policy_loss":   stats.policyLoss,
		"value_loss":    stats.valueLoss,
		"entropy":       stats.entropy,
		"clip_fraction": stats.clipFrac,
		"approx_kl":     stats.approxKL,
	}).Debug("minibatch update")

	return stats, nil
}

func scaled(alpha float64, m *mat.Dense) *mat.Dense {
	m.Scale(alpha, m)
	return m
}

// Predict returns an action for an observation from the current
// policy. If deterministic is true, the most likely action is
// returned, otherwise an action is sampled. Predict never changes the
// parameters of the policy.
func (p *PPO) Predict(obs []float64, deterministic bool) (int, error) {
	return p.PredictMasked(obs, nil, deterministic)
}

// PredictMasked is like Predict, but only returns actions with a true
// entry in mask. A nil mask allows every action.
func (p *PPO) PredictMasked(obs []float64, mask []bool,
	deterministic bool) (int, error) {
	if len(obs) != p.agent.Features() {
		return 0, &Error{"predict", fmt.Errorf("illegal observation "+
			"length \n\twant(%v)\n\thave(%v)", p.agent.Features(), len(obs))}
	}

	var masks [][]bool
	if mask != nil {
		masks = [][]bool{mask}
	}
	dist, err := p.agent.Dist(mat.NewDense(1, len(obs), obs), masks)
	if err != nil {
		return 0, &Error{"predict", err}
	}
	if deterministic {
		return dist.Mode()[0], nil
	}
	return dist.Sample(p.src)[0], nil
}

// Eval sets the policy and value functions to evaluation mode
func (p *PPO) Eval() {
	p.agent.Eval()
}

// SetTrain sets the policy and value functions to training mode
func (p *PPO) SetTrain() {
	p.agent.Train()
}

// IsEval returns whether the policy and value functions are in
// evaluation mode
func (p *PPO) IsEval() bool {
	return p.agent.IsEval()
}

// Save saves the policy and value functions to a file
func (p *PPO) Save(filename string) error {
	if err := p.agent.Save(filename); err != nil {
		return &Error{"save", err}
	}
	return nil
}

// Load loads the policy and value functions from a file and switches
// them to evaluation mode
func (p *PPO) Load(filename string) error {
	if err := p.agent.Load(filename); err != nil {
		return &Error{"load", err}
	}
	p.Eval()
	return nil
}
