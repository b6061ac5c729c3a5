// Package ppo implements the Proximal Policy Optimization actor-critic
// algorithm for environments with discrete actions,
// https://arxiv.org/abs/1707.06347.
package ppo

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goreinforce/distribution"
	"github.com/samuelfneumann/goreinforce/network"
	"github.com/samuelfneumann/goreinforce/solver"
)

// Output is the result of running an Agent on a batch of observations
type Output struct {
	Actions  []int
	LogProbs []float64
	Entropy  []float64
	Values   []float64

	// Dist is the policy's action distribution for each observation
	Dist *distribution.Categorical
}

// Agent owns the policy and value functions of an actor-critic agent
// together with the single Optimizer which updates both. The policy
// function outputs one logit per action and the value function a
// single state value.
type Agent struct {
	policy    network.Function
	value     network.Function
	optimizer *solver.Optimizer
}

// NewAgent returns a new Agent whose policy and value functions are
// jointly optimized by an Optimizer created from s.
func NewAgent(policy, value network.Function, s *solver.Solver) (*Agent,
	error) {
	if policy.Features() != value.Features() {
		return nil, fmt.Errorf("newAgent: policy and value functions have "+
			"different input sizes (%v, %v)", policy.Features(),
			value.Features())
	}
	if value.Outputs() != 1 {
		return nil, fmt.Errorf("newAgent: value function must have a single "+
			"output, have(%v)", value.Outputs())
	}

	optimizer, err := solver.NewOptimizer(s, policy.Parameters(),
		value.Parameters())
	if err != nil {
		return nil, fmt.Errorf("newAgent: %w", err)
	}

	return &Agent{
		policy:    policy,
		value:     value,
		optimizer: optimizer,
	}, nil
}

// NewMLPAgent returns a new Agent with MLP policy and value functions
// over observations with features features and actions actions. Both
// functions process at most batch observations at once. The final
// layer of the policy is initialized with a small gain so that the
// initial policy is close to uniform.
func NewMLPAgent(features, actions, batch int, config network.MLPConfig,
	s *solver.Solver) (*Agent, error) {
	policyConfig := config
	policyConfig.OutputGain = 0.01
	policy, err := network.NewMLP(features, actions, batch, policyConfig)
	if err != nil {
		return nil, fmt.Errorf("newMLPAgent: could not create policy: %w",
			err)
	}

	valueConfig := config
	valueConfig.OutputGain = 1.0
	valueConfig.Seed = config.Seed + 1
	value, err := network.NewMLP(features, 1, batch, valueConfig)
	if err != nil {
		return nil, fmt.Errorf("newMLPAgent: could not create value "+
			"function: %w", err)
	}

	return NewAgent(policy, value, s)
}

// Policy returns the policy function
func (a *Agent) Policy() network.Function {
	return a.policy
}

// ValueFunction returns the value function
func (a *Agent) ValueFunction() network.Function {
	return a.value
}

// Optimizer returns the Optimizer of the policy and value functions
func (a *Agent) Optimizer() *solver.Optimizer {
	return a.optimizer
}

// Features returns the size of observations
func (a *Agent) Features() int {
	return a.policy.Features()
}

// Actions returns the number of actions
func (a *Agent) Actions() int {
	return a.policy.Outputs()
}

// batchSizer is implemented by functions which process a bounded
// number of rows at once
type batchSizer interface {
	BatchSize() int
}

// BatchSize returns the largest number of observations the policy and
// value functions can process at once, or 0 if there is no limit.
func (a *Agent) BatchSize() int {
	size := 0
	for _, f := range []network.Function{a.policy, a.value} {
		b, ok := f.(batchSizer)
		if ok && (size == 0 || b.BatchSize() < size) {
			size = b.BatchSize()
		}
	}
	return size
}

// Dist returns the action distribution of the policy at each row of
// obs. If masks is not nil, masks[i] restricts the actions of row i to
// those with a true entry, and a nil masks[i] leaves row i unmasked.
func (a *Agent) Dist(obs *mat.Dense, masks [][]bool) (
	*distribution.Categorical, error) {
	logits, err := a.policy.Forward(obs)
	if err != nil {
		return nil, fmt.Errorf("dist: could not compute logits: %w", err)
	}
	if masks != nil {
		if r, _ := obs.Dims(); len(masks) != r {
			return nil, fmt.Errorf("dist: illegal number of masks "+
				"\n\twant(%v)\n\thave(%v)", r, len(masks))
		}
		if err := distribution.Mask(logits, masks); err != nil {
			return nil, fmt.Errorf("dist: %w", err)
		}
	}
	return distribution.NewCategorical(logits), nil
}

// ActionAndValue runs the policy and value functions on each row of
// obs, with the policy's actions restricted by masks as in Dist. If
// actions is nil, one action per row is sampled from the policy using
// src, otherwise the log probabilities of the given actions are
// computed.
func (a *Agent) ActionAndValue(obs *mat.Dense, actions []int,
	masks [][]bool, src rand.Source) (Output, error) {
	dist, err := a.Dist(obs, masks)
	if err != nil {
		return Output{}, fmt.Errorf("actionAndValue: %w", err)
	}

	if actions == nil {
		actions = dist.Sample(src)
	} else if r, _ := obs.Dims(); len(actions) != r {
		return Output{}, fmt.Errorf("actionAndValue: illegal number of "+
			"actions \n\twant(%v)\n\thave(%v)", r, len(actions))
	}
	for _, act := range actions {
		if act < 0 || act >= a.Actions() {
			return Output{}, fmt.Errorf("actionAndValue: action %v out of "+
				"range [0, %v)", act, a.Actions())
		}
	}

	values, err := a.Value(obs)
	if err != nil {
		return Output{}, fmt.Errorf("actionAndValue: %w", err)
	}

	return Output{
		Actions:  actions,
		LogProbs: dist.LogProb(actions),
		Entropy:  dist.Entropy(),
		Values:   values,
		Dist:     dist,
	}, nil
}

// Value returns the value estimate of each row of obs
func (a *Agent) Value(obs *mat.Dense) ([]float64, error) {
	out, err := a.value.Forward(obs)
	if err != nil {
		return nil, fmt.Errorf("value: could not compute values: %w", err)
	}
	return mat.Col(nil, 0, out), nil
}

// Train sets the policy and value functions to training mode
func (a *Agent) Train() {
	a.policy.Train()
	a.value.Train()
}

// Eval sets the policy and value functions to evaluation mode
func (a *Agent) Eval() {
	a.policy.Eval()
	a.value.Eval()
}

// IsEval returns whether the Agent is in evaluation mode
func (a *Agent) IsEval() bool {
	return a.policy.IsEval() && a.value.IsEval()
}

// agentGob is the serialized form of an Agent
type agentGob struct {
	Policy []byte
	Value  []byte
}

// Save saves the policy and value functions to a file
func (a *Agent) Save(filename string) error {
	var policy, value bytes.Buffer
	if err := a.policy.Save(&policy); err != nil {
		return fmt.Errorf("save: could not save policy: %w", err)
	}
	if err := a.value.Save(&value); err != nil {
		return fmt.Errorf("save: could not save value function: %w", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("save: could not open save file: %v", err)
	}
	defer file.Close()

	err = gob.NewEncoder(file).Encode(agentGob{policy.Bytes(), value.Bytes()})
	if err != nil {
		return fmt.Errorf("save: could not encode agent: %v", err)
	}
	return nil
}

// Load loads the policy and value functions saved to a file by Save
func (a *Agent) Load(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("load: could not open file: %v", err)
	}
	defer file.Close()

	var saved agentGob
	if err := gob.NewDecoder(file).Decode(&saved); err != nil {
		return fmt.Errorf("load: could not decode agent: %v", err)
	}

	if err := a.policy.Load(bytes.NewReader(saved.Policy)); err != nil {
		return fmt.Errorf("load: could not load policy: %w", err)
	}
	if err := a.value.Load(bytes.NewReader(saved.Value)); err != nil {
		return fmt.Errorf("load: could not load value function: %w", err)
	}
	return nil
}
