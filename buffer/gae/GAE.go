// Package gae implements a fixed-horizon rollout buffer with
// generalized advantage estimation
package gae

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// State is the state of a Buffer
type State int

const (
	// Collecting denotes a Buffer that is being filled with transitions
	Collecting State = iota

	// Complete denotes a full Buffer whose bootstrap value is known
	Complete

	// Consumed denotes a Buffer whose advantages and returns have been
	// computed
	Consumed
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "Collecting"
	case Complete:
		return "Complete"
	default:
		return "Consumed"
	}
}

// Transition is a single discrete interaction step
type Transition struct {
	Observation []float64
	Action      int

	// LogProb is the log probability of Action under the policy at
	// collection time
	LogProb float64
	Reward  float64

	// Done is whether the episode had ended before this step's
	// observation, i.e. whether Observation is the first observation
	// of a new episode that follows a terminal transition
	Done bool

	// Value is the value estimate of Observation at collection time
	Value float64

	// Mask holds the actions which were legal at Observation, or nil
	// if every action was legal
	Mask []bool
}

// Batch holds the flattened contents of a Buffer. The slices are
// views into the Buffer's storage and are overwritten when the Buffer
// is reused.
type Batch struct {
	Obs        *mat.Dense // (T, D)
	Actions    []int
	LogProbs   []float64
	Rewards    []float64
	Dones      []bool
	Values     []float64
	Advantages []float64
	Returns    []float64

	// Masks[t] is nil if every action was legal at step t
	Masks [][]bool
}

// Len returns the number of transitions in the Batch
func (b Batch) Len() int {
	return len(b.Actions)
}

// Buffer implements a GAE(λ) rollout buffer of exactly T transitions
// following https://arxiv.org/abs/1506.02438.
//
// All storage is allocated once and overwritten in place on every
// rollout. A Buffer moves through the states
//
//	Collecting -> Complete -> Consumed -> (Reset) -> Collecting
//
// Store is only valid while Collecting, Finish moves a full Buffer
// to Consumed after recording its bootstrap value, and Batch is only
// valid once Consumed.
type Buffer struct {
	obsSize int // Size of state observations
	maxSize int // Rollout length T

	currentPos int
	state      State

	lambda float64 // λ for GAE(λ) calculation
	gamma  float64 // Discount factor ℽ

	bootstrap float64
	lastDone  bool

	// Buffers for storing data
	obsBuffer  []float64
	actBuffer  []int
	logPBuffer []float64
	rewBuffer  []float64
	doneBuffer []bool
	valBuffer  []float64
	advBuffer  []float64
	retBuffer  []float64

	// Slots of maskBuffer keep their storage across rollouts, and
	// masks[t] either views maskBuffer[t] or is nil
	maskBuffer [][]bool
	masks      [][]bool
}

// New creates and returns a new GAE(λ) buffer holding size
// transitions with observations of length obsDim.
func New(obsDim, size int, gamma, lambda float64) (*Buffer, error) {
	if obsDim <= 0 {
		return nil, fmt.Errorf("new: observation size must be positive, "+
			"have(%v)", obsDim)
	}
	if size <= 0 {
		return nil, fmt.Errorf("new: buffer size must be positive, have(%v)",
			size)
	}

	return &Buffer{
		obsSize:    obsDim,
		maxSize:    size,
		state:      Collecting,
		lambda:     lambda,
		gamma:      gamma,
		obsBuffer:  make([]float64, size*obsDim),
		actBuffer:  make([]int, size),
		logPBuffer: make([]float64, size),
		rewBuffer:  make([]float64, size),
		doneBuffer: make([]bool, size),
		valBuffer:  make([]float64, size),
		advBuffer:  make([]float64, size),
		retBuffer:  make([]float64, size),
		maskBuffer: make([][]bool, size),
		masks:      make([][]bool, size),
	}, nil
}

// State returns the current state of the Buffer
func (b *Buffer) State() State {
	return b.state
}

// Len returns the number of transitions stored in the current rollout
func (b *Buffer) Len() int {
	return b.currentPos
}

// Cap returns the rollout length T of the Buffer
func (b *Buffer) Cap() int {
	return b.maxSize
}

// Store writes a single transition to the next slot of the Buffer.
func (b *Buffer) Store(t Transition) error {
	if b.state != Collecting {
		return &BufferError{"store", errNotCollecting}
	}
	if b.currentPos >= b.maxSize {
		return &BufferError{"store", errFull}
	}
	if len(t.Observation) != b.obsSize {
		return fmt.Errorf("store: illegal obs length \n\twant(%v)\n\thave(%v)",
			b.obsSize, len(t.Observation))
	}

	start := b.currentPos * b.obsSize
	copy(b.obsBuffer[start:start+b.obsSize], t.Observation)

	b.actBuffer[b.currentPos] = t.Action
	b.logPBuffer[b.currentPos] = t.LogProb
	b.rewBuffer[b.currentPos] = t.Reward
	b.doneBuffer[b.currentPos] = t.Done
	b.valBuffer[b.currentPos] = t.Value

	if t.Mask == nil {
		b.masks[b.currentPos] = nil
	} else {
		slot := append(b.maskBuffer[b.currentPos][:0], t.Mask...)
		b.maskBuffer[b.currentPos] = slot
		b.masks[b.currentPos] = slot
	}
	b.currentPos++
	return nil
}

// Finish completes the rollout and computes advantages and returns.
//
// The bootstrap argument is the value estimate of the observation
// following the last stored transition, and done denotes whether the
// last stored transition ended its episode. If done is true, the
// bootstrap value is ignored.
func (b *Buffer) Finish(bootstrap float64, done bool) error {
	if b.state != Collecting {
		return &BufferError{"finish", errNotCollecting}
	}
	if b.currentPos != b.maxSize {
		return &BufferError{"finish", errIncomplete}
	}

	b.bootstrap = bootstrap
	b.lastDone = done
	b.state = Complete

	adv, ret := Compute(b.rewBuffer, b.valBuffer, b.doneBuffer, bootstrap,
		done, b.gamma, b.lambda)
	copy(b.advBuffer, adv)
	copy(b.retBuffer, ret)

	b.state = Consumed
	return nil
}

// Batch returns the flattened rollout. The Buffer must be Consumed.
func (b *Buffer) Batch() (Batch, error) {
	if b.state != Consumed {
		return Batch{}, &BufferError{"batch", errNotConsumed}
	}

	return Batch{
		Obs:        mat.NewDense(b.maxSize, b.obsSize, b.obsBuffer),
		Actions:    b.actBuffer,
		LogProbs:   b.logPBuffer,
		Rewards:    b.rewBuffer,
		Dones:      b.doneBuffer,
		Values:     b.valBuffer,
		Advantages: b.advBuffer,
		Returns:    b.retBuffer,
		Masks:      b.masks,
	}, nil
}

// Reset returns the Buffer to the Collecting state. Storage is kept
// and overwritten by the next rollout.
func (b *Buffer) Reset() {
	b.currentPos = 0
	b.state = Collecting
}

// Compute computes generalized advantage estimates and returns over a
// single rollout.
//
// dones[t] denotes that the episode ended before step t, so that
// advantages are not propagated from step t back to step t-1. The done
// argument plays the role of dones[T] for the transition following the
// rollout, and bootstrap is the value estimate of that transition's
// observation. The recurrence is computed backward from t = T-1:
//
//	δ(t) = r(t) + ℽ v(t+1) (1 - d(t+1)) - v(t)
//	A(t) = δ(t) + ℽλ (1 - d(t+1)) A(t+1)
//	R(t) = A(t) + v(t)
//
// with v(T) = bootstrap, d(T) = done, and A(T) = 0.
func Compute(rewards, values []float64, dones []bool, bootstrap float64,
	done bool, gamma, lambda float64) (advantages, returns []float64) {
	n := len(rewards)
	if len(values) != n || len(dones) != n {
		panic(fmt.Sprintf("compute: mismatched lengths rewards(%v) "+
			"values(%v) dones(%v)", n, len(values), len(dones)))
	}

	advantages = make([]float64, n)
	returns = make([]float64, n)

	var lastAdv float64
	for t := n - 1; t >= 0; t-- {
		var nextNonTerminal, nextValue float64
		if t == n-1 {
			nextNonTerminal = nonTerminal(done)
			nextValue = bootstrap
		} else {
			nextNonTerminal = nonTerminal(dones[t+1])
			nextValue = values[t+1]
		}

		delta := rewards[t] + gamma*nextValue*nextNonTerminal - values[t]
		lastAdv = delta + gamma*lambda*nextNonTerminal*lastAdv
		advantages[t] = lastAdv
		returns[t] = lastAdv + values[t]
	}
	return advantages, returns
}

func nonTerminal(done bool) float64 {
	if done {
		return 0
	}
	return 1
}
