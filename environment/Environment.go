// Package environment outlines the interfaces and structs needed to
// implement concrete discrete-action environments
package environment

import (
	"github.com/samuelfneumann/goreinforce/timestep"
)

// Environment implements a simulated environment with a discrete,
// ordered action space.
//
// Reset starts a new episode and returns its First TimeStep. Step takes
// the action with the given index in Actions() and returns the next
// TimeStep; a Last TimeStep marks the end of the episode, after which
// Reset must be called before stepping again.
type Environment interface {
	Reset() (timestep.TimeStep, error)
	Step(action int) (timestep.TimeStep, error)

	// StateSize returns the length of observation vectors
	StateSize() int

	// Actions returns the names of the actions, in index order. The
	// number of actions available is len(Actions()).
	Actions() []string
}
