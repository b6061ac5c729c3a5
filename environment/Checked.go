package environment

import (
	"fmt"

	"github.com/samuelfneumann/goreinforce/timestep"
)

// Checked wraps an Environment and validates each of its responses,
// as well as the actions sent to it. Invalid responses are returned as
// *ResponseError instead of being passed on to the caller.
type Checked struct {
	Environment
}

// NewChecked returns a new Checked environment wrapping env
func NewChecked(env Environment) *Checked {
	return &Checked{env}
}

// Reset resets the wrapped environment and validates the first
// TimeStep of the episode.
func (c *Checked) Reset() (timestep.TimeStep, error) {
	step, err := c.Environment.Reset()
	if err != nil {
		return step, fmt.Errorf("reset: %w", err)
	}
	return step, Validate("reset", step, c.StateSize())
}

// ActionMask returns the action mask of the wrapped environment
func (c *Checked) ActionMask() []bool {
	return ActionMask(c.Environment)
}

// Step validates the action against the action space and the action
// mask, steps the wrapped environment, and validates the returned
// TimeStep.
func (c *Checked) Step(action int) (timestep.TimeStep, error) {
	n := len(c.Actions())
	if action < 0 || action >= n {
		return timestep.TimeStep{}, &ResponseError{"step",
			fmt.Sprintf("action %v out of range [0, %v)", action, n)}
	}

	mask := ActionMask(c.Environment)
	if err := ValidateMask("step", mask, n); err != nil {
		return timestep.TimeStep{}, err
	}
	if mask != nil && !mask[action] {
		return timestep.TimeStep{}, &ResponseError{"step",
			fmt.Sprintf("action %v is masked out", action)}
	}

	step, err := c.Environment.Step(action)
	if err != nil {
		return step, fmt.Errorf("step: %w", err)
	}
	return step, Validate("step", step, c.StateSize())
}
