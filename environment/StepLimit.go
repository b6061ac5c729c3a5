package environment

import (
	"fmt"

	"github.com/samuelfneumann/goreinforce/timestep"
)

// StepLimit wraps an Environment to end episodes at a specific
// timestep limit. Once the limit is reached, the returned TimeStep is
// marked as Last.
type StepLimit struct {
	Environment
	episodeSteps int
	current      int
}

// NewStepLimit creates and returns a new step limit
func NewStepLimit(env Environment, episodeSteps int) (*StepLimit, error) {
	if episodeSteps <= 0 {
		return nil, fmt.Errorf("newStepLimit: episode step limit must be "+
			"positive, have(%v)", episodeSteps)
	}
	return &StepLimit{Environment: env, episodeSteps: episodeSteps}, nil
}

// Reset resets the wrapped environment and the step counter
func (s *StepLimit) Reset() (timestep.TimeStep, error) {
	s.current = 0
	return s.Environment.Reset()
}

// Step steps the wrapped environment, ending the episode if the step
// limit has been reached.
func (s *StepLimit) Step(action int) (timestep.TimeStep, error) {
	step, err := s.Environment.Step(action)
	if err != nil {
		return step, err
	}

	s.current++
	if s.current >= s.episodeSteps {
		step.StepType = timestep.Last
	}
	return step, nil
}

// ActionMask returns the action mask of the wrapped environment
func (s *StepLimit) ActionMask() []bool {
	return ActionMask(s.Environment)
}
