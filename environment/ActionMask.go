package environment

import "fmt"

// Masked is implemented by environments in which only some actions
// are legal at each step. ActionMask returns one entry per action,
// true if the action may be taken at the current step. A nil mask
// allows every action.
type Masked interface {
	ActionMask() []bool
}

// ActionMask returns the action mask of env at its current step, or
// nil if env does not implement Masked.
func ActionMask(env Environment) []bool {
	m, ok := env.(Masked)
	if !ok {
		return nil
	}
	return m.ActionMask()
}

// ValidateMask checks that an action mask over the given number of
// actions is well formed. A nil mask is always valid.
func ValidateMask(op string, mask []bool, actions int) error {
	if mask == nil {
		return nil
	}
	if len(mask) != actions {
		return &ResponseError{op, fmt.Sprintf("illegal action mask length "+
			"\n\twant(%v)\n\thave(%v)", actions, len(mask))}
	}
	for _, ok := range mask {
		if ok {
			return nil
		}
	}
	return &ResponseError{op, "action mask allows no actions"}
}
