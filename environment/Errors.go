package environment

import (
	"errors"
	"fmt"
	"math"

	"github.com/samuelfneumann/goreinforce/timestep"
)

// ErrInvalidResponse is the root cause of all errors reporting that an
// environment broke its contract: a malformed observation, a
// non-numeric reward, or an action outside of the action space.
var ErrInvalidResponse = errors.New("invalid environment response")

// ResponseError implements errors unique to environment responses.
type ResponseError struct {
	Op     string
	Reason string
}

// Error satisfies the error interface
func (e *ResponseError) Error() string {
	return e.Op + ": " + ErrInvalidResponse.Error() + ": " + e.Reason
}

// Unwrap returns ErrInvalidResponse so that errors.Is can be used to
// detect ResponseErrors.
func (e *ResponseError) Unwrap() error {
	return ErrInvalidResponse
}

// IsInvalidResponse returns whether or not an error reports that an
// environment returned an invalid response.
func IsInvalidResponse(err error) bool {
	return errors.Is(err, ErrInvalidResponse)
}

// Validate checks that a TimeStep returned by an environment with
// observations of length stateSize is well formed: the observation
// must have length stateSize and both the observation and the reward
// must be finite.
func Validate(op string, t timestep.TimeStep, stateSize int) error {
	if t.Observation == nil {
		return &ResponseError{op, "missing observation"}
	}
	if l := t.Observation.Len(); l != stateSize {
		return &ResponseError{op, fmt.Sprintf("illegal observation length "+
			"\n\twant(%v)\n\thave(%v)", stateSize, l)}
	}
	if math.IsNaN(t.Reward) || math.IsInf(t.Reward, 0) {
		return &ResponseError{op, fmt.Sprintf("non-numeric reward %v",
			t.Reward)}
	}
	for i, v := range t.Obs() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ResponseError{op, fmt.Sprintf("non-numeric "+
				"observation feature %v: %v", i, v)}
		}
	}
	return nil
}
