package ppo

import (
	"errors"

	"github.com/samuelfneumann/goreinforce/environment"
)

// Error implements errors unique to PPO training.
type Error struct {
	Op  string
	Err error
}

// Error satisfies the error interface
func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrInvalidConfig reports an invalid hyperparameter. Training never
// starts with an invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// ErrInvalidEnvResponse reports that the environment returned a
// malformed observation or a non-numeric reward, or was sent an
// illegal action. The rollout being collected is aborted.
var ErrInvalidEnvResponse = environment.ErrInvalidResponse

// ErrDiverged reports a NaN or infinite advantage, return, or loss.
// The minibatch being optimized is aborted before any gradient is
// applied; updates from earlier minibatches are kept.
var ErrDiverged = errors.New("training diverged")

// IsInvalidConfig returns whether or not an error reports an invalid
// configuration.
func IsInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

// IsInvalidEnvResponse returns whether or not an error reports an
// invalid environment response.
func IsInvalidEnvResponse(err error) bool {
	return errors.Is(err, ErrInvalidEnvResponse)
}

// IsDiverged returns whether or not an error reports that training
// diverged.
func IsDiverged(err error) bool {
	return errors.Is(err, ErrDiverged)
}
