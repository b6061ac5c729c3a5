package gae

import "errors"

// BufferError implements errors unique to a rollout buffer.
type BufferError struct {
	Op  string
	Err error
}

// Error satisfies the error interface
func (e *BufferError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error
func (e *BufferError) Unwrap() error {
	return e.Err
}

var errFull = errors.New("cannot add new transition, buffer at maximum " +
	"capacity")

var errIncomplete = errors.New("buffer must be full before finishing " +
	"the rollout")

var errNotCollecting = errors.New("buffer is not collecting transitions")

var errNotConsumed = errors.New("advantages have not been computed")

// IsFull returns whether or not an error reports that a transition was
// stored in a full buffer.
func IsFull(err error) bool {
	return errors.Is(err, errFull)
}

// IsIncomplete returns whether or not an error reports that a rollout
// was finished before all of its transitions were stored.
func IsIncomplete(err error) bool {
	return errors.Is(err, errIncomplete)
}

// IsWrongState returns whether or not an error reports that an
// operation was performed on a buffer in the wrong State.
func IsWrongState(err error) bool {
	return errors.Is(err, errNotCollecting) || errors.Is(err, errNotConsumed)
}
