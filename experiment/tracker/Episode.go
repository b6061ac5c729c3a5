package tracker

import ts "github.com/samuelfneumann/goreinforce/timestep"

// Episode tracks the return and length of episodes and records them in
// a Log when each episode ends. Episodes which have not finished are
// never recorded.
//
// Track should be called with every TimeStep returned by the
// environment, including the first TimeStep of each episode.
type Episode struct {
	log *Log

	currentReturn float64
	currentLength int
}

// NewEpisode returns a new Episode Tracker recording into log
func NewEpisode(log *Log) *Episode {
	return &Episode{log: log}
}

// Track tracks the reward of a TimeStep. On the first TimeStep of an
// episode, the accumulated return is discarded and the reward is
// ignored, since it was not the result of an action.
func (e *Episode) Track(step ts.TimeStep) {
	if step.First() {
		e.currentReturn = 0
		e.currentLength = 0
		return
	}

	e.currentReturn += step.Reward
	e.currentLength++

	if step.Last() {
		e.log.AddEpisode(e.currentReturn, e.currentLength)
		e.currentReturn = 0
		e.currentLength = 0
	}
}

// Return returns the return accumulated in the current episode
func (e *Episode) Return() float64 {
	return e.currentReturn
}

// Length returns the number of steps taken in the current episode
func (e *Episode) Length() int {
	return e.currentLength
}
