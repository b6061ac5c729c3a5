// Package tracker implements trackers of training data
package tracker

import (
	"encoding/gob"
	"fmt"
	"os"

	ts "github.com/samuelfneumann/goreinforce/timestep"
)

// Tracker keeps track of training data from environment TimeSteps
type Tracker interface {
	Track(t ts.TimeStep)
}

// Log is the append-only record of a training run: the loss of every
// minibatch update and the return and length of every episode that
// finished during data collection.
type Log struct {
	Loss          []float64
	EpisodeReward []float64
	EpisodeLength []float64
}

// AddLoss records the loss of a single update
func (l *Log) AddLoss(loss float64) {
	l.Loss = append(l.Loss, loss)
}

// AddEpisode records a finished episode
func (l *Log) AddEpisode(reward float64, length int) {
	l.EpisodeReward = append(l.EpisodeReward, reward)
	l.EpisodeLength = append(l.EpisodeLength, float64(length))
}

// Episodes returns the number of finished episodes in the Log
func (l *Log) Episodes() int {
	return len(l.EpisodeReward)
}

// Save saves the Log to a file
func (l *Log) Save(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("save: could not open save file: %v", err)
	}
	defer file.Close()

	enc := gob.NewEncoder(file)
	if err = enc.Encode(l); err != nil {
		return fmt.Errorf("save: could not encode log: %v", err)
	}
	return nil
}

// LoadLog loads and returns the Log saved to a file
func LoadLog(filename string) (*Log, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("loadLog: could not open data file: %v", err)
	}
	defer file.Close()

	var l Log
	if err = gob.NewDecoder(file).Decode(&l); err != nil {
		return nil, fmt.Errorf("loadLog: could not decode data: %v", err)
	}
	return &l, nil
}
