package ppo

import (
	"fmt"
)

// Config represents a configuration of the PPO trainer
type Config struct {
	// ClipParam is the ε which bounds the probability ratio in the
	// surrogate objective and the change in value predictions
	ClipParam float64 `json:"clip_param" mapstructure:"clip_param"`

	Gamma  float64 `json:"gamma" mapstructure:"gamma"`   // Discount factor ℽ
	Lambda float64 `json:"lambda" mapstructure:"lambda"` // GAE λ

	// Epochs is the number of passes over each rollout, each pass
	// split into minibatches of MinibatchSize transitions
	Epochs        int `json:"epochs" mapstructure:"epochs"`
	MinibatchSize int `json:"minibatch_size" mapstructure:"minibatch_size"`

	// LearningRate is the initial learning rate, annealed linearly
	// towards zero over the training iterations
	LearningRate float64 `json:"learning_rate" mapstructure:"learning_rate"`

	// MaxGradNorm bounds the global L2 norm of the gradient of all
	// parameters before each optimizer step
	MaxGradNorm float64 `json:"max_grad_norm" mapstructure:"max_grad_norm"`
}

// Fixed coefficients of the entropy bonus and value loss in the total
// loss
const (
	EntropyCoeff = 0.01
	ValueCoeff   = 0.5
)

// DefaultConfig returns the default PPO configuration
func DefaultConfig() Config {
	return Config{
		ClipParam:     0.2,
		Gamma:         0.99,
		Lambda:        0.97,
		Epochs:        10,
		MinibatchSize: 32,
		LearningRate:  1e-3,
		MaxGradNorm:   0.5,
	}
}

// Validate checks that the Config holds legal hyperparameters. The
// returned error wraps ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case c.ClipParam <= 0:
		return c.invalid("clip parameter must be positive, have(%v)",
			c.ClipParam)
	case c.Gamma < 0 || c.Gamma > 1:
		return c.invalid("discount must be in [0, 1], have(%v)", c.Gamma)
	case c.Lambda < 0 || c.Lambda > 1:
		return c.invalid("λ must be in [0, 1], have(%v)", c.Lambda)
	case c.Epochs <= 0:
		return c.invalid("epochs must be positive, have(%v)", c.Epochs)
	case c.MinibatchSize <= 0:
		return c.invalid("minibatch size must be positive, have(%v)",
			c.MinibatchSize)
	case c.LearningRate <= 0:
		return c.invalid("learning rate must be positive, have(%v)",
			c.LearningRate)
	case c.MaxGradNorm <= 0:
		return c.invalid("max gradient norm must be positive, have(%v)",
			c.MaxGradNorm)
	}
	return nil
}

// ValidateRollout checks that rollouts of length rolloutLength can be
// split evenly into minibatches
func (c Config) ValidateRollout(rolloutLength int) error {
	if rolloutLength <= 0 {
		return c.invalid("rollout length must be positive, have(%v)",
			rolloutLength)
	}
	if rolloutLength%c.MinibatchSize != 0 {
		return c.invalid("minibatch size %v does not divide rollout "+
			"length %v", c.MinibatchSize, rolloutLength)
	}
	return nil
}

func (c Config) invalid(format string, args ...interface{}) error {
	return &Error{"validate", fmt.Errorf("%w: "+format,
		append([]interface{}{ErrInvalidConfig}, args...)...)}
}
