// Package agent defines an agent interface
package agent

// Agent determines the implementation details of an agent or algorithm
//
// An Agent is composed of a Learner, which learns weights, and a Policy
// which chooses actions in each state. The Policy and Learner share the
// same weights, so that any changes the Learner makes to the weights
// are reflected in the actions the Policy chooses.
type Agent interface {
	Learner
	Policy
	Serializable
}

// Learner implements a learning algorithm that defines how weights are
// updated.
type Learner interface {
	// Train runs iterations cycles of collecting rolloutLength
	// transitions from the environment and updating the weights
	Train(iterations, rolloutLength int) error
}

// Policy represents a policy that an agent can have.
//
// Policies determine how agents select actions in a discrete action
// space, where each action is represented by its index.
type Policy interface {
	// Predict returns the action to take given an observation. If
	// deterministic is true, the most likely action is returned.
	Predict(obs []float64, deterministic bool) (int, error)

	Eval()        // Set policy to evaluation mode
	SetTrain()    // Set policy to training mode
	IsEval() bool // Indicates if in evaluation mode
}

// Serializable is an agent whose weights can be saved to and loaded
// from files
type Serializable interface {
	Save(filename string) error
	Load(filename string) error
}
