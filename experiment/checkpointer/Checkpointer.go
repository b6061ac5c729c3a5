// Package checkpointer implements periodic saving of training
// progress
package checkpointer

// Saver is an object that can be saved to a file
type Saver interface {
	Save(filename string) error
}

// Checkpointer checkpoints/saves objects based on the number of
// training iterations completed
type Checkpointer interface {
	Checkpoint(iteration int) error
}
