// Package network implements differentiable function approximators
package network

import (
	"io"

	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
)

// Function is a differentiable function approximator mapping a batch
// of input rows to a batch of output rows.
//
// Gradients are computed by Backward and stored alongside each
// parameter, where they can be read and modified through Parameters()
// before an optimizer applies them. Parameters must only be changed by
// an optimizer or by Load.
type Function interface {
	// Forward computes the output of the function on each row of x
	Forward(x *mat.Dense) (*mat.Dense, error)

	// Backward computes the gradient of Σ Forward(x) ⊙ outGrad with
	// respect to each parameter, so that outGrad is the gradient of
	// some loss with respect to the outputs of the function. The
	// gradients overwrite the gradients stored in the parameters.
	Backward(x, outGrad *mat.Dense) error

	// Parameters returns the learnable parameters with their gradients
	Parameters() []G.ValueGrad

	// Features returns the size of input rows and Outputs the size of
	// output rows
	Features() int
	Outputs() int

	Train()       // Set to training mode
	Eval()        // Set to evaluation mode
	IsEval() bool // Indicates if in evaluation mode

	// Save writes the parameters to w and Load reads them back from r
	Save(w io.Writer) error
	Load(r io.Reader) error
}
