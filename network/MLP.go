package network

import (
	"encoding/gob"
	"fmt"
	"io"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// MLPConfig describes the architecture of an MLP
type MLPConfig struct {
	// HiddenSizes[i] is the number of units in hidden layer i and
	// Activations[i] its activation
	HiddenSizes []int
	Activations []*Activation

	// HiddenGain scales the orthogonal initialization of hidden layers
	// and OutputGain that of the final linear layer
	HiddenGain float64
	OutputGain float64

	// Seed seeds the weight initialization
	Seed uint64
}

// DefaultMLPConfig returns two hidden layers of 64 tanh units
func DefaultMLPConfig() MLPConfig {
	return MLPConfig{
		HiddenSizes: []int{64, 64},
		Activations: []*Activation{TanH(), TanH()},
		HiddenGain:  math.Sqrt2,
		OutputGain:  1.0,
	}
}

// Validate checks that the configuration describes a legal network
func (m MLPConfig) Validate() error {
	if len(m.HiddenSizes) != len(m.Activations) {
		return fmt.Errorf("validate: invalid number of activations"+
			"\n\twant(%d)\n\thave(%d)", len(m.HiddenSizes), len(m.Activations))
	}
	for i, size := range m.HiddenSizes {
		if size <= 0 {
			return fmt.Errorf("validate: hidden layer %d must have a "+
				"positive size, have(%v)", i, size)
		}
		if m.Activations[i] == nil {
			return fmt.Errorf("validate: hidden layer %d has no activation", i)
		}
	}
	if m.HiddenGain <= 0 || m.OutputGain <= 0 {
		return fmt.Errorf("validate: gains must be positive, have(%v, %v)",
			m.HiddenGain, m.OutputGain)
	}
	return nil
}

// MLP implements a multi-layered perceptron over a gorgonia
// computational graph. The MLP has len(HiddenSizes) + 1 layers, the
// final one linear with Outputs() units.
//
// The graph is built for a fixed batch size. Inputs with fewer rows
// are padded with zeroes, and only the leading rows of the prediction
// are returned. Gradients are computed by injecting the gradient of
// the loss with respect to the outputs into the graph as the surrogate
// cost Σ pred ⊙ outGrad.
//
// Each call to Forward or Backward overwrites the gradients stored in
// the parameters. Forward runs the whole graph with a zero output
// gradient, so that the stored gradients are zero after it returns.
type MLP struct {
	g          *G.ExprGraph
	layers     []*fcLayer
	input      *G.Node
	outGrad    *G.Node
	prediction *G.Node
	predVal    G.Value
	learnables G.Nodes
	vm         G.VM

	features  int
	outputs   int
	batchSize int
	config    MLPConfig

	eval bool

	// Padded input and output gradient backing data
	inputData   []float64
	outGradData []float64
}

// NewMLP returns a new MLP mapping features inputs to outputs outputs
// which processes at most batch rows at once.
func NewMLP(features, outputs, batch int, config MLPConfig) (*MLP, error) {
	if features <= 0 || outputs <= 0 || batch <= 0 {
		return nil, fmt.Errorf("newMLP: features, outputs, and batch must "+
			"be positive, have(%v, %v, %v)", features, outputs, batch)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("newMLP: %w", err)
	}

	g := G.NewGraph()
	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("input"), G.WithInit(G.Zeroes()))

	src := rand.NewSource(config.Seed)
	layers := make([]*fcLayer, 0, len(config.HiddenSizes)+1)
	in := features
	for i, size := range config.HiddenSizes {
		init := Orthogonal(config.HiddenGain, src)
		layers = append(layers, newFCLayer(g, in, size, config.Activations[i],
			init, i))
		in = size
	}
	layers = append(layers, newFCLayer(g, in, outputs, Identity(),
		Orthogonal(config.OutputGain, src), len(config.HiddenSizes)))

	learnables := make(G.Nodes, 0, 2*len(layers))
	for _, l := range layers {
		learnables = append(learnables, l.Weights(), l.Bias())
	}

	net := &MLP{
		g:           g,
		layers:      layers,
		input:       input,
		learnables:  learnables,
		features:    features,
		outputs:     outputs,
		batchSize:   batch,
		config:      config,
		inputData:   make([]float64, batch*features),
		outGradData: make([]float64, batch*outputs),
	}

	pred, err := net.fwd(input)
	if err != nil {
		return nil, fmt.Errorf("newMLP: could not compute forward pass: %v",
			err)
	}
	net.prediction = pred
	G.Read(net.prediction, &net.predVal)

	net.outGrad = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, outputs),
		G.WithName("outGrad"), G.WithInit(G.Zeroes()))
	cost, err := G.HadamardProd(pred, net.outGrad)
	if err != nil {
		return nil, fmt.Errorf("newMLP: could not construct cost: %v", err)
	}
	cost, err = G.Sum(cost)
	if err != nil {
		return nil, fmt.Errorf("newMLP: could not construct cost: %v", err)
	}
	if _, err := G.Grad(cost, learnables...); err != nil {
		return nil, fmt.Errorf("newMLP: could not compute gradient: %v", err)
	}

	net.vm = G.NewTapeMachine(g, G.BindDualValues(learnables...))
	return net, nil
}

// fwd adds the forward pass of the layers to the graph
func (m *MLP) fwd(input *G.Node) (*G.Node, error) {
	pred := input
	var err error
	for i, l := range m.layers {
		if pred, err = l.fwd(pred); err != nil {
			return nil, fmt.Errorf("fwd: could not compute layer %d: %v", i,
				err)
		}
	}
	return pred, nil
}

// Forward implements the Function interface
func (m *MLP) Forward(x *mat.Dense) (*mat.Dense, error) {
	rows, err := m.setInput(x)
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	for i := range m.outGradData {
		m.outGradData[i] = 0
	}
	if err := m.run(); err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}

	pred := m.predVal.Data().([]float64)
	out := mat.NewDense(rows, m.outputs, nil)
	copy(out.RawMatrix().Data, pred[:rows*m.outputs])
	return out, nil
}

// Backward implements the Function interface
func (m *MLP) Backward(x, outGrad *mat.Dense) error {
	rows, err := m.setInput(x)
	if err != nil {
		return fmt.Errorf("backward: %w", err)
	}
	if r, c := outGrad.Dims(); r != rows || c != m.outputs {
		return fmt.Errorf("backward: illegal output gradient shape "+
			"\n\twant(%v, %v)\n\thave(%v, %v)", rows, m.outputs, r, c)
	}

	for i := range m.outGradData {
		m.outGradData[i] = 0
	}
	for r := 0; r < rows; r++ {
		copy(m.outGradData[r*m.outputs:(r+1)*m.outputs], outGrad.RawRowView(r))
	}

	if err := m.run(); err != nil {
		return fmt.Errorf("backward: %w", err)
	}
	return nil
}

// setInput copies x into the padded input buffer and returns the
// number of rows in x
func (m *MLP) setInput(x *mat.Dense) (int, error) {
	rows, cols := x.Dims()
	if cols != m.features {
		return 0, fmt.Errorf("illegal number of features \n\twant(%v)"+
			"\n\thave(%v)", m.features, cols)
	}
	if rows > m.batchSize || rows == 0 {
		return 0, fmt.Errorf("illegal number of rows %v for batch size %v",
			rows, m.batchSize)
	}

	for i := range m.inputData {
		m.inputData[i] = 0
	}
	for r := 0; r < rows; r++ {
		copy(m.inputData[r*m.features:(r+1)*m.features], x.RawRowView(r))
	}
	return rows, nil
}

// run binds the input and output gradient to the graph and runs it
func (m *MLP) run() error {
	inputTensor := tensor.NewDense(tensor.Float64, m.input.Shape(),
		tensor.WithBacking(m.inputData))
	if err := G.Let(m.input, inputTensor); err != nil {
		return fmt.Errorf("could not set input: %v", err)
	}

	outGradTensor := tensor.NewDense(tensor.Float64, m.outGrad.Shape(),
		tensor.WithBacking(m.outGradData))
	if err := G.Let(m.outGrad, outGradTensor); err != nil {
		return fmt.Errorf("could not set output gradient: %v", err)
	}

	// Dual values accumulate gradients over runs
	for _, l := range m.learnables {
		grad, err := l.Grad()
		if err != nil {
			// Not yet bound before the first run
			continue
		}
		data, ok := grad.Data().([]float64)
		if !ok {
			return fmt.Errorf("gradient of %v is not a float64 tensor",
				l.Name())
		}
		for i := range data {
			data[i] = 0
		}
	}

	m.vm.Reset()
	if err := m.vm.RunAll(); err != nil {
		return fmt.Errorf("could not run graph: %v", err)
	}
	return nil
}

// Parameters implements the Function interface
func (m *MLP) Parameters() []G.ValueGrad {
	model := make([]G.ValueGrad, len(m.learnables))
	for i, l := range m.learnables {
		model[i] = l
	}
	return model
}

// Features returns the number of input features
func (m *MLP) Features() int { return m.features }

// Outputs returns the number of outputs
func (m *MLP) Outputs() int { return m.outputs }

// BatchSize returns the maximum number of rows processed at once
func (m *MLP) BatchSize() int { return m.batchSize }

// Train sets the MLP to training mode
func (m *MLP) Train() { m.eval = false }

// Eval sets the MLP to evaluation mode
func (m *MLP) Eval() { m.eval = true }

// IsEval returns whether the MLP is in evaluation mode
func (m *MLP) IsEval() bool { return m.eval }

// mlpGob is the serialized form of an MLP
type mlpGob struct {
	Features    int
	Outputs     int
	HiddenSizes []int
	Activations []*Activation
	Weights     [][]float64
}

// Save writes the architecture and weights of the MLP to w
func (m *MLP) Save(w io.Writer) error {
	weights := make([][]float64, len(m.learnables))
	for i, l := range m.learnables {
		data, ok := l.Value().Data().([]float64)
		if !ok {
			return fmt.Errorf("save: learnable %v is not a float64 tensor",
				l.Name())
		}
		weights[i] = append([]float64(nil), data...)
	}

	enc := gob.NewEncoder(w)
	err := enc.Encode(mlpGob{
		Features:    m.features,
		Outputs:     m.outputs,
		HiddenSizes: m.config.HiddenSizes,
		Activations: m.config.Activations,
		Weights:     weights,
	})
	if err != nil {
		return fmt.Errorf("save: could not encode network: %v", err)
	}
	return nil
}

// Load reads weights written by Save into the MLP. The architecture
// stored in r must match that of the MLP.
func (m *MLP) Load(r io.Reader) error {
	var saved mlpGob
	if err := gob.NewDecoder(r).Decode(&saved); err != nil {
		return fmt.Errorf("load: could not decode network: %v", err)
	}

	if saved.Features != m.features || saved.Outputs != m.outputs {
		return fmt.Errorf("load: illegal shape \n\twant(%v -> %v)"+
			"\n\thave(%v -> %v)", m.features, m.outputs, saved.Features,
			saved.Outputs)
	}
	if len(saved.HiddenSizes) != len(m.config.HiddenSizes) {
		return fmt.Errorf("load: illegal number of hidden layers "+
			"\n\twant(%v)\n\thave(%v)", len(m.config.HiddenSizes),
			len(saved.HiddenSizes))
	}
	for i := range saved.HiddenSizes {
		if saved.HiddenSizes[i] != m.config.HiddenSizes[i] {
			return fmt.Errorf("load: illegal size for hidden layer %d "+
				"\n\twant(%v)\n\thave(%v)", i, m.config.HiddenSizes[i],
				saved.HiddenSizes[i])
		}
		if saved.Activations[i].String() != m.config.Activations[i].String() {
			return fmt.Errorf("load: illegal activation for hidden layer %d "+
				"\n\twant(%v)\n\thave(%v)", i, m.config.Activations[i],
				saved.Activations[i])
		}
	}
	if len(saved.Weights) != len(m.learnables) {
		return fmt.Errorf("load: illegal number of parameters \n\twant(%v)"+
			"\n\thave(%v)", len(m.learnables), len(saved.Weights))
	}

	for i, l := range m.learnables {
		data := l.Value().Data().([]float64)
		if len(data) != len(saved.Weights[i]) {
			return fmt.Errorf("load: illegal size for parameter %v "+
				"\n\twant(%v)\n\thave(%v)", l.Name(), len(data),
				len(saved.Weights[i]))
		}
		copy(data, saved.Weights[i])
	}
	return nil
}
