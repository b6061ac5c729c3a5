// Package solver describes Gorgonia Solvers through configurations
// which can be JSON serialized into configuration files, and implements
// an Optimizer which applies them to the parameters of functions with
// an annealed learning rate.
package solver

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	G "gorgonia.org/gorgonia"
)

// Type describes different types of solvers that are available
type Type string

// Available solver types
const (
	Adam    Type = "Adam"
	Vanilla Type = "Vanilla"
	RMSProp Type = "RMSProp"
)

// configTypes maps each solver Type to the concrete type of its Config
var configTypes = map[Type]reflect.Type{
	Adam:    reflect.TypeOf(AdamConfig{}),
	Vanilla: reflect.TypeOf(VanillaConfig{}),
	RMSProp: reflect.TypeOf(RMSPropConfig{}),
}

// ParseType returns the solver Type with the given name, ignoring case
func ParseType(name string) (Type, error) {
	for t := range configTypes {
		if strings.EqualFold(string(t), name) {
			return t, nil
		}
	}
	return "", fmt.Errorf("parseType: unknown solver type %q", name)
}

// Solver is a serializable description of a Gorgonia Solver. The
// Gorgonia Solver itself is created from the Config by each Optimizer,
// so that Solver state is never shared.
//
// Solvers are JSON encoded as
//
//	{"type": "Adam", "config": {"step_size": 0.001, ...}}
type Solver struct {
	Type   `json:"type"`
	Config `json:"config"`
}

// newSolver returns a new solver with the given type and configuration.
func newSolver(t Type, c Config) (*Solver, error) {
	if !c.ValidType(t) {
		return nil, fmt.Errorf("newSolver: invalid solver type %v for "+
			"configuration %T", t, c)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("newSolver: %w", err)
	}
	return &Solver{Type: t, Config: c}, nil
}

// NewDefault returns a Solver of type t with default hyperparameters
// and the given learning rate and batch size.
func NewDefault(t Type, stepSize float64, batchSize int) (*Solver, error) {
	switch t {
	case Adam:
		return NewDefaultAdam(stepSize, batchSize)
	case RMSProp:
		return NewDefaultRMSProp(stepSize, batchSize)
	case Vanilla:
		return NewVanilla(stepSize, batchSize, -1.0)
	default:
		return nil, fmt.Errorf("newDefault: unknown solver type %q", t)
	}
}

// UnmarshalJSON implements the json.Unmarshaler interface. Field names
// and the solver type are matched without regard to case, so that
// configurations whose keys were lower-cased, such as those read by
// viper, decode as well.
func (s *Solver) UnmarshalJSON(data []byte) error {
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("unmarshalJSON: %w", err)
	}

	var typeName string
	rawType, ok := lookup(m, "type")
	if !ok {
		return fmt.Errorf("unmarshalJSON: missing solver type")
	}
	if err := json.Unmarshal(rawType, &typeName); err != nil {
		return fmt.Errorf("unmarshalJSON: solver type: %w", err)
	}
	t, err := ParseType(typeName)
	if err != nil {
		return fmt.Errorf("unmarshalJSON: %w", err)
	}

	ptr := reflect.New(configTypes[t])
	if rawConfig, ok := lookup(m, "config"); ok {
		if err := json.Unmarshal(rawConfig, ptr.Interface()); err != nil {
			return fmt.Errorf("unmarshalJSON: %v config: %w", t, err)
		}
	}

	decoded, err := newSolver(t, ptr.Elem().Interface().(Config))
	if err != nil {
		return fmt.Errorf("unmarshalJSON: %w", err)
	}
	*s = *decoded
	return nil
}

func lookup(m map[string]json.RawMessage, key string) (json.RawMessage,
	bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// Config implements a Gorgonia Solver configuration and can be used to
// create the Gorgonia Solvers they describe.
type Config interface {
	Create() G.Solver

	// LearningRate returns the step size the created Solver uses
	LearningRate() float64

	// ValidType returns whether a specific Solver type can be created
	// with the Config
	ValidType(Type) bool

	// Validate returns an error if the Config cannot create a Solver
	Validate() error
}

// validateCommon checks the hyperparameters shared by all solvers
func validateCommon(stepSize float64, batch int) error {
	if stepSize <= 0 {
		return fmt.Errorf("validate: step size must be positive, have(%v)",
			stepSize)
	}
	if batch <= 0 {
		return fmt.Errorf("validate: batch size must be positive, have(%v)",
			batch)
	}
	return nil
}
