package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/samuelfneumann/goreinforce/agent/nonlinear/discrete/ppo"
	"github.com/samuelfneumann/goreinforce/environment"
	"github.com/samuelfneumann/goreinforce/environment/gridworld"
	"github.com/samuelfneumann/goreinforce/network"
	"github.com/samuelfneumann/goreinforce/solver"
)

var (
	gridSizeKey     = "grid_size"
	obstaclesKey    = "obstacles"
	episodeStepsKey = "episode_steps"
	seedKey         = "seed"
	hiddenSizesKey  = "hidden_sizes"
	activationKey   = "activation"
	solverKey       = "solver"
	solverConfigKey = "solver_config"
	modelFileKey    = "model"
)

// addEnvironmentFlags adds the flags shared by all commands which
// construct a gridworld and an agent
func addEnvironmentFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	cfg.SetDefault(gridSizeKey, 5)
	flags.Int(gridSizeKey, cfg.GetInt(gridSizeKey),
		"Number of rows and columns of the gridworld")

	cfg.SetDefault(obstaclesKey, 0)
	flags.Int(obstaclesKey, cfg.GetInt(obstaclesKey),
		"Number of obstacles placed in the gridworld interior")

	cfg.SetDefault(episodeStepsKey, 100)
	flags.Int(episodeStepsKey, cfg.GetInt(episodeStepsKey),
		"Maximum number of steps per episode")

	cfg.SetDefault(seedKey, 1)
	flags.Uint64(seedKey, cfg.GetUint64(seedKey),
		"Seed for the environment and the agent")

	cfg.SetDefault(hiddenSizesKey, []int{64, 64})
	flags.IntSlice(hiddenSizesKey, cfg.GetIntSlice(hiddenSizesKey),
		"Hidden layer sizes of the policy and value networks")

	cfg.SetDefault(activationKey, "tanh")
	flags.String(activationKey, cfg.GetString(activationKey),
		"Hidden layer activation (relu, tanh, sigmoid, identity)")

	cfg.SetDefault(solverKey, string(solver.Adam))
	flags.String(solverKey, cfg.GetString(solverKey),
		fmt.Sprintf("Solver (one of %v, %v, %v)", solver.Adam,
			solver.RMSProp, solver.Vanilla))

	cfg.SetDefault(modelFileKey, "agent.bin")
	flags.String(modelFileKey, cfg.GetString(modelFileKey),
		"File the agent is saved to or loaded from")
}

// newEnvironment returns the gridworld described by cfg, wrapped so
// that episodes are limited in length and actions are checked
func newEnvironment(cfg *viper.Viper) (environment.Environment, error) {
	size := cfg.GetInt(gridSizeKey)
	g, err := gridworld.New(
		size,
		gridworld.Position{Row: 0, Col: 0},
		gridworld.Position{Row: size - 1, Col: size - 1},
		cfg.GetInt(obstaclesKey),
		cfg.GetUint64(seedKey),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create gridworld: %w", err)
	}

	limited, err := environment.NewStepLimit(g, cfg.GetInt(episodeStepsKey))
	if err != nil {
		return nil, fmt.Errorf("could not create step limit: %w", err)
	}
	return environment.NewChecked(limited), nil
}

// newSolver returns the solver described by cfg. A solver_config
// tree, such as
//
//	solver_config:
//	  type: RMSProp
//	  config: {step_size: 0.001, epsilon: 1e-8, rho: 0.99, batch: 1}
//
// takes precedence over the solver type flag, which creates a solver
// with default hyperparameters and learning rate lr.
func newSolver(cfg *viper.Viper, lr float64) (*solver.Solver, error) {
	if cfg.IsSet(solverConfigKey) {
		data, err := json.Marshal(cfg.Get(solverConfigKey))
		if err != nil {
			return nil, fmt.Errorf("invalid solver configuration: %w", err)
		}
		var s solver.Solver
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("invalid solver configuration: %w", err)
		}
		return &s, nil
	}

	t, err := solver.ParseType(cfg.GetString(solverKey))
	if err != nil {
		return nil, err
	}
	return solver.NewDefault(t, lr, 1)
}

// newAgent returns an MLP agent for env described by cfg. The networks
// process at most batch observations at once.
func newAgent(cfg *viper.Viper, env environment.Environment, batch int,
	lr float64) (*ppo.Agent, error) {
	act, err := network.ParseActivation(cfg.GetString(activationKey))
	if err != nil {
		return nil, err
	}

	config := network.DefaultMLPConfig()
	config.Seed = cfg.GetUint64(seedKey)
	config.HiddenSizes = cfg.GetIntSlice(hiddenSizesKey)
	config.Activations = make([]*network.Activation, len(config.HiddenSizes))
	for i := range config.Activations {
		config.Activations[i] = act
	}

	s, err := newSolver(cfg, lr)
	if err != nil {
		return nil, err
	}

	return ppo.NewMLPAgent(env.StateSize(), len(env.Actions()), batch,
		config, s)
}
