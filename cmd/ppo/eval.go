package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"github.com/samuelfneumann/goreinforce/agent/nonlinear/discrete/ppo"
	"github.com/samuelfneumann/goreinforce/environment"
	"github.com/samuelfneumann/goreinforce/experiment/tracker"
)

var (
	episodesKey      = "episodes"
	deterministicKey = "deterministic"
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a saved PPO agent on a gridworld",
	Args:  cobra.NoArgs,
	RunE: func(_cmd *cobra.Command, _args []string) error {
		env, err := newEnvironment(cfg)
		if err != nil {
			return err
		}
		a, err := newAgent(cfg, env, 1, ppo.DefaultConfig().LearningRate)
		if err != nil {
			return err
		}

		// The trainer is only used as the agent's policy
		p, err := ppo.New(env, a, ppo.DefaultConfig(),
			ppo.WithSeed(cfg.GetUint64(seedKey)))
		if err != nil {
			return err
		}
		if err := p.Load(cfg.GetString(modelFileKey)); err != nil {
			return err
		}

		var l tracker.Log
		episodes := cfg.GetInt(episodesKey)
		for i := 0; i < episodes; i++ {
			if err := runEpisode(env, p, cfg.GetBool(deterministicKey),
				tracker.NewEpisode(&l)); err != nil {
				return fmt.Errorf("episode %v: %w", i, err)
			}
		}

		meanReturn, stdReturn := stat.MeanStdDev(l.EpisodeReward, nil)
		log.WithFields(logrus.Fields{
			"episodes":    l.Episodes(),
			"mean_return": meanReturn,
			"std_return":  stdReturn,
			"mean_length": stat.Mean(l.EpisodeLength, nil),
		}).Info("Evaluation complete")
		return nil
	},
}

// runEpisode runs a single episode in env, choosing actions with p
func runEpisode(env environment.Environment, p *ppo.PPO,
	deterministic bool, t tracker.Tracker) error {
	step, err := env.Reset()
	if err != nil {
		return err
	}
	t.Track(step)

	for !step.Last() {
		action, err := p.PredictMasked(step.Obs(),
			environment.ActionMask(env), deterministic)
		if err != nil {
			return err
		}
		if step, err = env.Step(action); err != nil {
			return err
		}
		t.Track(step)
	}
	return nil
}

func init() {
	flags := evalCmd.Flags()
	flags.SortFlags = false

	cfg.SetDefault(episodesKey, 10)
	flags.Int(episodesKey, cfg.GetInt(episodesKey),
		"Number of episodes to evaluate")

	cfg.SetDefault(deterministicKey, true)
	flags.Bool(deterministicKey, cfg.GetBool(deterministicKey),
		"Take the most likely action instead of sampling")

	addEnvironmentFlags(evalCmd)
}
