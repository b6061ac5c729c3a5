package main

import (
	"fmt"
	"time"

	"github.com/samuelfneumann/progressbar"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/samuelfneumann/goreinforce/agent/nonlinear/discrete/ppo"
	"github.com/samuelfneumann/goreinforce/experiment/checkpointer"
)

var (
	iterationsKey      = "iterations"
	rolloutKey         = "rollout_length"
	clipParamKey       = "clip_param"
	gammaKey           = "gamma"
	lambdaKey          = "lambda"
	epochsKey          = "epochs"
	minibatchKey       = "minibatch_size"
	learningRateKey    = "learning_rate"
	maxGradNormKey     = "max_grad_norm"
	trainLogFileKey    = "train_log"
	checkpointEveryKey = "checkpoint_every"
	checkpointPathKey  = "checkpoint_path"
	progressKey        = "progress"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a PPO agent on a gridworld",
	Args:  cobra.NoArgs,
	RunE: func(_cmd *cobra.Command, _args []string) error {
		var config ppo.Config
		if err := cfg.Unmarshal(&config); err != nil {
			return fmt.Errorf("invalid ppo configuration: %w", err)
		}
		if err := config.Validate(); err != nil {
			return err
		}

		env, err := newEnvironment(cfg)
		if err != nil {
			return err
		}
		a, err := newAgent(cfg, env, config.MinibatchSize, config.LearningRate)
		if err != nil {
			return err
		}

		iterations := cfg.GetInt(iterationsKey)
		opts := []ppo.Option{
			ppo.WithSeed(cfg.GetUint64(seedKey)),
			ppo.WithLogger(logrus.StandardLogger()),
		}

		if n := cfg.GetInt(checkpointEveryKey); n > 0 {
			c, err := checkpointer.NewNStep(n, a, checkpointer.FilenameEnumerator(
				0, cfg.GetString(checkpointPathKey), ".bin"))
			if err != nil {
				return err
			}
			opts = append(opts, ppo.WithCheckpointer(c))
		}

		if cfg.GetBool(progressKey) {
			bar := progressbar.New(50, iterations, time.Second, true)
			bar.Display()
			defer bar.Close()
			opts = append(opts, ppo.WithProgress(func(int) { bar.Increment() }))
		}

		trainer, err := ppo.New(env, a, config, opts...)
		if err != nil {
			return err
		}

		log.WithFields(logrus.Fields{
			"iterations":     iterations,
			"rollout_length": cfg.GetInt(rolloutKey),
			"config":         fmt.Sprintf("%+v", config),
		}).Info("Starting training")

		if err := trainer.Train(iterations, cfg.GetInt(rolloutKey)); err != nil {
			return err
		}

		if err := trainer.Save(cfg.GetString(modelFileKey)); err != nil {
			return err
		}
		log.WithField("path", cfg.GetString(modelFileKey)).Info("Saved agent")

		if path := cfg.GetString(trainLogFileKey); path != "" {
			if err := trainer.Log().Save(path); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{
				"path":     path,
				"episodes": trainer.Log().Episodes(),
			}).Info("Saved training log")
		}
		return nil
	},
}

func init() {
	defaults := ppo.DefaultConfig()
	flags := trainCmd.Flags()
	flags.SortFlags = false

	cfg.SetDefault(iterationsKey, 100)
	flags.Int(iterationsKey, cfg.GetInt(iterationsKey),
		"Number of rollout and update cycles")

	cfg.SetDefault(rolloutKey, 2048)
	flags.Int(rolloutKey, cfg.GetInt(rolloutKey),
		"Number of transitions collected per iteration")

	cfg.SetDefault(clipParamKey, defaults.ClipParam)
	flags.Float64(clipParamKey, cfg.GetFloat64(clipParamKey),
		"Clipping range of the probability ratio and value estimates")

	cfg.SetDefault(gammaKey, defaults.Gamma)
	flags.Float64(gammaKey, cfg.GetFloat64(gammaKey), "Discount factor")

	cfg.SetDefault(lambdaKey, defaults.Lambda)
	flags.Float64(lambdaKey, cfg.GetFloat64(lambdaKey),
		"Generalized advantage estimation decay")

	cfg.SetDefault(epochsKey, defaults.Epochs)
	flags.Int(epochsKey, cfg.GetInt(epochsKey),
		"Number of passes over each rollout")

	cfg.SetDefault(minibatchKey, defaults.MinibatchSize)
	flags.Int(minibatchKey, cfg.GetInt(minibatchKey),
		"Minibatch size, must divide the rollout length")

	cfg.SetDefault(learningRateKey, defaults.LearningRate)
	flags.Float64(learningRateKey, cfg.GetFloat64(learningRateKey),
		"Initial learning rate, annealed linearly to zero")

	cfg.SetDefault(maxGradNormKey, defaults.MaxGradNorm)
	flags.Float64(maxGradNormKey, cfg.GetFloat64(maxGradNormKey),
		"Maximum global gradient norm")

	cfg.SetDefault(trainLogFileKey, "")
	flags.String(trainLogFileKey, cfg.GetString(trainLogFileKey),
		"File to save losses and episode returns to")

	cfg.SetDefault(checkpointEveryKey, 0)
	flags.Int(checkpointEveryKey, cfg.GetInt(checkpointEveryKey),
		"Checkpoint the agent every this many iterations, 0 to disable")

	cfg.SetDefault(checkpointPathKey, "checkpoint")
	flags.String(checkpointPathKey, cfg.GetString(checkpointPathKey),
		"Filename prefix of checkpoints")

	cfg.SetDefault(progressKey, false)
	flags.Bool(progressKey, cfg.GetBool(progressKey),
		"Display a progress bar")

	addEnvironmentFlags(trainCmd)
}
