package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cfg holds the configuration of all commands, read from flags, the
// environment, and an optional configuration file
var cfg = viper.New()

var (
	configFileKey = "config"
	logLevelKey   = "log_level"
	logFormatKey  = "log_format"
	logFileKey    = "log_file"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ppo",
	Short: "Train and evaluate PPO agents on a gridworld",
	PersistentPreRunE: func(cmd *cobra.Command, _args []string) error {
		// Only the flags of the command being run are bound, since
		// subcommands share configuration keys
		if err := cfg.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		if cfg.GetString(configFileKey) != "" {
			cfg.SetConfigFile(cfg.GetString(configFileKey))
			if err := cfg.ReadInConfig(); err != nil {
				return fmt.Errorf("unable to read configuration file: %w",
					err)
			}
		}
		return configureLog(cfg)
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cfg.SetEnvPrefix("GOREINFORCE")
	cfg.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	cfg.AutomaticEnv()

	rootCmd.PersistentFlags().String(
		configFileKey,
		"",
		"YAML configuration file, overridden by flags and environment",
	)

	cfg.SetDefault(logLevelKey, "info")
	rootCmd.PersistentFlags().String(
		logLevelKey,
		cfg.GetString(logLevelKey),
		fmt.Sprintf("Minimum logging level (a logrus level or %q)", logOff),
	)
	rootCmd.PersistentFlags().String(
		logFormatKey,
		"",
		fmt.Sprintf("Logging format (one of %v)", logFormats()),
	)
	rootCmd.PersistentFlags().String(
		logFileKey,
		"",
		"File to write logs to, in json format",
	)

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(evalCmd)
}
