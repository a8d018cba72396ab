package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/simkernel/sim/config"
)

var (
	configPath string // Path to the YAML or TOML configuration file
	logLevel   string // Log verbosity level; empty defers to debug.log_level
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "simkernel",
	Short: "Deterministic discrete-time simulation kernel",
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config (defaults when empty) and applies the log level.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg = config.Default()
		err = config.ApplyEnv(cfg)
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return nil, err
	}
	setLogLevel(cfg)
	return cfg, nil
}

// setLogLevel gives --log precedence over the configuration.
func setLogLevel(cfg *config.Config) {
	name := logLevel
	if name == "" {
		name = cfg.Debug.LogLevel
	}
	level, err := logrus.ParseLevel(name)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", name)
	}
	logrus.SetLevel(level)
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the configuration file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "", "Log level (trace, debug, info, warn, error, fatal, panic)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(commandCmd)
	rootCmd.AddCommand(snapshotsCmd)
}
