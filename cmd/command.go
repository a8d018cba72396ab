package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/simkernel/sim/command"
	"github.com/inference-sim/simkernel/sim/config"
)

var (
	commandAt  string // RFC3339 time for a scheduled command
	commandDir string // Overrides the configured command directory
)

// commandCmd appends a control record to the command file of a running experiment
var commandCmd = &cobra.Command{
	Use:       "command pause|start|stop",
	Short:     "Send a control command to a running simulation",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"pause", "start", "stop"},
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		rec, err := newRecord(args[0], commandAt)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		dir, err := resolveCommandDir(cfg, commandDir)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if err := command.Append(dir, rec); err != nil {
			logrus.Fatalf("Could not write command: %v", err)
		}
		logrus.WithFields(logrus.Fields{
			"command":  rec.CommandType,
			"priority": rec.Priority,
			"dir":      dir,
		}).Info("Command queued")
	},
}

// newRecord builds an Immediate record, or a Scheduled one when at is set.
func newRecord(name, at string) (command.Record, error) {
	var typ command.Type
	switch strings.ToLower(name) {
	case "pause":
		typ = command.Pause
	case "start", "resume":
		typ = command.Start
	case "stop":
		typ = command.Stop
	default:
		return command.Record{}, fmt.Errorf("%w %q", command.ErrUnknownType, name)
	}
	rec := command.Record{CommandType: typ, Priority: command.Immediate}
	if at != "" {
		if _, err := time.Parse(time.RFC3339, at); err != nil {
			return command.Record{}, fmt.Errorf("--at %q: %w", at, err)
		}
		rec.Priority = command.Scheduled
		rec.ScheduledTime = at
	}
	return rec, rec.Validate()
}

func resolveCommandDir(cfg *config.Config, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if cfg.Command.CommandDirectory == "" && cfg.ExperimentID == "" {
		return "", fmt.Errorf("set --dir, command.command_directory or experiment_id to locate the command file")
	}
	return cfg.CommandDir(), nil
}

func init() {
	commandCmd.Flags().StringVar(&commandAt, "at", "", "Simulated time to run the command at, RFC3339 (default: next tick)")
	commandCmd.Flags().StringVar(&commandDir, "dir", "", "Command directory (default: from the configuration)")
}
