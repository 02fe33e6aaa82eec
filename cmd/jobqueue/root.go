package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aristath/jobqueue/internal/config"
	"github.com/aristath/jobqueue/internal/logging"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	v           *viper.Viper
	cfg         *config.Config
	globalPath  string
	projectPath string
	noJournal   bool
	logger      *slog.Logger
	logCloser   io.Closer
}

// newRootCmd builds the command tree. Each call returns an independent tree
// so tests can execute commands without shared state.
func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "jobqueue",
		Short: "Dependency-aware task scheduler with named worker queues",
		Long: `jobqueue runs tasks on named queues, each drained by its own worker
goroutines, plus a main queue drained by the calling goroutine. A task runs
only after every task it depends on has finished.

Configuration is read from ~/.jobqueue/config.json, then .jobqueue/config.json,
then JOBQUEUE_* environment variables, then flags.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.projectPath, "config", "", "project config file (default .jobqueue/config.json)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	flags.String("log-file", "", "append logs to this file instead of stderr")
	flags.String("queues", "", `worker queues as name:threads pairs, e.g. "workers:4,render:1"`)
	flags.String("journal", "", "journal database path")
	flags.BoolVar(&a.noJournal, "no-journal", false, "do not record runs")

	root.AddCommand(
		newRunCmd(a),
		newMonitorCmd(a),
		newExecCmd(a),
		newHistoryCmd(a),
		newConfigCmd(a),
	)
	return root
}

// flagKeys maps flags to override keys. Subcommands declare their own
// flags under these names; only the executing command's flags are bound.
var flagKeys = map[string]string{
	"log-level":  config.KeyLogLevel,
	"log-format": config.KeyLogFormat,
	"log-file":   config.KeyLogFile,
	"queues":     config.KeyQueues,
	"journal":    config.KeyJournalPath,
	"jobs":       config.KeyFrameJobs,
	"interval":   config.KeyFrameInterval,
	"job-cost":   config.KeyFrameJobCost,
}

// load resolves config files, environment and flags, then opens the logger.
func (a *app) load(cmd *cobra.Command) error {
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := a.v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	global, project, err := config.DefaultPaths()
	if err != nil {
		return err
	}
	a.globalPath = global
	if a.projectPath == "" {
		a.projectPath = project
	}

	cfg, err := config.Load(a.globalPath, a.projectPath)
	if err != nil {
		return err
	}
	if err := config.ApplyOverrides(cfg, a.v); err != nil {
		return fmt.Errorf("applying overrides: %w", err)
	}
	if a.noJournal {
		cfg.Journal.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	logger, closer, err := logging.Open(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		return err
	}
	a.logger = logger
	a.logCloser = closer
	return nil
}

func (a *app) close() error {
	if a.logCloser == nil {
		return nil
	}
	return a.logCloser.Close()
}
