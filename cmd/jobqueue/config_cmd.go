package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/aristath/jobqueue/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View or create configuration",
		Long: `View or create configuration.

Without a subcommand, prints the effective configuration after files,
environment and flags have been applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd, a)
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd, a)
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the config file paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "global:  %s\nproject: %s\n", a.globalPath, a.projectPath)
			return nil
		},
	}

	cmd.AddCommand(show, path, newConfigInitCmd(a))
	return cmd
}

func showConfig(cmd *cobra.Command, a *app) error {
	data, err := json.MarshalIndent(a.cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func newConfigInitCmd(a *app) *cobra.Command {
	var global, force, interactive bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the effective settings",
		Long: `Init writes the effective configuration to the project config file, or to
the global one with --global. It refuses to overwrite an existing file
unless --force is given. --interactive asks for the main settings first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := a.projectPath
			if global {
				target = a.globalPath
			}

			if _, err := os.Stat(target); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", target)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			cfg := *a.cfg
			if interactive {
				if err := runInitForm(&cfg); err != nil {
					return err
				}
			}

			if err := config.Save(&cfg, target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", target)
			return nil
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "write the global config instead of the project config")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "prompt for settings")
	return cmd
}

// runInitForm prompts for the settings most installs change.
func runInitForm(cfg *config.Config) error {
	queues := config.FormatQueues(cfg.Queues)
	jobs := strconv.Itoa(cfg.Frame.Jobs)
	journal := cfg.Journal.Enabled

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Main queue").
				Value(&cfg.MainQueue),
			huh.NewInput().
				Title("Worker queues").
				Description("name:threads, comma separated").
				Value(&queues).
				Validate(func(s string) error {
					_, err := config.ParseQueues(s)
					return err
				}),
			huh.NewInput().
				Title("Update jobs per frame").
				Value(&jobs).
				Validate(func(s string) error {
					if n, err := strconv.Atoi(s); err != nil || n < 0 {
						return errors.New("must be a non-negative integer")
					}
					return nil
				}),
			huh.NewConfirm().
				Title("Record runs in the journal?").
				Value(&journal),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	parsed, err := config.ParseQueues(queues)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(jobs)
	if err != nil {
		return err
	}
	cfg.Queues = parsed
	cfg.Frame.Jobs = n
	cfg.Journal.Enabled = journal
	return nil
}
