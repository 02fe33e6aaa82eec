package main

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aristath/jobqueue/internal/logging"
	"github.com/aristath/jobqueue/internal/tui"
)

func newMonitorCmd(a *app) *cobra.Command {
	var frames int

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the frame loop under a live terminal dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := a.logger
			if a.cfg.Logging.File == "" {
				// Stderr lines would tear the screen.
				logger = logging.Discard()
			}

			eng, err := startEngine(cmd.Context(), a.cfg, logger)
			if err != nil {
				return err
			}
			defer eng.shutdown()

			loop, err := newFrameLoop(eng, a.cfg, 0)
			if err != nil {
				return err
			}

			model := tui.New(eng.bus, eng.sched.Stats, a.cfg, a.globalPath, a.projectPath)
			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))

			loopCtx, cancelLoop := context.WithCancel(cmd.Context())
			defer cancelLoop()
			loopDone := make(chan error, 1)
			go func() {
				_, err := loop.Run(loopCtx, frames)
				loopDone <- err
			}()

			_, tuiErr := p.Run()

			// Stop the loop before the scheduler so it does not see ErrStopped.
			cancelLoop()
			loopErr := <-loopDone
			eng.shutdown()

			if tuiErr != nil && !errors.Is(tuiErr, tea.ErrProgramKilled) {
				return fmt.Errorf("monitor: %w", tuiErr)
			}
			if loopErr != nil && !errors.Is(loopErr, context.Canceled) {
				logger.Warn("frame loop ended with errors", "error", loopErr)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&frames, "frames", "n", 0, "frames to run, 0 runs until quit")
	addFrameFlags(cmd)
	return cmd
}
