package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/jobqueue/internal/config"
	"github.com/aristath/jobqueue/internal/frame"
)

func newRunCmd(a *app) *cobra.Command {
	var frames int
	var failEvery int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the frame loop headless and print a summary",
		Long: `Run submits frames to the scheduler. Each frame fans update jobs out to the
worker queue, joins them in a render-sync job on the render queue and ends
with a present job drained on the main queue.

With --frames 0 the loop runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := startEngine(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer eng.shutdown()

			loop, err := newFrameLoop(eng, a.cfg, failEvery)
			if err != nil {
				return err
			}

			stats, runErr := loop.Run(cmd.Context(), frames)
			discarded := eng.shutdown()
			printRunSummary(cmd.OutOrStdout(), stats, discarded, eng.sessionID())

			// An interrupt is a normal way to end an unbounded run.
			if errors.Is(runErr, context.Canceled) && stats.Failed == 0 {
				return nil
			}
			return runErr
		},
	}

	cmd.Flags().IntVarP(&frames, "frames", "n", 60, "frames to run, 0 runs until interrupted")
	addFrameFlags(cmd)
	cmd.Flags().IntVar(&failEvery, "fail-every", 0, "make every Nth update job fail, for exercising error paths")
	return cmd
}

// addFrameFlags declares the frame overrides listed in flagKeys.
func addFrameFlags(cmd *cobra.Command) {
	cmd.Flags().Int("jobs", 0, "update jobs per frame (overrides config)")
	cmd.Flags().Duration("interval", 0, "minimum frame period (overrides config)")
	cmd.Flags().Duration("job-cost", 0, "simulated work per update job (overrides config)")
}

// newFrameLoop builds the demo workload: update jobs that sleep for the
// configured cost, optionally failing every failEvery-th job.
func newFrameLoop(eng *engine, cfg *config.Config, failEvery int) (*frame.Loop, error) {
	cost := cfg.Frame.JobCost.Std()
	return frame.New(eng.sched, frame.Config{
		Jobs:        cfg.Frame.Jobs,
		WorkerQueue: cfg.Frame.WorkerQueue,
		RenderQueue: cfg.Frame.RenderQueue,
		Interval:    cfg.Frame.Interval.Std(),
		Update: func(n, i int) error {
			if cost > 0 {
				time.Sleep(cost)
			}
			if failEvery > 0 && (n*cfg.Frame.Jobs+i+1)%failEvery == 0 {
				return fmt.Errorf("injected failure")
			}
			return nil
		},
		Bus:    eng.bus,
		Logger: eng.logger,
	})
}

func printRunSummary(w io.Writer, stats frame.Stats, discarded int, session string) {
	fmt.Fprintf(w, "frames:    %d\n", stats.Frames)
	fmt.Fprintf(w, "jobs:      %d\n", stats.Jobs)
	fmt.Fprintf(w, "failed:    %d\n", stats.Failed)
	fmt.Fprintf(w, "discarded: %d\n", discarded)
	fmt.Fprintf(w, "elapsed:   %v\n", stats.Duration.Round(time.Millisecond))
	if stats.Frames > 0 {
		fmt.Fprintf(w, "per frame: %v\n", (stats.Duration / time.Duration(stats.Frames)).Round(time.Microsecond))
	}
	if session != "" {
		fmt.Fprintf(w, "session:   %s\n", session)
	}
}
