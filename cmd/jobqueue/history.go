package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/aristath/jobqueue/internal/persistence"
)

type historyOptions struct {
	limit    int
	session  string
	task     string
	sessions bool
	queues   bool
}

func newHistoryCmd(a *app) *cobra.Command {
	var opts historyOptions

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show runs recorded in the journal",
		Long: `History reads the run journal. By default it lists the most recent runs;
--sessions lists scheduler sessions and --by-queue summarizes runs per queue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Journal.Path
			if _, err := os.Stat(path); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("no journal at %s", path)
				}
				return err
			}

			store, err := persistence.NewSQLiteStore(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer store.Close()
			return showHistory(cmd, store, opts)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.limit, "limit", "n", 20, "maximum rows, 0 for all")
	f.StringVar(&opts.session, "session", "", "restrict runs or the queue summary to one session")
	f.StringVar(&opts.task, "task", "", "show every run of one task ID")
	f.BoolVar(&opts.sessions, "sessions", false, "list sessions instead of runs")
	f.BoolVar(&opts.queues, "by-queue", false, "summarize runs per queue")
	cmd.MarkFlagsMutuallyExclusive("sessions", "by-queue", "task")
	return cmd
}

func showHistory(cmd *cobra.Command, store persistence.Store, opts historyOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	switch {
	case opts.sessions:
		sessions, err := store.ListSessions(ctx, opts.limit)
		if err != nil {
			return err
		}
		renderSessions(out, sessions)

	case opts.queues:
		summaries, err := store.QueueStats(ctx, opts.session)
		if err != nil {
			return err
		}
		renderQueueSummaries(out, summaries)

	case opts.task != "":
		runs, err := store.RunsForTask(ctx, opts.task)
		if err != nil {
			return err
		}
		renderRuns(out, runs)

	default:
		if opts.session != "" {
			if _, err := store.GetSession(ctx, opts.session); err != nil {
				return fmt.Errorf("session %s: %w", opts.session, err)
			}
		}
		limit := opts.limit
		if opts.session != "" {
			// Filtered below; read everything.
			limit = 0
		}
		runs, err := store.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		if opts.session != "" {
			runs = filterSession(runs, opts.session, opts.limit)
		}
		renderRuns(out, runs)
	}
	return nil
}

func filterSession(runs []persistence.Run, session string, limit int) []persistence.Run {
	var kept []persistence.Run
	for _, r := range runs {
		if r.SessionID != session {
			continue
		}
		kept = append(kept, r)
		if limit > 0 && len(kept) == limit {
			break
		}
	}
	return kept
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func renderRuns(w io.Writer, runs []persistence.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	t := newTable("STARTED", "TASK", "QUEUE", "STATUS", "DURATION", "ERROR")
	for _, r := range runs {
		t.Row(
			r.StartedAt.Format(time.DateTime),
			r.TaskName,
			r.Queue,
			string(r.Status),
			r.Duration.String(),
			truncate(r.Error, 48),
		)
	}
	fmt.Fprintln(w, t.Render())
}

func renderSessions(w io.Writer, sessions []persistence.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "no sessions recorded")
		return
	}
	t := newTable("SESSION", "STARTED", "ENDED", "DISCARDED")
	for _, s := range sessions {
		ended := "running"
		if !s.EndedAt.IsZero() {
			ended = s.EndedAt.Format(time.DateTime)
		}
		t.Row(s.ID, s.StartedAt.Format(time.DateTime), ended, strconv.Itoa(s.Discarded))
	}
	fmt.Fprintln(w, t.Render())
}

func renderQueueSummaries(w io.Writer, summaries []persistence.QueueSummary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	t := newTable("QUEUE", "RUNS", "FAILED", "AVG", "MAX")
	for _, s := range summaries {
		t.Row(s.Queue, strconv.Itoa(s.Runs), strconv.Itoa(s.Failed), s.AvgDuration.String(), s.MaxDuration.String())
	}
	fmt.Fprintln(w, t.Render())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
