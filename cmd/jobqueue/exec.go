package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/jobqueue/internal/command"
	"github.com/aristath/jobqueue/internal/scheduler"
)

type execOptions struct {
	cmds      []string
	queue     string
	chain     bool
	after     []string
	timeout   time.Duration
	resources []string
	dryRun    bool
}

func newExecCmd(a *app) *cobra.Command {
	var opts execOptions

	cmd := &cobra.Command{
		Use:   "exec --cmd NAME=ARGV [--cmd ...]",
		Short: "Run subprocesses as scheduled tasks",
		Long: `Exec runs each --cmd as a task on a worker queue. A command is written as
NAME=ARGV or just ARGV; ARGV is split on whitespace and executed without a
shell.

Order is declared with --chain (each command waits for the previous one) or
--after THEN:FIRST (THEN waits for FIRST). Commands naming the same
--resource never overlap. --dry-run prints the execution order and exits.`,
		Example: `  jobqueue exec --chain --cmd "build=go build ./..." --cmd "test=go test ./..."
  jobqueue exec --cmd "a=sleep 1" --cmd "b=sleep 1" --cmd "c=echo done" --after c:a --after c:b`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, a, opts)
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&opts.cmds, "cmd", nil, "command to run as NAME=ARGV (repeatable)")
	f.StringVarP(&opts.queue, "queue", "q", "io", "queue the commands run on")
	f.BoolVar(&opts.chain, "chain", false, "run commands strictly in the order given")
	f.StringArrayVar(&opts.after, "after", nil, "dependency as THEN:FIRST (repeatable)")
	f.DurationVar(&opts.timeout, "timeout", 0, "per-command timeout, 0 for none")
	f.StringSliceVar(&opts.resources, "resource", nil, "resource every command holds while running")
	f.BoolVar(&opts.dryRun, "dry-run", false, "print the execution order without running anything")
	_ = cmd.MarkFlagRequired("cmd")
	return cmd
}

// parseCommandArg splits "name=argv" into a spec. Without a name the first
// argv element names the command.
func parseCommandArg(arg string) (command.Spec, error) {
	name, rest, found := strings.Cut(arg, "=")
	if !found || strings.ContainsAny(name, " \t") {
		name, rest = "", arg
	}
	argv := strings.Fields(rest)
	if len(argv) == 0 {
		return command.Spec{}, fmt.Errorf("command %q has no argv", arg)
	}
	return command.Spec{Name: strings.TrimSpace(name), Argv: argv}, nil
}

// buildCommands turns the exec flags into commands with their dependencies.
func buildCommands(eng *engine, opts execOptions) ([]*command.Command, error) {
	var cmds []*command.Command
	byName := make(map[string]*command.Command)

	for _, arg := range opts.cmds {
		spec, err := parseCommandArg(arg)
		if err != nil {
			return nil, err
		}
		spec.Timeout = opts.timeout
		spec.Resources = opts.resources

		c, err := command.New(eng.ctx, eng.pm, spec, command.WithLocks(eng.locks), command.WithLogger(eng.logger))
		if err != nil {
			return nil, err
		}
		name := c.Spec().Name
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("command name %q used twice", name)
		}
		byName[name] = c
		cmds = append(cmds, c)
	}

	if opts.chain && !command.Chain(cmds) {
		return nil, errors.New("chain refused a dependency")
	}

	for _, edge := range opts.after {
		then, first, ok := strings.Cut(edge, ":")
		if !ok {
			return nil, fmt.Errorf("--after %q: want THEN:FIRST", edge)
		}
		thenCmd, ok1 := byName[then]
		firstCmd, ok2 := byName[first]
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("--after %q: unknown command", edge)
		}
		if !thenCmd.Task().AddDependency(firstCmd.Task()) {
			return nil, fmt.Errorf("--after %q would create a cycle", edge)
		}
	}
	return cmds, nil
}

func runExec(cmd *cobra.Command, a *app, opts execOptions) error {
	eng, err := startEngine(cmd.Context(), a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer eng.shutdown()

	cmds, err := buildCommands(eng, opts)
	if err != nil {
		return err
	}

	tasks := make([]*scheduler.Task, len(cmds))
	for i, c := range cmds {
		tasks[i] = c.Task()
	}
	order, err := scheduler.Plan(tasks)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.dryRun {
		for i, t := range order {
			deps := make([]string, 0)
			for _, d := range t.Dependencies() {
				deps = append(deps, d.Name())
			}
			fmt.Fprintf(out, "%d. %s", i+1, t.Name())
			if len(deps) > 0 {
				fmt.Fprintf(out, " (after %s)", strings.Join(deps, ", "))
			}
			fmt.Fprintln(out)
		}
		return nil
	}

	onMain := opts.queue == eng.sched.MainQueueName()
	if !onMain && !hasWorkers(eng.sched, opts.queue) {
		return fmt.Errorf("queue %q does not exist or has no workers", opts.queue)
	}
	// Submit in plan order so the workers rarely need to requeue.
	for _, t := range order {
		if !eng.sched.AddTask(t, opts.queue) {
			return fmt.Errorf("queue %q refused %s", opts.queue, t.Name())
		}
	}
	if onMain {
		eng.sched.ExecuteMainThread()
	}

	var errs []error
	for _, c := range cmds {
		if err := c.Task().JoinContext(cmd.Context()); err != nil {
			errs = append(errs, err)
		}
		if cmd.Context().Err() != nil {
			break
		}
		printResult(out, c)
	}
	return errors.Join(errs...)
}

func hasWorkers(s *scheduler.Scheduler, queue string) bool {
	for _, st := range s.Stats() {
		if st.Name == queue {
			return st.Threads > 0
		}
	}
	return false
}

func printResult(w io.Writer, c *command.Command) {
	res := c.Result()
	status := "ok"
	if res.ExitCode != 0 {
		status = fmt.Sprintf("exit %d", res.ExitCode)
	}
	fmt.Fprintf(w, "==> %s (%s, %v)\n", c.Spec().Name, status, res.Duration.Round(time.Millisecond))
	if len(res.Stdout) > 0 {
		fmt.Fprint(w, string(res.Stdout))
		if res.Stdout[len(res.Stdout)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
	if len(res.Stderr) > 0 {
		fmt.Fprint(w, string(res.Stderr))
		if res.Stderr[len(res.Stderr)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
}
