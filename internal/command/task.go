package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aristath/jobqueue/internal/scheduler"
)

// Spec describes one subprocess. Argv is executed directly, never through a
// shell.
type Spec struct {
	Name      string
	Argv      []string
	Dir       string
	Env       []string      // appended to the parent environment
	Timeout   time.Duration // 0 means no limit
	Resources []string      // commands sharing a resource never overlap
}

// Result is what a finished command produced.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Command binds a Spec to a schedulable task.
type Command struct {
	spec   Spec
	pm     *ProcessManager
	locks  *ResourceLocks
	logger *slog.Logger
	ctx    context.Context // parent of every run; task bodies take no context
	task   *scheduler.Task

	mu     sync.Mutex
	result Result
}

// Option configures a Command.
type Option func(*Command)

// WithLocks serializes commands that declare overlapping resources.
func WithLocks(locks *ResourceLocks) Option {
	return func(c *Command) { c.locks = locks }
}

// WithLogger sets the logger for command output summaries.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Command) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a command whose task runs spec under ctx. Processes are tracked
// by pm when it is non-nil.
func New(ctx context.Context, pm *ProcessManager, spec Spec, opts ...Option) (*Command, error) {
	if len(spec.Argv) == 0 || spec.Argv[0] == "" {
		return nil, fmt.Errorf("command %q: empty argv", spec.Name)
	}
	if spec.Name == "" {
		spec.Name = spec.Argv[0]
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c := &Command{
		spec:   spec,
		pm:     pm,
		ctx:    ctx,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.task = scheduler.NewTask(spec.Name, c.run)
	return c, nil
}

// NewCommandTask is New for the common case of a named argv.
func NewCommandTask(ctx context.Context, pm *ProcessManager, name string, argv []string) (*Command, error) {
	return New(ctx, pm, Spec{Name: name, Argv: argv})
}

// Task returns the schedulable task. Reset it to run the command again.
func (c *Command) Task() *scheduler.Task { return c.task }

// Spec returns the command description.
func (c *Command) Spec() Spec { return c.spec }

// Result returns the output of the most recent run.
func (c *Command) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

func (c *Command) run() error {
	if c.locks != nil && len(c.spec.Resources) > 0 {
		unlock := c.locks.LockAll(c.spec.Resources)
		defer unlock()
	}

	ctx := c.ctx
	if c.spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.spec.Timeout)
		defer cancel()
	}

	cmd := newCommand(ctx, c.spec.Argv[0], c.spec.Argv[1:]...)
	cmd.Dir = c.spec.Dir
	if len(c.spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.spec.Env...)
	}

	start := time.Now()
	stdout, stderr, err := executeCommand(cmd, c.pm)
	result := Result{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode(err),
		Duration: time.Since(start),
	}

	c.mu.Lock()
	c.result = result
	c.mu.Unlock()

	c.logger.Debug("command finished", "command", c.spec.Name, "exit", result.ExitCode, "elapsed", result.Duration, "stdout_bytes", len(stdout))
	if err != nil {
		return fmt.Errorf("%s: %w", c.spec.Name, err)
	}
	return nil
}

// Chain makes every command depend on the one before it and returns false
// if any edge was refused.
func Chain(cmds []*Command) bool {
	ok := true
	for i := 1; i < len(cmds); i++ {
		if !cmds[i].task.AddDependency(cmds[i-1].task) {
			ok = false
		}
	}
	return ok
}
