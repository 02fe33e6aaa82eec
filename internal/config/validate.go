package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/jobqueue/internal/scheduler"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Validate checks the queue layout and the settings that depend on it.
func (c *Config) Validate() error {
	var problems []string

	if c.MainQueue == "" {
		problems = append(problems, "main_queue is empty")
	}

	names := map[string]bool{c.MainQueue: true}
	for i, q := range c.Queues {
		switch {
		case q.Name == "":
			problems = append(problems, fmt.Sprintf("queues[%d] has no name", i))
		case names[q.Name]:
			problems = append(problems, fmt.Sprintf("queue %q declared twice", q.Name))
		}
		if q.Threads < 0 {
			problems = append(problems, fmt.Sprintf("queue %q has negative threads", q.Name))
		}
		names[q.Name] = true
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("unknown log level %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("unknown log format %q", c.Logging.Format))
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		problems = append(problems, "journal enabled without a path")
	}

	if c.IdleBackoff.Initial < 0 || c.IdleBackoff.Max < 0 {
		problems = append(problems, "idle_backoff durations must not be negative")
	}
	if c.IdleBackoff.Max > 0 && c.IdleBackoff.Max < c.IdleBackoff.Initial {
		problems = append(problems, "idle_backoff.max is below idle_backoff.initial")
	}

	if c.Frame.Jobs < 0 {
		problems = append(problems, "frame.jobs must not be negative")
	}
	for _, q := range []string{c.Frame.WorkerQueue, c.Frame.RenderQueue} {
		if q != "" && !names[q] {
			problems = append(problems, fmt.Sprintf("frame queue %q is not declared", q))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// QueueSpecs converts the queue layout into scheduler Init arguments.
func (c *Config) QueueSpecs() (main scheduler.QueueSpec, others []scheduler.QueueSpec) {
	main = scheduler.QueueSpec{Name: c.MainQueue}
	for _, q := range c.Queues {
		others = append(others, scheduler.QueueSpec{Name: q.Name, Threads: q.Threads})
	}
	return main, others
}

// SchedulerOptions returns the scheduler options derived from the config.
func (c *Config) SchedulerOptions() []scheduler.Option {
	return []scheduler.Option{
		scheduler.WithIdleBackoff(c.IdleBackoff.Initial.Std(), c.IdleBackoff.Max.Std()),
	}
}

// TotalThreads is the number of worker goroutines the layout starts.
func (c *Config) TotalThreads() int {
	n := 0
	for _, q := range c.Queues {
		n += q.Threads
	}
	return n
}
