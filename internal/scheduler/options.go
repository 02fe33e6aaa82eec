package scheduler

import (
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultIdleInitial = 50 * time.Microsecond
	defaultIdleMax     = 5 * time.Millisecond
)

// Observer receives task lifecycle notifications from the goroutine that
// executes the task. Implementations must not block.
type Observer interface {
	TaskStarted(queue string, task *Task)
	TaskFinished(queue string, task *Task, elapsed time.Duration, err error)
	TaskRequeued(queue string, task *Task)
}

type noopObserver struct{}

func (noopObserver) TaskStarted(string, *Task) {}
func (noopObserver) TaskFinished(string, *Task, time.Duration, error) {}
func (noopObserver) TaskRequeued(string, *Task) {}

// Option configures a Scheduler or a standalone WorkerThread.
type Option func(*settings)

type settings struct {
	logger      *slog.Logger
	observer    Observer
	idleInitial time.Duration
	idleMax     time.Duration
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:      slog.New(slog.DiscardHandler),
		observer:    noopObserver{},
		idleInitial: defaultIdleInitial,
		idleMax:     defaultIdleMax,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithLogger sets the logger used for lifecycle and failure messages.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver registers an observer for task lifecycle notifications.
func WithObserver(o Observer) Option {
	return func(s *settings) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithIdleBackoff bounds how long a consumer waits after requeueing a task
// whose dependencies have not started yet. The wait grows exponentially from
// initial to max and resets whenever a task executes.
func WithIdleBackoff(initial, max time.Duration) Option {
	return func(s *settings) {
		if initial > 0 {
			s.idleInitial = initial
		}
		if max > 0 {
			s.idleMax = max
		}
		if s.idleMax < s.idleInitial {
			s.idleMax = s.idleInitial
		}
	}
}

// newIdleBackOff builds the requeue wait policy. It never gives up.
func (s settings) newIdleBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.idleInitial
	b.MaxInterval = s.idleMax
	b.MaxElapsedTime = 0
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}
