package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/aristath/jobqueue/internal/events"
	"github.com/aristath/jobqueue/internal/persistence"
)

// Options configures a Recorder.
type Options struct {
	SessionID string // generated when empty
	Config    string // configuration snapshot stored with the session
	Retry     RetryConfig
	Breaker   BreakerConfig
	Logger    *slog.Logger
	BufSize   int // bus subscription buffer, defaults to 1024
}

// Recorder turns task lifecycle events into journal rows. It subscribes when
// constructed so no event published after NewRecorder is missed, and writes
// through a circuit breaker: while the store is failing, records are dropped
// and counted instead of stalling the subscription.
type Recorder struct {
	store     persistence.Store
	sessionID string
	config    string
	retry     RetryConfig
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger

	events <-chan events.Event
	stop   chan struct{}
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	recorded atomic.Int64
	dropped  atomic.Int64
}

// NewRecorder subscribes to bus and prepares a recorder for store.
func NewRecorder(store persistence.Store, bus *events.EventBus, opts Options) *Recorder {
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.Retry == (RetryConfig{}) {
		opts.Retry = DefaultRetryConfig()
	}
	if opts.Breaker == (BreakerConfig{}) {
		opts.Breaker = DefaultBreakerConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.BufSize <= 0 {
		opts.BufSize = 1024
	}
	logger := opts.Logger.With("component", "journal", "session", opts.SessionID)

	return &Recorder{
		store:     store,
		sessionID: opts.SessionID,
		config:    opts.Config,
		retry:     opts.Retry,
		breaker:   newBreaker("journal", opts.Breaker, logger),
		logger:    logger,
		events:    bus.SubscribeAll(opts.BufSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SessionID returns the session the recorder writes under.
func (r *Recorder) SessionID() string { return r.sessionID }

// Start saves the session row and begins consuming events. The session write
// is not retried through the breaker: without it no run can be stored.
func (r *Recorder) Start(ctx context.Context) error {
	var err error
	r.startOnce.Do(func() {
		err = r.store.SaveSession(ctx, persistence.Session{
			ID:        r.sessionID,
			StartedAt: time.Now(),
			Config:    r.config,
		})
		if err != nil {
			err = fmt.Errorf("journal session: %w", err)
			close(r.done)
			return
		}
		r.logger.Info("journal started")
		go r.loop(ctx)
	})
	return err
}

// Stop drains events already buffered, then waits for the consumer to exit.
// Safe to call more than once, and before Start.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	select {
	case <-r.done:
	default:
		// Never started.
		r.startOnce.Do(func() { close(r.done) })
		<-r.done
	}
}

// Recorded returns how many runs were written.
func (r *Recorder) Recorded() int64 { return r.recorded.Load() }

// Dropped returns how many runs could not be written.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

func (r *Recorder) loop(ctx context.Context) {
	defer close(r.done)
	defer r.logger.Info("journal stopped", "recorded", r.Recorded(), "dropped", r.Dropped())

	for {
		select {
		case event, ok := <-r.events:
			if !ok {
				return
			}
			r.handle(ctx, event)
		case <-r.stop:
			r.drain(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Recorder) drain(ctx context.Context) {
	for {
		select {
		case event, ok := <-r.events:
			if !ok {
				return
			}
			r.handle(ctx, event)
		default:
			return
		}
	}
}

func (r *Recorder) handle(ctx context.Context, event events.Event) {
	switch e := event.(type) {
	case events.TaskCompletedEvent:
		r.record(ctx, persistence.Run{
			SessionID: r.sessionID,
			TaskID:    e.ID,
			TaskName:  e.Name,
			Queue:     e.Queue,
			Status:    persistence.RunCompleted,
			StartedAt: e.Timestamp.Add(-e.Duration),
			Duration:  e.Duration,
		})
	case events.TaskFailedEvent:
		status := persistence.RunFailed
		if e.Panicked {
			status = persistence.RunPanicked
		}
		var msg string
		if e.Err != nil {
			msg = e.Err.Error()
		}
		r.record(ctx, persistence.Run{
			SessionID: r.sessionID,
			TaskID:    e.ID,
			TaskName:  e.Name,
			Queue:     e.Queue,
			Status:    status,
			Error:     msg,
			StartedAt: e.Timestamp.Add(-e.Duration),
			Duration:  e.Duration,
		})
	case events.SchedulerStoppedEvent:
		err := writeWithRetry(ctx, r.breaker, r.retry, func(ctx context.Context) error {
			return r.store.EndSession(ctx, r.sessionID, e.Timestamp, e.Discarded)
		})
		if err != nil {
			r.logger.Warn("failed to close journal session", "error", err)
		}
	}
}

func (r *Recorder) record(ctx context.Context, run persistence.Run) {
	err := writeWithRetry(ctx, r.breaker, r.retry, func(ctx context.Context) error {
		return r.store.RecordRun(ctx, run)
	})
	if err == nil {
		r.recorded.Add(1)
		return
	}

	r.dropped.Add(1)
	if errors.Is(err, gobreaker.ErrOpenState) {
		r.logger.Debug("journal breaker open, run dropped", "task", run.TaskName)
		return
	}
	r.logger.Warn("failed to record run", "task", run.TaskName, "queue", run.Queue, "error", err)
}
