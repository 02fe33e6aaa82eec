package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aristath/jobqueue/internal/command"
	"github.com/aristath/jobqueue/internal/config"
	"github.com/aristath/jobqueue/internal/events"
	"github.com/aristath/jobqueue/internal/journal"
	"github.com/aristath/jobqueue/internal/persistence"
	"github.com/aristath/jobqueue/internal/scheduler"
)

// engine is a running scheduler with its event bus, subprocess tracking and
// optional journal.
type engine struct {
	ctx      context.Context // parent of every subprocess
	cancel   context.CancelFunc
	logger   *slog.Logger
	bus      *events.EventBus
	pub      *events.Publisher
	sched    *scheduler.Scheduler
	pm       *command.ProcessManager
	locks    *command.ResourceLocks
	store    persistence.Store
	recorder *journal.Recorder

	stopOnce  sync.Once
	discarded int
}

// startEngine wires the bus, journal and scheduler from cfg. The journal
// subscribes before any worker starts so no run is missed.
func startEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	e := &engine{
		logger: logger,
		bus:    events.NewEventBus(),
		pm:     command.NewProcessManager(),
		locks:  command.NewResourceLocks(),
	}
	e.pub = events.NewPublisher(e.bus)
	e.ctx, e.cancel = context.WithCancel(ctx)

	if cfg.Journal.Enabled {
		if err := e.openJournal(ctx, cfg); err != nil {
			e.cancel()
			e.bus.Close()
			return nil, err
		}
	}

	opts := append(cfg.SchedulerOptions(), scheduler.WithLogger(logger), scheduler.WithObserver(e.pub))
	e.sched = scheduler.New(opts...)
	mainSpec, others := cfg.QueueSpecs()
	if err := e.sched.Init(mainSpec, others); err != nil {
		e.cancel()
		e.closeJournal()
		e.bus.Close()
		return nil, fmt.Errorf("starting scheduler: %w", err)
	}

	logger.Info("scheduler started", "main", mainSpec.Name, "queues", len(others), "workers", cfg.TotalThreads(), "journal", cfg.Journal.Enabled)
	return e, nil
}

func (e *engine) openJournal(ctx context.Context, cfg *config.Config) error {
	store, err := persistence.NewSQLiteStore(ctx, cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}

	snapshot, err := json.Marshal(cfg)
	if err != nil {
		store.Close()
		return fmt.Errorf("encoding config snapshot: %w", err)
	}

	retry := journal.DefaultRetryConfig()
	retry.MaxRetries = cfg.Journal.MaxRetries
	rec := journal.NewRecorder(store, e.bus, journal.Options{
		Config: string(snapshot),
		Retry:  retry,
		Breaker: journal.BreakerConfig{
			ConsecutiveFailures: cfg.Journal.BreakerFailures,
			Timeout:             cfg.Journal.BreakerTimeout.Std(),
		},
		Logger: e.logger,
	})
	// Shutdown drains the recorder explicitly; a cancelled signal context
	// must not cut it short.
	if err := rec.Start(context.WithoutCancel(ctx)); err != nil {
		store.Close()
		return err
	}

	e.store = store
	e.recorder = rec
	return nil
}

// shutdown stops in dependency order. Running subprocesses are cancelled so
// workers can be joined, then the scheduler stops producing events, then
// stragglers are killed, then the journal drains and the bus closes. It
// returns how many queued tasks were discarded. Safe to call more than once.
func (e *engine) shutdown() int {
	e.stopOnce.Do(func() {
		e.cancel()
		workers := len(e.sched.Workers())
		pending := e.sched.Destroy()
		e.discarded = len(pending)
		e.pub.SchedulerStopped(workers, pending)

		if err := e.pm.KillAll(); err != nil {
			e.logger.Warn("failed to kill subprocesses", "error", err)
		}

		e.closeJournal()
		e.bus.Close()
		if dropped := e.bus.Dropped(); dropped > 0 {
			e.logger.Debug("event deliveries dropped", "count", dropped)
		}
	})
	return e.discarded
}

func (e *engine) closeJournal() {
	if e.recorder != nil {
		e.recorder.Stop()
		e.logger.Info("journal closed", "session", e.recorder.SessionID(), "recorded", e.recorder.Recorded(), "dropped", e.recorder.Dropped())
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Warn("failed to close journal store", "error", err)
		}
	}
}

// sessionID returns the journal session, or "" when the journal is off.
func (e *engine) sessionID() string {
	if e.recorder == nil {
		return ""
	}
	return e.recorder.SessionID()
}
