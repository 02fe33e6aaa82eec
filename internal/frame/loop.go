package frame

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/jobqueue/internal/events"
	"github.com/aristath/jobqueue/internal/scheduler"
)

// maxRecordedErrors caps how many task errors Run keeps for its result.
const maxRecordedErrors = 32

// ErrStopped is returned when the scheduler refuses work mid-frame.
var ErrStopped = errors.New("frame loop: scheduler stopped")

// Hook runs before a frame is submitted. Hooks of one frame run concurrently.
type Hook func(ctx context.Context, frame int) error

// Config shapes a frame loop.
type Config struct {
	Jobs        int    // update jobs per frame
	WorkerQueue string // queue receiving update jobs
	RenderQueue string // queue receiving the render-sync job
	Interval    time.Duration

	Update  func(frame, index int) error // body of each update job
	Render  func(frame int) error        // body of the render-sync job
	Present func(frame int) error        // body of the present job, on the main queue

	Prepare      []Hook
	PrepareLimit int // concurrent hooks, default 4

	Bus    *events.EventBus // optional, receives FrameProgressEvent
	Logger *slog.Logger
}

// Stats summarizes a Run.
type Stats struct {
	Frames   int
	Jobs     int
	Failed   int
	Duration time.Duration
}

// Loop drives frames through a scheduler. Each frame fans out update jobs to
// a worker queue, joins them in a render-sync job and finishes with a present
// job drained on the caller's goroutine. The render-sync and present tasks are
// reused every frame.
type Loop struct {
	sched  *scheduler.Scheduler
	cfg    Config
	logger *slog.Logger

	frame      atomic.Int64
	renderSync *scheduler.Task
	present    *scheduler.Task
}

// New validates cfg against the scheduler's queue layout.
func New(s *scheduler.Scheduler, cfg Config) (*Loop, error) {
	mainQueue := s.MainQueueName()
	if mainQueue == "" {
		return nil, scheduler.ErrNotInitialized
	}
	if cfg.Jobs < 0 {
		return nil, fmt.Errorf("frame loop: negative job count %d", cfg.Jobs)
	}
	if cfg.WorkerQueue == "" {
		cfg.WorkerQueue = mainQueue
	}
	if cfg.RenderQueue == "" {
		cfg.RenderQueue = mainQueue
	}
	if cfg.PrepareLimit <= 0 {
		cfg.PrepareLimit = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	// A queue nobody drains would leave the present job requeued forever.
	stats := s.Stats()
	for _, name := range []string{cfg.WorkerQueue, cfg.RenderQueue} {
		if err := checkDrained(stats, name); err != nil {
			return nil, err
		}
	}

	l := &Loop{
		sched:  s,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "frame"),
	}
	l.renderSync = scheduler.NewTask("render-sync", func() error {
		if l.cfg.Render == nil {
			return nil
		}
		return l.cfg.Render(l.Frame())
	})
	l.present = scheduler.NewTask("present", func() error {
		if l.cfg.Present == nil {
			return nil
		}
		return l.cfg.Present(l.Frame())
	})
	return l, nil
}

func checkDrained(stats []scheduler.QueueStats, name string) error {
	for _, q := range stats {
		if q.Name != name {
			continue
		}
		if !q.Main && q.Threads == 0 {
			return fmt.Errorf("frame loop: queue %q has no workers", name)
		}
		return nil
	}
	return fmt.Errorf("frame loop: unknown queue %q", name)
}

// Frame returns the number of the frame being built or last finished.
func (l *Loop) Frame() int { return int(l.frame.Load()) }

// Run executes frames until ctx is done, or until frames have run when
// frames > 0. Task failures do not stop the loop; they are counted and
// returned joined with any context error.
func (l *Loop) Run(ctx context.Context, frames int) (Stats, error) {
	var stats Stats
	var taskErrs []error
	start := time.Now()

	for frames <= 0 || stats.Frames < frames {
		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(start)
			return stats, errors.Join(append(taskErrs, err)...)
		}

		frameStart := time.Now()
		errs, err := l.runFrame(ctx, stats.Frames)
		if err != nil {
			stats.Duration = time.Since(start)
			return stats, errors.Join(append(taskErrs, err)...)
		}

		stats.Frames++
		stats.Jobs += l.cfg.Jobs + 2
		stats.Failed += len(errs)
		for _, e := range errs {
			if len(taskErrs) < maxRecordedErrors {
				taskErrs = append(taskErrs, e)
			}
		}

		elapsed := time.Since(frameStart)
		l.publish(stats, len(errs), frames, elapsed)
		l.logger.Debug("frame finished", "frame", stats.Frames-1, "elapsed", elapsed, "failed", len(errs))

		if err := l.pace(ctx, frameStart); err != nil {
			stats.Duration = time.Since(start)
			return stats, errors.Join(append(taskErrs, err)...)
		}
	}

	stats.Duration = time.Since(start)
	return stats, errors.Join(taskErrs...)
}

// runFrame submits one frame and waits for its present job. The returned
// slice holds task errors; err is fatal for the loop.
func (l *Loop) runFrame(ctx context.Context, n int) ([]error, error) {
	l.frame.Store(int64(n))

	if err := l.prepare(ctx, n); err != nil {
		return nil, err
	}

	l.renderSync.Reset()
	l.present.Reset()

	jobs := make([]*scheduler.Task, l.cfg.Jobs)
	for i := range jobs {
		jobs[i] = scheduler.NewTask(fmt.Sprintf("update-%d", i), func() error {
			if l.cfg.Update == nil {
				return nil
			}
			return l.cfg.Update(n, i)
		})
		l.renderSync.AddDependency(jobs[i])
	}
	l.present.AddDependency(l.renderSync)

	for _, job := range jobs {
		if !l.sched.AddTask(job, l.cfg.WorkerQueue) {
			return nil, ErrStopped
		}
	}
	if !l.sched.AddTask(l.renderSync, l.cfg.RenderQueue) {
		return nil, ErrStopped
	}
	if !l.sched.AddTask(l.present, l.sched.MainQueueName()) {
		return nil, ErrStopped
	}

	l.sched.ExecuteMainThread()

	if !l.present.IsDone() {
		// The main queue was destroyed under us.
		return nil, ErrStopped
	}

	var errs []error
	for _, job := range jobs {
		if err := job.JoinContext(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("frame %d %s: %w", n, job.Name(), err))
		}
	}
	for _, task := range []*scheduler.Task{l.renderSync, l.present} {
		if err := task.Err(); err != nil {
			errs = append(errs, fmt.Errorf("frame %d %s: %w", n, task.Name(), err))
		}
	}
	return errs, nil
}

func (l *Loop) prepare(ctx context.Context, n int) error {
	if len(l.cfg.Prepare) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.PrepareLimit)
	for _, hook := range l.cfg.Prepare {
		g.Go(func() error {
			return hook(gctx, n)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("frame %d prepare: %w", n, err)
	}
	return nil
}

func (l *Loop) pace(ctx context.Context, frameStart time.Time) error {
	if l.cfg.Interval <= 0 {
		return nil
	}
	wait := l.cfg.Interval - time.Since(frameStart)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) publish(stats Stats, failed, total int, elapsed time.Duration) {
	if l.cfg.Bus == nil {
		return
	}
	l.cfg.Bus.Publish(events.FrameProgressEvent{
		Frame:     stats.Frames,
		Total:     total,
		Jobs:      l.cfg.Jobs + 2,
		Failed:    failed,
		Duration:  elapsed,
		Timestamp: time.Now(),
	})
}
