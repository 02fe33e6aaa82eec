package frame

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/jobqueue/internal/events"
	"github.com/aristath/jobqueue/internal/scheduler"
)

func testScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	s := scheduler.New(scheduler.WithIdleBackoff(100*time.Microsecond, time.Millisecond))
	err := s.Init(scheduler.QueueSpec{Name: "main"}, []scheduler.QueueSpec{
		{Name: "workers", Threads: 3},
		{Name: "render", Threads: 1},
		{Name: "parked", Threads: 0},
	})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { s.Destroy() })
	return s
}

func TestLoopOrdersStagesEveryFrame(t *testing.T) {
	s := testScheduler(t)

	const frames, jobs = 5, 6
	var mu sync.Mutex
	updates := make(map[int]int)
	var violations atomic.Int32
	var presented []int

	loop, err := New(s, Config{
		Jobs:        jobs,
		WorkerQueue: "workers",
		RenderQueue: "render",
		Update: func(frame, index int) error {
			mu.Lock()
			updates[frame]++
			mu.Unlock()
			return nil
		},
		Render: func(frame int) error {
			mu.Lock()
			defer mu.Unlock()
			if updates[frame] != jobs {
				violations.Add(1)
			}
			return nil
		},
		Present: func(frame int) error {
			mu.Lock()
			defer mu.Unlock()
			presented = append(presented, frame)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	stats, err := loop.Run(context.Background(), frames)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.Frames != frames {
		t.Errorf("expected %d frames, got %d", frames, stats.Frames)
	}
	if stats.Jobs != frames*(jobs+2) {
		t.Errorf("expected %d jobs, got %d", frames*(jobs+2), stats.Jobs)
	}
	if violations.Load() != 0 {
		t.Errorf("render-sync ran before all updates %d times", violations.Load())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(presented) != frames {
		t.Fatalf("expected %d presents, got %d", frames, len(presented))
	}
	for i, f := range presented {
		if f != i {
			t.Errorf("present %d saw frame %d", i, f)
		}
	}
}

func TestLoopCountsFailuresAndContinues(t *testing.T) {
	s := testScheduler(t)

	boom := errors.New("boom")
	loop, err := New(s, Config{
		Jobs:        4,
		WorkerQueue: "workers",
		RenderQueue: "render",
		Update: func(frame, index int) error {
			if index == 0 {
				return boom
			}
			return nil
		},
		Present: func(frame int) error {
			if frame == 1 {
				panic("present exploded")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	stats, err := loop.Run(context.Background(), 3)
	if stats.Frames != 3 {
		t.Fatalf("expected 3 frames despite failures, got %d", stats.Frames)
	}
	// One failing update per frame plus one panicking present.
	if stats.Failed != 4 {
		t.Errorf("expected 4 failures, got %d", stats.Failed)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected joined error to contain boom, got %v", err)
	}
	var panicErr *scheduler.PanicError
	if !errors.As(err, &panicErr) {
		t.Errorf("expected joined error to contain a panic, got %v", err)
	}
}

func TestLoopPublishesProgress(t *testing.T) {
	s := testScheduler(t)
	bus := events.NewEventBus()
	defer bus.Close()
	ch := bus.Subscribe(events.TopicFrame, 16)

	loop, err := New(s, Config{Jobs: 2, WorkerQueue: "workers", Bus: bus})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := loop.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for want := 1; want <= 3; want++ {
		select {
		case e := <-ch:
			progress := e.(events.FrameProgressEvent)
			if progress.Frame != want || progress.Total != 3 || progress.Jobs != 4 {
				t.Errorf("unexpected progress %+v", progress)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing progress event for frame %d", want)
		}
	}
}

func TestLoopPrepareHooks(t *testing.T) {
	s := testScheduler(t)

	var calls atomic.Int32
	hook := func(ctx context.Context, frame int) error {
		calls.Add(1)
		return nil
	}
	loop, err := New(s, Config{
		Jobs:        1,
		WorkerQueue: "workers",
		Prepare:     []Hook{hook, hook, hook},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := loop.Run(context.Background(), 2); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls.Load() != 6 {
		t.Errorf("expected 6 hook calls, got %d", calls.Load())
	}
}

func TestLoopPrepareErrorStopsRun(t *testing.T) {
	s := testScheduler(t)

	bad := errors.New("assets missing")
	loop, err := New(s, Config{
		Jobs:        1,
		WorkerQueue: "workers",
		Prepare: []Hook{func(ctx context.Context, frame int) error {
			if frame == 2 {
				return bad
			}
			return nil
		}},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	stats, err := loop.Run(context.Background(), 10)
	if !errors.Is(err, bad) {
		t.Fatalf("Run() error = %v, want %v", err, bad)
	}
	if stats.Frames != 2 {
		t.Errorf("expected 2 completed frames, got %d", stats.Frames)
	}
}

func TestLoopStopsOnContext(t *testing.T) {
	s := testScheduler(t)

	loop, err := New(s, Config{Jobs: 2, WorkerQueue: "workers", Interval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	stats, err := loop.Run(ctx, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want DeadlineExceeded", err)
	}
	if stats.Frames == 0 {
		t.Error("expected some frames before the deadline")
	}
}

func TestLoopStopsWhenSchedulerDestroyed(t *testing.T) {
	s := testScheduler(t)
	loop, err := New(s, Config{Jobs: 1, WorkerQueue: "workers"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Destroy()

	if _, err := loop.Run(context.Background(), 1); !errors.Is(err, ErrStopped) {
		t.Errorf("Run() error = %v, want ErrStopped", err)
	}
}

func TestNewValidation(t *testing.T) {
	s := testScheduler(t)

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown worker queue", cfg: Config{WorkerQueue: "gpu"}},
		{name: "unknown render queue", cfg: Config{WorkerQueue: "workers", RenderQueue: "gpu"}},
		{name: "queue without workers", cfg: Config{WorkerQueue: "parked"}},
		{name: "negative jobs", cfg: Config{Jobs: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(s, tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := New(scheduler.New(), Config{}); !errors.Is(err, scheduler.ErrNotInitialized) {
		t.Errorf("New() on uninitialized scheduler error = %v, want ErrNotInitialized", err)
	}

	if _, err := New(s, Config{}); err != nil {
		t.Errorf("defaults to main queue should be valid: %v", err)
	}
}
