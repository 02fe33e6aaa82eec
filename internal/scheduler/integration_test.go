package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T, main QueueSpec, others []QueueSpec, opts ...Option) *Scheduler {
	t.Helper()
	s := New(opts...)
	if err := s.Init(main, others); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { s.Destroy() })
	return s
}

func waitAll(t *testing.T, tasks []*Task, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for _, task := range tasks {
		select {
		case <-task.Done():
		case <-deadline:
			t.Fatalf("timed out waiting for %s", task)
		}
	}
}

// TestIntegration_ManyTasksAcrossQueues spreads independent increments over
// two worker queues and checks every body ran exactly once.
func TestIntegration_ManyTasksAcrossQueues(t *testing.T) {
	s := newTestScheduler(t,
		QueueSpec{Name: "main"},
		[]QueueSpec{{Name: "io", Threads: 2}, {Name: "compute", Threads: 2}},
	)

	const n = 100
	var counter atomic.Int64
	runs := make([]atomic.Int32, n)
	tasks := make([]*Task, n)
	for i := 0; i < n; i++ {
		tasks[i] = NewFunc(fmt.Sprintf("inc-%d", i), func() {
			runs[i].Add(1)
			counter.Add(1)
		})
		queue := "io"
		if i%2 == 1 {
			queue = "compute"
		}
		if !s.AddTask(tasks[i], queue) {
			t.Fatalf("AddTask(%d) = false", i)
		}
	}

	waitAll(t, tasks, 5*time.Second)

	if counter.Load() != n {
		t.Errorf("expected counter %d, got %d", n, counter.Load())
	}
	for i := range runs {
		if runs[i].Load() != 1 {
			t.Errorf("task %d ran %d times", i, runs[i].Load())
		}
	}
}

// TestIntegration_DependencyOrderAcrossQueues checks that B never observes
// a state where A has not completed, wherever either is queued.
func TestIntegration_DependencyOrderAcrossQueues(t *testing.T) {
	s := newTestScheduler(t,
		QueueSpec{Name: "main"},
		[]QueueSpec{{Name: "left", Threads: 2}, {Name: "right", Threads: 2}},
	)

	placements := [][2]string{
		{"left", "right"},
		{"right", "left"},
		{"left", "left"},
		{"right", "right"},
	}

	for round := 0; round < 25; round++ {
		for _, place := range placements {
			var aDone atomic.Bool
			var violated atomic.Bool

			a := NewFunc("A", func() {
				time.Sleep(time.Millisecond)
				aDone.Store(true)
			})
			b := NewFunc("B", func() {
				if !aDone.Load() {
					violated.Store(true)
				}
			})
			if !b.AddDependency(a) {
				t.Fatal("AddDependency(B->A) should succeed")
			}

			// Queue the dependent first so the worker has to requeue it.
			s.AddTask(b, place[1])
			s.AddTask(a, place[0])

			waitAll(t, []*Task{a, b}, 5*time.Second)
			if violated.Load() {
				t.Fatalf("round %d %v: B ran before A completed", round, place)
			}
		}
	}
}

// TestIntegration_DuplicateAddAndShutdown mirrors a single worker queue with
// two threads fed the same task twice, then shut down.
func TestIntegration_DuplicateAddAndShutdown(t *testing.T) {
	s := New()
	if err := s.Init(QueueSpec{Name: "main"}, []QueueSpec{{Name: "io", Threads: 2}}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if got := len(s.Workers()); got != 2 {
		t.Fatalf("expected 2 workers, got %d", got)
	}

	// Hold the workers so the task stays queued while it is added twice.
	gate := make(chan struct{})
	holders := []*Task{
		NewFunc("hold-1", func() { <-gate }),
		NewFunc("hold-2", func() { <-gate }),
	}
	for _, h := range holders {
		s.AddTask(h, "io")
	}
	deadline := time.Now().Add(2 * time.Second)
	for !holders[0].HasStarted() || !holders[1].HasStarted() {
		if time.Now().After(deadline) {
			t.Fatal("workers never picked up the holder tasks")
		}
		time.Sleep(time.Millisecond)
	}

	task := NewFunc("once", nil)
	if !s.AddTask(task, "io") {
		t.Fatal("first AddTask should succeed")
	}
	if s.AddTask(task, "io") {
		t.Error("second AddTask of a queued task should fail")
	}

	close(gate)
	waitAll(t, []*Task{task}, 2*time.Second)

	s.Destroy()
	for i, w := range s.Workers() {
		if w.IsAlive() {
			t.Errorf("worker %d still alive after Destroy", i)
		}
	}
	if s.AddTask(NewFunc("late", nil), "io") {
		t.Error("AddTask after Destroy should fail")
	}
	if s.Destroy() != nil {
		t.Error("second Destroy should return nil")
	}
}

func TestDestroyDiscardsPendingTasks(t *testing.T) {
	s := New()
	if err := s.Init(QueueSpec{Name: "main"}, []QueueSpec{{Name: "io", Threads: 1}}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	gate := make(chan struct{})
	blocker := NewFunc("blocker", func() { <-gate })
	s.AddTask(blocker, "io")
	for !blocker.HasStarted() {
		time.Sleep(time.Millisecond)
	}

	var ran atomic.Int32
	pending := []*Task{
		NewFunc("p1", func() { ran.Add(1) }),
		NewFunc("p2", func() { ran.Add(1) }),
		NewFunc("p3", func() { ran.Add(1) }),
	}
	for _, p := range pending {
		s.AddTask(p, "io")
	}
	mainTask := NewFunc("main-pending", func() { ran.Add(1) })
	s.AddTask(mainTask, "main")

	result := make(chan []*Task, 1)
	go func() { result <- s.Destroy() }()

	// Release the blocker only once the queues have stopped handing out work.
	deadline := time.Now().Add(2 * time.Second)
	for s.Queue("io").IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("queue never stopped")
		}
		time.Sleep(time.Millisecond)
	}
	close(gate)

	var discarded []*Task
	select {
	case discarded = <-result:
	case <-time.After(2 * time.Second):
		t.Fatal("Destroy did not return")
	}

	if len(discarded) != 4 {
		t.Errorf("expected 4 discarded tasks, got %d", len(discarded))
	}
	if ran.Load() != 0 {
		t.Errorf("discarded tasks must not run, %d did", ran.Load())
	}
	if !blocker.IsDone() {
		t.Error("in-flight task should have finished")
	}
}

func TestExecuteMainThread(t *testing.T) {
	s := newTestScheduler(t,
		QueueSpec{Name: "main"},
		[]QueueSpec{{Name: "io", Threads: 1}},
		WithIdleBackoff(time.Millisecond, 2*time.Millisecond),
	)

	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	load := NewFunc("load", func() {
		time.Sleep(5 * time.Millisecond)
		record("load")()
	})
	present := NewFunc("present", record("present"))
	present.AddDependency(load)
	local := NewFunc("local", record("local"))

	s.AddTask(present, "main")
	s.AddTask(local, "main")
	s.AddTask(load, "io")

	if n := s.ExecuteMainThread(); n != 2 {
		t.Errorf("ExecuteMainThread() = %d, want 2", n)
	}
	if !present.IsDone() || !local.IsDone() {
		t.Fatal("main-queue tasks should be done when ExecuteMainThread returns")
	}

	mu.Lock()
	defer mu.Unlock()
	loadAt, presentAt := -1, -1
	for i, name := range order {
		switch name {
		case "load":
			loadAt = i
		case "present":
			presentAt = i
		}
	}
	if loadAt == -1 || presentAt < loadAt {
		t.Errorf("present must run after load, got order %v", order)
	}

	if n := s.ExecuteMainThread(); n != 0 {
		t.Errorf("ExecuteMainThread() on empty main queue = %d, want 0", n)
	}
}

func TestSchedulerRejects(t *testing.T) {
	t.Run("before init", func(t *testing.T) {
		s := New()
		if s.AddTask(NewFunc("a", nil), "main") {
			t.Error("AddTask before Init should fail")
		}
		if n := s.ExecuteMainThread(); n != 0 {
			t.Errorf("ExecuteMainThread before Init = %d, want 0", n)
		}
		if s.Destroy() != nil {
			t.Error("Destroy before Init should return nil")
		}
	})

	t.Run("unknown queue", func(t *testing.T) {
		s := newTestScheduler(t, QueueSpec{Name: "main"}, nil)
		if s.AddTask(NewFunc("a", nil), "nope") {
			t.Error("AddTask to unknown queue should fail")
		}
		if s.Queue("nope") != nil {
			t.Error("Queue(unknown) should be nil")
		}
	})

	t.Run("init twice", func(t *testing.T) {
		s := newTestScheduler(t, QueueSpec{Name: "main"}, nil)
		if err := s.Init(QueueSpec{Name: "main"}, nil); !errors.Is(err, ErrAlreadyInitialized) {
			t.Errorf("second Init() error = %v, want ErrAlreadyInitialized", err)
		}
	})
}

func TestInitValidation(t *testing.T) {
	tests := []struct {
		name   string
		main   QueueSpec
		others []QueueSpec
	}{
		{name: "empty main name", main: QueueSpec{}},
		{name: "empty worker name", main: QueueSpec{Name: "main"}, others: []QueueSpec{{Threads: 1}}},
		{name: "negative threads", main: QueueSpec{Name: "main"}, others: []QueueSpec{{Name: "io", Threads: -1}}},
		{name: "duplicate name", main: QueueSpec{Name: "main"}, others: []QueueSpec{{Name: "main", Threads: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			err := s.Init(tt.main, tt.others)
			if !errors.Is(err, ErrInvalidQueueSpec) {
				t.Errorf("Init() error = %v, want ErrInvalidQueueSpec", err)
			}
			if s.AddTask(NewFunc("a", nil), "main") {
				t.Error("failed Init should leave the scheduler unusable")
			}
		})
	}
}

func TestQueueWithZeroThreadsHoldsTasks(t *testing.T) {
	s := newTestScheduler(t, QueueSpec{Name: "main"}, []QueueSpec{{Name: "parked", Threads: 0}})

	task := NewFunc("parked", nil)
	if !s.AddTask(task, "parked") {
		t.Fatal("AddTask to a zero-thread queue should succeed")
	}
	time.Sleep(10 * time.Millisecond)
	if task.HasStarted() {
		t.Error("task in a queue with no workers should never run")
	}
}

// TestIntegration_ResetPerFrame reuses one sync task across frames the way a
// render loop would.
func TestIntegration_ResetPerFrame(t *testing.T) {
	s := newTestScheduler(t,
		QueueSpec{Name: "main"},
		[]QueueSpec{{Name: "workers", Threads: 2}},
		WithIdleBackoff(time.Millisecond, 2*time.Millisecond),
	)

	var syncRuns atomic.Int32
	frameSync := NewFunc("frame-sync", func() { syncRuns.Add(1) })

	for frame := 0; frame < 5; frame++ {
		frameSync.Reset()

		var updates atomic.Int32
		jobs := make([]*Task, 4)
		for i := range jobs {
			jobs[i] = NewFunc("update", func() { updates.Add(1) })
			frameSync.AddDependency(jobs[i])
			s.AddTask(jobs[i], "workers")
		}
		s.AddTask(frameSync, "main")

		if n := s.ExecuteMainThread(); n != 1 {
			t.Fatalf("frame %d: ExecuteMainThread() = %d, want 1", frame, n)
		}
		if updates.Load() != 4 {
			t.Fatalf("frame %d: sync ran after %d of 4 updates", frame, updates.Load())
		}
	}

	if syncRuns.Load() != 5 {
		t.Errorf("expected frame sync to run 5 times, got %d", syncRuns.Load())
	}
}

func TestStats(t *testing.T) {
	s := newTestScheduler(t, QueueSpec{Name: "main"}, []QueueSpec{{Name: "io", Threads: 1}})

	task := NewFunc("a", nil)
	s.AddTask(task, "io")
	waitAll(t, []*Task{task}, 2*time.Second)
	s.AddTask(NewFunc("b", nil), "main")

	stats := s.Stats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 queue stats, got %d", len(stats))
	}
	if !stats[0].Main || stats[0].Name != "main" || stats[0].Pending != 1 {
		t.Errorf("unexpected main stats %+v", stats[0])
	}
	if stats[1].Name != "io" || stats[1].Threads != 1 {
		t.Errorf("unexpected io stats %+v", stats[1])
	}

	// The executed counter is bumped just after the task's done signal.
	deadline := time.Now().Add(time.Second)
	for s.Stats()[1].Executed != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected io executed=1, got %d", s.Stats()[1].Executed)
		}
		time.Sleep(time.Millisecond)
	}

	if got := s.QueueNames(); len(got) != 2 || got[0] != "main" || got[1] != "io" {
		t.Errorf("QueueNames() = %v", got)
	}
	if s.MainQueueName() != "main" {
		t.Errorf("MainQueueName() = %q", s.MainQueueName())
	}
}
