package scheduler

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"
)

// QueueSpec names a queue and the number of worker goroutines feeding it.
type QueueSpec struct {
	Name    string `json:"name"`
	Threads int    `json:"threads"`
}

type state int

const (
	stateUninitialized state = iota
	stateRunning
	stateDestroyed
)

// QueueStats is a point-in-time snapshot of one queue.
type QueueStats struct {
	Name     string
	Main     bool
	Threads  int
	Pending  int
	Executed int64
	Requeued int64
	Running  bool
}

// Scheduler owns a fixed set of named queues, the worker goroutines bound to
// them, and one main queue that is drained by whoever calls
// ExecuteMainThread.
type Scheduler struct {
	settings settings
	logger   *slog.Logger

	mu      sync.RWMutex
	state   state
	index   map[string]int
	queues  []*TaskQueue
	threads []int
	workers []*WorkerThread
	mainIdx int

	mainMu   sync.Mutex // serializes ExecuteMainThread callers
	mainExec *executor
}

// New creates an uninitialized scheduler.
func New(opts ...Option) *Scheduler {
	s := newSettings(opts)
	return &Scheduler{
		settings: s,
		logger:   s.logger.With("component", "scheduler"),
		index:    make(map[string]int),
	}
}

// Init creates one queue per spec, starts spec.Threads workers for each
// queue in others, and sets up main as the caller-drained queue. The thread
// count of main is ignored.
func (s *Scheduler) Init(main QueueSpec, others []QueueSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateUninitialized {
		return ErrAlreadyInitialized
	}

	specs := append([]QueueSpec{main}, others...)
	if err := validateSpecs(specs); err != nil {
		return err
	}
	if main.Threads > 0 {
		s.logger.Warn("main queue is drained by the caller, ignoring thread count", "queue", main.Name, "threads", main.Threads)
	}

	for i, spec := range specs {
		q := NewTaskQueue(spec.Name)
		s.index[spec.Name] = i
		s.queues = append(s.queues, q)

		if i == 0 {
			s.threads = append(s.threads, 0)
			continue
		}
		s.threads = append(s.threads, spec.Threads)
		for n := 0; n < spec.Threads; n++ {
			s.workers = append(s.workers, newWorkerThread(len(s.workers), q, s.settings))
		}
	}
	s.mainIdx = 0
	s.mainExec = newExecutor(s.queues[0], s.settings)

	for _, w := range s.workers {
		w.Start()
	}
	s.state = stateRunning

	s.logger.Info("scheduler initialized", "main", main.Name, "queues", len(s.queues), "workers", len(s.workers))
	return nil
}

func validateSpecs(specs []QueueSpec) error {
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return fmt.Errorf("%w: empty queue name", ErrInvalidQueueSpec)
		}
		if spec.Threads < 0 {
			return fmt.Errorf("%w: queue %q has negative thread count %d", ErrInvalidQueueSpec, spec.Name, spec.Threads)
		}
		if seen[spec.Name] {
			return fmt.Errorf("%w: duplicate queue name %q", ErrInvalidQueueSpec, spec.Name)
		}
		seen[spec.Name] = true
	}
	return nil
}

// AddTask hands task to the named queue. It returns false, and does nothing
// else, when the scheduler is not running, the queue name is unknown, or the
// task is already in that queue.
func (s *Scheduler) AddTask(task *Task, queue string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != stateRunning {
		s.logger.Debug("scheduler not running, task dropped", "queue", queue)
		return false
	}
	idx, ok := s.index[queue]
	if !ok {
		s.logger.Debug("unknown queue, task dropped", "queue", queue)
		return false
	}
	if !s.queues[idx].AddTask(task) {
		s.logger.Debug("task already queued", "queue", queue)
		return false
	}
	return true
}

// ExecuteMainThread drains the main queue on the calling goroutine and
// returns how many tasks it executed. Tasks whose dependencies have not
// started are requeued and retried until the queue is empty.
func (s *Scheduler) ExecuteMainThread() int {
	s.mu.RLock()
	exec := s.mainExec
	running := s.state == stateRunning
	s.mu.RUnlock()
	if !running {
		return 0
	}

	s.mainMu.Lock()
	defer s.mainMu.Unlock()

	executed := 0
	for exec.queue.IsRunning() {
		switch exec.step() {
		case stepEmpty:
			return executed
		case stepExecuted:
			executed++
		}
	}
	return executed
}

// Destroy stops every queue, waits for all workers to exit and returns the
// tasks that were still queued. Those tasks are discarded, never executed;
// tasks already running finish normally. Calling Destroy again returns nil.
func (s *Scheduler) Destroy() []*Task {
	s.mu.Lock()
	if s.state != stateRunning {
		s.state = stateDestroyed
		s.mu.Unlock()
		return nil
	}
	s.state = stateDestroyed
	queues := s.queues
	workers := s.workers
	s.mu.Unlock()

	for _, q := range queues {
		q.Destroy()
	}

	var wg conc.WaitGroup
	for _, w := range workers {
		wg.Go(w.Destroy)
	}
	wg.Wait()

	var discarded []*Task
	for _, q := range queues {
		discarded = append(discarded, q.drainPending()...)
	}

	s.logger.Info("scheduler destroyed", "workers", len(workers), "discarded", len(discarded))
	return discarded
}

// Queue returns the named queue, or nil if it does not exist.
func (s *Scheduler) Queue(name string) *TaskQueue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.index[name]
	if !ok {
		return nil
	}
	return s.queues[idx]
}

// QueueNames returns every queue name, main queue first.
func (s *Scheduler) QueueNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.queues))
	for _, q := range s.queues {
		names = append(names, q.Name())
	}
	return names
}

// MainQueueName returns the name of the caller-drained queue, or "" before Init.
func (s *Scheduler) MainQueueName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.queues) == 0 {
		return ""
	}
	return s.queues[s.mainIdx].Name()
}

// Workers returns the worker goroutines in creation order.
func (s *Scheduler) Workers() []*WorkerThread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*WorkerThread(nil), s.workers...)
}

// Stats returns a snapshot of every queue, main queue first.
func (s *Scheduler) Stats() []QueueStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make([]QueueStats, 0, len(s.queues))
	for i, q := range s.queues {
		stats = append(stats, QueueStats{
			Name:     q.Name(),
			Main:     i == s.mainIdx,
			Threads:  s.threads[i],
			Pending:  q.Len(),
			Executed: q.executed.Load(),
			Requeued: q.requeued.Load(),
			Running:  q.IsRunning(),
		})
	}
	return stats
}
