package scheduler

import (
	"sync"
	"sync/atomic"
)

// WorkerThread owns one goroutine that repeatedly pulls ready tasks from a
// single TaskQueue and executes them.
type WorkerThread struct {
	id   int
	exec *executor

	startOnce sync.Once
	started   atomic.Bool
	done      chan struct{}
}

// NewWorkerThread binds a new, not yet started worker to queue.
func NewWorkerThread(queue *TaskQueue, opts ...Option) *WorkerThread {
	return newWorkerThread(0, queue, newSettings(opts))
}

func newWorkerThread(id int, queue *TaskQueue, s settings) *WorkerThread {
	s.logger = s.logger.With("worker", id, "queue", queue.Name())
	return &WorkerThread{
		id:   id,
		exec: newExecutor(queue, s),
		done: make(chan struct{}),
	}
}

// Start spawns the worker goroutine. Calls after the first are no-ops.
func (w *WorkerThread) Start() {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.loop()
	})
}

// loop runs until the queue is destroyed. Tasks still queued at that point
// are left for the owner to collect.
func (w *WorkerThread) loop() {
	defer close(w.done)

	q := w.exec.queue
	w.exec.logger.Debug("worker started")
	for {
		if !q.IsRunning() {
			break
		}
		if q.IsEmpty() {
			q.WaitForTask()
			continue
		}
		w.exec.step()
	}
	w.exec.logger.Debug("worker exited")
}

// Destroy blocks until the worker goroutine has exited. It does not stop the
// queue; destroy the queue first. Safe to call any number of times, and a
// no-op for a worker that was never started.
func (w *WorkerThread) Destroy() {
	if !w.started.Load() {
		return
	}
	<-w.done
}

// Done returns a channel closed once the worker goroutine has exited.
func (w *WorkerThread) Done() <-chan struct{} { return w.done }

// IsAlive reports whether the worker goroutine is running.
func (w *WorkerThread) IsAlive() bool {
	if !w.started.Load() {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Queue returns the queue the worker drains.
func (w *WorkerThread) Queue() *TaskQueue { return w.exec.queue }
