package scheduler

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// TaskQueue is a thread-safe FIFO of tasks waiting to be executed by the
// goroutines bound to it. A task popped before its dependencies have started
// is pushed back to the end, so order among tasks is only loosely FIFO;
// Task.Execute still joins dependencies before running the body.
type TaskQueue struct {
	name string

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []*Task
	running bool

	executed atomic.Int64
	requeued atomic.Int64
}

// NewTaskQueue creates an empty, running queue.
func NewTaskQueue(name string) *TaskQueue {
	q := &TaskQueue{
		name:    name,
		running: true,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Name returns the queue name.
func (q *TaskQueue) Name() string { return q.name }

// AddTask appends task and wakes one waiting consumer. It returns false when
// task is nil, is already in the queue, or the queue has been destroyed.
func (q *TaskQueue) AddTask(task *Task) bool {
	if task == nil {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running || q.containsLocked(task) {
		return false
	}
	q.tasks = append(q.tasks, task)
	q.cond.Signal()
	return true
}

// requeue puts a task that was just popped back at the end without waking
// other consumers.
func (q *TaskQueue) requeue(task *Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
	q.requeued.Add(1)
}

// PopNextTask removes and returns the task at the front, or nil if the queue
// is empty. It never blocks.
func (q *TaskQueue) PopNextTask() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil
	}
	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return task
}

// Contains reports whether task is currently in the queue.
func (q *TaskQueue) Contains(task *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.containsLocked(task)
}

func (q *TaskQueue) containsLocked(task *Task) bool {
	for _, queued := range q.tasks {
		if queued == task {
			return true
		}
	}
	return false
}

// IsEmpty reports whether no tasks are waiting.
func (q *TaskQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks) == 0
}

// Len returns the number of waiting tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// IsRunning reports whether the queue still accepts and hands out work.
func (q *TaskQueue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// WaitForTask blocks until the queue holds a task or has been destroyed.
func (q *TaskQueue) WaitForTask() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.running && len(q.tasks) == 0 {
		q.cond.Wait()
	}
}

// Yield blocks until a task is added, the queue is destroyed, or d elapses,
// whichever comes first. Consumers call it after requeueing a task that was
// not ready so they do not spin.
func (q *TaskQueue) Yield(d time.Duration) {
	if d <= 0 {
		runtime.Gosched()
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return
	}
	// The timer callback needs q.mu, so it cannot broadcast before Wait has
	// released the lock.
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()
	q.cond.Wait()
}

// Destroy stops the queue and wakes every blocked consumer. Tasks still in
// the queue are left in place; the owner collects them with drainPending.
func (q *TaskQueue) Destroy() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running = false
	q.cond.Broadcast()
}

// drainPending removes and returns every task still waiting.
func (q *TaskQueue) drainPending() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.tasks
	q.tasks = nil
	return pending
}
