package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/google/uuid"
)

// Status bits stored in Task.status.
const (
	statusStarted uint32 = 1 << iota
	statusDone
)

// graphMu serializes every dependency graph mutation (AddDependency, Reset)
// across all tasks, so two concurrent edge insertions cannot jointly close a
// cycle. Readers that only walk a single task's list use Task.mu instead.
var graphMu sync.Mutex

// Task is a one-shot unit of deferred work with completion tracking and
// optional ordering dependencies on other tasks.
//
// Dependencies are held as weak references: a Task never keeps the tasks it
// depends on alive, and a dependency that has been garbage collected counts
// as satisfied.
type Task struct {
	id   string
	name string
	fn   func() error

	status atomic.Uint32

	mu   sync.Mutex // guards done, err, deps
	done chan struct{}
	err  error
	deps []weak.Pointer[Task]
}

// NewTask creates a task wrapping fn. The task is neither started nor done.
func NewTask(name string, fn func() error) *Task {
	if name == "" {
		name = "task"
	}
	return &Task{
		id:   uuid.NewString(),
		name: name,
		fn:   fn,
		done: make(chan struct{}),
	}
}

// NewFunc creates a task from a callable that cannot fail.
func NewFunc(name string, fn func()) *Task {
	return NewTask(name, func() error {
		if fn != nil {
			fn()
		}
		return nil
	})
}

// ID returns the task's unique identifier.
func (t *Task) ID() string { return t.id }

// Name returns the human-readable task name.
func (t *Task) Name() string { return t.name }

func (t *Task) String() string { return t.name + "#" + t.id[:8] }

// AddDependency records that t must not run before other has completed.
// It returns false without changing anything when other is nil, is t itself,
// is already a dependency, or when t is reachable from other (the new edge
// would close a cycle).
func (t *Task) AddDependency(other *Task) bool {
	if other == nil || other == t {
		return false
	}

	graphMu.Lock()
	defer graphMu.Unlock()

	for _, ref := range t.deps {
		if ref.Value() == other {
			return false
		}
	}
	if reachable(other, t) {
		return false
	}

	t.mu.Lock()
	t.deps = append(t.deps, weak.Make(other))
	t.mu.Unlock()
	return true
}

// reachable reports whether target can be reached from start by following
// dependency edges. Caller must hold graphMu.
func reachable(start, target *Task) bool {
	visited := make(map[*Task]struct{})
	stack := []*Task{start}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if n == target {
			return true
		}
		if _, seen := visited[n]; seen {
			continue
		}
		visited[n] = struct{}{}

		for _, ref := range n.deps {
			if dep := ref.Value(); dep != nil {
				stack = append(stack, dep)
			}
		}
	}
	return false
}

// Dependencies returns the dependencies that are still alive, in the order
// they were added.
func (t *Task) Dependencies() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	live := make([]*Task, 0, len(t.deps))
	for _, ref := range t.deps {
		if dep := ref.Value(); dep != nil {
			live = append(live, dep)
		}
	}
	return live
}

// CheckDependenciesStarted reports whether every live dependency has started.
// It never blocks and is true for a task with no dependencies.
func (t *Task) CheckDependenciesStarted() bool {
	for _, dep := range t.Dependencies() {
		if !dep.HasStarted() {
			return false
		}
	}
	return true
}

// Execute runs the task on the calling goroutine. It first joins every live
// dependency that has not finished, then marks the task started, runs the
// body, marks it done and releases all joiners.
//
// A panic escaping the body is recovered and returned as *PanicError; the
// task is still marked done. Calling Execute again without an intervening
// Reset returns ErrAlreadyStarted and does not run the body.
func (t *Task) Execute() error {
	for _, dep := range t.Dependencies() {
		if !dep.IsDone() {
			_ = dep.Join()
		}
	}

	if !t.status.CompareAndSwap(0, statusStarted) {
		return ErrAlreadyStarted
	}

	err := t.run()

	t.mu.Lock()
	t.err = err
	done := t.done
	t.mu.Unlock()

	t.status.Or(statusDone)
	close(done)
	return err
}

func (t *Task) run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Task: t.name, Value: r, Stack: debug.Stack()}
		}
	}()
	if t.fn == nil {
		return nil
	}
	return t.fn()
}

// Join blocks until the task is done and returns the error produced by its
// body. It returns immediately for a finished task and may be called from
// any number of goroutines.
func (t *Task) Join() error {
	<-t.Done()
	return t.Err()
}

// JoinContext is Join with a way out: it returns ctx.Err() if ctx ends first.
func (t *Task) JoinContext(ctx context.Context) error {
	select {
	case <-t.Done():
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the current execution completes.
func (t *Task) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Err returns the error of the last completed execution, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// HasStarted reports whether Execute has begun running the body.
func (t *Task) HasStarted() bool {
	return t.status.Load()&statusStarted != 0
}

// IsDone reports whether the body has finished.
func (t *Task) IsDone() bool {
	return t.status.Load()&statusDone != 0
}

// Reset returns the task to its freshly constructed state so it can be
// scheduled again: status and error are cleared, a new completion signal is
// created and the dependency list is emptied. The body is kept.
//
// Reset must not be called while another goroutine may be executing or
// joining the task.
func (t *Task) Reset() {
	graphMu.Lock()
	defer graphMu.Unlock()

	t.mu.Lock()
	t.status.Store(0)
	t.err = nil
	t.done = make(chan struct{})
	t.deps = nil
	t.mu.Unlock()
}
