package scheduler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// stepResult describes what a single consumer step did.
type stepResult int

const (
	stepEmpty    stepResult = iota // Queue had nothing to pop
	stepRequeued                   // Popped task was not ready and went back
	stepExecuted                   // Popped task ran
)

// executor is the pop / check-ready / requeue / execute step shared by worker
// goroutines and the main-queue drain. It is not safe for concurrent use;
// each consumer owns one.
type executor struct {
	queue    *TaskQueue
	observer Observer
	logger   *slog.Logger
	idle     backoff.BackOff
}

func newExecutor(q *TaskQueue, s settings) *executor {
	return &executor{
		queue:    q,
		observer: s.observer,
		logger:   s.logger,
		idle:     s.newIdleBackOff(),
	}
}

// step takes the next task from the queue and runs it if every dependency
// has started. A task that is not ready is requeued and the caller waits a
// bounded, growing interval before trying again.
func (e *executor) step() stepResult {
	task := e.queue.PopNextTask()
	if task == nil {
		return stepEmpty
	}

	if !task.CheckDependenciesStarted() {
		e.queue.requeue(task)
		e.observer.TaskRequeued(e.queue.name, task)
		e.queue.Yield(e.idle.NextBackOff())
		return stepRequeued
	}

	e.idle.Reset()
	e.execute(task)
	return stepExecuted
}

func (e *executor) execute(task *Task) {
	e.observer.TaskStarted(e.queue.name, task)

	start := time.Now()
	err := task.Execute()
	elapsed := time.Since(start)
	e.queue.executed.Add(1)

	var panicErr *PanicError
	switch {
	case err == nil:
		e.logger.Debug("task completed", "queue", e.queue.name, "task", task.String(), "elapsed", elapsed)
	case errors.Is(err, ErrAlreadyStarted):
		e.logger.Error("task executed twice without reset", "queue", e.queue.name, "task", task.String())
	case errors.As(err, &panicErr):
		e.logger.Error("task panicked", "queue", e.queue.name, "task", task.String(), "panic", panicErr.Value, "stack", string(panicErr.Stack))
	default:
		e.logger.Warn("task failed", "queue", e.queue.name, "task", task.String(), "error", err)
	}

	e.observer.TaskFinished(e.queue.name, task, elapsed, err)
}
