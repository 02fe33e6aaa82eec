package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Topic() string
	TaskID() string
}

// Topic constants
const (
	TopicTask      = "task"
	TopicFrame     = "frame"
	TopicScheduler = "scheduler"
)

// Event type constants
const (
	EventTypeTaskStarted      = "task.started"
	EventTypeTaskCompleted    = "task.completed"
	EventTypeTaskFailed       = "task.failed"
	EventTypeTaskRequeued     = "task.requeued"
	EventTypeFrameProgress    = "frame.progress"
	EventTypeSchedulerStopped = "scheduler.stopped"
)

// TaskStartedEvent is published when a consumer begins executing a task.
type TaskStartedEvent struct {
	ID        string
	Name      string
	Queue     string
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) Topic() string     { return TopicTask }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task body returns without error.
type TaskCompletedEvent struct {
	ID        string
	Name      string
	Queue     string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) Topic() string     { return TopicTask }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task body returns an error or panics.
type TaskFailedEvent struct {
	ID        string
	Name      string
	Queue     string
	Err       error
	Panicked  bool
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) Topic() string     { return TopicTask }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskRequeuedEvent is published when a popped task was not ready and went
// back to the end of its queue.
type TaskRequeuedEvent struct {
	ID        string
	Name      string
	Queue     string
	Timestamp time.Time
}

func (e TaskRequeuedEvent) EventType() string { return EventTypeTaskRequeued }
func (e TaskRequeuedEvent) Topic() string     { return TopicTask }
func (e TaskRequeuedEvent) TaskID() string    { return e.ID }

// FrameProgressEvent is published by the frame loop after each frame.
type FrameProgressEvent struct {
	Frame     int
	Total     int
	Jobs      int
	Failed    int
	Duration  time.Duration
	Timestamp time.Time
}

func (e FrameProgressEvent) EventType() string { return EventTypeFrameProgress }
func (e FrameProgressEvent) Topic() string     { return TopicFrame }
func (e FrameProgressEvent) TaskID() string    { return "" }

// SchedulerStoppedEvent is published once the scheduler has been destroyed.
type SchedulerStoppedEvent struct {
	Workers   int
	Discarded int
	Timestamp time.Time
}

func (e SchedulerStoppedEvent) EventType() string { return EventTypeSchedulerStopped }
func (e SchedulerStoppedEvent) Topic() string     { return TopicScheduler }
func (e SchedulerStoppedEvent) TaskID() string    { return "" }
