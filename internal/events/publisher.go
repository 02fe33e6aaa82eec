package events

import (
	"errors"
	"time"

	"github.com/aristath/jobqueue/internal/scheduler"
)

// Publisher adapts a scheduler observer onto the bus. It is called on the
// goroutine executing the task and never blocks.
type Publisher struct {
	bus *EventBus
	now func() time.Time
}

var _ scheduler.Observer = (*Publisher)(nil)

// NewPublisher returns an observer that publishes task lifecycle events to bus.
func NewPublisher(bus *EventBus) *Publisher {
	return &Publisher{bus: bus, now: time.Now}
}

func (p *Publisher) TaskStarted(queue string, task *scheduler.Task) {
	p.bus.Publish(TaskStartedEvent{
		ID:        task.ID(),
		Name:      task.Name(),
		Queue:     queue,
		Timestamp: p.now(),
	})
}

func (p *Publisher) TaskFinished(queue string, task *scheduler.Task, elapsed time.Duration, err error) {
	if err == nil {
		p.bus.Publish(TaskCompletedEvent{
			ID:        task.ID(),
			Name:      task.Name(),
			Queue:     queue,
			Duration:  elapsed,
			Timestamp: p.now(),
		})
		return
	}

	var panicErr *scheduler.PanicError
	p.bus.Publish(TaskFailedEvent{
		ID:        task.ID(),
		Name:      task.Name(),
		Queue:     queue,
		Err:       err,
		Panicked:  errors.As(err, &panicErr),
		Duration:  elapsed,
		Timestamp: p.now(),
	})
}

func (p *Publisher) TaskRequeued(queue string, task *scheduler.Task) {
	p.bus.Publish(TaskRequeuedEvent{
		ID:        task.ID(),
		Name:      task.Name(),
		Queue:     queue,
		Timestamp: p.now(),
	})
}

// SchedulerStopped publishes the outcome of Scheduler.Destroy.
func (p *Publisher) SchedulerStopped(workers int, discarded []*scheduler.Task) {
	p.bus.Publish(SchedulerStoppedEvent{
		Workers:   workers,
		Discarded: len(discarded),
		Timestamp: p.now(),
	})
}
