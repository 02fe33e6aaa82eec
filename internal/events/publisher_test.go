package events

import (
	"errors"
	"testing"
	"time"

	"github.com/aristath/jobqueue/internal/scheduler"
)

func collect(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	var got []Event
	for len(got) < n {
		select {
		case e := <-ch:
			got = append(got, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout after %d of %d events", len(got), n)
		}
	}
	return got
}

func TestPublisherEmitsLifecycle(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	ch := bus.Subscribe(TopicTask, 64)

	pub := NewPublisher(bus)
	s := scheduler.New(scheduler.WithObserver(pub))
	if err := s.Init(scheduler.QueueSpec{Name: "main"}, []scheduler.QueueSpec{{Name: "io", Threads: 1}}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer s.Destroy()

	ok := scheduler.NewFunc("ok", nil)
	bad := scheduler.NewTask("bad", func() error { return errors.New("broken") })
	s.AddTask(ok, "io")
	s.AddTask(bad, "io")

	events := collect(t, ch, 4)

	var completed, failed, started int
	for _, e := range events {
		switch ev := e.(type) {
		case TaskStartedEvent:
			started++
			if ev.Queue != "io" {
				t.Errorf("expected queue io, got %q", ev.Queue)
			}
		case TaskCompletedEvent:
			completed++
			if ev.ID != ok.ID() {
				t.Errorf("completed event for unexpected task %s", ev.Name)
			}
		case TaskFailedEvent:
			failed++
			if ev.ID != bad.ID() || ev.Err == nil || ev.Panicked {
				t.Errorf("unexpected failure event %+v", ev)
			}
		}
	}
	if started != 2 || completed != 1 || failed != 1 {
		t.Errorf("expected 2 started, 1 completed, 1 failed; got %d, %d, %d", started, completed, failed)
	}
}

func TestPublisherMarksPanics(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	ch := bus.Subscribe(TopicTask, 8)

	pub := NewPublisher(bus)
	task := scheduler.NewFunc("panics", func() { panic("oops") })
	err := task.Execute()
	pub.TaskFinished("main", task, time.Millisecond, err)

	ev, ok := collect(t, ch, 1)[0].(TaskFailedEvent)
	if !ok {
		t.Fatal("expected TaskFailedEvent")
	}
	if !ev.Panicked {
		t.Error("expected Panicked to be set")
	}
}

func TestPublisherRequeueAndStop(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	all := bus.SubscribeAll(8)

	pub := NewPublisher(bus)
	task := scheduler.NewFunc("waiting", nil)
	pub.TaskRequeued("render", task)
	pub.SchedulerStopped(3, []*scheduler.Task{task})

	got := collect(t, all, 2)
	if got[0].EventType() != EventTypeTaskRequeued {
		t.Errorf("expected requeue first, got %s", got[0].EventType())
	}
	stopped, ok := got[1].(SchedulerStoppedEvent)
	if !ok || stopped.Workers != 3 || stopped.Discarded != 1 {
		t.Errorf("unexpected stop event %+v", got[1])
	}
}
