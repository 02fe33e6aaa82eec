package events

import (
	"fmt"
	"testing"
	"time"
)

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)

	bus.Publish(TaskStartedEvent{
		ID:        "task-1",
		Name:      "update",
		Queue:     "workers",
		Timestamp: time.Now(),
	})

	select {
	case received := <-ch:
		if received.TaskID() != "task-1" {
			t.Errorf("expected task ID 'task-1', got '%s'", received.TaskID())
		}
		if received.EventType() != EventTypeTaskStarted {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskStarted, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	bus.Publish(TaskCompletedEvent{
		ID:        "task-2",
		Duration:  100 * time.Millisecond,
		Timestamp: time.Now(),
	})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID() != "task-2" {
				t.Errorf("subscriber %d: expected task ID 'task-2', got '%s'", i+1, received.TaskID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when channels
// are full and that skipped deliveries are counted.
func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)

	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TaskStartedEvent{
				ID:        fmt.Sprintf("task-%d", i),
				Timestamp: time.Now(),
			})
		}
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	select {
	case received := <-ch:
		if received.TaskID() != "task-0" {
			t.Errorf("expected first event to be kept, got %s", received.TaskID())
		}
	default:
		t.Error("expected at least one event in buffer")
	}

	if bus.Dropped() != 9 {
		t.Errorf("expected 9 dropped deliveries, got %d", bus.Dropped())
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()

	ch := bus.Subscribe(TopicTask, 10)
	all := bus.SubscribeAll(10)

	bus.Close()
	bus.Close()

	for _, c := range []<-chan Event{ch, all} {
		received := 0
		for range c {
			received++
		}
		if received != 0 {
			t.Errorf("expected 0 events after close, got %d", received)
		}
	}
}

// TestSubscribeAfterClose verifies late subscribers get a closed channel.
func TestSubscribeAfterClose(t *testing.T) {
	bus := NewEventBus()
	bus.Close()

	select {
	case _, ok := <-bus.Subscribe(TopicFrame, 1):
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("subscription on closed bus should be closed")
	}
}

// TestPublishAfterClose verifies publishing after close doesn't panic.
func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicTask, 10)

	bus.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()

	bus.Publish(TaskStartedEvent{ID: "task-1", Timestamp: time.Now()})

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after bus was closed")
		}
	default:
	}
}

// TestMultipleTopics verifies events are routed by their own topic.
func TestMultipleTopics(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	frameCh := bus.Subscribe(TopicFrame, 10)

	bus.Publish(TaskRequeuedEvent{ID: "task-1", Timestamp: time.Now()})
	bus.Publish(FrameProgressEvent{Frame: 3, Total: 10, Jobs: 8, Timestamp: time.Now()})

	select {
	case received := <-taskCh:
		if received.EventType() != EventTypeTaskRequeued {
			t.Errorf("task channel: expected requeue event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("task channel: timeout waiting for event")
	}

	select {
	case received := <-frameCh:
		if received.EventType() != EventTypeFrameProgress {
			t.Errorf("frame channel: expected frame event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("frame channel: timeout waiting for event")
	}

	select {
	case <-taskCh:
		t.Error("task channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
	}

	select {
	case <-frameCh:
		t.Error("frame channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
	}
}

// TestPublishToOverridesTopic verifies explicit routing.
func TestPublishToOverridesTopic(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	schedCh := bus.Subscribe(TopicScheduler, 10)
	bus.PublishTo(TopicScheduler, TaskFailedEvent{ID: "task-9"})

	select {
	case received := <-schedCh:
		if received.TaskID() != "task-9" {
			t.Errorf("expected task-9, got %s", received.TaskID())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestSubscribeAll verifies that SubscribeAll receives events from all topics.
func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	bus.Publish(TaskStartedEvent{ID: "task-1", Timestamp: time.Now()})
	bus.Publish(SchedulerStoppedEvent{Workers: 4, Discarded: 2, Timestamp: time.Now()})

	receivedTypes := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			receivedTypes[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	if !receivedTypes[EventTypeTaskStarted] {
		t.Error("SubscribeAll did not receive task event")
	}
	if !receivedTypes[EventTypeSchedulerStopped] {
		t.Error("SubscribeAll did not receive scheduler event")
	}

	select {
	case <-allCh:
		t.Error("received unexpected third event")
	case <-time.After(10 * time.Millisecond):
	}
}
