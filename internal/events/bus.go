package events

import (
	"sync"
	"sync/atomic"
)

const defaultBufSize = 256

// EventBus is a channel-based pub-sub event bus.
// Supports topic-based subscriptions and SubscribeAll for cross-topic consumption.
// Publishing never blocks: events that do not fit a subscriber's buffer are
// dropped for that subscriber and counted.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event // topic -> subscriber channels
	allSubs []chan Event            // channels subscribed to all topics
	closed  bool

	dropped atomic.Int64
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[string][]chan Event),
	}
}

// Subscribe creates a subscription to a specific topic.
// bufSize defaults to 256 if <= 0. On a closed bus the returned channel is
// already closed.
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	ch := newSubscription(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// SubscribeAll creates a subscription to every topic.
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	ch := newSubscription(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.allSubs = append(b.allSubs, ch)
	return ch
}

func newSubscription(bufSize int) chan Event {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	return make(chan Event, bufSize)
}

// Publish sends event to the subscribers of its own topic and to every
// SubscribeAll channel.
func (b *EventBus) Publish(event Event) {
	b.PublishTo(event.Topic(), event)
}

// PublishTo sends event to the subscribers of topic and to every
// SubscribeAll channel.
func (b *EventBus) PublishTo(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs[topic] {
		b.offer(ch, event)
	}
	for _, ch := range b.allSubs {
		b.offer(ch, event)
	}
}

func (b *EventBus) offer(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *EventBus) Dropped() int64 { return b.dropped.Load() }

// Close closes the event bus and all subscriber channels.
// Safe to call multiple times (idempotent).
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
}
