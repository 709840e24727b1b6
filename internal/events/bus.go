package events

import (
	"sync"
	"time"

	"kwikcast/internal/core/domain"
)

// EventType represents the type of event published to the caller.
type EventType string

const (
	EventStatusChange         EventType = "status-change"
	EventMetricsUpdate        EventType = "metrics-update"
	EventError                EventType = "error"
	EventNetworkStats         EventType = "network-stats"
	EventNetworkWarning       EventType = "network-warning"
	EventReconnectAttempt     EventType = "reconnect-attempt"
	EventReconnected          EventType = "reconnected"
	EventReconnectFailed      EventType = "reconnect-failed"
	EventMaxReconnectAttempts EventType = "max-reconnect-attempts-reached"
	EventBitrateAdjustment    EventType = "bitrate-adjustment"
)

// Event is a single notification from the orchestrator. Only the fields
// relevant to the event type are populated.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID domain.SessionID

	State   domain.SessionState
	Metrics domain.StreamMetrics
	Sample  domain.NetworkSample
	Message string
	Attempt int

	// Bitrate adjustment
	FromKbps int
	ToKbps   int
	Reason   string
}

// Handler receives published events on the subscriber's own goroutine.
// A handler may block without stalling publishers, but once its buffer
// fills further events for that subscriber are dropped.
type Handler func(Event)

const subscriberBuffer = 64

type subscriber struct {
	ch       chan Event
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (s *subscriber) run(h Handler) {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case ev := <-s.ch:
			h(ev)
		}
	}
}

func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.quit) })
	<-s.done
}

// Bus is an in-process event bus fanning orchestrator events out to
// subscribers in subscription order. Each subscriber consumes from its
// own buffered channel, so a slow handler never stalls the publisher.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscriber
	closed bool
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler and returns an unsubscribe function.
// Unsubscribing stops delivery, discards anything still buffered and
// waits for an in-flight handler call to return.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	sub := &subscriber{
		ch:   make(chan Event, subscriberBuffer),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go sub.run(h)

	return func() {
		b.mu.Lock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		sub.stop()
	}
}

// Publish enqueues the event for every current subscriber, in
// subscription order, without ever blocking. A subscriber whose buffer
// is full misses the event. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Close stops delivery to all subscribers and waits for their handlers
// to return. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}
