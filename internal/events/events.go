// Package events provides the internal event feed shared by the order
// manager, circuit breaker, and execution scheduler. Delivery is
// order-preserving per publishing component and at-least-once: a slow
// subscriber backpressures the publisher instead of losing events.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened.
type Type string

const (
	OrderCreated   Type = "order_created"
	OrderSubmitted Type = "order_submitted"
	OrderAccepted  Type = "order_accepted"
	OrderPartial   Type = "order_partial_fill"
	OrderFilled    Type = "order_filled"
	OrderCancelled Type = "order_cancelled"
	OrderRejected  Type = "order_rejected"
	OrderExpired   Type = "order_expired"

	BreakerTripped  Type = "breaker_tripped"
	BreakerHalfOpen Type = "breaker_half_open"
	BreakerClosed   Type = "breaker_closed"

	PlanStarted    Type = "plan_started"
	PlanCompleted  Type = "plan_completed"
	PlanCancelled  Type = "plan_cancelled"
	SliceCompleted Type = "slice_completed"
	SliceFailed    Type = "slice_failed"

	PositionDrift Type = "position_drift"
)

// Event is one discrete occurrence published on the feed.
type Event struct {
	Type    Type
	Source  string // publishing component, e.g. "engine", "breaker", "vwap"
	Symbol  string
	OrderID string
	Detail  map[string]string
	At      time.Time
}

// Subscription is a registered consumer of the feed. Events arrive on C in
// publish order until Unsubscribe or Close.
type Subscription struct {
	ID string
	C  <-chan Event
}

// Bus fans events out to all subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]chan Event
	closed bool
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]chan Event),
	}
}

// Subscribe registers a consumer with the given channel buffer size.
func (b *Bus) Subscribe(bufSize int) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Event, bufSize)
	if !b.closed {
		b.subs[id] = ch
	} else {
		close(ch)
	}
	return Subscription{ID: id, C: ch}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Publish delivers the event to every subscriber. Sends block on a full
// subscriber buffer rather than dropping the event, but only a shared lock
// is held during the fan-out: publishers never queue behind one another on
// the bus itself, and per-source ordering follows from each source
// publishing sequentially. Subscribe, Unsubscribe, and Close wait for
// in-flight publishes, so a send never races a channel close.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		ch <- evt
	}
}

// Close shuts the bus down and closes all subscriber channels. Publish
// becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
