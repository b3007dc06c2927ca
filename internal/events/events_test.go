package events

import (
	"testing"
	"time"
)

func TestBusPublishOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(16)

	bus.Publish(Event{Type: OrderCreated, Source: "engine", OrderID: "o-1"})
	bus.Publish(Event{Type: OrderSubmitted, Source: "engine", OrderID: "o-1"})
	bus.Publish(Event{Type: OrderFilled, Source: "engine", OrderID: "o-1"})

	want := []Type{OrderCreated, OrderSubmitted, OrderFilled}
	for i, w := range want {
		select {
		case evt := <-sub.C:
			if evt.Type != w {
				t.Errorf("event %d: Type = %q, want %q", i, evt.Type, w)
			}
			if evt.At.IsZero() {
				t.Errorf("event %d: At should be stamped on publish", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a := bus.Subscribe(4)
	b := bus.Subscribe(4)

	bus.Publish(Event{Type: BreakerTripped, Source: "breaker"})

	for _, sub := range []Subscription{a, b} {
		select {
		case evt := <-sub.C:
			if evt.Type != BreakerTripped {
				t.Errorf("Type = %q, want %q", evt.Type, BreakerTripped)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out event")
		}
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(1)
	bus.Unsubscribe(sub.ID)

	if _, ok := <-sub.C; ok {
		t.Error("channel should be closed after Unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(Event{Type: OrderCreated, Source: "engine"})
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)

	bus.Close()

	if _, ok := <-sub.C; ok {
		t.Error("channel should be closed after bus Close")
	}

	// Publish and a second Close are no-ops after shutdown.
	bus.Publish(Event{Type: OrderCreated, Source: "engine"})
	bus.Close()

	late := bus.Subscribe(1)
	if _, ok := <-late.C; ok {
		t.Error("subscribing to a closed bus should yield a closed channel")
	}
}
