package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(8)
	defer bus.Unsubscribe(sub)

	bus.Publish(Event{Type: EventRouteSuccess, TaskFamily: "chat", Provider: "openai"})

	select {
	case e := <-sub.C:
		if e.Type != EventRouteSuccess {
			t.Errorf("got type %s, want route_success", e.Type)
		}
		if e.Timestamp.IsZero() {
			t.Error("timestamp should be stamped on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	defer bus.Unsubscribe(sub)

	// Fill the buffer, then publish more; Publish must not block.
	bus.Publish(Event{Type: EventFallback})
	done := make(chan struct{})
	go func() {
		bus.Publish(Event{Type: EventFallback})
		bus.Publish(Event{Type: EventFallback})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestSubscriberCount(t *testing.T) {
	bus := NewBus()
	if bus.SubscriberCount() != 0 {
		t.Fatal("fresh bus should have no subscribers")
	}
	s1 := bus.Subscribe(0)
	s2 := bus.Subscribe(0)
	if bus.SubscriberCount() != 2 {
		t.Errorf("count = %d, want 2", bus.SubscriberCount())
	}
	bus.Unsubscribe(s1)
	bus.Unsubscribe(s2)
	if bus.SubscriberCount() != 0 {
		t.Errorf("count after unsubscribe = %d, want 0", bus.SubscriberCount())
	}
}

func TestEventJSON(t *testing.T) {
	e := Event{Type: EventCacheClear}
	b := e.JSON()
	if len(b) == 0 {
		t.Fatal("empty JSON")
	}
}
