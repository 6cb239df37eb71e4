package eventbus

import (
	"testing"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := New(10)

	var got []*Event
	bus.Subscribe(func(e *Event) { got = append(got, e) }, EventLoopCompleted)

	if err := bus.Publish(&Event{Type: EventLoopCompleted, LoopID: "loop-1"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].LoopID != "loop-1" {
		t.Errorf("LoopID = %q, want loop-1", got[0].LoopID)
	}
	if got[0].ID == "" || got[0].Timestamp.IsZero() {
		t.Error("Publish() did not fill in ID/Timestamp")
	}
}

func TestPublishFiltersTypes(t *testing.T) {
	bus := New(10)

	var count int
	bus.Subscribe(func(e *Event) { count++ }, EventLoopFrozen)

	bus.Publish(&Event{Type: EventLoopCompleted})
	bus.Publish(&Event{Type: EventLoopFrozen})
	bus.Publish(&Event{Type: EventTrustUpdated})

	if count != 1 {
		t.Errorf("subscriber received %d events, want 1", count)
	}
}

func TestFanOutIsRegistrationOrder(t *testing.T) {
	bus := New(10)

	var order []string
	bus.Subscribe(func(e *Event) { order = append(order, "first") })
	bus.Subscribe(func(e *Event) { order = append(order, "second") })
	bus.Subscribe(func(e *Event) { order = append(order, "third") })

	bus.Publish(&Event{Type: EventAgentStatement})

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("got %d deliveries, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("delivery[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := New(10)

	var count int
	id := bus.Subscribe(func(e *Event) { count++ })
	bus.Publish(&Event{Type: EventBeliefUpdated})
	bus.Unsubscribe(id)
	bus.Publish(&Event{Type: EventBeliefUpdated})

	if count != 1 {
		t.Errorf("subscriber received %d events after unsubscribe, want 1", count)
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", bus.SubscriberCount())
	}
}

func TestPanickingSubscriberDoesNotStopFanOut(t *testing.T) {
	bus := New(10)

	var delivered bool
	bus.Subscribe(func(e *Event) { panic("boom") })
	bus.Subscribe(func(e *Event) { delivered = true })

	bus.Publish(&Event{Type: EventLoopCompleted})

	if !delivered {
		t.Error("second subscriber not reached after first panicked")
	}
}

func TestRecentReturnsNewestFirst(t *testing.T) {
	bus := New(3)

	bus.Publish(&Event{Type: EventLoopCompleted, LoopID: "a"})
	bus.Publish(&Event{Type: EventLoopCompleted, LoopID: "b"})
	bus.Publish(&Event{Type: EventLoopCompleted, LoopID: "c"})
	bus.Publish(&Event{Type: EventLoopCompleted, LoopID: "d"}) // evicts a

	recent := bus.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("Recent() returned %d events, want 3", len(recent))
	}
	if recent[0].LoopID != "d" || recent[2].LoopID != "b" {
		t.Errorf("Recent() order = [%s %s %s], want [d c b]",
			recent[0].LoopID, recent[1].LoopID, recent[2].LoopID)
	}
}

func TestPublishNil(t *testing.T) {
	bus := New(10)
	if err := bus.Publish(nil); err == nil {
		t.Error("Publish(nil) did not error")
	}
}
