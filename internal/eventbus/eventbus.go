package eventbus

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// EventType identifies the kind of event flowing through the bus.
type EventType string

const (
	EventLoopCompleted       EventType = "loop.completed"
	EventAgentStatement      EventType = "agent.statement"
	EventBeliefUpdated       EventType = "belief.updated"
	EventTrustUpdated        EventType = "trust.updated"
	EventAgentDemoted        EventType = "agent.demoted"
	EventAgentPromoted       EventType = "agent.promoted"
	EventDriftViolation      EventType = "drift.violation"
	EventLoopFrozen          EventType = "loop.frozen"
	EventLoopUnfrozen        EventType = "loop.unfrozen"
	EventReflectionRequested EventType = "reflection.requested"
	EventReflectionCompleted EventType = "reflection.completed"
	EventReflectionCancelled EventType = "reflection.cancelled"
	EventLoopRerouted        EventType = "loop.rerouted"
	EventReplanStatus        EventType = "replan.status"
)

// Event is a typed in-process event. Text carries produced content for
// content-bearing events (loop completion, agent statements, belief
// updates); Data carries everything else.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	LoopID    string                 `json:"loop_id,omitempty"`
	AgentID   string                 `json:"agent_id,omitempty"`
	ProjectID string                 `json:"project_id,omitempty"`
	Text      string                 `json:"text,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Handler consumes one event. Handlers run synchronously to completion
// before Publish returns; they must not block on long I/O.
type Handler func(*Event)

type subscriber struct {
	id      string
	types   map[EventType]bool // nil means all types
	handler Handler
}

// Bus is an in-process publish/subscribe channel. Fan-out order is the
// subscriber registration order, so delivery is deterministic.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	nextID      int

	// Ring of recent events for the operator API (lost on restart).
	recent      []*Event
	recentIdx   int
	recentCount int
}

// New creates an event bus retaining the last historySize events.
func New(historySize int) *Bus {
	if historySize <= 0 {
		historySize = 1000
	}
	return &Bus{recent: make([]*Event, historySize)}
}

// Subscribe registers handler for the given event types; an empty type
// list subscribes to everything. The returned id is used to Unsubscribe.
func (b *Bus) Subscribe(handler Handler, eventTypes ...EventType) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{
		id:      fmt.Sprintf("sub-%d", b.nextID),
		handler: handler,
	}
	if len(eventTypes) > 0 {
		sub.types = make(map[EventType]bool, len(eventTypes))
		for _, t := range eventTypes {
			sub.types[t] = true
		}
	}
	b.subscribers = append(b.subscribers, sub)
	return sub.id
}

// Unsubscribe removes a subscriber. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub.id == id {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Publish delivers event to all matching subscribers in registration
// order. A panicking handler is logged and skipped so one consumer
// cannot take down the rest of the fan-out.
func (b *Bus) Publish(event *Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = fmt.Sprintf("%s-%d", event.Type, time.Now().UnixNano())
	}

	b.mu.Lock()
	b.recent[b.recentIdx] = event
	b.recentIdx = (b.recentIdx + 1) % len(b.recent)
	if b.recentCount < len(b.recent) {
		b.recentCount++
	}
	subs := make([]*subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.types != nil && !sub.types[event.Type] {
			continue
		}
		b.deliver(sub, event)
	}
	return nil
}

func (b *Bus) deliver(sub *subscriber, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[EventBus] Subscriber %s panicked on %s: %v", sub.id, event.Type, r)
		}
	}()
	sub.handler(event)
}

// Recent returns up to limit recent events, newest first.
func (b *Bus) Recent(limit int) []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > b.recentCount {
		limit = b.recentCount
	}

	out := make([]*Event, 0, limit)
	idx := b.recentIdx
	for i := 0; i < limit; i++ {
		idx--
		if idx < 0 {
			idx = len(b.recent) - 1
		}
		if b.recent[idx] == nil {
			break
		}
		out = append(out, b.recent[idx])
	}
	return out
}

// SubscriberCount reports the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
