// Package bus provides the async event bus that decouples the coordination
// engine from its observers.
package bus

import (
	"context"
	"sync"
	"time"
)

// Event types published by the engine.
const (
	EventTaskSubmitted = "task_submitted"
	EventStatusChanged = "status_changed"
	EventAgentSelected = "agent_selected"
	EventToolDispatch  = "tool_dispatch"
	EventRepairApplied = "repair_applied"
	EventLoopFlagged   = "loop_flagged"
	EventTaskFinished  = "task_finished"
)

// SubscribeAll matches every event type.
const SubscribeAll = "*"

// Event is one task lifecycle notification.
type Event struct {
	TaskID    string         `json:"task_id"`
	Type      string         `json:"type"`
	Detail    string         `json:"detail,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventBus fans task events out to registered subscribers. Publishing is
// buffered so the engine never blocks on a slow observer.
type EventBus struct {
	events chan *Event
	subs   map[string][]func(*Event)
	mu     sync.RWMutex
}

// New creates an event bus with the given buffer size.
func New(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 100
	}
	return &EventBus{
		events: make(chan *Event, buffer),
		subs:   make(map[string][]func(*Event)),
	}
}

// Publish enqueues an event. A full buffer drops the event rather than
// stalling the coordination loop; the audit store is the durable record.
func (b *EventBus) Publish(evt *Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	select {
	case b.events <- evt:
	default:
	}
}

// Subscribe registers a callback for one event type, or SubscribeAll for
// every event. Callbacks run on the dispatch goroutine and must not block.
func (b *EventBus) Subscribe(eventType string, callback func(*Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], callback)
}

// Dispatch runs the fan-out loop until the context is cancelled.
// This should be run as a goroutine.
func (b *EventBus) Dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-b.events:
			b.mu.RLock()
			callbacks := append([]func(*Event){}, b.subs[evt.Type]...)
			callbacks = append(callbacks, b.subs[SubscribeAll]...)
			b.mu.RUnlock()

			for _, cb := range callbacks {
				cb(evt)
			}
		}
	}
}

// Pending returns the number of queued events.
func (b *EventBus) Pending() int {
	return len(b.events)
}
