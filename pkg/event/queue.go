// Package event dispatches engine callbacks and polled triggers to loaded
// programs.
package event

import (
	"sync"

	"github.com/zurustar/missionscript/pkg/value"
)

// DefaultQueueSize is the default maximum size of the event queue.
const DefaultQueueSize = 1000

// Event is one raised callback waiting for the next tick.
type Event struct {
	// Callback is the callback's event id.
	Callback int
	Args     []value.Value
	// Tick is the tick during which the engine raised the event.
	Tick int64
}

// EventQueue is a thread-safe FIFO of raised callbacks. When it is full the
// oldest event is discarded.
type EventQueue struct {
	events  []*Event
	maxSize int
	mu      sync.Mutex
}

// NewEventQueue creates a new event queue with the default maximum size.
func NewEventQueue() *EventQueue {
	return NewEventQueueWithSize(DefaultQueueSize)
}

// NewEventQueueWithSize creates a new event queue with a custom maximum size.
func NewEventQueueWithSize(maxSize int) *EventQueue {
	if maxSize <= 0 {
		maxSize = DefaultQueueSize
	}
	return &EventQueue{
		events:  make([]*Event, 0, 16),
		maxSize: maxSize,
	}
}

// Push adds an event and returns the event it displaced, if any.
func (eq *EventQueue) Push(event *Event) (dropped *Event) {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	if len(eq.events) >= eq.maxSize {
		dropped = eq.events[0]
		eq.events = eq.events[1:]
	}
	eq.events = append(eq.events, event)
	return dropped
}

// Pop removes and returns the oldest event.
func (eq *EventQueue) Pop() (*Event, bool) {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	if len(eq.events) == 0 {
		return nil, false
	}
	event := eq.events[0]
	eq.events = eq.events[1:]
	return event, true
}

// Drain removes and returns every queued event, oldest first.
func (eq *EventQueue) Drain() []*Event {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	out := eq.events
	eq.events = make([]*Event, 0, 16)
	return out
}

// Events returns the queued events, oldest first, without removing them.
func (eq *EventQueue) Events() []*Event {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	return append([]*Event(nil), eq.events...)
}

// Len returns the number of events in the queue.
func (eq *EventQueue) Len() int {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	return len(eq.events)
}
