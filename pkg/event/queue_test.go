package event

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestEventQueue_FIFO(t *testing.T) {
	q := NewEventQueue()
	for i := 1; i <= 3; i++ {
		if dropped := q.Push(&Event{Callback: i}); dropped != nil {
			t.Fatalf("Push(%d) dropped %v", i, dropped)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}
	for i := 1; i <= 3; i++ {
		ev, ok := q.Pop()
		if !ok || ev.Callback != i {
			t.Fatalf("Pop() = %v, %v, want callback %d", ev, ok, i)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop() on empty queue returned an event")
	}
}

func TestEventQueue_DropsOldest(t *testing.T) {
	q := NewEventQueueWithSize(2)
	q.Push(&Event{Callback: 1})
	q.Push(&Event{Callback: 2})
	dropped := q.Push(&Event{Callback: 3})
	if dropped == nil || dropped.Callback != 1 {
		t.Fatalf("dropped = %v, want callback 1", dropped)
	}

	if peek := q.Events(); len(peek) != 2 || peek[0].Callback != 2 || q.Len() != 2 {
		t.Errorf("Events() = %v, Len() = %d; want callbacks 2, 3 left queued", peek, q.Len())
	}
	events := q.Drain()
	if len(events) != 2 || events[0].Callback != 2 || events[1].Callback != 3 {
		t.Errorf("Drain() = %v, want callbacks 2, 3", events)
	}
	if q.Len() != 0 {
		t.Errorf("Len() after Drain = %d", q.Len())
	}
}

func TestProperty_QueueBounded(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("queue keeps the newest maxSize events in order", prop.ForAll(
		func(size, pushes int) bool {
			q := NewEventQueueWithSize(size)
			for i := 0; i < pushes; i++ {
				q.Push(&Event{Callback: i})
			}
			events := q.Drain()
			want := pushes
			if want > size {
				want = size
			}
			if len(events) != want {
				return false
			}
			for i, ev := range events {
				if ev.Callback != pushes-want+i {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
		gen.IntRange(0, 60),
	))

	properties.TestingRun(t)
}
