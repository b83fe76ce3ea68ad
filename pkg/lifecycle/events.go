// Package lifecycle publishes worker lifecycle transitions.
//
// Event types:
//   - queued: no slot was free, the request waits in the pending queue
//   - starting: a slot was bound and setup was issued
//   - ready: the worker reported its pid
//   - bind_failed: the platform refused to bind or the worker never came up
//   - stopped: the worker was stopped on request
//   - crashed: the worker died without being asked to
//   - freed: the slot went back to the pool
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names a lifecycle transition
type EventType string

const (
	EventQueued     EventType = "queued"
	EventStarting   EventType = "starting"
	EventReady      EventType = "ready"
	EventBindFailed EventType = "bind_failed"
	EventStopped    EventType = "stopped"
	EventCrashed    EventType = "crashed"
	EventFreed      EventType = "freed"
)

// Event is one published lifecycle transition
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	ConnectionID string    `json:"connection_id,omitempty"`
	Class        string    `json:"class"`
	Slot         int       `json:"slot"`
	PID          int       `json:"pid,omitempty"`
	ProcessType  string    `json:"process_type,omitempty"`
	ChildID      int       `json:"child_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Message      string    `json:"message,omitempty"`
}

// NewEvent stamps an event with a fresh id and the current time
func NewEvent(eventType EventType, class string, slot int) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Class:     class,
		Slot:      slot,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher delivers lifecycle events. Implementations must not block the
// caller for long; the launcher publishes from its event paths.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NoopPublisher drops every event
type NoopPublisher struct{}

// Publish does nothing
func (NoopPublisher) Publish(ctx context.Context, event Event) error { return nil }

// Close does nothing
func (NoopPublisher) Close() error { return nil }

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish records the event
func (r *Recorder) Publish(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Close does nothing
func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of eventType were recorded
func (r *Recorder) Count(eventType EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}
