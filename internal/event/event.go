package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/dshills/reflow/internal/event/kind"
)

// Event is a notification that something occurred.
// Events are immutable once created and carry no state.
type Event struct {
	// Kind is the hierarchical event kind (e.g. "counter.changed").
	Kind kind.Kind

	// Payload contains event-specific data.
	Payload any

	// ID uniquely identifies this event instance.
	ID string

	// Time is when the event was created.
	Time time.Time

	// Source identifies the slice or service that produced the event.
	Source string
}

// New creates an event with a fresh ID and the current time.
func New(k kind.Kind, payload any, source string) Event {
	return Event{
		Kind:    k,
		Payload: payload,
		ID:      uuid.NewString(),
		Time:    time.Now(),
		Source:  source,
	}
}
