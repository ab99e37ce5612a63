package event

import "errors"

// Sentinel errors for the event bus.
var (
	// ErrNilHandler is returned when a nil handler is provided.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrInvalidPattern is returned when a subscription pattern is malformed.
	ErrInvalidPattern = errors.New("invalid kind pattern")

	// ErrInvalidSubscription is returned when a subscription is nil or foreign.
	ErrInvalidSubscription = errors.New("invalid subscription")

	// ErrSubscriptionNotFound is returned when removing an unknown subscription.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)
