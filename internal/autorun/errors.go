package autorun

import (
	"errors"
	"fmt"
)

// Sentinel errors for the autorun engine.
var (
	// ErrNilSelector is returned when subscribing with a nil selector.
	ErrNilSelector = errors.New("selector cannot be nil")

	// ErrNilCallback is returned when subscribing with a nil callback.
	ErrNilCallback = errors.New("callback cannot be nil")

	// ErrSubscriptionFault matches any SubscriptionFault via errors.Is.
	ErrSubscriptionFault = errors.New("subscription fault")
)

// SubscriptionFault reports a selector or callback failure. The fault is
// isolated to the subscription that caused it.
type SubscriptionFault struct {
	// SubscriptionID identifies the faulting subscription.
	SubscriptionID string

	// Owner is the service that owns the subscription, if any.
	Owner string

	// Stage is "selector" or "callback".
	Stage string

	// Err is the error returned, if any.
	Err error

	// PanicValue is the recovered panic value, if the unit panicked.
	PanicValue any

	// Stack is the stack trace captured at panic time.
	Stack []byte
}

// Error implements the error interface.
func (f *SubscriptionFault) Error() string {
	if f.PanicValue != nil {
		return fmt.Sprintf("%s panic in subscription %s: %v", f.Stage, f.SubscriptionID, f.PanicValue)
	}
	return fmt.Sprintf("%s fault in subscription %s: %v", f.Stage, f.SubscriptionID, f.Err)
}

// Unwrap returns the underlying error.
func (f *SubscriptionFault) Unwrap() error {
	return f.Err
}

// Is allows errors.Is to match SubscriptionFault with ErrSubscriptionFault.
func (f *SubscriptionFault) Is(target error) bool {
	return target == ErrSubscriptionFault
}
