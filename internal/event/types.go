package event

import "context"

// Handler is the interface for event handlers.
type Handler interface {
	// Handle processes an event. Handlers are expected not to block; long
	// work must be handed to the owning service's scheduler.
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// FilterFunc is a predicate for filtering events before delivery.
// Return true to deliver the event.
type FilterFunc func(ev Event) bool

// Runner executes a handler invocation on behalf of a subscription owner.
// Service schedulers satisfy this interface; when a subscription carries a
// runner, its handler runs there instead of on the emitter's goroutine.
type Runner interface {
	Submit(task func(ctx context.Context) error) error
}

// Stats contains bus counters.
type Stats struct {
	// Emitted is the number of events handed to Emit.
	Emitted uint64

	// Delivered is the number of successful handler invocations.
	Delivered uint64

	// Dropped is the number of deliveries a runner refused.
	Dropped uint64

	// HandlerErrors is the number of handlers that returned errors.
	HandlerErrors uint64

	// HandlerPanics is the number of handlers that panicked.
	HandlerPanics uint64

	// ActiveSubscriptions is the current number of live subscriptions.
	ActiveSubscriptions int
}
