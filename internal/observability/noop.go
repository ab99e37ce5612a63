package observability

import "context"

// NoOpObserver discards all signals.
type NoOpObserver struct{}

func (NoOpObserver) OnEvent(ctx context.Context, event Event) {}
