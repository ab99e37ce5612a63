package event

import (
	"context"
	"runtime/debug"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dshills/reflow/internal/event/kind"
	"github.com/dshills/reflow/internal/observability"
)

// Observer event types emitted by the bus.
const (
	EventHandlerFault   observability.EventType = "bus.handler_fault"
	EventDeliveryDenied observability.EventType = "bus.delivery_denied"
)

// Bus delivers events to subscribed handlers.
type Bus struct {
	registry *registry
	observer observability.Observer

	seq atomic.Uint64

	// Stats
	emitted       atomic.Uint64
	delivered     atomic.Uint64
	dropped       atomic.Uint64
	handlerErrors atomic.Uint64
	handlerPanics atomic.Uint64
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithObserver sets the observer that receives handler fault signals.
func WithObserver(obs observability.Observer) BusOption {
	return func(b *Bus) {
		b.observer = obs
	}
}

// NewBus creates an event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		registry: newRegistry(),
		observer: observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On subscribes a handler to a kind pattern.
func (b *Bus) On(pattern kind.Kind, h Handler, opts ...SubscriptionOption) (Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if !pattern.IsValid() {
		return nil, ErrInvalidPattern
	}

	sub := newSubscription(uuid.NewString(), pattern, h, b.seq.Add(1), opts...)
	b.registry.add(sub)
	return sub, nil
}

// OnFunc subscribes a function handler to a kind pattern.
func (b *Bus) OnFunc(pattern kind.Kind, fn HandlerFunc, opts ...SubscriptionOption) (Subscription, error) {
	return b.On(pattern, fn, opts...)
}

// Off cancels and removes a subscription.
func (b *Bus) Off(sub Subscription) error {
	if sub == nil {
		return ErrInvalidSubscription
	}
	sub.Cancel()
	if !b.registry.remove(sub.ID()) {
		return ErrSubscriptionNotFound
	}
	return nil
}

// Emit delivers events to every handler registered for their kind at the
// time of the call. Handlers added during delivery do not receive the
// event. Emit never fails: handler errors and panics are contained and
// signalled to the observer.
func (b *Bus) Emit(ctx context.Context, events ...Event) {
	for _, ev := range events {
		b.emitOne(ctx, ev)
	}
}

func (b *Bus) emitOne(ctx context.Context, ev Event) {
	b.emitted.Add(1)

	// Snapshot of matching subscriptions fixes the delivery set.
	subs := b.registry.matchActive(ev.Kind)
	for _, sub := range subs {
		if !sub.shouldDeliver(ev) {
			continue
		}

		if sub.config.Once {
			sub.Cancel()
			b.registry.remove(sub.id)
		}

		if sub.config.Runner != nil {
			sub := sub
			ev := ev
			err := sub.config.Runner.Submit(func(taskCtx context.Context) error {
				b.invoke(taskCtx, sub, ev)
				return nil
			})
			if err != nil {
				b.dropped.Add(1)
				observability.Emit(ctx, b.observer, EventDeliveryDenied,
					observability.LevelWarn, "bus", map[string]any{
						"kind":         ev.Kind.String(),
						"subscription": sub.id,
						"owner":        sub.config.Owner,
						"reason":       err.Error(),
					})
			}
			continue
		}

		b.invoke(ctx, sub, ev)
	}
}

// invoke runs one handler with panic recovery.
func (b *Bus) invoke(ctx context.Context, sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerPanics.Add(1)
			observability.Emit(ctx, b.observer, EventHandlerFault,
				observability.LevelError, "bus", map[string]any{
					"kind":         ev.Kind.String(),
					"event_id":     ev.ID,
					"subscription": sub.id,
					"owner":        sub.config.Owner,
					"panic":        r,
					"stack":        string(debug.Stack()),
				})
		}
	}()

	if err := sub.handler.Handle(ctx, ev); err != nil {
		b.handlerErrors.Add(1)
		observability.Emit(ctx, b.observer, EventHandlerFault,
			observability.LevelError, "bus", map[string]any{
				"kind":         ev.Kind.String(),
				"event_id":     ev.ID,
				"subscription": sub.id,
				"owner":        sub.config.Owner,
				"error":        err.Error(),
			})
		return
	}
	b.delivered.Add(1)
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Emitted:             b.emitted.Load(),
		Delivered:           b.delivered.Load(),
		Dropped:             b.dropped.Load(),
		HandlerErrors:       b.handlerErrors.Load(),
		HandlerPanics:       b.handlerPanics.Load(),
		ActiveSubscriptions: b.registry.countActive(),
	}
}
