package service

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/reflow/internal/autorun"
	"github.com/dshills/reflow/internal/event"
	"github.com/dshills/reflow/internal/event/kind"
	"github.com/dshills/reflow/internal/observability"
	"github.com/dshills/reflow/internal/sched"
	"github.com/dshills/reflow/internal/store"
)

// EventServiceLog is the observer event type carrying service log lines.
const EventServiceLog observability.EventType = "service.log"

// Context is the capability surface a service works through. Everything a
// service owns — reducers, subscriptions, handlers, tasks — is registered
// here, so the runtime can release it all when the service stops.
//
// A Context is valid from init until the service stops. Operations on a
// stopped context return ErrServiceStopped.
type Context struct {
	id       string
	store    *store.Store
	bus      *event.Bus
	engine   *autorun.Engine
	sched    *sched.Scheduler
	observer observability.Observer

	mu       sync.Mutex
	closed   bool
	cleanups []func()
}

// ID returns the owning service's ID.
func (c *Context) ID() string {
	return c.id
}

// Dispatch dispatches an action through the store.
func (c *Context) Dispatch(ctx context.Context, act store.Action) (store.CommitResult, error) {
	return c.store.Dispatch(ctx, act)
}

// RegisterReducer registers a reducer for a slice. Reducers cannot be
// unregistered; they are pure functions with no resources to release.
func (c *Context) RegisterReducer(slice string, reducer store.Reducer) error {
	if err := c.guard(); err != nil {
		return err
	}
	return c.store.Register(slice, reducer)
}

// Autorun subscribes a selector/callback pair. The callback always runs
// on this service's scheduler, regardless of the options passed.
func (c *Context) Autorun(sel autorun.Selector, cb autorun.Callback, opts ...autorun.Option) (*autorun.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrServiceStopped
	}

	opts = append(opts, autorun.WithRunner(c.sched), autorun.WithOwner(c.id))
	sub, err := c.engine.Subscribe(sel, cb, opts...)
	if err != nil {
		return nil, err
	}
	c.cleanups = append(c.cleanups, sub.Release)
	return sub, nil
}

// OnEvent subscribes a handler to an event kind pattern. The handler
// always runs on this service's scheduler.
func (c *Context) OnEvent(pattern kind.Kind, fn event.HandlerFunc, opts ...event.SubscriptionOption) (event.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrServiceStopped
	}

	opts = append(opts, event.WithRunner(c.sched), event.WithOwner(c.id))
	sub, err := c.bus.OnFunc(pattern, fn, opts...)
	if err != nil {
		return nil, err
	}
	c.cleanups = append(c.cleanups, func() { _ = c.bus.Off(sub) })
	return sub, nil
}

// Emit publishes events on the bus outside the dispatch path, for signals
// that are not state transitions (progress, external notifications).
func (c *Context) Emit(ctx context.Context, events ...event.Event) error {
	if err := c.guard(); err != nil {
		return err
	}
	c.bus.Emit(ctx, events...)
	return nil
}

// Go schedules a task on the service's scheduler.
func (c *Context) Go(task sched.Task) error {
	if err := c.guard(); err != nil {
		return err
	}
	return c.sched.Submit(task)
}

// GoAfter schedules a task after a delay. The returned timer can cancel
// it before it is queued.
func (c *Context) GoAfter(d time.Duration, task sched.Task) (*sched.Timer, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.sched.SubmitAfter(d, task)
}

// Log emits a structured log line attributed to the service.
func (c *Context) Log(ctx context.Context, level observability.Level, msg string, data map[string]any) {
	if data == nil {
		data = make(map[string]any, 1)
	}
	data["msg"] = msg
	observability.Emit(ctx, c.observer, EventServiceLog, level, c.id, data)
}

// OnStop registers a cleanup run when the service stops. Cleanups run in
// reverse registration order.
func (c *Context) OnStop(fn func()) error {
	if fn == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrServiceStopped
	}
	c.cleanups = append(c.cleanups, fn)
	return nil
}

func (c *Context) guard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrServiceStopped
	}
	return nil
}

// close releases everything the service registered. Idempotent.
func (c *Context) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cleanups := c.cleanups
	c.cleanups = nil
	c.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}
