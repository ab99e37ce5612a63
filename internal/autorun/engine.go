package autorun

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dshills/reflow/internal/observability"
	"github.com/dshills/reflow/internal/state"
	"github.com/dshills/reflow/internal/store"
)

// Observer event types emitted by the engine.
const (
	EventSubscriptionFault observability.EventType = "autorun.subscription_fault"
	EventCallbackDenied    observability.EventType = "autorun.callback_denied"
)

// Engine evaluates autorun subscriptions after each committed dispatch.
// It implements store.Listener; attach it with store.AddListener.
type Engine struct {
	observer observability.Observer

	mu   sync.RWMutex
	subs []*Subscription // registration order

	// Stats
	evaluated atomic.Uint64
	fired     atomic.Uint64
	skipped   atomic.Uint64
	faults    atomic.Uint64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithObserver sets the observer that receives subscription fault signals.
func WithObserver(obs observability.Observer) EngineOption {
	return func(e *Engine) {
		e.observer = obs
	}
}

// NewEngine creates an autorun engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{observer: observability.NoOpObserver{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers an autorun. The callback fires after a commit when
// the selected value differs from the previous one (under the configured
// equality), or on every evaluated commit when memoization is disabled.
func (e *Engine) Subscribe(sel Selector, cb Callback, opts ...Option) (*Subscription, error) {
	if sel == nil {
		return nil, ErrNilSelector
	}
	if cb == nil {
		return nil, ErrNilCallback
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	sub := &Subscription{
		id:       uuid.NewString(),
		selector: sel,
		callback: cb,
		opts:     o,
	}

	e.mu.Lock()
	e.subs = append(e.subs, sub)
	e.mu.Unlock()
	return sub, nil
}

// Count returns the number of live subscriptions.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := 0
	for _, sub := range e.subs {
		if sub.IsActive() {
			n++
		}
	}
	return n
}

// AfterCommit implements store.Listener. It runs on the store's notifier
// goroutine, one commit at a time, so subscriptions observe committed
// trees strictly in order and never a version newer than the commit being
// evaluated.
func (e *Engine) AfterCommit(commit store.Commit) {
	e.compact()

	e.mu.RLock()
	subs := make([]*Subscription, len(e.subs))
	copy(subs, e.subs)
	e.mu.RUnlock()

	for _, sub := range subs {
		if !sub.IsActive() {
			continue
		}
		e.evaluate(sub, commit.Tree)
	}
}

// evaluate runs one subscription against a committed tree.
func (e *Engine) evaluate(sub *Subscription, tree *state.Tree) {
	e.evaluated.Add(1)

	value, err := e.safeSelect(sub, tree)
	if err != nil {
		if !sub.opts.HasDefault {
			e.fault(sub, "selector", err)
			return
		}
		value = sub.opts.DefaultValue
	}

	if sub.opts.Memoize && sub.hasPrev && sub.opts.Equality(sub.prev, value) {
		e.skipped.Add(1)
		return
	}

	if !e.fire(sub, value) {
		// Runner refused delivery: leave the memo untouched so the next
		// commit retries this value instead of skipping it.
		return
	}
	sub.prev = value
	sub.hasPrev = true
}

// safeSelect invokes the selector with panic recovery.
func (e *Engine) safeSelect(sub *Subscription, tree *state.Tree) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = &SubscriptionFault{
				SubscriptionID: sub.id,
				Owner:          sub.opts.Owner,
				Stage:          "selector",
				PanicValue:     r,
				Stack:          debug.Stack(),
			}
		}
	}()
	return sub.selector(tree)
}

// fire delivers the value to the callback, on the runner when one is set.
// Reports whether delivery was accepted.
func (e *Engine) fire(sub *Subscription, value any) bool {
	if sub.opts.Runner != nil {
		err := sub.opts.Runner.Submit(func(ctx context.Context) error {
			e.invoke(ctx, sub, value)
			return nil
		})
		if err != nil {
			e.faults.Add(1)
			observability.Emit(context.Background(), e.observer, EventCallbackDenied,
				observability.LevelWarn, "autorun", map[string]any{
					"subscription": sub.id,
					"owner":        sub.opts.Owner,
					"reason":       err.Error(),
				})
			return false
		}
		e.fired.Add(1)
		return true
	}

	e.fired.Add(1)
	e.invoke(context.Background(), sub, value)
	return true
}

// invoke runs the callback with panic recovery.
func (e *Engine) invoke(ctx context.Context, sub *Subscription, value any) {
	defer func() {
		if r := recover(); r != nil {
			e.fault(sub, "callback", &SubscriptionFault{
				SubscriptionID: sub.id,
				Owner:          sub.opts.Owner,
				Stage:          "callback",
				PanicValue:     r,
				Stack:          debug.Stack(),
			})
		}
	}()
	sub.callback(ctx, value)
}

// fault records and signals a per-subscription fault.
func (e *Engine) fault(sub *Subscription, stage string, err error) {
	e.faults.Add(1)

	fault, _ := err.(*SubscriptionFault)
	if fault == nil {
		fault = &SubscriptionFault{
			SubscriptionID: sub.id,
			Owner:          sub.opts.Owner,
			Stage:          stage,
			Err:            err,
		}
	}
	observability.Emit(context.Background(), e.observer, EventSubscriptionFault,
		observability.LevelError, "autorun", map[string]any{
			"subscription": sub.id,
			"owner":        sub.opts.Owner,
			"stage":        fault.Stage,
			"fault":        fault.Error(),
		})
}

// compact drops released subscriptions. Runs on the evaluation goroutine.
func (e *Engine) compact() {
	e.mu.Lock()
	defer e.mu.Unlock()

	live := e.subs[:0]
	for _, sub := range e.subs {
		if sub.IsActive() {
			live = append(live, sub)
		}
	}
	// Clear the tail so released subscriptions can be collected.
	for i := len(live); i < len(e.subs); i++ {
		e.subs[i] = nil
	}
	e.subs = live
}

// Stats contains engine counters.
type Stats struct {
	Evaluated uint64
	Fired     uint64
	Skipped   uint64
	Faults    uint64
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Evaluated: e.evaluated.Load(),
		Fired:     e.fired.Load(),
		Skipped:   e.skipped.Load(),
		Faults:    e.faults.Load(),
	}
}
