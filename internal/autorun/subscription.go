package autorun

import (
	"context"
	"sync/atomic"

	"github.com/dshills/reflow/internal/state"
)

// Selector derives a value from a state tree. Selectors must be cheap and
// side-effect free; they run on the engine's evaluation goroutine.
type Selector func(tree *state.Tree) (any, error)

// Callback receives the newly selected value. It runs on the owning
// service's scheduler when the subscription carries a runner.
type Callback func(ctx context.Context, value any)

// Runner executes callbacks on behalf of the subscription owner.
// Service schedulers satisfy this interface.
type Runner interface {
	Submit(task func(ctx context.Context) error) error
}

// Options contains per-subscription settings.
type Options struct {
	// Equality compares the previous and new selected values. Defaults to
	// structural equality.
	Equality func(a, b any) bool

	// DefaultValue is substituted when the selector fails, if set.
	DefaultValue any
	HasDefault   bool

	// Memoize skips the callback when the selected value is unchanged.
	// Enabled by default.
	Memoize bool

	// Runner executes the callback on the owner's scheduler when set.
	Runner Runner

	// Owner is the id of the owning service, for fault attribution.
	Owner string
}

// Option configures a subscription.
type Option func(*Options)

// WithEquality sets a custom value comparator.
func WithEquality(eq func(a, b any) bool) Option {
	return func(o *Options) {
		if eq != nil {
			o.Equality = eq
		}
	}
}

// WithDefaultValue substitutes v when the selector fails, instead of
// raising a subscription fault.
func WithDefaultValue(v any) Option {
	return func(o *Options) {
		o.DefaultValue = v
		o.HasDefault = true
	}
}

// WithoutMemoize fires the callback on every evaluated commit, even when
// the selected value is unchanged.
func WithoutMemoize() Option {
	return func(o *Options) {
		o.Memoize = false
	}
}

// WithRunner routes callback execution to the given runner.
func WithRunner(r Runner) Option {
	return func(o *Options) {
		o.Runner = r
	}
}

// WithOwner attributes the subscription to a service.
func WithOwner(owner string) Option {
	return func(o *Options) {
		o.Owner = owner
	}
}

func defaultOptions() Options {
	return Options{
		Equality: state.Equal,
		Memoize:  true,
	}
}

// Subscription is a live autorun registration.
type Subscription struct {
	id       string
	selector Selector
	callback Callback
	opts     Options
	released atomic.Bool

	// Evaluation state, touched only on the engine's evaluation
	// goroutine.
	prev    any
	hasPrev bool
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Owner returns the owning service id, if any.
func (s *Subscription) Owner() string {
	return s.opts.Owner
}

// IsActive returns true until the subscription is released.
func (s *Subscription) IsActive() bool {
	return !s.released.Load()
}

// Release permanently releases the subscription. Safe to call
// mid-evaluation; it takes effect no later than the next evaluation cycle.
// Idempotent.
func (s *Subscription) Release() {
	s.released.Store(true)
}
