package event

import (
	"sync/atomic"

	"github.com/dshills/reflow/internal/event/kind"
)

// Subscription represents a live event handler registration.
type Subscription interface {
	// ID returns the unique subscription identifier.
	ID() string

	// Pattern returns the subscribed kind pattern.
	Pattern() kind.Kind

	// Owner returns the service that owns the subscription, if any.
	Owner() string

	// IsActive returns true while the subscription can receive events.
	IsActive() bool

	// Cancel permanently cancels the subscription. Idempotent.
	Cancel()
}

// SubscriptionConfig contains per-subscription settings.
type SubscriptionConfig struct {
	// Filter optionally rejects events before delivery.
	Filter FilterFunc

	// Runner executes the handler on the owner's scheduler when set.
	Runner Runner

	// Owner is the id of the owning service, for fault attribution.
	Owner string

	// Once auto-cancels the subscription after the first delivery.
	Once bool
}

// SubscriptionOption configures a subscription.
type SubscriptionOption func(*SubscriptionConfig)

// WithFilter sets a delivery predicate.
func WithFilter(f FilterFunc) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Filter = f
	}
}

// WithRunner routes handler execution to the given runner.
func WithRunner(r Runner) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Runner = r
	}
}

// WithOwner attributes the subscription to a service.
func WithOwner(owner string) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Owner = owner
	}
}

// WithOnce auto-cancels the subscription after the first delivery.
func WithOnce() SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Once = true
	}
}

// subscription is the internal Subscription implementation.
type subscription struct {
	id        string
	pattern   kind.Kind
	handler   Handler
	config    SubscriptionConfig
	seq       uint64 // registration order
	cancelled atomic.Bool
}

func newSubscription(id string, pattern kind.Kind, h Handler, seq uint64, opts ...SubscriptionOption) *subscription {
	var config SubscriptionConfig
	for _, opt := range opts {
		opt(&config)
	}
	return &subscription{
		id:      id,
		pattern: pattern,
		handler: h,
		config:  config,
		seq:     seq,
	}
}

func (s *subscription) ID() string         { return s.id }
func (s *subscription) Pattern() kind.Kind { return s.pattern }
func (s *subscription) Owner() string      { return s.config.Owner }
func (s *subscription) IsActive() bool     { return !s.cancelled.Load() }
func (s *subscription) Cancel()            { s.cancelled.Store(true) }

// shouldDeliver reports whether the event passes the subscription's state
// and filter checks.
func (s *subscription) shouldDeliver(ev Event) bool {
	if s.cancelled.Load() {
		return false
	}
	if s.config.Filter != nil && !s.config.Filter(ev) {
		return false
	}
	return true
}
