package service

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dshills/reflow/internal/observability"
	"github.com/dshills/reflow/internal/sched"
)

// EventServiceState is the observer event type for lifecycle transitions.
const EventServiceState observability.EventType = "service.state"

// Descriptor identifies a service to the runtime.
type Descriptor struct {
	// ID is the unique service identifier, e.g. "svc.snapshot".
	ID string

	// Priority orders shutdown: lower priority services stop first, so
	// foundational services outlive the ones depending on their effects.
	Priority int
}

// InitFunc is a service's bounded initialization. It registers the
// service's reducers, subscriptions, and handlers on svc and schedules
// ongoing work via svc.Go; it must return promptly and never block on
// dispatched work.
type InitFunc func(ctx context.Context, svc *Context) error

// Handle controls one registered service.
type Handle struct {
	desc     Descriptor
	sched    *sched.Scheduler
	svc      *Context
	observer observability.Observer

	state   atomic.Int32
	stopMu  sync.Mutex
	stopped chan struct{}
	stopErr error
}

// ID returns the service ID.
func (h *Handle) ID() string {
	return h.desc.ID
}

// Priority returns the service priority.
func (h *Handle) Priority() int {
	return h.desc.Priority
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Scheduler exposes the service's scheduler stats for monitoring.
func (h *Handle) Scheduler() sched.Stats {
	return h.sched.Stats()
}

// transition moves to a new state and signals the observer. Transitions
// are driven by the runtime and Stop, which serialize them; the CAS
// guards against a racing Stop.
func (h *Handle) transition(from, to State) bool {
	if !h.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	observability.Emit(context.Background(), h.observer, EventServiceState,
		observability.LevelInfo, h.desc.ID, map[string]any{
			"from": from.String(),
			"to":   to.String(),
		})
	return true
}

// Stop shuts the service down: releases owned subscriptions and handlers,
// cancels scheduled tasks, and waits for the in-flight task to finish or
// ctx to expire. Idempotent; concurrent callers wait for the first stop
// to complete.
//
// Stop must not be called from a task running on the service's own
// scheduler: it waits for that task to finish and would block until ctx
// expires.
func (h *Handle) Stop(ctx context.Context) error {
	h.stopMu.Lock()
	if h.stopped != nil {
		done := h.stopped
		h.stopMu.Unlock()
		select {
		case <-done:
			return h.stopErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.stopped = make(chan struct{})
	done := h.stopped
	h.stopMu.Unlock()

	h.transition(StateRunning, StateStopping)

	// Release subscriptions first so no new callbacks are routed to the
	// scheduler while it drains.
	h.svc.close()
	err := h.sched.Stop(ctx)

	h.transition(StateStopping, StateStopped)

	h.stopMu.Lock()
	h.stopErr = err
	h.stopMu.Unlock()
	close(done)
	return err
}
