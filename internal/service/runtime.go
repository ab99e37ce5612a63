package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/dshills/reflow/internal/autorun"
	"github.com/dshills/reflow/internal/event"
	"github.com/dshills/reflow/internal/observability"
	"github.com/dshills/reflow/internal/sched"
	"github.com/dshills/reflow/internal/store"
)

// EventServiceInitFault is the observer event type for failed inits.
const EventServiceInitFault observability.EventType = "service.init_fault"

// DefaultInitTimeout bounds a service init call.
const DefaultInitTimeout = 5 * time.Second

// Runtime registers services and owns their lifecycles.
type Runtime struct {
	store    *store.Store
	bus      *event.Bus
	engine   *autorun.Engine
	observer observability.Observer

	initTimeout time.Duration
	queueSize   int

	mu       sync.Mutex
	services map[string]*Handle
	order    []*Handle
	stopped  bool
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithObserver sets the observer that receives lifecycle and fault
// signals for all services.
func WithObserver(obs observability.Observer) RuntimeOption {
	return func(r *Runtime) {
		r.observer = obs
	}
}

// WithInitTimeout bounds each service's init call.
func WithInitTimeout(d time.Duration) RuntimeOption {
	return func(r *Runtime) {
		if d > 0 {
			r.initTimeout = d
		}
	}
}

// WithQueueSize sets the task queue capacity of each service scheduler.
func WithQueueSize(size int) RuntimeOption {
	return func(r *Runtime) {
		r.queueSize = size
	}
}

// NewRuntime creates a service runtime over the given store, bus, and
// autorun engine.
func NewRuntime(st *store.Store, bus *event.Bus, engine *autorun.Engine, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		store:       st,
		bus:         bus,
		engine:      engine,
		observer:    observability.NoOpObserver{},
		initTimeout: DefaultInitTimeout,
		services:    make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register runs init for a new service and, on success, leaves it
// Running. On failure every resource the init registered is released, the
// service ends Stopped, and an *InitError is returned.
func (r *Runtime) Register(desc Descriptor, init InitFunc) (*Handle, error) {
	if desc.ID == "" {
		return nil, ErrEmptyID
	}
	if init == nil {
		return nil, ErrNilInit
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil, ErrRuntimeStopped
	}
	if _, exists := r.services[desc.ID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateService, desc.ID)
	}
	// Reserve the ID so concurrent Registers cannot race the init.
	r.services[desc.ID] = nil
	r.mu.Unlock()

	schedOpts := []sched.Option{sched.WithObserver(r.observer)}
	if r.queueSize > 0 {
		schedOpts = append(schedOpts, sched.WithQueueSize(r.queueSize))
	}
	worker := sched.New(desc.ID, schedOpts...)

	h := &Handle{
		desc:     desc,
		sched:    worker,
		observer: r.observer,
		svc: &Context{
			id:       desc.ID,
			store:    r.store,
			bus:      r.bus,
			engine:   r.engine,
			sched:    worker,
			observer: r.observer,
		},
	}

	h.transition(StateUnregistered, StateInitializing)
	if err := worker.Start(); err != nil {
		r.release(desc.ID)
		return nil, fmt.Errorf("start scheduler for %q: %w", desc.ID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.initTimeout)
	err := runInit(ctx, init, h.svc)
	cancel()
	if err != nil {
		r.failInit(h, err)
		r.release(desc.ID)
		return nil, &InitError{ServiceID: desc.ID, Err: err}
	}

	h.transition(StateInitializing, StateRunning)

	r.mu.Lock()
	r.services[desc.ID] = h
	r.order = append(r.order, h)
	r.mu.Unlock()
	return h, nil
}

// runInit invokes init with panic containment.
func runInit(ctx context.Context, init InitFunc, svc *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("init panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return init(ctx, svc)
}

// failInit unwinds a service whose init failed: Initializing → Stopping →
// Stopped with full cleanup, so a half-initialized service leaves nothing
// behind.
func (r *Runtime) failInit(h *Handle, cause error) {
	observability.Emit(context.Background(), r.observer, EventServiceInitFault,
		observability.LevelError, h.desc.ID, map[string]any{
			"error": cause.Error(),
		})

	h.transition(StateInitializing, StateStopping)
	h.svc.close()

	ctx, cancel := context.WithTimeout(context.Background(), r.initTimeout)
	_ = h.sched.Stop(ctx)
	cancel()

	h.transition(StateStopping, StateStopped)

	// Later Stop calls see an already-finished shutdown.
	done := make(chan struct{})
	close(done)
	h.stopMu.Lock()
	h.stopped = done
	h.stopMu.Unlock()
}

// release frees a reserved service ID.
func (r *Runtime) release(id string) {
	r.mu.Lock()
	delete(r.services, id)
	r.mu.Unlock()
}

// Service returns the handle for a registered service.
func (r *Runtime) Service(id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.services[id]
	if !ok || h == nil {
		return nil, false
	}
	return h, true
}

// Services returns the running handles in registration order.
func (r *Runtime) Services() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Handle, len(r.order))
	copy(out, r.order)
	return out
}

// Stop shuts down every service. Lower priority services stop first;
// within a priority, later registrations stop before earlier ones. After
// Stop the runtime accepts no new services.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	handles := make([]*Handle, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		handles = append(handles, r.order[i])
	}
	r.mu.Unlock()

	// Reverse registration order, then lower priorities first; the stable
	// sort keeps later registrations ahead within a priority.
	sort.SliceStable(handles, func(i, j int) bool {
		return handles[i].desc.Priority < handles[j].desc.Priority
	})

	var errs []error
	for _, h := range handles {
		if err := h.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %q: %w", h.desc.ID, err))
		}
	}
	return errors.Join(errs...)
}
