package store

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/dshills/reflow/internal/event"
	"github.com/dshills/reflow/internal/observability"
	"github.com/dshills/reflow/internal/state"
)

// Observer event types emitted by the store.
const (
	EventReducerFault observability.EventType = "store.reducer_fault"
	EventCommitted    observability.EventType = "store.committed"
	EventRejected     observability.EventType = "store.rejected"
)

// Store owns the committed state tree and serializes dispatches.
type Store struct {
	registry *Registry
	observer observability.Observer

	// mu is the dispatch serialization point. No two actions are ever
	// applied concurrently against the same tree version.
	mu      sync.Mutex
	current atomic.Pointer[state.Tree]
	version uint64 // guarded by mu

	notifier *notifier
	running  atomic.Bool

	// Stats
	dispatched atomic.Uint64
	committed  atomic.Uint64
	noops      atomic.Uint64
	faulted    atomic.Uint64
}

// Option configures a Store.
type Option func(*Store)

// WithObserver sets the observer that receives store signals.
func WithObserver(obs observability.Observer) Option {
	return func(s *Store) {
		s.observer = obs
	}
}

// WithInitial seeds the store with initial slice values, e.g. a snapshot
// supplied by the persistence collaborator at process start. The seeded
// tree is version zero; seeded slices count as initialized.
func WithInitial(slices map[string]any) Option {
	return func(s *Store) {
		s.current.Store(state.New().WithAll(slices))
	}
}

// New creates a store. Tests and embedders build independent stores; there
// is no process-wide instance.
func New(opts ...Option) *Store {
	s := &Store{
		registry: NewRegistry(),
		observer: observability.NoOpObserver{},
		notifier: newNotifier(),
	}
	s.current.Store(state.New())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the reducer registry.
func (s *Store) Registry() *Registry {
	return s.registry
}

// Register binds a reducer to a slice name.
func (s *Store) Register(slice string, reducer Reducer) error {
	return s.registry.Register(slice, reducer)
}

// AddListener registers a commit listener. Listeners are invoked in
// registration order for every commit, in commit order.
func (s *Store) AddListener(l Listener) {
	s.notifier.addListener(l)
}

// Tree returns the current committed tree. The tree is immutable; callers
// never need a lock to read it.
func (s *Store) Tree() *state.Tree {
	return s.current.Load()
}

// Version returns the current committed version.
func (s *Store) Version() uint64 {
	return s.Tree().Version()
}

// Start launches the commit notifier.
func (s *Store) Start() error {
	if s.running.Swap(true) {
		return ErrAlreadyRunning
	}
	s.notifier.start()
	return nil
}

// Close stops accepting dispatches, flushes pending commit notifications,
// and waits for the notifier to exit or ctx to expire.
func (s *Store) Close(ctx context.Context) error {
	if !s.running.Swap(false) {
		return ErrNotRunning
	}
	return s.notifier.stop(ctx)
}

// Dispatch applies one action to the tree. Dispatches are totally ordered;
// listeners are notified outside the critical section, in commit order.
//
// A reducer error or panic fails the dispatch with a ReducerFault and
// leaves the tree at the previous committed version. A non-initialization
// action targeting an uninitialized slice fails with
// UninitializedSliceError.
func (s *Store) Dispatch(ctx context.Context, act Action) (CommitResult, error) {
	if act == nil {
		return CommitResult{}, ErrNilAction
	}
	if !s.running.Load() {
		return CommitResult{}, ErrNotRunning
	}
	s.dispatched.Add(1)

	slices := targetSlices(act)
	_, isInit := act.(Initializer)

	s.mu.Lock()
	prev := s.current.Load()

	// Validate every target before reducing any of them: the commit is
	// all-or-nothing.
	for _, slice := range slices {
		if _, ok := s.registry.Get(slice); !ok {
			s.mu.Unlock()
			err := &NoReducerError{Slice: slice, ActionKind: act.Kind()}
			s.reject(ctx, act, err)
			return CommitResult{}, err
		}
		if !prev.Has(slice) && !isInit {
			s.mu.Unlock()
			err := &UninitializedSliceError{Slice: slice, ActionKind: act.Kind()}
			s.reject(ctx, act, err)
			return CommitResult{}, err
		}
	}

	next := prev
	var changed []string
	var events []event.Event

	for _, slice := range slices {
		reducer, _ := s.registry.Get(slice)
		prevVal, ok := prev.Get(slice)

		nextVal, evs, err := runReducer(reducer, prevVal, ok, act, slice)
		if err != nil {
			s.mu.Unlock()
			s.faulted.Add(1)
			fault, _ := err.(*ReducerFault)
			if fault == nil {
				fault = &ReducerFault{ActionKind: act.Kind(), Slice: slice, Err: err}
			}
			observability.Emit(ctx, s.observer, EventReducerFault,
				observability.LevelError, "store", map[string]any{
					"action": act.Kind(),
					"slice":  slice,
					"fault":  fault.Error(),
				})
			return CommitResult{}, fault
		}

		events = append(events, evs...)
		if !ok || !state.Equal(prevVal, nextVal) {
			next = next.With(slice, nextVal)
			changed = append(changed, slice)
		}
	}

	result := CommitResult{
		OldVersion: prev.Version(),
		Version:    prev.Version(),
		Events:     events,
		ActionKind: act.Kind(),
	}

	if len(changed) > 0 {
		s.version++
		next = next.AtVersion(s.version)
		s.current.Store(next)
		result.Version = s.version
		result.Changed = changed
		s.committed.Add(1)
	} else {
		// No observable change: the published tree stays pointer-equal to
		// the previous one and the version does not advance.
		next = prev
		s.noops.Add(1)
	}
	if len(changed) > 0 || len(events) > 0 {
		// Enqueue while still holding the dispatch lock so commits reach
		// the notifier in version order; enqueue is a non-blocking append.
		s.notifier.enqueue(Commit{Tree: next, Result: result})
	}
	s.mu.Unlock()
	if len(changed) > 0 {
		observability.Emit(ctx, s.observer, EventCommitted,
			observability.LevelDebug, "store", map[string]any{
				"action":  act.Kind(),
				"version": result.Version,
				"changed": changed,
			})
	}

	return result, nil
}

// reject signals a dispatch rejected before reducing.
func (s *Store) reject(ctx context.Context, act Action, err error) {
	s.faulted.Add(1)
	observability.Emit(ctx, s.observer, EventRejected,
		observability.LevelWarn, "store", map[string]any{
			"action": act.Kind(),
			"error":  err.Error(),
		})
}

// runReducer invokes a reducer with panic recovery.
func runReducer(reducer Reducer, prev any, ok bool, act Action, slice string) (next any, events []event.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = nil
			events = nil
			err = &ReducerFault{
				ActionKind: act.Kind(),
				Slice:      slice,
				PanicValue: r,
				Stack:      debug.Stack(),
			}
		}
	}()
	return reducer(prev, ok, act)
}

// Stats contains store counters.
type Stats struct {
	Dispatched uint64
	Committed  uint64
	NoOps      uint64
	Faulted    uint64
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	return Stats{
		Dispatched: s.dispatched.Load(),
		Committed:  s.committed.Load(),
		NoOps:      s.noops.Load(),
		Faulted:    s.faulted.Load(),
	}
}
