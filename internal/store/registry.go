package store

import (
	"sort"
	"sync"

	"github.com/dshills/reflow/internal/event"
)

// Reducer computes the next state of one slice from the previous state and
// an action. ok is false when the slice has no state yet; every reducer
// must handle that distinguished input. Reducers may return events to be
// delivered after the commit, and must be pure.
type Reducer func(prev any, ok bool, act Action) (next any, events []event.Event, err error)

// Registry maps slice names to reducers. Reducers for independent slices
// commute, so registration order never affects dispatch output.
type Registry struct {
	mu       sync.RWMutex
	reducers map[string]Reducer
}

// NewRegistry creates an empty reducer registry.
func NewRegistry() *Registry {
	return &Registry{
		reducers: make(map[string]Reducer),
	}
}

// Register binds a reducer to a slice name.
// Registering a second reducer for the same slice fails with
// DuplicateReducerError.
func (r *Registry) Register(slice string, reducer Reducer) error {
	if reducer == nil {
		return ErrNilReducer
	}
	if slice == "" {
		return ErrEmptySlice
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.reducers[slice]; exists {
		return &DuplicateReducerError{Slice: slice}
	}
	r.reducers[slice] = reducer
	return nil
}

// Get returns the reducer for a slice.
func (r *Registry) Get(slice string) (Reducer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reducer, ok := r.reducers[slice]
	return reducer, ok
}

// Slices returns all registered slice names in sorted order.
func (r *Registry) Slices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.reducers))
	for name := range r.reducers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sortedUnique returns names deduplicated and sorted.
func sortedUnique(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
