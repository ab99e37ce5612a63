// Package store implements the dispatch engine and reducer registry.
//
// The Store owns the current committed state tree. Dispatch is the single
// serialized operation that applies one action: it routes the action to the
// reducer registered for its target slice (or slices, for declared
// cross-cutting actions), commits the resulting tree, and hands the commit
// to a notifier goroutine that informs listeners (the autorun engine, the
// event bus) outside the critical section. Subscriber work therefore never
// blocks the next dispatch, while commits are still observed in order.
//
// Reducers must be pure: same inputs, same outputs, no I/O, no spawned
// work. A reducer that returns an error or panics fails the dispatch with a
// ReducerFault and leaves the tree at the previous committed version.
package store
