// Package event implements the runtime's event bus.
//
// Events are side-effect notifications, distinct from state-changing
// actions: they are emitted by reducers as a side product of a dispatch,
// delivered to every handler registered for their kind at emission time,
// and never mutate state.
//
// Handlers subscribe with hierarchical kind patterns ("counter.changed",
// "counter.*", "**"). A handler attached to a service runs on that
// service's scheduler, so a slow handler never blocks the emitter. Handler
// errors and panics are contained and signalled to the observer; they are
// never propagated back into the dispatch pipeline.
package event
