package store

import (
	"github.com/dshills/reflow/internal/event"
	"github.com/dshills/reflow/internal/state"
)

// CommitResult describes the outcome of one successful dispatch.
type CommitResult struct {
	// OldVersion is the committed version the action was applied against.
	OldVersion uint64

	// Version is the committed version after the dispatch. Equal to
	// OldVersion when no slice content changed.
	Version uint64

	// Changed lists the slices whose content actually changed, in name
	// order. Empty when the action was a no-op.
	Changed []string

	// Events holds the events the reducers emitted.
	Events []event.Event

	// ActionKind names the dispatched action.
	ActionKind string
}

// NoChange reports whether the dispatch left the published tree untouched.
func (r CommitResult) NoChange() bool {
	return len(r.Changed) == 0
}

// Commit pairs a CommitResult with the tree it produced, as handed to
// listeners.
type Commit struct {
	// Tree is the committed tree. For a no-op dispatch that still emitted
	// events, this is the previous tree.
	Tree *state.Tree

	// Result is the dispatch outcome.
	Result CommitResult
}

// Listener observes committed dispatches in commit order, outside the
// dispatch critical section.
type Listener interface {
	AfterCommit(commit Commit)
}

// ListenerFunc is a function adapter for Listener.
type ListenerFunc func(commit Commit)

// AfterCommit implements the Listener interface.
func (f ListenerFunc) AfterCommit(commit Commit) {
	f(commit)
}
