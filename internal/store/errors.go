package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for the store.
var (
	// ErrNotRunning is returned when Dispatch is called before Start or
	// after Close.
	ErrNotRunning = errors.New("store is not running")

	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("store is already running")

	// ErrNilAction is returned when a nil action is dispatched.
	ErrNilAction = errors.New("action cannot be nil")

	// ErrNilReducer is returned when a nil reducer is registered.
	ErrNilReducer = errors.New("reducer cannot be nil")

	// ErrEmptySlice is returned when a reducer is registered for an empty
	// slice name.
	ErrEmptySlice = errors.New("slice name cannot be empty")

	// ErrReducerFault matches any ReducerFault via errors.Is.
	ErrReducerFault = errors.New("reducer fault")
)

// ReducerFault reports a reducer that returned an error, panicked, or
// produced an invalid result. The dispatch that triggered it failed and the
// tree is unchanged.
type ReducerFault struct {
	// ActionKind names the action being reduced.
	ActionKind string

	// Slice is the slice whose reducer faulted.
	Slice string

	// Err is the error the reducer returned, if any.
	Err error

	// PanicValue is the recovered panic value, if the reducer panicked.
	PanicValue any

	// Stack is the stack trace captured at panic time.
	Stack []byte
}

// Error implements the error interface.
func (f *ReducerFault) Error() string {
	if f.PanicValue != nil {
		return fmt.Sprintf("reducer for slice %q panicked on action %q: %v", f.Slice, f.ActionKind, f.PanicValue)
	}
	return fmt.Sprintf("reducer for slice %q failed on action %q: %v", f.Slice, f.ActionKind, f.Err)
}

// Unwrap returns the underlying reducer error.
func (f *ReducerFault) Unwrap() error {
	return f.Err
}

// Is allows errors.Is to match ReducerFault with ErrReducerFault.
func (f *ReducerFault) Is(target error) bool {
	return target == ErrReducerFault
}

// UninitializedSliceError reports a non-initialization action delivered
// before its slice was initialized. The store never guesses a default.
type UninitializedSliceError struct {
	// Slice is the uninitialized slice.
	Slice string

	// ActionKind names the rejected action.
	ActionKind string
}

// Error implements the error interface.
func (e *UninitializedSliceError) Error() string {
	return fmt.Sprintf("action %q delivered to uninitialized slice %q", e.ActionKind, e.Slice)
}

// DuplicateReducerError reports a second reducer registration for the same
// slice. Registration fails immediately.
type DuplicateReducerError struct {
	// Slice is the conflicting slice name.
	Slice string
}

// Error implements the error interface.
func (e *DuplicateReducerError) Error() string {
	return fmt.Sprintf("reducer already registered for slice %q", e.Slice)
}

// NoReducerError reports an action targeting a slice with no registered
// reducer.
type NoReducerError struct {
	// Slice is the unrouted slice name.
	Slice string

	// ActionKind names the rejected action.
	ActionKind string
}

// Error implements the error interface.
func (e *NoReducerError) Error() string {
	return fmt.Sprintf("no reducer registered for slice %q (action %q)", e.Slice, e.ActionKind)
}
