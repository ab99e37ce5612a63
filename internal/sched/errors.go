package sched

import (
	"errors"
	"fmt"
)

// Sentinel errors for the sched package.
var (
	// ErrAlreadyRunning is returned when Start is called on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler is already running")

	// ErrStopped is returned when work is submitted to a stopped scheduler.
	ErrStopped = errors.New("scheduler is stopped")

	// ErrQueueFull is returned when the task queue cannot accept more work.
	ErrQueueFull = errors.New("task queue is full")

	// ErrTaskFault matches any TaskFault via errors.Is.
	ErrTaskFault = errors.New("task fault")
)

// TaskFault reports a background task that returned an error or panicked.
// The fault is contained to the owning scheduler; it never crashes dispatch
// or another service.
type TaskFault struct {
	// Owner is the service that owns the scheduler.
	Owner string

	// Err is the error the task returned, if any.
	Err error

	// PanicValue is the value passed to panic, if the task panicked.
	PanicValue any

	// Stack is the stack trace captured at panic time.
	Stack []byte
}

// Error implements the error interface.
func (f *TaskFault) Error() string {
	if f.PanicValue != nil {
		return fmt.Sprintf("task panic in scheduler %q: %v", f.Owner, f.PanicValue)
	}
	return fmt.Sprintf("task fault in scheduler %q: %v", f.Owner, f.Err)
}

// Unwrap returns the underlying task error.
func (f *TaskFault) Unwrap() error {
	return f.Err
}

// Is allows errors.Is to match TaskFault with ErrTaskFault.
func (f *TaskFault) Is(target error) bool {
	return target == ErrTaskFault
}
