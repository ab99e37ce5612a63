package service

import (
	"errors"
	"fmt"
)

// Common service runtime errors.
var (
	// ErrEmptyID indicates a descriptor without an ID.
	ErrEmptyID = errors.New("service ID is empty")

	// ErrNilInit indicates a nil init function.
	ErrNilInit = errors.New("init function is nil")

	// ErrDuplicateService indicates the service ID is already registered.
	ErrDuplicateService = errors.New("service already registered")

	// ErrRuntimeStopped indicates the runtime no longer accepts services.
	ErrRuntimeStopped = errors.New("runtime is stopped")

	// ErrServiceStopped indicates a context operation after the owning
	// service stopped.
	ErrServiceStopped = errors.New("service is stopped")
)

// InitError reports a failed service init. The service is fully cleaned
// up and Stopped when this error is returned.
type InitError struct {
	// ServiceID identifies the service whose init failed.
	ServiceID string

	// Err is the error the init function returned, or the recovered
	// panic wrapped as an error.
	Err error
}

// Error implements the error interface.
func (e *InitError) Error() string {
	return fmt.Sprintf("init of service %q failed: %v", e.ServiceID, e.Err)
}

// Unwrap returns the underlying error.
func (e *InitError) Unwrap() error {
	return e.Err
}
