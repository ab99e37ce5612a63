// Package sched implements the per-service task scheduler.
//
// Every registered service owns exactly one Scheduler: a single goroutine
// draining a bounded queue of tasks. Because each scheduler is the only
// execution context for its service's callbacks and background work, a slow
// or faulting service cannot stall dispatch or another service.
//
// Tasks receive a context that is cancelled when the scheduler stops, and
// are expected to check it between sub-steps. The scheduler is the only
// spawning API exposed to service code; there is no alternate way to start
// work on a service's behalf.
package sched
