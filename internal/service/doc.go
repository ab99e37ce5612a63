// Package service hosts the units of application logic that run against
// the store.
//
// A service registers reducers, autorun subscriptions, and event handlers
// during a bounded init call, and schedules all ongoing work through its
// own scheduler. Cross-service interaction happens only through dispatched
// actions and bus events; services never call each other directly.
//
// Each service moves through a strict lifecycle:
//
//	Unregistered → Initializing → Running → Stopping → Stopped
//
// Stopped is terminal. Stopping a service cancels its scheduled tasks,
// releases every subscription it owns, and waits for in-flight callbacks,
// without disturbing any other service.
package service
