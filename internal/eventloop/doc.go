// Package eventloop provides the primitives under the single-threaded
// control loop: an event flag group and a deferred-task scheduler.
//
// # Architecture
//
// The application is one logical thread of control. Hardware callbacks,
// transport goroutines and the activation worker never touch device state
// directly; they either raise a flag (for the fixed set of loop events) or
// schedule a closure. The loop blocks in FlagGroup.Wait, consumes the flag
// snapshot, and dispatches handlers in a fixed priority order defined by the
// application. Work scheduled during a dispatch cycle executes on the next
// wake-up, never recursively within the same cycle.
//
// Flags record occurrence, not multiplicity: setting the same flag twice
// between waits is observed once. Queued tasks are never collapsed; every
// scheduled closure runs exactly once.
package eventloop
