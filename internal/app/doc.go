// Package app is the control core of the device: one event-driven loop
// owning the state machine, the realtime session and every user-visible
// side effect.
//
// The loop blocks on a wait-for-any-event flag group and dispatches
// handlers in a fixed priority order per wake-up. Everything outside the
// loop (transport callbacks, the activation worker, the audio pipeline,
// buttons and timers) interacts with it exclusively by setting event flags
// or scheduling closures; that single discipline keeps the core race-free
// without fine-grained locking.
//
// Collaborators (audio pipeline, display, LED, power, upgrader, rebooter)
// are injected as interfaces so boards and tests supply their own.
package app
