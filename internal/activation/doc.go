// Package activation implements the device's startup workflow against the
// device-management backend.
//
// The Workflow runs once on a dedicated worker after the first network
// connection: it applies any staged asset bundle, checks for firmware and
// activation with doubling backoff, walks the user through pairing-code
// confirmation, starts the realtime protocol from the backend-issued
// configuration, and signals completion to the control loop.
//
// The policy throughout is fail-open: an unreachable backend or an
// unconfirmed code degrades the startup, it never bricks the device.
//
// HTTPBackend is the production Backend; tests substitute fakes.
package activation
