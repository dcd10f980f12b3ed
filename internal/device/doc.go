// Package device defines the device lifecycle state machine and the small
// domain enums that travel with it (listening mode, echo-cancellation mode,
// abort reason).
//
// The state machine accepts any transition; the guards live in the control
// loop handlers that request transitions, so the complete policy is readable
// in one place. Listeners are notified synchronously on real changes only;
// transitioning to the current state is a no-op by contract.
package device
