package device

import "sync"

// StateListener is invoked synchronously on every real state change, on the
// goroutine that requested the transition.
//
// Listeners must not request further transitions inline; doing so would
// re-enter the machine while listeners for the first change are still
// running. Follow-up transitions belong on the scheduler.
type StateListener func(old, new State)

// StateMachine holds the current device lifecycle state.
//
// Transition validity is not enforced here: the calling handlers inspect the
// current state and decide whether a transition is allowed, which keeps all
// policy in one place (the control loop). The machine's own job is atomicity
// of the swap and synchronous listener notification.
//
// Thread Safety:
//   - All methods are safe for concurrent use. In practice transitions are
//     only requested from the control loop; workers read via Current.
type StateMachine struct {
	mu        sync.RWMutex
	state     State
	listeners []StateListener
}

// NewStateMachine creates a machine in the given initial state.
// Listeners are not notified of the initial state.
func NewStateMachine(initial State) *StateMachine {
	return &StateMachine{
		state: initial,
	}
}

// Current returns the current state. It never blocks on listener activity.
func (m *StateMachine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// TransitionTo moves the machine to state and notifies listeners.
//
// Transitioning to the already-current state is a no-op: listeners are not
// re-invoked and TransitionTo returns false.
//
// Parameters:
//   - state: Target state
//
// Returns:
//   - bool: true if the state actually changed
func (m *StateMachine) TransitionTo(state State) bool {
	m.mu.Lock()
	old := m.state
	if old == state {
		m.mu.Unlock()
		return false
	}
	m.state = state
	listeners := m.listeners
	m.mu.Unlock()

	// Listeners run outside the lock so Current() stays readable from
	// within a listener.
	for _, listener := range listeners {
		listener(old, state)
	}
	return true
}

// AddListener registers a permanent observer, invoked synchronously in
// registration order on each real change.
func (m *StateMachine) AddListener(listener StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}
