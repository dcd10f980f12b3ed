package eventloop

import (
	"context"
	"strings"
	"sync"
)

// Flag is a bit in the control loop's event set.
//
// Flags only record that an event occurred since the last wait; multiplicity
// is not preserved. Any goroutine may set a flag at any time.
type Flag uint32

// Control loop event flags.
const (
	// FlagSchedule indicates deferred tasks are pending in the Scheduler.
	FlagSchedule Flag = 1 << iota

	// FlagSendAudio indicates encoded microphone packets are ready to send.
	FlagSendAudio

	// FlagWakeWord indicates the wake word detector fired.
	FlagWakeWord

	// FlagVadChange indicates voice activity changed.
	FlagVadChange

	// FlagClockTick is the periodic status refresh tick.
	FlagClockTick

	// FlagError indicates a network or protocol error was recorded.
	FlagError

	// FlagNetworkConnected indicates the network came up.
	FlagNetworkConnected

	// FlagNetworkDisconnected indicates the network went down.
	FlagNetworkDisconnected

	// FlagToggleChat is the toggle-conversation user action.
	FlagToggleChat

	// FlagStartListening is the push-to-talk press action.
	FlagStartListening

	// FlagStopListening is the push-to-talk release action.
	FlagStopListening

	// FlagActivationDone indicates the activation workflow finished.
	FlagActivationDone

	// FlagStateChanged indicates the device state machine transitioned.
	FlagStateChanged
)

// flagNames maps individual flags to names for logging.
var flagNames = []struct {
	flag Flag
	name string
}{
	{FlagSchedule, "schedule"},
	{FlagSendAudio, "send_audio"},
	{FlagWakeWord, "wake_word"},
	{FlagVadChange, "vad_change"},
	{FlagClockTick, "clock_tick"},
	{FlagError, "error"},
	{FlagNetworkConnected, "network_connected"},
	{FlagNetworkDisconnected, "network_disconnected"},
	{FlagToggleChat, "toggle_chat"},
	{FlagStartListening, "start_listening"},
	{FlagStopListening, "stop_listening"},
	{FlagActivationDone, "activation_done"},
	{FlagStateChanged, "state_changed"},
}

// String returns a comma-separated list of the set flags.
func (f Flag) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, ",")
}

// Has reports whether every bit in mask is set.
func (f Flag) Has(mask Flag) bool {
	return f&mask == mask
}

// FlagGroup is the wait-for-any-event primitive the control loop blocks on.
//
// Producers call Set from any goroutine; the single consumer calls Wait,
// which returns the set of flags raised since the previous Wait and clears
// them atomically. The whole observed set is cleared per wake-up.
//
// Thread Safety:
//   - Set is safe from any goroutine, including transport callback contexts.
//   - Wait must only be called from the control loop goroutine.
type FlagGroup struct {
	mu   sync.Mutex
	bits Flag

	// wake carries at most one pending wake-up token; multiple Sets between
	// Waits coalesce into a single wake.
	wake chan struct{}
}

// NewFlagGroup creates an empty flag group.
func NewFlagGroup() *FlagGroup {
	return &FlagGroup{
		wake: make(chan struct{}, 1),
	}
}

// Set raises the given flag(s). It never blocks.
func (g *FlagGroup) Set(f Flag) {
	g.mu.Lock()
	g.bits |= f
	g.mu.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until at least one flag has been set since the last call,
// then returns the snapshot and clears it.
//
// Parameters:
//   - ctx: Cancelling the context ends the wait
//
// Returns:
//   - Flag: The set of flags observed (never 0 on nil error)
//   - error: ctx.Err() if the context was cancelled
func (g *FlagGroup) Wait(ctx context.Context) (Flag, error) {
	for {
		g.mu.Lock()
		bits := g.bits
		g.bits = 0
		g.mu.Unlock()

		if bits != 0 {
			return bits, nil
		}

		// A stale wake token can produce a spurious wake with no bits set;
		// the loop re-checks and goes back to sleep.
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-g.wake:
		}
	}
}
