package device

import "encoding/json"

// State is the device lifecycle state.
type State int

// Device lifecycle states.
const (
	StateUnknown State = iota
	StateStarting
	StateWifiConfiguring
	StateIdle
	StateConnecting
	StateListening
	StateSpeaking
	StateUpgrading
	StateActivating
	StateAudioTesting
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateWifiConfiguring:
		return "wifi_configuring"
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	case StateUpgrading:
		return "upgrading"
	case StateActivating:
		return "activating"
	case StateAudioTesting:
		return "audio_testing"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "starting":
		*s = StateStarting
	case "wifi_configuring":
		*s = StateWifiConfiguring
	case "idle":
		*s = StateIdle
	case "connecting":
		*s = StateConnecting
	case "listening":
		*s = StateListening
	case "speaking":
		*s = StateSpeaking
	case "upgrading":
		*s = StateUpgrading
	case "activating":
		*s = StateActivating
	case "audio_testing":
		*s = StateAudioTesting
	default:
		*s = StateUnknown
	}
	return nil
}

// InConversation reports whether the device currently holds a conversation
// turn (a session is expected to be open or opening).
func (s State) InConversation() bool {
	switch s {
	case StateConnecting, StateListening, StateSpeaking:
		return true
	default:
		return false
	}
}

// ListeningMode governs how a listening turn ends.
type ListeningMode int

const (
	// ListeningModeAutoStop ends the turn when the server detects
	// end of speech.
	ListeningModeAutoStop ListeningMode = iota

	// ListeningModeManualStop ends the turn only on an explicit user stop.
	ListeningModeManualStop

	// ListeningModeRealtime keeps upload and playback running concurrently;
	// requires echo cancellation on one side.
	ListeningModeRealtime
)

// String returns the wire name of the mode.
func (m ListeningMode) String() string {
	switch m {
	case ListeningModeManualStop:
		return "manual"
	case ListeningModeRealtime:
		return "realtime"
	default:
		return "auto"
	}
}

// AecMode selects where acoustic echo cancellation runs.
// The modes are mutually exclusive by construction.
type AecMode int

const (
	// AecOff disables echo cancellation.
	AecOff AecMode = iota

	// AecOnDeviceSide runs echo cancellation in the device audio pipeline.
	AecOnDeviceSide

	// AecOnServerSide delegates echo cancellation to the server.
	AecOnServerSide
)

// String returns the string representation of the mode.
func (m AecMode) String() string {
	switch m {
	case AecOnDeviceSide:
		return "device"
	case AecOnServerSide:
		return "server"
	default:
		return "off"
	}
}

// ParseAecMode converts a config string into an AecMode.
// Unrecognised values map to AecOff.
func ParseAecMode(s string) AecMode {
	switch s {
	case "device":
		return AecOnDeviceSide
	case "server":
		return AecOnServerSide
	default:
		return AecOff
	}
}

// AbortReason describes why assistant speech is being aborted.
type AbortReason int

const (
	// AbortReasonNone is a plain user interruption.
	AbortReasonNone AbortReason = iota

	// AbortReasonWakeWord is an interruption caused by the wake word firing
	// while the assistant was speaking.
	AbortReasonWakeWord
)

// String returns the wire name of the reason.
func (r AbortReason) String() string {
	if r == AbortReasonWakeWord {
		return "wake_word_detected"
	}
	return "none"
}
