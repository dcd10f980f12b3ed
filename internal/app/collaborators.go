package app

import (
	"github.com/embervoice/ember-core/internal/protocol"
)

// Sound identifies a built-in notification sound.
type Sound string

// Built-in notification sounds.
const (
	SoundPopup       Sound = "popup"
	SoundSuccess     Sound = "success"
	SoundExclamation Sound = "exclamation"
	SoundActivation  Sound = "activation"
	SoundUpgrade     Sound = "upgrade"
)

// AudioService is the opaque audio pipeline.
//
// It owns its own concurrency; the application only reacts to its outcomes.
// Queue pops return nil when empty. The service reports asynchronous events
// (send queue available, wake word, VAD change) through the application's
// Notify* methods, which only set event flags.
type AudioService interface {
	// Start brings up the capture/playback pipeline.
	Start() error

	// Stop tears down the pipeline, freeing its resources.
	Stop()

	// PushPacketToDecodeQueue queues one downlink frame for playback.
	PushPacketToDecodeQueue(packet *protocol.AudioPacket)

	// PopPacketFromSendQueue removes the next encoded microphone frame,
	// or nil when the queue is empty.
	PopPacketFromSendQueue() *protocol.AudioPacket

	// PopWakeWordPacket removes the next buffered wake-word frame, or nil
	// when the buffer is drained.
	PopWakeWordPacket() *protocol.AudioPacket

	// EncodeWakeWord starts encoding the buffered wake-word audio so it
	// can be replayed to the server ahead of the live stream.
	EncodeWakeWord()

	// LastWakeWord returns the most recently detected wake word.
	LastWakeWord() string

	// EnableVoiceProcessing starts or stops the uplink capture path.
	EnableVoiceProcessing(enabled bool)

	// EnableWakeWordDetection starts or stops the wake word detector.
	EnableWakeWordDetection(enabled bool)

	// EnableAudioTesting starts or stops the loopback test mode.
	EnableAudioTesting(enabled bool)

	// ResetDecoder flushes the playback decoder before a new utterance.
	ResetDecoder()

	// PlaySound plays a built-in notification sound.
	PlaySound(sound Sound)

	// IsIdle reports whether no capture or playback is in flight.
	IsIdle() bool

	// IsAudioProcessorRunning reports whether the uplink path is active.
	IsAudioProcessorRunning() bool

	// IsAfeWakeWord reports whether the wake word detector can run
	// concurrently with playback.
	IsAfeWakeWord() bool
}

// Display is the user-facing status surface.
type Display interface {
	// SetStatus shows a short status line.
	SetStatus(status string)

	// SetEmotion shows the assistant's emotion hint.
	SetEmotion(emotion string)

	// SetChatMessage appends one chat line. Role is "user" or "assistant".
	SetChatMessage(role, content string)

	// ShowNotification shows a transient message.
	ShowNotification(message string)

	// DismissAlert clears any standing alert.
	DismissAlert()

	// UpdateStatusBar refreshes the ambient indicators (clock, battery,
	// signal). Called on every clock tick.
	UpdateStatusBar()
}

// Led mirrors the device state on the status LED.
type Led interface {
	// OnStateChanged re-renders the LED for the current state.
	OnStateChanged()
}

// PowerController switches the board power profile.
type PowerController interface {
	// SetPowerSave enables the low-power profile when true, the
	// performance profile when false.
	SetPowerSave(enabled bool)
}

// Rebooter restarts the device. Reboot is expected not to return.
type Rebooter interface {
	Reboot()
}

// FirmwareUpgrader downloads and flashes a firmware image.
type FirmwareUpgrader interface {
	// Upgrade performs download-and-flash, reporting percentage progress
	// and throughput in bytes per second.
	Upgrade(url, version string, progress func(percent int, speed float64)) error
}
