package protocol

import (
	"encoding/json"

	"github.com/embervoice/ember-core/internal/device"
)

// AudioPacket is one encoded audio frame crossing the session.
type AudioPacket struct {
	// SampleRate is the sample rate of the encoded payload in Hz.
	SampleRate int

	// FrameDuration is the frame length in milliseconds.
	FrameDuration int

	// Timestamp is the sender-side frame timestamp in milliseconds.
	// Used by server-side echo cancellation; zero when unused.
	Timestamp uint32

	// Payload is the opaque encoded frame (Opus).
	Payload []byte
}

// Callbacks are the session lifecycle and inbound-traffic hooks.
//
// All callbacks are invoked on the channel's own I/O goroutine, never on the
// control loop. Any callback that needs to mutate device state must marshal
// the mutation through the application's scheduler.
type Callbacks struct {
	// OnConnected fires when the underlying transport (re)connects.
	OnConnected func()

	// OnNetworkError fires on any transport or session failure, with a
	// human-readable message. The channel is unusable afterwards until
	// the audio channel is reopened.
	OnNetworkError func(message string)

	// OnIncomingAudio delivers one downlink audio frame.
	OnIncomingAudio func(packet *AudioPacket)

	// OnAudioChannelOpened fires once the session handshake completes.
	OnAudioChannelOpened func()

	// OnAudioChannelClosed fires when the session ends, for any reason.
	OnAudioChannelClosed func()

	// OnIncomingJSON delivers one parsed control-plane message.
	OnIncomingJSON func(msg *Message)
}

// Channel is an open-ended realtime session to the assistant backend.
//
// Exactly one Channel exists at a time and it is exclusively owned by the
// control loop; worker goroutines reach it only via scheduled closures.
//
// OpenAudioChannel is the one permitted short blocking call from a control
// loop handler; its duration is bounded by the configured open timeout.
// CloseAudioChannel is fire-and-forget: completion is reported later through
// Callbacks.OnAudioChannelClosed on the channel's I/O goroutine.
//
// All Send* methods are silent no-ops when the audio channel is not open;
// absence of a session is a normal transient condition, not a fault.
type Channel interface {
	// Start brings up the underlying transport. It does not open the
	// audio channel.
	Start() error

	// OpenAudioChannel performs the session handshake. Blocking, bounded.
	OpenAudioChannel() bool

	// CloseAudioChannel requests session teardown and returns immediately.
	CloseAudioChannel()

	// IsAudioChannelOpened reports whether a session is currently open.
	IsAudioChannelOpened() bool

	// SendAudio sends one uplink frame. Returns false when it could not be
	// sent (no session, transport backpressure).
	SendAudio(packet *AudioPacket) bool

	// SendStartListening announces the start of a listening turn.
	SendStartListening(mode device.ListeningMode)

	// SendStopListening announces the end of a listening turn.
	SendStopListening()

	// SendAbortSpeaking asks the server to stop the current assistant turn.
	SendAbortSpeaking(reason device.AbortReason)

	// SendWakeWordDetected reports the detected wake word text.
	SendWakeWordDetected(word string)

	// SendMcpMessage forwards an opaque MCP payload to the server.
	SendMcpMessage(payload json.RawMessage)

	// ServerSampleRate returns the downlink sample rate negotiated during
	// the handshake, or 0 before the first successful open.
	ServerSampleRate() int

	// Shutdown tears down the transport. The channel cannot be reused.
	Shutdown()
}

// MqttConfig is the MQTT session configuration issued by the activation
// backend.
type MqttConfig struct {
	Endpoint       string `json:"endpoint"`
	ClientID       string `json:"client_id"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	PublishTopic   string `json:"publish_topic"`
	SubscribeTopic string `json:"subscribe_topic"`
}

// WebsocketConfig is the WebSocket session configuration issued by the
// activation backend.
type WebsocketConfig struct {
	URL     string `json:"url"`
	Token   string `json:"token"`
	Version int    `json:"version"`
}
