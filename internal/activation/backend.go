package activation

import (
	"context"
	"time"

	"github.com/embervoice/ember-core/internal/protocol"
)

// Backend is the device-management service consulted during startup.
//
// CheckVersion refreshes the backend-issued state; the Has*/getter pairs
// read the result of the most recent successful check. Callers must treat
// the getters as undefined before the first successful CheckVersion.
type Backend interface {
	// CheckVersion queries the backend for pending firmware, activation
	// and session configuration.
	CheckVersion(ctx context.Context) error

	// CurrentVersion returns the firmware version this device is running.
	CurrentVersion() string

	// HasNewVersion reports whether the backend offered a newer firmware.
	HasNewVersion() bool

	// FirmwareURL returns the download URL of the offered firmware.
	FirmwareURL() string

	// FirmwareVersion returns the version label of the offered firmware.
	FirmwareVersion() string

	// MarkCurrentVersionValid confirms the running firmware as good,
	// cancelling any rollback the bootloader may have armed.
	MarkCurrentVersionValid()

	// HasActivationCode reports whether the user must confirm a pairing
	// code.
	HasActivationCode() bool

	// HasActivationChallenge reports whether the backend issued a
	// cryptographic activation challenge.
	HasActivationChallenge() bool

	// ActivationCode returns the pairing code to display.
	ActivationCode() string

	// ActivationMessage returns the instruction text accompanying the
	// code.
	ActivationMessage() string

	// Activate polls the backend for confirmation of the pairing code.
	// Returns ErrActivationTimeout while confirmation is still pending.
	Activate(ctx context.Context) error

	// HasMqttConfig reports whether the backend issued an MQTT session
	// configuration.
	HasMqttConfig() bool

	// MqttConfig returns the issued MQTT configuration.
	MqttConfig() protocol.MqttConfig

	// HasWebsocketConfig reports whether the backend issued a WebSocket
	// session configuration.
	HasWebsocketConfig() bool

	// WebsocketConfig returns the issued WebSocket configuration.
	WebsocketConfig() protocol.WebsocketConfig

	// HasServerTime reports whether the backend supplied a wall-clock
	// reference.
	HasServerTime() bool

	// ServerTime returns the backend wall-clock reference.
	ServerTime() time.Time
}
