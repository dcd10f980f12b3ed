package telemetry

import "errors"

var (
	// ErrDisabled is returned by Connect when telemetry is disabled in config.
	ErrDisabled = errors.New("telemetry: disabled in configuration")

	// ErrConnectionFailed is returned when the initial connection fails.
	ErrConnectionFailed = errors.New("telemetry: connection failed")

	// ErrNotConnected is returned when an operation requires a live connection.
	ErrNotConnected = errors.New("telemetry: not connected")
)
