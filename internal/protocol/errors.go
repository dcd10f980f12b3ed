package protocol

import "errors"

var (
	// ErrUnknownMessageType is returned for control messages with an
	// unrecognised type discriminant.
	ErrUnknownMessageType = errors.New("protocol: unknown message type")

	// ErrMalformedMessage is returned for control messages missing
	// required fields or carrying invalid values.
	ErrMalformedMessage = errors.New("protocol: malformed message")

	// ErrNotStarted is returned when a channel operation requires Start.
	ErrNotStarted = errors.New("protocol: channel not started")

	// ErrConnectionFailed is returned when the transport cannot connect.
	ErrConnectionFailed = errors.New("protocol: connection failed")
)
