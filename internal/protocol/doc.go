// Package protocol implements the realtime session to the assistant backend.
//
// A Channel is a duplex session carrying encoded audio frames in both
// directions plus JSON control messages (speech lifecycle, transcription,
// emotion hints, MCP payloads, alerts, device commands). Two transports are
// provided: MQTT (eclipse paho) and WebSocket (gorilla), both speaking the
// same hello/goodbye session handshake.
//
// The application selects the transport from whichever configuration the
// activation backend issued, installs Callbacks, and drives the channel
// exclusively from its control loop. Channels invoke callbacks from their
// own I/O goroutines; anything that mutates device state must be marshalled
// back onto the control loop by the callback owner.
//
// Inbound control messages are parsed into a closed tagged Message variant
// by ParseMessage. Malformed or unknown messages are logged and dropped at
// that granularity and never abort the session.
package protocol
