package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageKind is the closed set of control-plane message types.
//
// Modelling the discriminant as a closed enum means a new server message
// type is a compile-checked addition to the dispatch switch, not a silently
// ignored default branch.
type MessageKind int

const (
	// KindTts carries assistant speech lifecycle events.
	KindTts MessageKind = iota

	// KindStt carries live user-speech transcription.
	KindStt

	// KindLlm carries assistant emotion hints.
	KindLlm

	// KindMcp carries an opaque MCP tool payload.
	KindMcp

	// KindSystem carries a server-issued device command.
	KindSystem

	// KindAlert carries a user-facing alert.
	KindAlert

	// KindCustom carries an application-defined payload.
	KindCustom
)

// String returns the wire name of the kind.
func (k MessageKind) String() string {
	switch k {
	case KindTts:
		return "tts"
	case KindStt:
		return "stt"
	case KindLlm:
		return "llm"
	case KindMcp:
		return "mcp"
	case KindSystem:
		return "system"
	case KindAlert:
		return "alert"
	case KindCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// TtsState is the phase of an assistant speech event.
type TtsState int

const (
	// TtsStart marks the beginning of an assistant turn.
	TtsStart TtsState = iota

	// TtsStop marks the end of an assistant turn.
	TtsStop

	// TtsSentenceStart carries the text of the next spoken sentence.
	TtsSentenceStart
)

// TtsPayload is the body of a tts message.
type TtsPayload struct {
	State TtsState
	Text  string
}

// SttPayload is the body of an stt message.
type SttPayload struct {
	Text string
}

// LlmPayload is the body of an llm message.
type LlmPayload struct {
	Emotion string
}

// McpPayload is the body of an mcp message.
type McpPayload struct {
	Payload json.RawMessage
}

// SystemCommand is the closed set of server-issued device commands.
type SystemCommand int

const (
	// SystemReboot requests a device reboot (typically after a server-side
	// OTA update is staged).
	SystemReboot SystemCommand = iota
)

// SystemPayload is the body of a system message.
type SystemPayload struct {
	Command SystemCommand
}

// AlertPayload is the body of an alert message.
type AlertPayload struct {
	Status  string
	Message string
	Emotion string
}

// CustomPayload is the body of a custom message.
type CustomPayload struct {
	Payload json.RawMessage
}

// Message is one parsed control-plane message.
//
// Exactly the payload field matching Kind is non-nil.
type Message struct {
	Kind      MessageKind
	SessionID string

	Tts    *TtsPayload
	Stt    *SttPayload
	Llm    *LlmPayload
	Mcp    *McpPayload
	System *SystemPayload
	Alert  *AlertPayload
	Custom *CustomPayload
}

// rawMessage is the wire shape used for decoding.
type rawMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	State     string          `json:"state"`
	Text      string          `json:"text"`
	Emotion   string          `json:"emotion"`
	Command   string          `json:"command"`
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	Payload   json.RawMessage `json:"payload"`
}

// ParseMessage decodes one control-plane message.
//
// Malformed or unknown messages yield an error and must be logged and
// dropped by the caller at this smallest granularity: a bad message never
// aborts the session or sibling processing.
//
// Parameters:
//   - data: Raw JSON from the transport
//
// Returns:
//   - *Message: Parsed message with exactly one payload populated
//   - error: ErrUnknownMessageType or ErrMalformedMessage (wrapped with detail)
func ParseMessage(data []byte) (*Message, error) {
	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	msg := &Message{SessionID: raw.SessionID}

	switch raw.Type {
	case "tts":
		state, err := parseTtsState(raw.State)
		if err != nil {
			return nil, err
		}
		msg.Kind = KindTts
		msg.Tts = &TtsPayload{State: state, Text: raw.Text}

	case "stt":
		if raw.Text == "" {
			return nil, fmt.Errorf("%w: stt message without text", ErrMalformedMessage)
		}
		msg.Kind = KindStt
		msg.Stt = &SttPayload{Text: raw.Text}

	case "llm":
		if raw.Emotion == "" {
			return nil, fmt.Errorf("%w: llm message without emotion", ErrMalformedMessage)
		}
		msg.Kind = KindLlm
		msg.Llm = &LlmPayload{Emotion: raw.Emotion}

	case "mcp":
		if len(raw.Payload) == 0 {
			return nil, fmt.Errorf("%w: mcp message without payload", ErrMalformedMessage)
		}
		msg.Kind = KindMcp
		msg.Mcp = &McpPayload{Payload: raw.Payload}

	case "system":
		command, err := parseSystemCommand(raw.Command)
		if err != nil {
			return nil, err
		}
		msg.Kind = KindSystem
		msg.System = &SystemPayload{Command: command}

	case "alert":
		if raw.Status == "" || raw.Message == "" || raw.Emotion == "" {
			return nil, fmt.Errorf("%w: alert message requires status, message and emotion", ErrMalformedMessage)
		}
		msg.Kind = KindAlert
		msg.Alert = &AlertPayload{Status: raw.Status, Message: raw.Message, Emotion: raw.Emotion}

	case "custom":
		if len(raw.Payload) == 0 {
			return nil, fmt.Errorf("%w: custom message without payload", ErrMalformedMessage)
		}
		msg.Kind = KindCustom
		msg.Custom = &CustomPayload{Payload: raw.Payload}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, raw.Type)
	}

	return msg, nil
}

// parseTtsState converts the wire state of a tts message.
func parseTtsState(s string) (TtsState, error) {
	switch s {
	case "start":
		return TtsStart, nil
	case "stop":
		return TtsStop, nil
	case "sentence_start":
		return TtsSentenceStart, nil
	default:
		return 0, fmt.Errorf("%w: tts state %q", ErrMalformedMessage, s)
	}
}

// parseSystemCommand converts the wire command of a system message.
func parseSystemCommand(s string) (SystemCommand, error) {
	switch s {
	case "reboot":
		return SystemReboot, nil
	default:
		return 0, fmt.Errorf("%w: system command %q", ErrMalformedMessage, s)
	}
}
