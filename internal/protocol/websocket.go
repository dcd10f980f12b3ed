package protocol

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/embervoice/ember-core/internal/device"
)

// Uplink audio parameters announced in the client hello.
const (
	uplinkSampleRate    = 16000
	uplinkFrameDuration = 60 // milliseconds
)

// Logger is the minimal logging interface the protocol package needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options tune channel behaviour independent of the backend-issued config.
type Options struct {
	// OpenTimeout bounds the blocking OpenAudioChannel handshake.
	OpenTimeout time.Duration

	// KeepAlive is the transport keep-alive interval.
	KeepAlive time.Duration

	// DeviceID identifies this device to the server.
	DeviceID string

	// Logger receives channel diagnostics. Defaults to a no-op logger.
	Logger Logger
}

// withDefaults fills zero values with usable defaults.
func (o Options) withDefaults() Options {
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = 10 * time.Second
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = 90 * time.Second
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	return o
}

// helloResponse is the server's session handshake reply.
type helloResponse struct {
	Type        string `json:"type"`
	Transport   string `json:"transport"`
	SessionID   string `json:"session_id"`
	AudioParams struct {
		SampleRate    int `json:"sample_rate"`
		FrameDuration int `json:"frame_duration"`
	} `json:"audio_params"`
}

// clientHello is the session handshake request.
type clientHello struct {
	Type        string `json:"type"`
	Version     int    `json:"version"`
	Transport   string `json:"transport"`
	AudioParams struct {
		Format        string `json:"format"`
		SampleRate    int    `json:"sample_rate"`
		Channels      int    `json:"channels"`
		FrameDuration int    `json:"frame_duration"`
	} `json:"audio_params"`
}

// newClientHello builds the hello for the given transport name.
func newClientHello(transport string, version int) clientHello {
	hello := clientHello{
		Type:      "hello",
		Version:   version,
		Transport: transport,
	}
	hello.AudioParams.Format = "opus"
	hello.AudioParams.SampleRate = uplinkSampleRate
	hello.AudioParams.Channels = 1
	hello.AudioParams.FrameDuration = uplinkFrameDuration
	return hello
}

// WebSocketChannel is the WebSocket implementation of Channel.
//
// Text frames carry JSON control messages, binary frames carry audio.
// The connection is dialled lazily on OpenAudioChannel and torn down when
// the session ends, matching the device's conversation lifecycle.
type WebSocketChannel struct {
	cfg  WebsocketConfig
	opts Options

	callbacks Callbacks

	mu                  sync.Mutex
	conn                *websocket.Conn
	opened              bool
	sessionID           string
	serverSampleRate    int
	serverFrameDuration int
	helloCh             chan helloResponse
}

// compile-time interface check
var _ Channel = (*WebSocketChannel)(nil)

// NewWebSocketChannel creates a WebSocket channel for the backend-issued
// configuration.
func NewWebSocketChannel(cfg WebsocketConfig, opts Options) *WebSocketChannel {
	return &WebSocketChannel{
		cfg:  cfg,
		opts: opts.withDefaults(),
	}
}

// SetCallbacks installs the lifecycle hooks. Must be called before Start.
func (c *WebSocketChannel) SetCallbacks(cb Callbacks) {
	c.callbacks = cb
}

// Start validates the configuration. The connection itself is dialled on
// OpenAudioChannel.
func (c *WebSocketChannel) Start() error {
	if c.cfg.URL == "" {
		return fmt.Errorf("%w: websocket url is empty", ErrConnectionFailed)
	}
	return nil
}

// OpenAudioChannel dials the server and performs the hello handshake.
//
// Blocking, bounded by Options.OpenTimeout. On failure the channel is left
// closed and false is returned; the caller decides how to recover.
func (c *WebSocketChannel) OpenAudioChannel() bool {
	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		return true
	}
	helloCh := make(chan helloResponse, 1)
	c.helloCh = helloCh
	c.mu.Unlock()

	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if c.opts.DeviceID != "" {
		header.Set("Device-Id", c.opts.DeviceID)
	}
	header.Set("Protocol-Version", fmt.Sprintf("%d", c.cfg.Version))

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.OpenTimeout}
	conn, _, err := dialer.Dial(c.cfg.URL, header)
	if err != nil {
		c.notifyError(fmt.Sprintf("websocket dial failed: %v", err))
		return false
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if c.callbacks.OnConnected != nil {
		c.callbacks.OnConnected()
	}

	go c.readLoop(conn)

	if !c.writeJSON(newClientHello("websocket", c.cfg.Version)) {
		c.teardown(conn)
		return false
	}

	select {
	case hello := <-helloCh:
		c.mu.Lock()
		c.opened = true
		c.sessionID = hello.SessionID
		c.serverSampleRate = hello.AudioParams.SampleRate
		c.serverFrameDuration = hello.AudioParams.FrameDuration
		c.mu.Unlock()

		c.opts.Logger.Info("audio channel opened",
			"transport", "websocket",
			"session_id", hello.SessionID,
			"server_sample_rate", hello.AudioParams.SampleRate,
		)
		if c.callbacks.OnAudioChannelOpened != nil {
			c.callbacks.OnAudioChannelOpened()
		}
		return true

	case <-time.After(c.opts.OpenTimeout):
		c.notifyError("server hello timeout")
		c.teardown(conn)
		return false
	}
}

// CloseAudioChannel requests teardown and returns immediately.
// OnAudioChannelClosed fires from the reader goroutine once the connection
// is actually gone.
func (c *WebSocketChannel) CloseAudioChannel() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	go func() {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}()
}

// IsAudioChannelOpened reports whether a session is currently open.
func (c *WebSocketChannel) IsAudioChannelOpened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}

// SendAudio sends one uplink frame as a binary message.
func (c *WebSocketChannel) SendAudio(packet *AudioPacket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened || c.conn == nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, packet.Payload); err != nil {
		c.opts.Logger.Warn("audio send failed", "error", err)
		return false
	}
	return true
}

// SendStartListening announces the start of a listening turn.
func (c *WebSocketChannel) SendStartListening(mode device.ListeningMode) {
	c.sendSessionJSON(map[string]any{
		"type":  "listen",
		"state": "start",
		"mode":  mode.String(),
	})
}

// SendStopListening announces the end of a listening turn.
func (c *WebSocketChannel) SendStopListening() {
	c.sendSessionJSON(map[string]any{
		"type":  "listen",
		"state": "stop",
	})
}

// SendAbortSpeaking asks the server to stop the current assistant turn.
func (c *WebSocketChannel) SendAbortSpeaking(reason device.AbortReason) {
	msg := map[string]any{"type": "abort"}
	if reason == device.AbortReasonWakeWord {
		msg["reason"] = reason.String()
	}
	c.sendSessionJSON(msg)
}

// SendWakeWordDetected reports the detected wake word text.
func (c *WebSocketChannel) SendWakeWordDetected(word string) {
	c.sendSessionJSON(map[string]any{
		"type":  "listen",
		"state": "detect",
		"text":  word,
	})
}

// SendMcpMessage forwards an opaque MCP payload to the server.
func (c *WebSocketChannel) SendMcpMessage(payload json.RawMessage) {
	c.sendSessionJSON(map[string]any{
		"type":    "mcp",
		"payload": payload,
	})
}

// ServerSampleRate returns the negotiated downlink sample rate.
func (c *WebSocketChannel) ServerSampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverSampleRate
}

// Shutdown tears down the transport. The channel cannot be reused.
func (c *WebSocketChannel) Shutdown() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.opened = false
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// sendSessionJSON sends a control message tagged with the session id.
// A missing session is a silent no-op.
func (c *WebSocketChannel) sendSessionJSON(msg map[string]any) {
	c.mu.Lock()
	if !c.opened || c.conn == nil {
		c.mu.Unlock()
		return
	}
	msg["session_id"] = c.sessionID
	c.mu.Unlock()

	c.writeJSON(msg)
}

// writeJSON marshals and sends one text frame. The lock serializes writers;
// the websocket connection permits only one concurrent writer.
func (c *WebSocketChannel) writeJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.opts.Logger.Error("marshalling control message", "error", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.opts.Logger.Warn("control send failed", "error", err)
		return false
	}
	return true
}

// readLoop routes inbound frames until the connection dies.
func (c *WebSocketChannel) readLoop(conn *websocket.Conn) {
	defer func() {
		if r := recover(); r != nil {
			c.opts.Logger.Error("websocket read loop panic recovered", "panic", r)
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			c.mu.Lock()
			sampleRate := c.serverSampleRate
			frameDuration := c.serverFrameDuration
			c.mu.Unlock()

			if c.callbacks.OnIncomingAudio != nil {
				c.callbacks.OnIncomingAudio(&AudioPacket{
					SampleRate:    sampleRate,
					FrameDuration: frameDuration,
					Payload:       data,
				})
			}

		case websocket.TextMessage:
			c.handleControlFrame(data)
		}
	}
}

// handleControlFrame routes one inbound text frame.
func (c *WebSocketChannel) handleControlFrame(data []byte) {
	// Session-control types are handled inside the channel; everything else
	// goes to the application.
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		c.opts.Logger.Warn("dropping undecodable control frame", "error", err)
		return
	}

	switch peek.Type {
	case "hello":
		var hello helloResponse
		if err := json.Unmarshal(data, &hello); err != nil {
			c.opts.Logger.Warn("dropping malformed hello", "error", err)
			return
		}
		c.mu.Lock()
		helloCh := c.helloCh
		c.mu.Unlock()
		if helloCh != nil {
			select {
			case helloCh <- hello:
			default:
			}
		}

	case "goodbye":
		c.opts.Logger.Info("server ended session")
		c.CloseAudioChannel()

	default:
		msg, err := ParseMessage(data)
		if err != nil {
			c.opts.Logger.Warn("dropping control message", "error", err)
			return
		}
		if c.callbacks.OnIncomingJSON != nil {
			c.callbacks.OnIncomingJSON(msg)
		}
	}
}

// handleDisconnect finalizes state after the connection dies.
func (c *WebSocketChannel) handleDisconnect(conn *websocket.Conn, err error) {
	c.mu.Lock()
	wasOpened := c.opened
	c.opened = false
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	_ = conn.Close()

	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && wasOpened {
		c.notifyError(fmt.Sprintf("websocket connection lost: %v", err))
	}
	if wasOpened && c.callbacks.OnAudioChannelClosed != nil {
		c.callbacks.OnAudioChannelClosed()
	}
}

// teardown closes a half-open connection after a failed handshake.
func (c *WebSocketChannel) teardown(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.opened = false
	c.mu.Unlock()
	_ = conn.Close()
}

// notifyError reports a transport failure to the application.
func (c *WebSocketChannel) notifyError(message string) {
	c.opts.Logger.Warn("protocol error", "transport", "websocket", "message", message)
	if c.callbacks.OnNetworkError != nil {
		c.callbacks.OnNetworkError(message)
	}
}
