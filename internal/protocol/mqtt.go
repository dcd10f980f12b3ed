package protocol

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/embervoice/ember-core/internal/device"
)

// MqttChannel is the MQTT implementation of Channel.
//
// Control messages travel as JSON on the backend-issued publish/subscribe
// topic pair; audio frames travel as raw binary on the "/audio" suffix of
// each topic. The broker connection persists across sessions, only the
// hello/goodbye handshake scopes an audio channel.
type MqttChannel struct {
	cfg  MqttConfig
	opts Options

	callbacks Callbacks

	client mqtt.Client

	mu                  sync.Mutex
	started             bool
	opened              bool
	sessionID           string
	serverSampleRate    int
	serverFrameDuration int
	helloCh             chan helloResponse
}

// compile-time interface check
var _ Channel = (*MqttChannel)(nil)

// NewMqttChannel creates an MQTT channel for the backend-issued
// configuration.
func NewMqttChannel(cfg MqttConfig, opts Options) *MqttChannel {
	return &MqttChannel{
		cfg:  cfg,
		opts: opts.withDefaults(),
	}
}

// SetCallbacks installs the lifecycle hooks. Must be called before Start.
func (c *MqttChannel) SetCallbacks(cb Callbacks) {
	c.callbacks = cb
}

// Start connects to the broker and subscribes to the downlink topics.
//
// The broker connection auto-reconnects; subscriptions are restored on each
// reconnect by the OnConnect handler.
func (c *MqttChannel) Start() error {
	if c.cfg.Endpoint == "" {
		return fmt.Errorf("%w: mqtt endpoint is empty", ErrConnectionFailed)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.Endpoint).
		SetClientID(c.cfg.ClientID).
		SetUsername(c.cfg.Username).
		SetPassword(c.cfg.Password).
		SetKeepAlive(c.opts.KeepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	c.client = mqtt.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(c.opts.OpenTimeout) {
		return fmt.Errorf("%w: broker connect timeout", ErrConnectionFailed)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	c.opts.Logger.Info("mqtt transport started",
		"endpoint", c.cfg.Endpoint,
		"client_id", c.cfg.ClientID,
	)
	return nil
}

// onConnect restores subscriptions and notifies the application. Fires on
// the initial connect and on every reconnect.
func (c *MqttChannel) onConnect(client mqtt.Client) {
	subs := map[string]mqtt.MessageHandler{
		c.cfg.SubscribeTopic:            c.wrapHandler(c.handleControl),
		c.cfg.SubscribeTopic + "/audio": c.wrapHandler(c.handleAudio),
	}
	for topic, handler := range subs {
		token := client.Subscribe(topic, 0, handler)
		if !token.WaitTimeout(c.opts.OpenTimeout) || token.Error() != nil {
			c.opts.Logger.Error("mqtt subscribe failed", "topic", topic, "error", token.Error())
		}
	}

	if c.callbacks.OnConnected != nil {
		c.callbacks.OnConnected()
	}
}

// onConnectionLost closes any open session and surfaces the failure.
func (c *MqttChannel) onConnectionLost(_ mqtt.Client, err error) {
	c.mu.Lock()
	wasOpened := c.opened
	c.opened = false
	c.mu.Unlock()

	c.notifyError(fmt.Sprintf("mqtt connection lost: %v", err))
	if wasOpened && c.callbacks.OnAudioChannelClosed != nil {
		c.callbacks.OnAudioChannelClosed()
	}
}

// wrapHandler adds panic recovery around a message handler so a bad payload
// cannot take down the paho router goroutine.
func (c *MqttChannel) wrapHandler(handler func(payload []byte)) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.opts.Logger.Error("mqtt handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()
		handler(msg.Payload())
	}
}

// handleControl routes one inbound control message.
func (c *MqttChannel) handleControl(payload []byte) {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &peek); err != nil {
		c.opts.Logger.Warn("dropping undecodable control message", "error", err)
		return
	}

	switch peek.Type {
	case "hello":
		var hello helloResponse
		if err := json.Unmarshal(payload, &hello); err != nil {
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
		c.closeSession()

	default:
		msg, err := ParseMessage(payload)
		if err != nil {
			c.opts.Logger.Warn("dropping control message", "error", err)
			return
		}
		if c.callbacks.OnIncomingJSON != nil {
			c.callbacks.OnIncomingJSON(msg)
		}
	}
}

// handleAudio delivers one downlink audio frame.
func (c *MqttChannel) handleAudio(payload []byte) {
	c.mu.Lock()
	sampleRate := c.serverSampleRate
	frameDuration := c.serverFrameDuration
	c.mu.Unlock()

	if c.callbacks.OnIncomingAudio != nil {
		c.callbacks.OnIncomingAudio(&AudioPacket{
			SampleRate:    sampleRate,
			FrameDuration: frameDuration,
			Payload:       payload,
		})
	}
}

// OpenAudioChannel performs the hello handshake over the broker.
//
// Blocking, bounded by Options.OpenTimeout.
func (c *MqttChannel) OpenAudioChannel() bool {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		c.notifyError("audio channel open before transport start")
		return false
	}
	if c.opened {
		c.mu.Unlock()
		return true
	}
	helloCh := make(chan helloResponse, 1)
	c.helloCh = helloCh
	c.mu.Unlock()

	if !c.publishJSON(c.cfg.PublishTopic, newClientHello("mqtt", 0)) {
		c.notifyError("hello publish failed")
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
			"transport", "mqtt",
			"session_id", hello.SessionID,
			"server_sample_rate", hello.AudioParams.SampleRate,
		)
		if c.callbacks.OnAudioChannelOpened != nil {
			c.callbacks.OnAudioChannelOpened()
		}
		return true

	case <-time.After(c.opts.OpenTimeout):
		c.notifyError("server hello timeout")
		return false
	}
}

// CloseAudioChannel sends the goodbye and returns immediately.
// OnAudioChannelClosed fires asynchronously once the session is closed.
func (c *MqttChannel) CloseAudioChannel() {
	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	go func() {
		c.publishJSON(c.cfg.PublishTopic, map[string]any{
			"session_id": sessionID,
			"type":       "goodbye",
		})
		c.closeSession()
	}()
}

// closeSession marks the session closed and notifies the application.
func (c *MqttChannel) closeSession() {
	c.mu.Lock()
	wasOpened := c.opened
	c.opened = false
	c.mu.Unlock()

	if wasOpened && c.callbacks.OnAudioChannelClosed != nil {
		c.callbacks.OnAudioChannelClosed()
	}
}

// IsAudioChannelOpened reports whether a session is currently open.
func (c *MqttChannel) IsAudioChannelOpened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}

// SendAudio sends one uplink frame to the audio topic.
func (c *MqttChannel) SendAudio(packet *AudioPacket) bool {
	c.mu.Lock()
	opened := c.opened
	c.mu.Unlock()
	if !opened {
		return false
	}

	token := c.client.Publish(c.cfg.PublishTopic+"/audio", 0, false, packet.Payload)
	if !token.WaitTimeout(time.Second) || token.Error() != nil {
		c.opts.Logger.Warn("audio send failed", "error", token.Error())
		return false
	}
	return true
}

// SendStartListening announces the start of a listening turn.
func (c *MqttChannel) SendStartListening(mode device.ListeningMode) {
	c.sendSessionJSON(map[string]any{
		"type":  "listen",
		"state": "start",
		"mode":  mode.String(),
	})
}

// SendStopListening announces the end of a listening turn.
func (c *MqttChannel) SendStopListening() {
	c.sendSessionJSON(map[string]any{
		"type":  "listen",
		"state": "stop",
	})
}

// SendAbortSpeaking asks the server to stop the current assistant turn.
func (c *MqttChannel) SendAbortSpeaking(reason device.AbortReason) {
	msg := map[string]any{"type": "abort"}
	if reason == device.AbortReasonWakeWord {
		msg["reason"] = reason.String()
	}
	c.sendSessionJSON(msg)
}

// SendWakeWordDetected reports the detected wake word text.
func (c *MqttChannel) SendWakeWordDetected(word string) {
	c.sendSessionJSON(map[string]any{
		"type":  "listen",
		"state": "detect",
		"text":  word,
	})
}

// SendMcpMessage forwards an opaque MCP payload to the server.
func (c *MqttChannel) SendMcpMessage(payload json.RawMessage) {
	c.sendSessionJSON(map[string]any{
		"type":    "mcp",
		"payload": payload,
	})
}

// ServerSampleRate returns the negotiated downlink sample rate.
func (c *MqttChannel) ServerSampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverSampleRate
}

// Shutdown disconnects from the broker. The channel cannot be reused.
func (c *MqttChannel) Shutdown() {
	c.mu.Lock()
	c.opened = false
	c.started = false
	c.mu.Unlock()

	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}

// sendSessionJSON publishes a control message tagged with the session id.
// A missing session is a silent no-op.
func (c *MqttChannel) sendSessionJSON(msg map[string]any) {
	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return
	}
	msg["session_id"] = c.sessionID
	c.mu.Unlock()

	c.publishJSON(c.cfg.PublishTopic, msg)
}

// publishJSON marshals and publishes one control message.
func (c *MqttChannel) publishJSON(topic string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.opts.Logger.Error("marshalling control message", "error", err)
		return false
	}

	token := c.client.Publish(topic, 0, false, data)
	if !token.WaitTimeout(time.Second) || token.Error() != nil {
		c.opts.Logger.Warn("control publish failed", "topic", topic, "error", token.Error())
		return false
	}
	return true
}

// notifyError reports a transport failure to the application.
func (c *MqttChannel) notifyError(message string) {
	c.opts.Logger.Warn("protocol error", "transport", "mqtt", "message", message)
	if c.callbacks.OnNetworkError != nil {
		c.callbacks.OnNetworkError(message)
	}
}
