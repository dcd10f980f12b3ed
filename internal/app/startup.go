package app

import (
	"github.com/embervoice/ember-core/internal/activation"
	"github.com/embervoice/ember-core/internal/device"
	"github.com/embervoice/ember-core/internal/eventloop"
	"github.com/embervoice/ember-core/internal/protocol"
)

// buildWorkflow assembles the activation workflow. Its callbacks marshal
// every user-visible effect onto the control loop; the workflow itself runs
// on a worker.
func (a *Application) buildWorkflow() (*activation.Workflow, error) {
	return activation.New(activation.Config{
		Backend:        a.opts.Backend,
		Settings:       a.opts.Settings,
		DeviceState:    a.DeviceState,
		DownloadAssets: a.opts.AssetDownloader,
		Upgrade:        a.upgradeFirmware,
		ShowActivationCode: func(code, message string) {
			a.Schedule(func() {
				a.display.SetStatus("activation")
				a.display.ShowNotification(message)
				a.display.SetChatMessage("system", code)
				a.audio.PlaySound(SoundActivation)
			})
		},
		Alert: func(status, message, emotion string) {
			a.Schedule(func() {
				a.alert(status, message, emotion)
			})
		},
		StartProtocol: a.startProtocol,
		Done: func() {
			a.flags.Set(eventloop.FlagActivationDone)
		},
		Logger: a.logger,
	})
}

// startProtocol constructs the transport from the backend-issued
// configuration and starts it. Called from the activation worker; the
// channel only becomes visible to handlers once fully started.
func (a *Application) startProtocol() error {
	factory := a.opts.NewChannel
	if factory == nil {
		factory = a.defaultChannelFactory
	}

	ch, err := factory(a.protocolCallbacks())
	if err != nil {
		return err
	}
	if err := ch.Start(); err != nil {
		return err
	}

	a.setChannel(ch)
	if a.opts.Telemetry != nil {
		a.opts.Telemetry.RecordSessionEvent("protocol_started", transportName(ch))
	}
	return nil
}

// defaultChannelFactory selects MQTT when the backend issued an MQTT
// configuration, WebSocket when it issued one for WebSocket, and falls back
// to MQTT otherwise.
func (a *Application) defaultChannelFactory(cb protocol.Callbacks) (protocol.Channel, error) {
	backend := a.opts.Backend
	opts := a.opts.ProtocolOptions
	if opts.Logger == nil {
		opts.Logger = a.logger
	}

	if !backend.HasMqttConfig() && backend.HasWebsocketConfig() {
		ch := protocol.NewWebSocketChannel(backend.WebsocketConfig(), opts)
		ch.SetCallbacks(cb)
		return ch, nil
	}

	ch := protocol.NewMqttChannel(backend.MqttConfig(), opts)
	ch.SetCallbacks(cb)
	return ch, nil
}

// transportName labels a channel for telemetry.
func transportName(ch protocol.Channel) string {
	switch ch.(type) {
	case *protocol.MqttChannel:
		return "mqtt"
	case *protocol.WebSocketChannel:
		return "websocket"
	default:
		return "custom"
	}
}

// protocolCallbacks bridges channel I/O events into the control loop.
// Callbacks fire on the channel's goroutines; state mutations go through
// the scheduler or event flags.
func (a *Application) protocolCallbacks() protocol.Callbacks {
	return protocol.Callbacks{
		OnConnected: func() {
			a.Schedule(func() {
				a.display.DismissAlert()
			})
		},
		OnNetworkError: func(message string) {
			a.RaiseError(message)
		},
		OnIncomingAudio: func(packet *protocol.AudioPacket) {
			// Downlink audio is only meaningful while the assistant
			// speaks; late frames after a state change are dropped.
			if a.machine.Current() == device.StateSpeaking {
				a.audio.PushPacketToDecodeQueue(packet)
			}
		},
		OnAudioChannelOpened: func() {
			if a.opts.Telemetry != nil {
				a.opts.Telemetry.RecordSessionEvent("session_opened", "")
			}
			a.Schedule(func() {
				a.power.SetPowerSave(false)
			})
		},
		OnAudioChannelClosed: func() {
			if a.opts.Telemetry != nil {
				a.opts.Telemetry.RecordSessionEvent("session_closed", "")
			}
			a.Schedule(func() {
				a.power.SetPowerSave(true)
				a.machine.TransitionTo(device.StateIdle)
			})
		},
		OnIncomingJSON: a.handleIncomingMessage,
	}
}
