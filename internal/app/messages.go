package app

import (
	"github.com/embervoice/ember-core/internal/device"
	"github.com/embervoice/ember-core/internal/protocol"
)

// handleIncomingMessage routes one parsed control-plane message.
//
// Runs on the channel's I/O goroutine: everything that touches device or
// display state is scheduled onto the control loop. The switch is
// exhaustive over the message kinds; the channel already dropped anything
// it could not parse.
func (a *Application) handleIncomingMessage(msg *protocol.Message) {
	switch msg.Kind {
	case protocol.KindTts:
		a.handleTtsMessage(msg.Tts)

	case protocol.KindStt:
		text := msg.Stt.Text
		a.Schedule(func() {
			a.display.SetChatMessage("user", text)
		})

	case protocol.KindLlm:
		emotion := msg.Llm.Emotion
		a.Schedule(func() {
			a.display.SetEmotion(emotion)
		})

	case protocol.KindMcp:
		if a.mcpHandler != nil {
			a.mcpHandler(msg.Mcp.Payload)
			return
		}
		a.logger.Debug("mcp message dropped, no handler installed")

	case protocol.KindSystem:
		a.handleSystemCommand(msg.System.Command)

	case protocol.KindAlert:
		alert := *msg.Alert
		a.Schedule(func() {
			a.alert(alert.Status, alert.Message, alert.Emotion)
		})

	case protocol.KindCustom:
		if a.customHandler != nil {
			a.customHandler(msg.Custom.Payload)
			return
		}
		a.logger.Debug("custom message dropped, no handler installed")
	}
}

// handleTtsMessage applies assistant speech lifecycle events.
func (a *Application) handleTtsMessage(tts *protocol.TtsPayload) {
	switch tts.State {
	case protocol.TtsStart:
		a.Schedule(func() {
			// A fresh assistant turn supersedes any pending abort.
			a.aborted = false
			state := a.machine.Current()
			if state == device.StateIdle || state == device.StateListening {
				a.machine.TransitionTo(device.StateSpeaking)
			}
		})

	case protocol.TtsStop:
		a.Schedule(func() {
			if a.machine.Current() != device.StateSpeaking {
				return
			}
			if a.listeningMode == device.ListeningModeManualStop {
				a.machine.TransitionTo(device.StateIdle)
				return
			}
			a.machine.TransitionTo(device.StateListening)
		})

	case protocol.TtsSentenceStart:
		text := tts.Text
		if text == "" {
			return
		}
		a.Schedule(func() {
			a.display.SetChatMessage("assistant", text)
		})
	}
}

// handleSystemCommand executes a server-issued device command.
func (a *Application) handleSystemCommand(command protocol.SystemCommand) {
	switch command {
	case protocol.SystemReboot:
		a.logger.Info("server requested reboot")
		a.Reboot()
	}
}
