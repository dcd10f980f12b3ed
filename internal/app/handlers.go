package app

import (
	"github.com/embervoice/ember-core/internal/device"
)

// handleError reverts to Idle and alerts. Network and protocol failures are
// never fatal; the device returns to a usable state.
func (a *Application) handleError() {
	message := a.takeErrorMessage()
	if message == "" {
		message = "unknown error"
	}
	a.logger.Error("protocol error", "message", message)
	a.alert("error", message, "sad")
	a.machine.TransitionTo(device.StateIdle)
}

// handleNetworkConnected launches the activation workflow on the first
// connect out of startup. Later reconnects only log.
func (a *Application) handleNetworkConnected() {
	state := a.machine.Current()
	if a.activationStarted {
		a.logger.Info("network reconnected", "state", state.String())
		return
	}
	if state != device.StateStarting && state != device.StateWifiConfiguring {
		return
	}

	a.activationStarted = true
	a.machine.TransitionTo(device.StateActivating)

	wf, err := a.buildWorkflow()
	if err != nil {
		a.logger.Error("building activation workflow", "error", err)
		a.RaiseError("activation setup failed")
		return
	}
	go wf.Run(a.runCtx)
}

// handleNetworkDisconnected closes any open session. Nothing to do when
// idle.
func (a *Application) handleNetworkDisconnected() {
	state := a.machine.Current()
	a.logger.Warn("network disconnected", "state", state.String())

	if !state.InConversation() {
		return
	}
	if ch := a.getChannel(); ch != nil && ch.IsAudioChannelOpened() {
		ch.CloseAudioChannel()
	}
	a.machine.TransitionTo(device.StateIdle)
}

// handleActivationDone finishes startup: the device becomes usable whether
// or not activation fully succeeded.
func (a *Application) handleActivationDone() {
	a.display.DismissAlert()
	a.display.ShowNotification("version " + a.opts.Backend.CurrentVersion())
	a.audio.PlaySound(SoundSuccess)
	a.power.SetPowerSave(true)
	a.machine.TransitionTo(device.StateIdle)
}

// handleStateChanged applies the side effects of the current state. Runs
// before the user-action handlers in the same wake-up so they observe a
// fully applied state.
func (a *Application) handleStateChanged() {
	state := a.machine.Current()
	a.led.OnStateChanged()

	switch state {
	case device.StateIdle:
		a.display.SetStatus("standby")
		a.display.SetEmotion("neutral")
		a.audio.EnableVoiceProcessing(false)
		a.audio.EnableWakeWordDetection(true)

	case device.StateConnecting:
		a.display.SetStatus("connecting")

	case device.StateListening:
		a.display.SetStatus("listening")
		a.display.SetEmotion("neutral")
		if !a.audio.IsAudioProcessorRunning() {
			if ch := a.getChannel(); ch != nil {
				ch.SendStartListening(a.listeningMode)
			}
			a.audio.EnableVoiceProcessing(true)
			a.audio.EnableWakeWordDetection(false)
		}

	case device.StateSpeaking:
		a.display.SetStatus("speaking")
		if a.listeningMode != device.ListeningModeRealtime {
			a.audio.EnableVoiceProcessing(false)
			// Only a playback-tolerant detector may stay armed while the
			// speaker is live.
			a.audio.EnableWakeWordDetection(a.audio.IsAfeWakeWord())
		}
		a.audio.ResetDecoder()

	case device.StateActivating:
		a.display.SetStatus("activating")

	case device.StateUpgrading:
		a.display.SetStatus("upgrading")

	case device.StateAudioTesting:
		a.display.SetStatus("audio test")

	case device.StateWifiConfiguring:
		a.display.SetStatus("wifi setup")
	}
}

// handleToggleChat is the single-button conversation toggle.
func (a *Application) handleToggleChat() {
	switch a.machine.Current() {
	case device.StateActivating:
		// The user backs out of activation; worker loops notice via their
		// Idle checkpoints.
		a.machine.TransitionTo(device.StateIdle)

	case device.StateWifiConfiguring:
		a.audio.EnableAudioTesting(true)
		a.machine.TransitionTo(device.StateAudioTesting)

	case device.StateAudioTesting:
		a.audio.EnableAudioTesting(false)
		a.machine.TransitionTo(device.StateWifiConfiguring)

	case device.StateIdle:
		ch := a.getChannel()
		if ch == nil {
			a.logger.Warn("conversation requested before activation")
			return
		}
		if !ch.IsAudioChannelOpened() {
			a.machine.TransitionTo(device.StateConnecting)
			if !ch.OpenAudioChannel() {
				a.machine.TransitionTo(device.StateIdle)
				a.audio.EnableWakeWordDetection(true)
				return
			}
		}
		a.setListeningMode(a.conversationMode())

	case device.StateSpeaking:
		a.abortSpeaking(device.AbortReasonNone)

	case device.StateListening:
		if ch := a.getChannel(); ch != nil {
			ch.CloseAudioChannel()
		}
	}
}

// handleStartListening is the push-to-talk press.
func (a *Application) handleStartListening() {
	ch := a.getChannel()
	if ch == nil {
		return
	}

	switch a.machine.Current() {
	case device.StateActivating:
		a.machine.TransitionTo(device.StateIdle)

	case device.StateIdle:
		if !ch.IsAudioChannelOpened() {
			a.machine.TransitionTo(device.StateConnecting)
			if !ch.OpenAudioChannel() {
				a.machine.TransitionTo(device.StateIdle)
				a.audio.EnableWakeWordDetection(true)
				return
			}
		}
		a.setListeningMode(device.ListeningModeManualStop)

	case device.StateSpeaking:
		a.abortSpeaking(device.AbortReasonNone)
		a.setListeningMode(device.ListeningModeManualStop)
	}
}

// handleStopListening is the push-to-talk release.
func (a *Application) handleStopListening() {
	switch a.machine.Current() {
	case device.StateAudioTesting:
		a.audio.EnableAudioTesting(false)
		a.machine.TransitionTo(device.StateWifiConfiguring)

	case device.StateListening:
		if ch := a.getChannel(); ch != nil {
			ch.SendStopListening()
		}
		a.machine.TransitionTo(device.StateIdle)
	}
}

// handleSendAudio drains the encoded microphone queue into the session.
// Without a session the queue is drained and dropped so it cannot grow
// unbounded.
func (a *Application) handleSendAudio() {
	ch := a.getChannel()
	state := a.machine.Current()
	sending := ch != nil && ch.IsAudioChannelOpened() &&
		(state == device.StateListening || a.listeningMode == device.ListeningModeRealtime)

	for {
		packet := a.audio.PopPacketFromSendQueue()
		if packet == nil {
			return
		}
		if !sending {
			continue
		}
		if !ch.SendAudio(packet) {
			// The link dropped mid-drain; leave the rest queued instead of
			// spinning through it.
			return
		}
	}
}

// handleWakeWord reacts to the wake word detector.
func (a *Application) handleWakeWord() {
	word := a.takePendingWakeWord()
	if word == "" {
		word = a.audio.LastWakeWord()
	}
	a.logger.Info("wake word detected", "word", word)

	switch a.machine.Current() {
	case device.StateIdle:
		ch := a.getChannel()
		if ch == nil {
			return
		}
		// Replay the buffered wake-word audio ahead of the live stream so
		// the server hears the full utterance.
		a.audio.EncodeWakeWord()

		if !ch.IsAudioChannelOpened() {
			a.machine.TransitionTo(device.StateConnecting)
			if !ch.OpenAudioChannel() {
				a.machine.TransitionTo(device.StateIdle)
				a.audio.EnableWakeWordDetection(true)
				return
			}
		}
		for {
			packet := a.audio.PopWakeWordPacket()
			if packet == nil {
				break
			}
			ch.SendAudio(packet)
		}
		ch.SendWakeWordDetected(word)
		a.setListeningMode(a.conversationMode())

	case device.StateSpeaking:
		a.abortSpeaking(device.AbortReasonWakeWord)

	case device.StateActivating:
		a.machine.TransitionTo(device.StateIdle)
	}
}

// handleVadChange refreshes the LED for voice activity.
func (a *Application) handleVadChange() {
	speaking := a.vadState()
	a.logger.Debug("voice activity changed", "speaking", speaking)
	a.led.OnStateChanged()
}

// handleClockTick is the periodic status refresh.
func (a *Application) handleClockTick() {
	a.display.UpdateStatusBar()
	a.uptime += a.opts.ClockTickInterval
	if a.opts.Telemetry != nil {
		a.opts.Telemetry.RecordUptime(a.uptime.Seconds(), a.machine.Current().String())
	}
}
